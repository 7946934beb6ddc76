package detect

import (
	"context"
	"errors"

	"github.com/critter-cv/critter-cv/server/models"
	"github.com/critter-cv/critter-cv/server/source"
)

// Sample labels accepted by the trained nearest-neighbor detector.
const (
	LabelTarget     = "target"
	LabelBackground = "background"
)

var (
	// ErrNoBackground means background-subtraction tracking was requested
	// before a background was captured.
	ErrNoBackground = errors.New("detect: no background captured")
	// ErrNotTrained means the nearest-neighbor classifier does not yet have
	// enough labeled samples of each class.
	ErrNotTrained = errors.New("detect: classifier not trained")
	// ErrNoTargetClass means continuity tracking was requested without a
	// target class.
	ErrNoTargetClass = errors.New("detect: no target class configured")
)

// Detector is one frame-by-frame detection strategy. Implementations own
// their private continuity state; a detector instance belongs to a single
// session and is not safe for concurrent use.
type Detector interface {
	// Kind names the strategy.
	Kind() models.DetectorKind
	// Ready reports whether the detector's preconditions hold. A non-nil
	// error keeps the session in Idle.
	Ready() error
	// Process runs the strategy on one frame and returns the committed
	// result. A frame with nothing detected returns a result with a nil
	// Position, not an error; errors abort the run.
	Process(ctx context.Context, frame *source.Frame, frameNumber int, timestamp float64) (*models.FrameResult, error)
	// Reset clears per-run continuity state (last position, counters)
	// without discarding captured backgrounds or trained samples.
	Reset()
}

// ObjectDetector is the external object-detection collaborator consumed by
// the continuity strategy.
type ObjectDetector interface {
	Detect(ctx context.Context, frame *source.Frame) ([]models.Candidate, error)
}

// Embedder is the external feature-embedding collaborator consumed by the
// trained nearest-neighbor strategy. Embeddings are deterministic for
// identical input.
type Embedder interface {
	Embed(ctx context.Context, patch *source.Frame) ([]float64, error)
}
