package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/critter-cv/critter-cv/server/detect"
	"github.com/critter-cv/critter-cv/server/metrics"
	"github.com/critter-cv/critter-cv/server/models"
	"github.com/critter-cv/critter-cv/server/source"
)

var (
	// ErrNotIdle means Start was called on a session that has already run;
	// an explicit Reset is required first.
	ErrNotIdle = errors.New("session: not idle, reset before starting")
	// ErrRunning means the requested operation is not allowed while the
	// frame loop is active.
	ErrRunning = errors.New("session: run in progress")
)

// Update is pushed to progress listeners during a run. Latest may be nil on
// state-only transitions.
type Update struct {
	SessionID string              `json:"session_id"`
	State     models.SessionState `json:"state"`
	Progress  float64             `json:"progress"`
	Latest    *models.FrameResult `json:"latest,omitempty"`
}

// ProgressFunc receives throttled progress updates. It is called from the
// run goroutine and must not block.
type ProgressFunc func(Update)

// Session drives one detector across sampled frames of one source. It owns
// all mutable run state and moves through
// Idle → Running → {Completed | Cancelled | Failed}; a finished session must
// be Reset before it can run again. A session is confined to one logical
// caller: its accessors are safe to call concurrently with a run, but two
// runs never overlap.
type Session struct {
	id       string
	logger   *zap.Logger
	metrics  *metrics.Metrics
	src      source.Source
	detector detect.Detector
	cfg      models.DetectorConfig

	mu         sync.Mutex
	state      models.SessionState
	results    []models.FrameResult
	progress   float64
	runErr     error
	listeners  map[int]ProgressFunc
	listenerID int

	cancelRequested atomic.Bool
	done            chan struct{}
}

// New creates an idle session over the given source and detector.
func New(src source.Source, detector detect.Detector, cfg models.DetectorConfig, m *metrics.Metrics, logger *zap.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:        id,
		logger:    logger.With(zap.String("session_id", id), zap.String("detector", string(detector.Kind()))),
		metrics:   m,
		src:       src,
		detector:  detector,
		cfg:       cfg,
		state:     models.StateIdle,
		listeners: make(map[int]ProgressFunc),
	}
}

func (s *Session) ID() string { return s.id }

// Detector exposes the session's detector so callers can drive
// strategy-specific steps (background capture, classifier training, user
// locks) between runs.
func (s *Session) Detector() detect.Detector { return s.detector }

// Source exposes the frame source so callers can drive strategy-specific
// steps, like sampling background frames, between runs.
func (s *Session) Source() source.Source { return s.src }

// Config returns the detector configuration the session was created with.
func (s *Session) Config() models.DetectorConfig { return s.cfg }

// Subscribe registers a progress listener and returns a function that
// removes it.
func (s *Session) Subscribe(fn ProgressFunc) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.listenerID
	s.listenerID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Start validates detector preconditions and launches the frame loop. The
// session must be Idle; a precondition failure leaves it Idle.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != models.StateIdle {
		return fmt.Errorf("%w (state %s)", ErrNotIdle, s.state)
	}
	if err := s.detector.Ready(); err != nil {
		return fmt.Errorf("detector not ready: %w", err)
	}

	s.results = nil
	s.progress = 0
	s.runErr = nil
	s.cancelRequested.Store(false)
	s.detector.Reset()
	s.state = models.StateRunning
	s.done = make(chan struct{})
	s.metrics.SessionsStarted.Add(1)

	s.logger.Info("tracking run started",
		zap.Float64("duration", s.src.Duration()),
		zap.Float64("fps", s.src.FPS()),
		zap.Int("stride", s.stride()))

	go s.run(ctx)
	return nil
}

// Cancel requests a cooperative stop. The loop exits at the top of the next
// iteration, retaining already-accumulated results.
func (s *Session) Cancel() {
	s.cancelRequested.Store(true)
}

// Reset returns a finished session to Idle, discarding results. It fails
// while a run is active.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == models.StateRunning {
		return ErrRunning
	}
	s.state = models.StateIdle
	s.results = nil
	s.progress = 0
	s.runErr = nil
	s.detector.Reset()
	return nil
}

// Wait blocks until the current run finishes or ctx expires.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) State() models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Progress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// Err returns the error that failed the last run, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runErr
}

// Results returns a copy of the committed result sequence. During a run it
// is a consistent prefix; after Cancel or failure it holds the partial
// results accumulated so far.
func (s *Session) Results() []models.FrameResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.FrameResult, len(s.results))
	copy(out, s.results)
	return out
}

func (s *Session) stride() int {
	if s.cfg.SampleEveryNthFrame < 1 {
		return 1
	}
	return s.cfg.SampleEveryNthFrame
}

// run is the main loop: strictly ordered, cooperatively cancellable. Frame
// N+1 never starts before frame N's result is committed.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	fps := s.src.FPS()
	totalFrames := int(math.Floor(s.src.Duration() * fps))
	stride := s.stride()
	lastEmitted := -1

	for frameNumber := 0; frameNumber < totalFrames; frameNumber += stride {
		if s.cancelRequested.Load() {
			s.finish(models.StateCancelled, nil)
			return
		}

		timestamp := float64(frameNumber) / fps
		frame, err := s.src.SeekTo(ctx, timestamp)
		if err != nil {
			s.metrics.CollaboratorErrors.Add(1)
			s.finish(models.StateFailed, fmt.Errorf("frame %d at %.3fs: %w", frameNumber, timestamp, err))
			return
		}

		result, err := s.detector.Process(ctx, frame, frameNumber, timestamp)
		if err != nil {
			s.metrics.CollaboratorErrors.Add(1)
			s.finish(models.StateFailed, fmt.Errorf("detector on frame %d: %w", frameNumber, err))
			return
		}

		s.metrics.FramesProcessed.Add(1)
		if result.Position != nil {
			s.metrics.Detections.Add(1)
		} else {
			s.metrics.LostFrames.Add(1)
		}

		progress := float64(frameNumber) / float64(totalFrames) * 100

		s.mu.Lock()
		s.results = append(s.results, *result)
		s.progress = progress
		listeners := s.snapshotListenersLocked()
		s.mu.Unlock()

		// Throttled emission: listeners hear whole-percent changes, not
		// every frame.
		if pct := int(progress); pct > lastEmitted {
			lastEmitted = pct
			emit(listeners, Update{
				SessionID: s.id,
				State:     models.StateRunning,
				Progress:  progress,
				Latest:    result,
			})
		}
	}

	s.finish(models.StateCompleted, nil)
}

// finish commits the terminal state and notifies listeners.
func (s *Session) finish(state models.SessionState, err error) {
	s.mu.Lock()
	s.state = state
	s.runErr = err
	if state == models.StateCompleted {
		s.progress = 100
	}
	progress := s.progress
	listeners := s.snapshotListenersLocked()
	results := len(s.results)
	s.mu.Unlock()

	switch state {
	case models.StateCompleted:
		s.metrics.SessionsCompleted.Add(1)
		s.logger.Info("tracking run completed", zap.Int("results", results))
	case models.StateCancelled:
		s.metrics.SessionsCancelled.Add(1)
		s.logger.Info("tracking run cancelled", zap.Int("partial_results", results))
	case models.StateFailed:
		s.metrics.SessionsFailed.Add(1)
		s.logger.Error("tracking run failed", zap.Int("partial_results", results), zap.Error(err))
	}

	emit(listeners, Update{SessionID: s.id, State: state, Progress: progress})
}

func (s *Session) snapshotListenersLocked() []ProgressFunc {
	out := make([]ProgressFunc, 0, len(s.listeners))
	for _, fn := range s.listeners {
		out = append(out, fn)
	}
	return out
}

func emit(listeners []ProgressFunc, update Update) {
	for _, fn := range listeners {
		fn(update)
	}
}
