package detect

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/critter-cv/critter-cv/server/models"
	"github.com/critter-cv/critter-cv/server/source"
)

type knnSample struct {
	embedding []float64
	label     string
}

// TrainedKNN is an online nearest-neighbor classifier over feature
// embeddings of fixed-size patches. The caller trains it from labeled
// clicks; search scans overlapping windows around the last known position
// and accepts the most confident target-classified window.
type TrainedKNN struct {
	cfg      models.DetectorConfig
	embedder Embedder
	logger   *zap.Logger

	samples []knnSample
	lastPos *models.Point
}

// NewTrainedKNN builds the detector around the external embedding
// collaborator.
func NewTrainedKNN(cfg models.DetectorConfig, embedder Embedder, logger *zap.Logger) *TrainedKNN {
	return &TrainedKNN{cfg: cfg, embedder: embedder, logger: logger}
}

func (d *TrainedKNN) Kind() models.DetectorKind { return models.DetectorTrainedKNN }

// Ready requires at least MinSamples labeled examples of each class.
func (d *TrainedKNN) Ready() error {
	var targets, backgrounds int
	for _, s := range d.samples {
		if s.label == LabelTarget {
			targets++
		} else {
			backgrounds++
		}
	}
	if targets < d.cfg.MinSamples || backgrounds < d.cfg.MinSamples {
		return fmt.Errorf("%w: need %d samples per class, have %d target / %d background",
			ErrNotTrained, d.cfg.MinSamples, targets, backgrounds)
	}
	return nil
}

// Reset clears the search anchor. Trained samples survive so a new run can
// reuse the classifier.
func (d *TrainedKNN) Reset() { d.lastPos = nil }

// SampleCounts returns how many examples of each label are stored.
func (d *TrainedKNN) SampleCounts() (target, background int) {
	for _, s := range d.samples {
		if s.label == LabelTarget {
			target++
		} else {
			background++
		}
	}
	return target, background
}

// Train adds one labeled example: a window-sized patch centered at the
// clicked location (clamped to frame bounds), embedded by the collaborator.
// Training must not overlap a run; the sample store is unsynchronized.
func (d *TrainedKNN) Train(ctx context.Context, frame *source.Frame, x, y int, label string) error {
	if label != LabelTarget && label != LabelBackground {
		return fmt.Errorf("unknown sample label %q", label)
	}

	patch := frame.Patch(x, y, d.cfg.WindowSize)
	embedding, err := d.embedder.Embed(ctx, patch)
	if err != nil {
		return fmt.Errorf("embedding training patch at (%d,%d): %w", x, y, err)
	}

	d.samples = append(d.samples, knnSample{embedding: embedding, label: label})
	d.logger.Debug("training sample added",
		zap.String("label", label),
		zap.Int("total_samples", len(d.samples)))
	return nil
}

func (d *TrainedKNN) Process(ctx context.Context, frame *source.Frame, frameNumber int, timestamp float64) (*models.FrameResult, error) {
	if err := d.Ready(); err != nil {
		return nil, err
	}

	anchor := models.Point{X: float64(frame.Width) / 2, Y: float64(frame.Height) / 2}
	if d.lastPos != nil {
		anchor = *d.lastPos
	}

	// Overlapping scan: half-window steps across the search square.
	step := d.cfg.WindowSize / 2
	if step < 1 {
		step = 1
	}

	result := &models.FrameResult{FrameNumber: frameNumber, Timestamp: timestamp}

	var bestConf float64
	var bestPos *models.Point

	for dy := -d.cfg.SearchRadius; dy <= d.cfg.SearchRadius; dy += step {
		for dx := -d.cfg.SearchRadius; dx <= d.cfg.SearchRadius; dx += step {
			cx := int(anchor.X) + dx
			cy := int(anchor.Y) + dy
			if cx < 0 || cy < 0 || cx >= frame.Width || cy >= frame.Height {
				continue
			}

			patch := frame.Patch(cx, cy, d.cfg.WindowSize)
			embedding, err := d.embedder.Embed(ctx, patch)
			if err != nil {
				return nil, fmt.Errorf("embedding window at (%d,%d) on frame %d: %w", cx, cy, frameNumber, err)
			}

			label, confidence := d.classify(embedding)
			if label != LabelTarget || confidence < d.cfg.KNNConfidence {
				continue
			}
			if confidence > bestConf {
				bestConf = confidence
				bestPos = &models.Point{X: float64(cx), Y: float64(cy), Timestamp: timestamp}
			}
		}
	}

	if bestPos == nil {
		// The anchor is deliberately not advanced: the next frame searches
		// around the last place the subject was actually seen.
		return result, nil
	}

	d.lastPos = bestPos
	result.Position = bestPos
	result.DetectedClass = LabelTarget
	result.DetectionScore = &bestConf
	half := float64(d.cfg.WindowSize) / 2
	result.DetectionBox = &models.BoundingBox{
		X:      bestPos.X - half,
		Y:      bestPos.Y - half,
		Width:  float64(d.cfg.WindowSize),
		Height: float64(d.cfg.WindowSize),
	}
	return result, nil
}

// classify votes the k nearest trained samples by Euclidean distance and
// returns the majority label with its vote share.
func (d *TrainedKNN) classify(embedding []float64) (string, float64) {
	k := d.cfg.KNNNeighbors
	if k <= 0 {
		k = 3
	}
	if k > len(d.samples) {
		k = len(d.samples)
	}

	type neighbor struct {
		dist  float64
		label string
	}
	neighbors := make([]neighbor, len(d.samples))
	for i, s := range d.samples {
		neighbors[i] = neighbor{dist: euclidean(embedding, s.embedding), label: s.label}
	}
	sort.Slice(neighbors, func(i, j int) bool { return neighbors[i].dist < neighbors[j].dist })

	votes := map[string]int{}
	for _, n := range neighbors[:k] {
		votes[n.label]++
	}

	// Ties break toward the nearest neighbor's label.
	best := neighbors[0].label
	bestVotes := votes[best]
	for label, count := range votes {
		if count > bestVotes {
			best, bestVotes = label, count
		}
	}
	return best, float64(bestVotes) / float64(k)
}

func euclidean(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
