package detect

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/critter-cv/critter-cv/server/geometry"
	"github.com/critter-cv/critter-cv/server/models"
	"github.com/critter-cv/critter-cv/server/source"
)

// Continuity tracks the subject across externally supplied per-frame
// detections, holding onto it with IoU locking, anti-jump rejection and a
// lost-frame grace period. It is the only detector whose internal memory
// (the last accepted box and user lock) is exposed to callers, so a UI can
// pin a specific detection.
type Continuity struct {
	cfg      models.DetectorConfig
	detector ObjectDetector
	logger   *zap.Logger

	// mu guards the tracking memory. Locks arrive from the API while a run
	// is processing frames on another goroutine.
	mu         sync.Mutex
	lastBox    *models.BoundingBox
	lockBox    *models.BoundingBox
	lostFrames int
}

// NewContinuity builds the detector around the external object-detection
// collaborator.
func NewContinuity(cfg models.DetectorConfig, detector ObjectDetector, logger *zap.Logger) *Continuity {
	return &Continuity{cfg: cfg, detector: detector, logger: logger}
}

func (d *Continuity) Kind() models.DetectorKind { return models.DetectorContinuity }

func (d *Continuity) Ready() error {
	if d.cfg.TargetClass == "" {
		return ErrNoTargetClass
	}
	return nil
}

func (d *Continuity) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastBox = nil
	d.lockBox = nil
	d.lostFrames = 0
}

// Lock pins a box: subsequent frames select by maximum IoU against it
// instead of the configured strategy, until the lock is cleared. Safe to
// call mid-run.
func (d *Continuity) Lock(box models.BoundingBox) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lockBox = &box
	d.lastBox = &box
	d.lostFrames = 0
}

// ClearLock drops the user lock, returning selection to the configured
// strategy.
func (d *Continuity) ClearLock() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lockBox = nil
}

// LastBox returns the last accepted box, or nil when the subject is lost.
func (d *Continuity) LastBox() *models.BoundingBox {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastBox
}

func (d *Continuity) Process(ctx context.Context, frame *source.Frame, frameNumber int, timestamp float64) (*models.FrameResult, error) {
	candidates, err := d.detector.Detect(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("object detection on frame %d: %w", frameNumber, err)
	}

	result := &models.FrameResult{FrameNumber: frameNumber, Timestamp: timestamp}

	d.mu.Lock()
	defer d.mu.Unlock()

	selected := d.selectCandidate(d.qualify(candidates))
	if selected != nil && d.lastBox != nil && d.cfg.MaxJumpDistance > 0 {
		jump := geometry.BoxDistance(selected.Box, *d.lastBox)
		if jump > d.cfg.MaxJumpDistance {
			// Anti-jump: a detection this far from the last accepted box
			// is assumed to be a different object. Keep the last known
			// box rather than teleporting; score 0 flags the carry.
			d.logger.Debug("rejected jump",
				zap.Int("frame", frameNumber),
				zap.Float64("distance", jump),
				zap.Float64("max", d.cfg.MaxJumpDistance))
			d.carry(result, timestamp)
			return result, nil
		}
	}

	if selected == nil {
		d.lostFrames++
		if d.lastBox != nil && d.lostFrames <= d.cfg.LostFrameTolerance {
			d.carry(result, timestamp)
			return result, nil
		}
		if d.lastBox != nil {
			d.logger.Debug("subject lost",
				zap.Int("frame", frameNumber),
				zap.Int("lost_frames", d.lostFrames))
		}
		d.lastBox = nil
		d.lockBox = nil
		return result, nil
	}

	d.lostFrames = 0
	box := selected.Box
	d.lastBox = &box

	center := box.Center()
	center.Timestamp = timestamp
	score := selected.Score
	result.Position = &center
	result.DetectionBox = &box
	result.DetectedClass = selected.Class
	result.DetectionScore = &score
	return result, nil
}

// carry fills the result with the last known box's center, scored 0 to flag
// it as a carried-over value.
func (d *Continuity) carry(result *models.FrameResult, timestamp float64) {
	center := d.lastBox.Center()
	center.Timestamp = timestamp
	zero := 0.0
	result.Position = &center
	result.DetectionBox = d.lastBox
	result.DetectionScore = &zero
}

// qualify filters candidates by confidence and, when a target class is
// locked, by class.
func (d *Continuity) qualify(candidates []models.Candidate) []models.Candidate {
	qualified := candidates[:0]
	for _, c := range candidates {
		if c.Score < d.cfg.Confidence {
			continue
		}
		if d.cfg.TargetClass != "" && c.Class != d.cfg.TargetClass {
			continue
		}
		qualified = append(qualified, c)
	}
	return qualified
}

// selectCandidate applies the user lock when present, otherwise the
// configured strategy.
func (d *Continuity) selectCandidate(candidates []models.Candidate) *models.Candidate {
	if len(candidates) == 0 {
		return nil
	}

	if d.lockBox != nil {
		return bestByIoU(candidates, *d.lockBox)
	}

	switch d.cfg.TrackStrategy {
	case models.StrategyLargest:
		return largest(candidates)
	case models.StrategyNearestToPrevious:
		if d.lastBox != nil {
			return nearest(candidates, *d.lastBox)
		}
		return highestScore(candidates)
	default:
		return highestScore(candidates)
	}
}

func bestByIoU(candidates []models.Candidate, lock models.BoundingBox) *models.Candidate {
	var best *models.Candidate
	bestIoU := 0.0
	for i := range candidates {
		if iou := geometry.IoU(candidates[i].Box, lock); iou > bestIoU {
			bestIoU = iou
			best = &candidates[i]
		}
	}
	return best
}

func highestScore(candidates []models.Candidate) *models.Candidate {
	best := &candidates[0]
	for i := range candidates {
		if candidates[i].Score > best.Score {
			best = &candidates[i]
		}
	}
	return best
}

func largest(candidates []models.Candidate) *models.Candidate {
	best := &candidates[0]
	for i := range candidates {
		if candidates[i].Box.Area() > best.Box.Area() {
			best = &candidates[i]
		}
	}
	return best
}

func nearest(candidates []models.Candidate, prev models.BoundingBox) *models.Candidate {
	best := &candidates[0]
	bestDist := math.Inf(1)
	for i := range candidates {
		if dist := geometry.BoxDistance(candidates[i].Box, prev); dist < bestDist {
			bestDist = dist
			best = &candidates[i]
		}
	}
	return best
}
