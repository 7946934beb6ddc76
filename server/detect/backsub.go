package detect

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/critter-cv/critter-cv/server/models"
	"github.com/critter-cv/critter-cv/server/source"
)

// DefaultMedianSamples is how many frames the temporal-median capture
// spreads across the clip.
const DefaultMedianSamples = 15

// BackgroundSubtraction tracks the subject as the best foreground blob
// against a cached grayscale background. It moves through three phases:
// no background, background captured, then repeatable per-frame tracking.
// All heavy per-pixel work happens at a reduced processing width; outputs
// are rescaled to original-video coordinates.
type BackgroundSubtraction struct {
	cfg     models.DetectorConfig
	logger  *zap.Logger
	erosion [][2]int

	background []uint8
	bgWidth    int
	bgHeight   int
	origWidth  int

	lastPos      *models.Point // processing-scale coordinates
	expectedArea float64       // processing-scale pixel count estimate
}

// NewBackgroundSubtraction builds the detector with the default cross
// erosion element. A background must be captured before tracking can start.
func NewBackgroundSubtraction(cfg models.DetectorConfig, logger *zap.Logger) *BackgroundSubtraction {
	return &BackgroundSubtraction{cfg: cfg, logger: logger, erosion: crossElement}
}

func (d *BackgroundSubtraction) Kind() models.DetectorKind { return models.DetectorBackground }

func (d *BackgroundSubtraction) Ready() error {
	if d.background == nil {
		return ErrNoBackground
	}
	return nil
}

// Reset clears per-run continuity state. The captured background survives so
// tracking can be re-run against the same reference.
func (d *BackgroundSubtraction) Reset() {
	d.lastPos = nil
	d.expectedArea = 0
}

// HasBackground reports whether a reference background is cached.
func (d *BackgroundSubtraction) HasBackground() bool { return d.background != nil }

// scale returns the linear processing scale for a frame of the given width.
func (d *BackgroundSubtraction) scale(frameWidth int) float64 {
	if d.cfg.ProcessingWidth <= 0 || frameWidth <= d.cfg.ProcessingWidth {
		return 1
	}
	return float64(d.cfg.ProcessingWidth) / float64(frameWidth)
}

// CaptureSnapshot caches a single empty-scene frame as the background.
// Capture must not overlap a run; the tracking state is unsynchronized.
func (d *BackgroundSubtraction) CaptureSnapshot(frame *source.Frame) {
	small := downscale(frame, d.cfg.ProcessingWidth)
	d.setBackground(grayscale(small), small.Width, small.Height, frame.Width)
}

// CaptureTemporalMedian builds the background from the per-pixel median of
// frames sampled evenly across the clip, which removes a moving subject from
// the reference automatically. Capture seeks the source; the caller's
// playback position is restored on every exit path. Any seek failure leaves
// the previously cached background (if any) untouched.
func (d *BackgroundSubtraction) CaptureTemporalMedian(ctx context.Context, src source.Source, samples int) error {
	if samples <= 0 {
		samples = DefaultMedianSamples
	}

	origPos := src.Position()
	defer func() {
		if _, err := src.SeekTo(ctx, origPos); err != nil {
			d.logger.Warn("failed to restore playback position after capture",
				zap.Float64("position", origPos), zap.Error(err))
		}
	}()

	duration := src.Duration()
	planes := make([][]uint8, 0, samples)
	var width, height, origWidth int

	for i := 0; i < samples; i++ {
		ts := duration * float64(i) / float64(samples)
		frame, err := src.SeekTo(ctx, ts)
		if err != nil {
			return fmt.Errorf("median capture: sample %d at %.3fs: %w", i, ts, err)
		}

		small := downscale(frame, d.cfg.ProcessingWidth)
		if width == 0 {
			width, height, origWidth = small.Width, small.Height, frame.Width
		} else if small.Width != width || small.Height != height {
			return fmt.Errorf("median capture: sample %d resolution changed", i)
		}
		planes = append(planes, grayscale(small))
	}

	background := make([]uint8, width*height)
	values := make([]float64, len(planes))
	for px := range background {
		for s, plane := range planes {
			values[s] = float64(plane[px])
		}
		sort.Float64s(values)
		background[px] = uint8(stat.Quantile(0.5, stat.Empirical, values, nil))
	}

	d.setBackground(background, width, height, origWidth)
	d.logger.Info("temporal median background captured",
		zap.Int("samples", samples),
		zap.Int("width", width),
		zap.Int("height", height))
	return nil
}

func (d *BackgroundSubtraction) setBackground(plane []uint8, width, height, origWidth int) {
	d.background = plane
	d.bgWidth = width
	d.bgHeight = height
	d.origWidth = origWidth
	d.lastPos = nil
	d.expectedArea = 0
}

func (d *BackgroundSubtraction) Process(ctx context.Context, frame *source.Frame, frameNumber int, timestamp float64) (*models.FrameResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.background == nil {
		return nil, ErrNoBackground
	}

	small := downscale(frame, d.cfg.ProcessingWidth)
	if small.Width != d.bgWidth || small.Height != d.bgHeight {
		return nil, fmt.Errorf("frame %d: resolution %dx%d does not match background %dx%d",
			frameNumber, small.Width, small.Height, d.bgWidth, d.bgHeight)
	}

	gray := grayscale(small)
	mask := binarize(gray, d.background, d.cfg.DiffThreshold, d.cfg.InvertThreshold)
	if d.cfg.ErosionEnabled {
		mask = erode(mask, small.Width, small.Height, d.erosion)
	}

	// Area and jump thresholds are configured in original-video units:
	// areas scale by the square of the linear scale, distances by the
	// scale itself.
	scale := d.scale(frame.Width)
	minArea := d.cfg.MinBlobArea * scale * scale
	maxArea := d.cfg.MaxBlobArea * scale * scale
	maxJump := d.cfg.MaxJumpDistance * scale

	if d.expectedArea == 0 {
		d.expectedArea = (minArea + maxArea) / 2
	}

	blobs := filterBlobs(labelBlobs(mask, small.Width, small.Height), minArea, maxArea)

	result := &models.FrameResult{
		FrameNumber:       frameNumber,
		Timestamp:         timestamp,
		BrightnessAverage: meanIntensity(gray),
	}

	chosen := chooseBlob(blobs, d.lastPos, d.expectedArea, maxJump)
	if chosen == nil {
		return result, nil
	}

	// Adaptive running estimate: the next frame expects a blob about the
	// size of the one just matched.
	d.expectedArea = float64(chosen.pixelCount)
	center := chosen.center()
	d.lastPos = &center

	result.PixelCount = int(math.Round(float64(chosen.pixelCount) / (scale * scale)))
	result.Position = &models.Point{
		X:         chosen.cx / scale,
		Y:         chosen.cy / scale,
		Timestamp: timestamp,
	}
	box := chosen.bounds()
	result.DetectionBox = &models.BoundingBox{
		X:      box.X / scale,
		Y:      box.Y / scale,
		Width:  box.Width / scale,
		Height: box.Height / scale,
	}

	return result, nil
}
