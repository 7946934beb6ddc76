package detect

import (
	"context"

	"github.com/critter-cv/critter-cv/server/models"
	"github.com/critter-cv/critter-cv/server/source"
)

// Intensity finds the subject by brightness thresholding: every pixel whose
// unweighted channel average meets the threshold contributes to a running
// centroid. Deterministic, stateless, O(pixels) per frame.
type Intensity struct {
	cfg models.DetectorConfig
}

// NewIntensity builds the thresholding detector.
func NewIntensity(cfg models.DetectorConfig) *Intensity {
	return &Intensity{cfg: cfg}
}

func (d *Intensity) Kind() models.DetectorKind { return models.DetectorIntensity }

func (d *Intensity) Ready() error { return nil }

func (d *Intensity) Reset() {}

func (d *Intensity) Process(ctx context.Context, frame *source.Frame, frameNumber int, timestamp float64) (*models.FrameResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var sumX, sumY, count int
	var totalBrightness float64
	pixels := frame.Width * frame.Height

	for y := 0; y < frame.Height; y++ {
		for x := 0; x < frame.Width; x++ {
			r, g, b := frame.RGBAt(x, y)
			brightness := (float64(r) + float64(g) + float64(b)) / 3
			totalBrightness += brightness
			if brightness >= d.cfg.BrightnessThreshold {
				sumX += x
				sumY += y
				count++
			}
		}
	}

	result := &models.FrameResult{
		FrameNumber: frameNumber,
		Timestamp:   timestamp,
	}
	if pixels > 0 {
		result.BrightnessAverage = totalBrightness / float64(pixels)
	}

	if count >= d.cfg.MinPixelCount && count > 0 {
		result.PixelCount = count
		result.Position = &models.Point{
			X:         float64(sumX) / float64(count),
			Y:         float64(sumY) / float64(count),
			Timestamp: timestamp,
		}
	}

	return result, nil
}
