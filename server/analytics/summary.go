package analytics

import (
	"gonum.org/v1/gonum/stat"

	"github.com/critter-cv/critter-cv/server/geometry"
	"github.com/critter-cv/critter-cv/server/models"
)

// Summarize derives whole-run statistics from a result sequence. Distances
// and speeds are measured between consecutive detected positions; gaps
// where the subject was lost contribute nothing. A nil calibration reports
// raw pixel units.
func Summarize(results []models.FrameResult, cal *Calibration) models.RunSummary {
	summary := models.RunSummary{
		TotalFrames:  len(results),
		DistanceUnit: cal.Unit(),
		Calibrated:   cal.Calibrated(),
	}

	var prev *models.FrameResult
	var speeds []float64

	for i := range results {
		r := &results[i]
		if r.Position == nil {
			continue
		}
		summary.DetectedFrames++

		if prev != nil {
			d := cal.Length(geometry.Distance(*prev.Position, *r.Position))
			summary.TotalDistance += d
			if dt := r.Timestamp - prev.Timestamp; dt > 0 {
				speeds = append(speeds, d/dt)
			}
		}
		prev = r
	}

	if summary.TotalFrames > 0 {
		summary.DetectionRate = float64(summary.DetectedFrames) / float64(summary.TotalFrames)
	}
	if len(speeds) > 0 {
		summary.MeanSpeed = stat.Mean(speeds, nil)
		for _, v := range speeds {
			if v > summary.MaxSpeed {
				summary.MaxSpeed = v
			}
		}
	}

	return summary
}
