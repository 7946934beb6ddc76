// Package analytics derives read-only statistics from finished result
// sequences: zone dwell metrics, pixel calibration, and whole-run summaries.
package analytics

import (
	"github.com/critter-cv/critter-cv/server/geometry"
	"github.com/critter-cv/critter-cv/server/models"
)

// ZoneMetrics recomputes dwell statistics for one zone over a result
// sequence sampled at fps. Each in-zone result contributes 1/fps seconds of
// dwell time. A null position counts as outside, so losing the subject
// inside a zone records an exit.
func ZoneMetrics(zone models.Zone, results []models.FrameResult, fps float64) models.ZoneMetrics {
	m := models.ZoneMetrics{ZoneID: zone.ID, ZoneName: zone.Name}
	if fps <= 0 || len(results) == 0 {
		return m
	}

	frameDuration := 1 / fps
	inside := false

	for _, r := range results {
		now := r.Position != nil && geometry.PointInZone(*r.Position, zone)
		if now {
			m.TimeInZone += frameDuration
		}
		switch {
		case now && !inside:
			m.EntryCount++
			if m.FirstEntry == nil {
				t := r.Timestamp
				m.FirstEntry = &t
			}
		case !now && inside:
			m.ExitCount++
			t := r.Timestamp
			m.LastExit = &t
		}
		inside = now
	}

	return m
}

// AllZoneMetrics computes metrics for every zone over the same sequence.
func AllZoneMetrics(zones []models.Zone, results []models.FrameResult, fps float64) []models.ZoneMetrics {
	out := make([]models.ZoneMetrics, 0, len(zones))
	for _, zone := range zones {
		out = append(out, ZoneMetrics(zone, results, fps))
	}
	return out
}
