package geometry

import (
	"math"

	"github.com/critter-cv/critter-cv/server/models"
)

// Distance returns the Euclidean distance between two points.
func Distance(a, b models.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// BoxDistance returns the distance between two box centers.
func BoxDistance(a, b models.BoundingBox) float64 {
	return Distance(a.Center(), b.Center())
}

// IoU returns the intersection-over-union of two boxes, bounded in [0,1].
// Boxes that do not overlap, or with non-positive area, score 0.
func IoU(a, b models.BoundingBox) float64 {
	if a.Area() <= 0 || b.Area() <= 0 {
		return 0
	}

	left := math.Max(a.X, b.X)
	top := math.Max(a.Y, b.Y)
	right := math.Min(a.X+a.Width, b.X+b.Width)
	bottom := math.Min(a.Y+a.Height, b.Y+b.Height)

	if right <= left || bottom <= top {
		return 0
	}

	intersection := (right - left) * (bottom - top)
	union := a.Area() + b.Area() - intersection
	return intersection / union
}

// PointInZone reports whether p falls inside the zone. Rectangle membership
// is an inclusive axis-aligned bounds test; circle membership uses the
// zone's center with radius Width/2.
func PointInZone(p models.Point, zone models.Zone) bool {
	switch zone.Shape {
	case models.ZoneCircle:
		radius := zone.Bounds.Width / 2
		return Distance(p, zone.Bounds.Center()) <= radius
	default:
		return p.X >= zone.Bounds.X && p.X <= zone.Bounds.X+zone.Bounds.Width &&
			p.Y >= zone.Bounds.Y && p.Y <= zone.Bounds.Y+zone.Bounds.Height
	}
}

// AspectRatio returns max(w,h)/min(w,h) for a box, or 0 when either side is
// non-positive.
func AspectRatio(w, h float64) float64 {
	if w <= 0 || h <= 0 {
		return 0
	}
	return math.Max(w, h) / math.Min(w, h)
}
