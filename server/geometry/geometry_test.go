package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/critter-cv/critter-cv/server/models"
)

func TestDistance(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 5.0, Distance(models.Point{X: 0, Y: 0}, models.Point{X: 3, Y: 4}))
	assert.Equal(t, 0.0, Distance(models.Point{X: 7, Y: 7}, models.Point{X: 7, Y: 7}))
}

func TestIoU(t *testing.T) {
	t.Parallel()

	a := models.BoundingBox{X: 0, Y: 0, Width: 10, Height: 10}
	b := models.BoundingBox{X: 5, Y: 5, Width: 10, Height: 10}

	t.Run("symmetric", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, IoU(a, b), IoU(b, a))
	})

	t.Run("self overlap is one", func(t *testing.T) {
		t.Parallel()
		assert.InDelta(t, 1.0, IoU(a, a), 1e-9)
	})

	t.Run("partial overlap", func(t *testing.T) {
		t.Parallel()
		// 5x5 intersection over 100+100-25 union.
		assert.InDelta(t, 25.0/175.0, IoU(a, b), 1e-9)
	})

	t.Run("disjoint boxes score zero", func(t *testing.T) {
		t.Parallel()
		c := models.BoundingBox{X: 100, Y: 100, Width: 10, Height: 10}
		assert.Equal(t, 0.0, IoU(a, c))
	})

	t.Run("degenerate box scores zero", func(t *testing.T) {
		t.Parallel()
		empty := models.BoundingBox{X: 0, Y: 0, Width: 0, Height: 10}
		assert.Equal(t, 0.0, IoU(a, empty))
		assert.Equal(t, 0.0, IoU(empty, empty))
	})

	t.Run("touching edges do not intersect", func(t *testing.T) {
		t.Parallel()
		c := models.BoundingBox{X: 10, Y: 0, Width: 10, Height: 10}
		assert.Equal(t, 0.0, IoU(a, c))
	})
}

func TestPointInZone(t *testing.T) {
	t.Parallel()

	rect := models.Zone{
		Shape:  models.ZoneRectangle,
		Bounds: models.BoundingBox{X: 10, Y: 10, Width: 20, Height: 20},
	}
	circle := models.Zone{
		Shape:  models.ZoneCircle,
		Bounds: models.BoundingBox{X: 10, Y: 10, Width: 20, Height: 20},
	}

	tests := []struct {
		name string
		zone models.Zone
		p    models.Point
		want bool
	}{
		{"rect inside", rect, models.Point{X: 15, Y: 15}, true},
		{"rect on edge is inclusive", rect, models.Point{X: 30, Y: 30}, true},
		{"rect outside", rect, models.Point{X: 31, Y: 15}, false},
		{"circle center", circle, models.Point{X: 20, Y: 20}, true},
		{"circle on radius", circle, models.Point{X: 30, Y: 20}, true},
		{"circle corner of bounds is outside", circle, models.Point{X: 10, Y: 10}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, PointInZone(tt.p, tt.zone))
		})
	}
}

func TestAspectRatio(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 20.0, AspectRatio(2, 40))
	assert.Equal(t, 20.0, AspectRatio(40, 2))
	assert.Equal(t, 1.0, AspectRatio(10, 10))
	assert.Equal(t, 0.0, AspectRatio(0, 10))
}
