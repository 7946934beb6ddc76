package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/critter-cv/critter-cv/server/models"
)

func maskWithRects(width, height int, rects ...[4]int) []uint8 {
	mask := make([]uint8, width*height)
	for _, r := range rects {
		for y := r[1]; y < r[1]+r[3]; y++ {
			for x := r[0]; x < r[0]+r[2]; x++ {
				mask[y*width+x] = 1
			}
		}
	}
	return mask
}

func TestLabelBlobs(t *testing.T) {
	t.Parallel()

	t.Run("separates disconnected components", func(t *testing.T) {
		mask := maskWithRects(20, 20, [4]int{2, 2, 3, 3}, [4]int{10, 10, 4, 2})
		blobs := labelBlobs(mask, 20, 20)
		require.Len(t, blobs, 2)

		assert.Equal(t, 9, blobs[0].pixelCount)
		assert.InDelta(t, 3.0, blobs[0].cx, 1e-9)
		assert.InDelta(t, 3.0, blobs[0].cy, 1e-9)

		assert.Equal(t, 8, blobs[1].pixelCount)
		assert.InDelta(t, 11.5, blobs[1].cx, 1e-9)
		assert.InDelta(t, 10.5, blobs[1].cy, 1e-9)
	})

	t.Run("diagonal touch is not connected", func(t *testing.T) {
		mask := maskWithRects(10, 10, [4]int{0, 0, 2, 2}, [4]int{2, 2, 2, 2})
		blobs := labelBlobs(mask, 10, 10)
		assert.Len(t, blobs, 2)
	})

	t.Run("empty mask", func(t *testing.T) {
		assert.Empty(t, labelBlobs(make([]uint8, 100), 10, 10))
	})
}

func TestFilterBlobs(t *testing.T) {
	t.Parallel()

	t.Run("area bounds", func(t *testing.T) {
		mask := maskWithRects(30, 30, [4]int{1, 1, 2, 2}, [4]int{10, 10, 5, 5})
		blobs := labelBlobs(mask, 30, 30)
		require.Len(t, blobs, 2)

		kept := filterBlobs(blobs, 10, 100)
		require.Len(t, kept, 1)
		assert.Equal(t, 25, kept[0].pixelCount)
	})

	t.Run("elongated components are rejected", func(t *testing.T) {
		// A 2x40 strip has aspect ratio 20; a 10x10 square has 1.
		mask := maskWithRects(60, 60, [4]int{0, 0, 40, 2}, [4]int{20, 20, 10, 10})
		blobs := labelBlobs(mask, 60, 60)
		require.Len(t, blobs, 2)

		kept := filterBlobs(blobs, 1, 1000)
		require.Len(t, kept, 1)
		assert.Equal(t, 100, kept[0].pixelCount)
	})
}

func TestChooseBlob(t *testing.T) {
	t.Parallel()

	near := blob{cx: 10, cy: 10, pixelCount: 50, minX: 8, minY: 8, maxX: 12, maxY: 12}
	far := blob{cx: 200, cy: 200, pixelCount: 48, minX: 198, minY: 198, maxX: 202, maxY: 202}

	t.Run("no candidates", func(t *testing.T) {
		assert.Nil(t, chooseBlob(nil, nil, 50, 30))
	})

	t.Run("no prior picks area-closest", func(t *testing.T) {
		chosen := chooseBlob([]blob{near, far}, nil, 47, 30)
		require.NotNil(t, chosen)
		assert.Equal(t, 48, chosen.pixelCount)
	})

	t.Run("prior gates by distance first", func(t *testing.T) {
		prior := models.Point{X: 12, Y: 12}
		chosen := chooseBlob([]blob{near, far}, &prior, 48, 30)
		require.NotNil(t, chosen)
		assert.Equal(t, 50, chosen.pixelCount)
	})

	t.Run("widened gate catches fast moves", func(t *testing.T) {
		prior := models.Point{X: 10, Y: 10}
		fast := blob{cx: 50, cy: 10, pixelCount: 50}
		// 40px away: outside maxJump 30, inside 1.5x.
		chosen := chooseBlob([]blob{fast}, &prior, 50, 30)
		require.NotNil(t, chosen)
		assert.Equal(t, 50.0, chosen.cx)
	})

	t.Run("falls back to area matching when every gate fails", func(t *testing.T) {
		prior := models.Point{X: 10, Y: 10}
		chosen := chooseBlob([]blob{far}, &prior, 48, 30)
		require.NotNil(t, chosen)
		assert.Equal(t, 48, chosen.pixelCount)
	})
}

func TestScoredBlobZeroExpectedArea(t *testing.T) {
	t.Parallel()

	b := blob{cx: 5, cy: 5, pixelCount: 10}
	chosen := scoredBlob([]blob{b}, models.Point{X: 5, Y: 5}, 0, 30, 0.7, 0.3)
	require.NotNil(t, chosen)
	assert.Equal(t, 10, chosen.pixelCount)
}
