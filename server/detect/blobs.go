package detect

import (
	"math"

	"github.com/critter-cv/critter-cv/server/geometry"
	"github.com/critter-cv/critter-cv/server/models"
)

// maxAspectRatio rejects elongated components such as cage walls.
const maxAspectRatio = 5.5

// blob is one 4-connected foreground component. Blobs are transient: built,
// scored and discarded within a single frame.
type blob struct {
	cx, cy     float64
	pixelCount int
	minX, minY int
	maxX, maxY int
}

func (b blob) width() float64  { return float64(b.maxX - b.minX + 1) }
func (b blob) height() float64 { return float64(b.maxY - b.minY + 1) }

func (b blob) center() models.Point {
	return models.Point{X: b.cx, Y: b.cy}
}

func (b blob) bounds() models.BoundingBox {
	return models.BoundingBox{
		X:      float64(b.minX),
		Y:      float64(b.minY),
		Width:  b.width(),
		Height: b.height(),
	}
}

// labelBlobs runs flood-fill connected-component labeling (4-connected) over
// a binary mask, computing centroid, pixel count and bounding extents for
// each component. The mask is consumed: visited pixels are cleared.
func labelBlobs(mask []uint8, width, height int) []blob {
	var blobs []blob
	var stack []int

	for start := range mask {
		if mask[start] != 1 {
			continue
		}

		b := blob{minX: width, minY: height, maxX: -1, maxY: -1}
		var sumX, sumY int

		stack = append(stack[:0], start)
		mask[start] = 0
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			x, y := i%width, i/width
			sumX += x
			sumY += y
			b.pixelCount++
			if x < b.minX {
				b.minX = x
			}
			if x > b.maxX {
				b.maxX = x
			}
			if y < b.minY {
				b.minY = y
			}
			if y > b.maxY {
				b.maxY = y
			}

			if x > 0 && mask[i-1] == 1 {
				mask[i-1] = 0
				stack = append(stack, i-1)
			}
			if x < width-1 && mask[i+1] == 1 {
				mask[i+1] = 0
				stack = append(stack, i+1)
			}
			if y > 0 && mask[i-width] == 1 {
				mask[i-width] = 0
				stack = append(stack, i-width)
			}
			if y < height-1 && mask[i+width] == 1 {
				mask[i+width] = 0
				stack = append(stack, i+width)
			}
		}

		b.cx = float64(sumX) / float64(b.pixelCount)
		b.cy = float64(sumY) / float64(b.pixelCount)
		blobs = append(blobs, b)
	}

	return blobs
}

// filterBlobs drops components whose pixel count falls outside
// [minArea, maxArea] or whose bounding-box aspect ratio reaches
// maxAspectRatio.
func filterBlobs(blobs []blob, minArea, maxArea float64) []blob {
	kept := blobs[:0]
	for _, b := range blobs {
		area := float64(b.pixelCount)
		if area < minArea || area > maxArea {
			continue
		}
		if geometry.AspectRatio(b.width(), b.height()) >= maxAspectRatio {
			continue
		}
		kept = append(kept, b)
	}
	return kept
}

// closestByArea picks the blob whose pixel count is closest to the expected
// area. Returns nil for an empty slice.
func closestByArea(blobs []blob, expectedArea float64) *blob {
	var best *blob
	bestDiff := math.Inf(1)
	for i := range blobs {
		diff := math.Abs(float64(blobs[i].pixelCount) - expectedArea)
		if diff < bestDiff {
			bestDiff = diff
			best = &blobs[i]
		}
	}
	return best
}

// scoredBlob scores candidates against a prior position as a weighted sum of
// distance and relative area error, keeping the minimum among candidates
// within maxJump of the prior. Returns nil when no candidate qualifies.
func scoredBlob(blobs []blob, prior models.Point, expectedArea, maxJump, distWeight, areaWeight float64) *blob {
	var best *blob
	bestScore := math.Inf(1)
	for i := range blobs {
		dist := geometry.Distance(blobs[i].center(), prior)
		if dist > maxJump {
			continue
		}
		var areaErr float64
		if expectedArea > 0 {
			areaErr = 100 * math.Abs(float64(blobs[i].pixelCount)-expectedArea) / expectedArea
		}
		score := distWeight*dist + areaWeight*areaErr
		if score < bestScore {
			bestScore = score
			best = &blobs[i]
		}
	}
	return best
}

// chooseBlob implements the temporal selection fallback chain. Without a
// prior position it reduces to area-closest selection. With one, it tries a
// distance-gated weighted score, then a widened gate with rebalanced
// weights, and finally falls back to pure area matching: rigid distance
// gating alone loses the subject during fast moves, while pure area matching
// alone is fooled by similarly sized static features.
func chooseBlob(blobs []blob, prior *models.Point, expectedArea, maxJump float64) *blob {
	if len(blobs) == 0 {
		return nil
	}
	if prior == nil {
		return closestByArea(blobs, expectedArea)
	}
	if b := scoredBlob(blobs, *prior, expectedArea, maxJump, 0.7, 0.3); b != nil {
		return b
	}
	if b := scoredBlob(blobs, *prior, expectedArea, 1.5*maxJump, 0.5, 0.5); b != nil {
		return b
	}
	return closestByArea(blobs, expectedArea)
}
