package detect

import (
	"image"

	"golang.org/x/image/draw"

	"github.com/critter-cv/critter-cv/server/source"
)

// grayscale converts a frame to one luma byte per pixel using the weighted
// formula 0.299R + 0.587G + 0.114B.
func grayscale(frame *source.Frame) []uint8 {
	out := make([]uint8, frame.Width*frame.Height)
	for i, j := 0, 0; j < len(out); i, j = i+4, j+1 {
		r := float64(frame.Pix[i])
		g := float64(frame.Pix[i+1])
		b := float64(frame.Pix[i+2])
		out[j] = uint8(0.299*r + 0.587*g + 0.114*b)
	}
	return out
}

// meanIntensity returns the average value of a grayscale plane.
func meanIntensity(gray []uint8) float64 {
	if len(gray) == 0 {
		return 0
	}
	var sum float64
	for _, v := range gray {
		sum += float64(v)
	}
	return sum / float64(len(gray))
}

// downscale resizes a frame to the target width, preserving aspect ratio.
// Frames already at or below the target width are returned unchanged.
func downscale(frame *source.Frame, targetWidth int) *source.Frame {
	if targetWidth <= 0 || frame.Width <= targetWidth {
		return frame
	}

	targetHeight := frame.Height * targetWidth / frame.Width
	if targetHeight < 1 {
		targetHeight = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, targetWidth, targetHeight))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), frame.ToRGBA(), frame.ToRGBA().Bounds(), draw.Src, nil)
	return source.FromRGBA(dst)
}

// binarize thresholds the absolute difference between a grayscale frame and
// the cached background. With invert unset, pixels whose difference meets the
// threshold are foreground; invert flips which side of the threshold counts,
// supporting dark subjects on light backgrounds and vice versa. A zero
// difference is never foreground in either mode.
func binarize(gray, background []uint8, threshold float64, invert bool) []uint8 {
	mask := make([]uint8, len(gray))
	for i := range gray {
		diff := float64(gray[i]) - float64(background[i])
		if diff < 0 {
			diff = -diff
		}
		fg := diff >= threshold
		if invert {
			fg = !fg && diff > 0
		}
		if fg {
			mask[i] = 1
		}
	}
	return mask
}

// crossElement is the default structuring element, a 3×3 cross: the pixel
// itself and its four orthogonal neighbors.
var crossElement = [][2]int{{0, 0}, {-1, 0}, {1, 0}, {0, -1}, {0, 1}}

// erode applies one pass of morphological erosion: a pixel survives only
// when every offset in the structuring element lands on a foreground pixel
// inside the frame. With the default cross, border pixels never survive.
func erode(mask []uint8, width, height int, element [][2]int) []uint8 {
	out := make([]uint8, len(mask))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if erodeSurvives(mask, width, height, x, y, element) {
				out[y*width+x] = 1
			}
		}
	}
	return out
}

func erodeSurvives(mask []uint8, width, height, x, y int, element [][2]int) bool {
	for _, off := range element {
		nx, ny := x+off[0], y+off[1]
		if nx < 0 || ny < 0 || nx >= width || ny >= height {
			return false
		}
		if mask[ny*width+nx] == 0 {
			return false
		}
	}
	return true
}
