package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/critter-cv/critter-cv/server/source"
)

func fillFrame(width, height int, r, g, b uint8) *source.Frame {
	f := source.NewFrame(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			f.SetRGB(x, y, r, g, b)
		}
	}
	return f
}

func paintRect(f *source.Frame, x0, y0, w, h int, r, g, b uint8) {
	for y := y0; y < y0+h; y++ {
		for x := x0; x < x0+w; x++ {
			f.SetRGB(x, y, r, g, b)
		}
	}
}

func TestGrayscale(t *testing.T) {
	t.Parallel()

	f := fillFrame(2, 1, 255, 255, 255)
	f.SetRGB(1, 0, 255, 0, 0)

	gray := grayscale(f)
	require.Len(t, gray, 2)
	assert.Equal(t, uint8(255), gray[0])
	// Pure red weighs in at 0.299 of full scale.
	assert.Equal(t, uint8(76), gray[1])
}

func TestMeanIntensity(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.0, meanIntensity(nil))
	assert.InDelta(t, 50.0, meanIntensity([]uint8{0, 100}), 1e-9)
}

func TestBinarize(t *testing.T) {
	t.Parallel()

	background := []uint8{100, 100, 100, 100}

	t.Run("normal mode keeps large differences", func(t *testing.T) {
		gray := []uint8{100, 140, 60, 105}
		mask := binarize(gray, background, 30, false)
		assert.Equal(t, []uint8{0, 1, 1, 0}, mask)
	})

	t.Run("invert mode keeps small nonzero differences", func(t *testing.T) {
		gray := []uint8{100, 140, 60, 105}
		mask := binarize(gray, background, 30, true)
		assert.Equal(t, []uint8{0, 0, 0, 1}, mask)
	})

	t.Run("identical planes yield no foreground in either mode", func(t *testing.T) {
		for _, invert := range []bool{false, true} {
			mask := binarize(background, background, 30, invert)
			for i, v := range mask {
				assert.Zerof(t, v, "pixel %d foreground with invert=%v", i, invert)
			}
		}
	})
}

func TestErode(t *testing.T) {
	t.Parallel()

	t.Run("strips thin protrusions", func(t *testing.T) {
		// A 4x4 solid block with a one-pixel tail sticking out.
		width, height := 8, 8
		mask := make([]uint8, width*height)
		for y := 1; y < 5; y++ {
			for x := 1; x < 5; x++ {
				mask[y*width+x] = 1
			}
		}
		mask[3*width+5] = 1 // tail

		out := erode(mask, width, height, crossElement)

		// The tail and the block's outer ring are gone.
		var survivors int
		for _, v := range out {
			survivors += int(v)
		}
		assert.Equal(t, 5, survivors)
		assert.Equal(t, uint8(1), out[2*width+2])
		assert.Equal(t, uint8(0), out[3*width+5])
	})

	t.Run("border pixels never survive", func(t *testing.T) {
		width, height := 4, 4
		mask := make([]uint8, width*height)
		for i := range mask {
			mask[i] = 1
		}
		out := erode(mask, width, height, crossElement)
		for y := 0; y < height; y++ {
			assert.Zero(t, out[y*width])
			assert.Zero(t, out[y*width+width-1])
		}
		assert.Equal(t, uint8(1), out[1*width+1])
	})

	t.Run("repeated erosion never grows the foreground", func(t *testing.T) {
		// A 6x6 solid block shrinks to 4x4, then to 2x2.
		width, height := 10, 10
		mask := make([]uint8, width*height)
		for y := 1; y < 7; y++ {
			for x := 1; x < 7; x++ {
				mask[y*width+x] = 1
			}
		}

		once := erode(mask, width, height, crossElement)
		twice := erode(once, width, height, crossElement)

		var onceCount, twiceCount int
		for i := range once {
			onceCount += int(once[i])
			twiceCount += int(twice[i])
			if twice[i] == 1 {
				assert.Equalf(t, uint8(1), once[i], "pixel %d appeared after the second pass", i)
			}
		}
		assert.Equal(t, 16, onceCount)
		assert.Equal(t, 4, twiceCount)
	})

	t.Run("honors the structuring element", func(t *testing.T) {
		width, height := 5, 3
		mask := make([]uint8, width*height)
		for x := 0; x < width; x++ {
			mask[1*width+x] = 1
		}

		horizontal := [][2]int{{0, 0}, {-1, 0}, {1, 0}}
		out := erode(mask, width, height, horizontal)

		// The row survives except where a neighbor falls off the frame.
		assert.Equal(t, uint8(0), out[1*width])
		assert.Equal(t, uint8(1), out[1*width+1])
		assert.Equal(t, uint8(1), out[1*width+3])
		assert.Equal(t, uint8(0), out[1*width+4])
	})
}

func TestDownscale(t *testing.T) {
	t.Parallel()

	t.Run("resizes preserving aspect ratio", func(t *testing.T) {
		f := fillFrame(100, 50, 200, 200, 200)
		small := downscale(f, 20)
		assert.Equal(t, 20, small.Width)
		assert.Equal(t, 10, small.Height)
	})

	t.Run("leaves small frames untouched", func(t *testing.T) {
		f := fillFrame(10, 10, 0, 0, 0)
		assert.Same(t, f, downscale(f, 20))
		assert.Same(t, f, downscale(f, 0))
	})
}
