package source

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramePatch(t *testing.T) {
	t.Parallel()

	f := NewFrame(10, 10)
	f.SetRGB(5, 5, 200, 100, 50)

	t.Run("centered extraction", func(t *testing.T) {
		p := f.Patch(5, 5, 4)
		assert.Equal(t, 4, p.Width)
		assert.Equal(t, 4, p.Height)
		r, g, b := p.RGBAt(2, 2)
		assert.Equal(t, uint8(200), r)
		assert.Equal(t, uint8(100), g)
		assert.Equal(t, uint8(50), b)
	})

	t.Run("clamped at the corner", func(t *testing.T) {
		p := f.Patch(0, 0, 4)
		assert.Equal(t, 4, p.Width)
		assert.Equal(t, 4, p.Height)
	})

	t.Run("window larger than frame shrinks", func(t *testing.T) {
		p := f.Patch(5, 5, 20)
		assert.Equal(t, 10, p.Width)
		assert.Equal(t, 10, p.Height)
	})
}

func TestFrameRGBARoundTrip(t *testing.T) {
	t.Parallel()

	f := NewFrame(3, 2)
	f.SetRGB(1, 1, 9, 8, 7)

	out := FromRGBA(f.ToRGBA())
	assert.Equal(t, f.Pix, out.Pix)
	assert.Equal(t, f.Width, out.Width)
	assert.Equal(t, f.Height, out.Height)
}

func TestStaticSource(t *testing.T) {
	t.Parallel()

	frames := []*Frame{NewFrame(4, 4), NewFrame(4, 4), NewFrame(4, 4), NewFrame(4, 4)}
	src := NewStaticSource(frames, 2)

	assert.Equal(t, 2.0, src.Duration())
	assert.Equal(t, 2.0, src.FPS())
	w, h := src.Resolution()
	assert.Equal(t, 4, w)
	assert.Equal(t, 4, h)

	t.Run("seek selects covering frame", func(t *testing.T) {
		f, err := src.SeekTo(context.Background(), 0.6)
		require.NoError(t, err)
		assert.Same(t, frames[1], f)
		assert.Equal(t, 0.6, src.Position())
	})

	t.Run("seek to the very end clamps to the last frame", func(t *testing.T) {
		f, err := src.SeekTo(context.Background(), 2.0)
		require.NoError(t, err)
		assert.Same(t, frames[3], f)
	})

	t.Run("out of range fails", func(t *testing.T) {
		_, err := src.SeekTo(context.Background(), -0.1)
		assert.Error(t, err)
		_, err = src.SeekTo(context.Background(), 2.5)
		assert.Error(t, err)
	})

	t.Run("cancelled context fails", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := src.SeekTo(ctx, 0)
		assert.Error(t, err)
	})

	t.Run("empty construction panics", func(t *testing.T) {
		assert.Panics(t, func() { NewStaticSource(nil, 2) })
		assert.Panics(t, func() { NewStaticSource(frames, 0) })
	})
}
