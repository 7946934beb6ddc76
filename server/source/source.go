package source

import (
	"context"
	"fmt"
	"image"
)

// Frame is one decoded video frame as a packed RGBA buffer, row-major,
// 4 bytes per pixel. Frames are produced by a Source and treated as
// read-only by every consumer.
type Frame struct {
	Pix    []byte
	Width  int
	Height int
}

// NewFrame allocates a zeroed frame.
func NewFrame(width, height int) *Frame {
	return &Frame{
		Pix:    make([]byte, width*height*4),
		Width:  width,
		Height: height,
	}
}

// Offset returns the index of pixel (x, y) in Pix.
func (f *Frame) Offset(x, y int) int {
	return (y*f.Width + x) * 4
}

// RGBAt returns the color channels of pixel (x, y).
func (f *Frame) RGBAt(x, y int) (r, g, b uint8) {
	i := f.Offset(x, y)
	return f.Pix[i], f.Pix[i+1], f.Pix[i+2]
}

// SetRGB writes the color channels of pixel (x, y) with full alpha.
func (f *Frame) SetRGB(x, y int, r, g, b uint8) {
	i := f.Offset(x, y)
	f.Pix[i], f.Pix[i+1], f.Pix[i+2], f.Pix[i+3] = r, g, b, 0xff
}

// Patch extracts a size×size square centered at (cx, cy), clamped so the
// window stays inside the frame. The returned frame owns its pixels.
func (f *Frame) Patch(cx, cy, size int) *Frame {
	if size > f.Width {
		size = f.Width
	}
	if size > f.Height {
		size = f.Height
	}

	x0 := cx - size/2
	y0 := cy - size/2
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x0+size > f.Width {
		x0 = f.Width - size
	}
	if y0+size > f.Height {
		y0 = f.Height - size
	}

	patch := NewFrame(size, size)
	for y := 0; y < size; y++ {
		src := f.Offset(x0, y0+y)
		dst := patch.Offset(0, y)
		copy(patch.Pix[dst:dst+size*4], f.Pix[src:src+size*4])
	}
	return patch
}

// ToRGBA wraps the frame in an image.RGBA sharing the same pixel buffer.
func (f *Frame) ToRGBA() *image.RGBA {
	return &image.RGBA{
		Pix:    f.Pix,
		Stride: f.Width * 4,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}

// FromRGBA copies an image.RGBA into a Frame.
func FromRGBA(img *image.RGBA) *Frame {
	b := img.Bounds()
	frame := NewFrame(b.Dx(), b.Dy())
	for y := 0; y < b.Dy(); y++ {
		src := img.PixOffset(b.Min.X, b.Min.Y+y)
		dst := frame.Offset(0, y)
		copy(frame.Pix[dst:dst+b.Dx()*4], img.Pix[src:src+b.Dx()*4])
	}
	return frame
}

// Source delivers frames for requested timestamps and reports the clip's
// shape. Implementations must resolve or fail within a bounded time; a
// failed seek propagates as a session failure.
type Source interface {
	// SeekTo returns the frame at the given timestamp in seconds, moving
	// the playback position there.
	SeekTo(ctx context.Context, seconds float64) (*Frame, error)
	// Position returns the current playback position in seconds.
	Position() float64
	// Duration returns the clip length in seconds.
	Duration() float64
	// FPS returns the clip frame rate.
	FPS() float64
	// Resolution returns the clip width and height in pixels.
	Resolution() (width, height int)
}

// StaticSource serves a fixed in-memory frame sequence at a declared frame
// rate. It backs tests and offline reprocessing of pre-decoded clips.
type StaticSource struct {
	frames   []*Frame
	fps      float64
	position float64
}

// NewStaticSource builds a source over pre-decoded frames. It panics on an
// empty sequence or non-positive fps, both programmer errors.
func NewStaticSource(frames []*Frame, fps float64) *StaticSource {
	if len(frames) == 0 || fps <= 0 {
		panic("source: static source needs at least one frame and a positive fps")
	}
	return &StaticSource{frames: frames, fps: fps}
}

// SeekTo returns the frame whose interval covers the timestamp.
func (s *StaticSource) SeekTo(ctx context.Context, seconds float64) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if seconds < 0 || seconds > s.Duration() {
		return nil, fmt.Errorf("source: seek to %.3fs outside clip of %.3fs", seconds, s.Duration())
	}

	idx := int(seconds * s.fps)
	if idx >= len(s.frames) {
		idx = len(s.frames) - 1
	}
	s.position = seconds
	return s.frames[idx], nil
}

func (s *StaticSource) Position() float64 { return s.position }

func (s *StaticSource) Duration() float64 { return float64(len(s.frames)) / s.fps }

func (s *StaticSource) FPS() float64 { return s.fps }

func (s *StaticSource) Resolution() (int, int) {
	return s.frames[0].Width, s.frames[0].Height
}
