package frame

import (
	"fmt"
	"image"
	"time"
)

// Frame is one captured camera image.
// Once a frame has been published it must be treated as read-only; stages that
// change pixels work on a Clone.
type Frame struct {
	Image      *image.RGBA
	Seq        uint64
	CapturedAt time.Time
}

// New wraps an RGBA image into a frame.
func New(img *image.RGBA, seq uint64) *Frame {
	return &Frame{
		Image:      img,
		Seq:        seq,
		CapturedAt: time.Now(),
	}
}

// FromRGBA builds a frame from a tightly packed RGBA pixel buffer.
// The buffer is copied; a buffer of the wrong size is rejected so that a partial
// read never turns into a frame.
func FromRGBA(data []byte, width, height int, seq uint64) (*Frame, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame geometry %dx%d", width, height)
	}
	want := width * height * 4
	if len(data) != want {
		return nil, fmt.Errorf("partial frame: got %d bytes, want %d", len(data), want)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	copy(img.Pix, data)
	return New(img, seq), nil
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int {
	return f.Image.Bounds().Dx()
}

// Height returns the frame height in pixels.
func (f *Frame) Height() int {
	return f.Image.Bounds().Dy()
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	img := &image.RGBA{
		Pix:    append([]byte(nil), f.Image.Pix...),
		Stride: f.Image.Stride,
		Rect:   f.Image.Rect,
	}
	return &Frame{
		Image:      img,
		Seq:        f.Seq,
		CapturedAt: f.CapturedAt,
	}
}
