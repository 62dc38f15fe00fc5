package camera

import (
	"context"
	"fmt"
	"image"
	"image/draw"

	"github.com/wachiwi/barcode-streamer/pkg/frame"
)

// Source opens a camera device.
type Source interface {
	// Open initialises the device. Failure is fatal and returns an *OpenError.
	Open(ctx context.Context) (Device, error)
}

// Device is an opened camera. It is owned by a single goroutine.
type Device interface {
	// ReadFrame blocks until the next frame is available. A failed read returns a
	// *ReadError; the caller may retry.
	ReadFrame(ctx context.Context) (*frame.Frame, error)
	// Close releases the device.
	Close() error
}

// Settings describes the frames a source should produce.
type Settings struct {
	Width  int
	Height int
	FPS    int
}

// OpenError reports that a camera device could not be initialised.
type OpenError struct {
	Source string
	Err    error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("failed to open %s camera: %v", e.Source, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// ReadError reports a single failed frame read.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("failed to read frame: %v", e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// toRGBA returns img as *image.RGBA, converting when needed.
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}
