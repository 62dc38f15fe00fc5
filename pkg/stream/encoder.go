// Package stream turns the latest buffered frame into JPEG chunks and writes
// them to HTTP clients as a multipart/x-mixed-replace stream.
package stream

import (
	"bytes"
	"errors"
	"fmt"
	"image/jpeg"
	"sync"

	"github.com/wachiwi/barcode-streamer/pkg/framebuffer"
)

// DefaultQuality is the JPEG quality used when none is configured.
const DefaultQuality = 80

// ErrNotReady is returned while no frame has been published yet.
var ErrNotReady = errors.New("no frame available yet")

// EncodeError reports a frame that could not be compressed.
type EncodeError struct {
	Generation uint64
	Err        error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("failed to encode frame %d: %v", e.Generation, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// Chunk is one encoded frame.
type Chunk struct {
	Data       []byte
	Generation uint64
}

// Snapshotter is the read side of the frame buffer.
type Snapshotter interface {
	Snapshot() (framebuffer.Snapshot, bool)
}

// Encoder encodes the newest frame on demand. The last encoded chunk is kept so
// that clients polling faster than the camera share one encoding per frame.
type Encoder struct {
	src     Snapshotter
	quality int

	mu   sync.Mutex
	last Chunk
}

// NewEncoder returns an encoder reading from src. Quality outside 1..100 falls
// back to DefaultQuality.
func NewEncoder(src Snapshotter, quality int) *Encoder {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	return &Encoder{src: src, quality: quality}
}

// NextChunk encodes the current frame. A chunk never carries a generation older
// than one returned before; repeating the previous generation is allowed.
func (e *Encoder) NextChunk() (Chunk, error) {
	snap, ok := e.src.Snapshot()
	if !ok {
		return Chunk{}, ErrNotReady
	}

	// Held across the encode so clients waiting on the same generation reuse one
	// encoded chunk. Encodes are serialised, which bounds the stream rate by a
	// single encode per frame.
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.last.Data != nil && snap.Generation <= e.last.Generation {
		return e.last, nil
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, snap.Frame.Image, &jpeg.Options{Quality: e.quality}); err != nil {
		return Chunk{}, &EncodeError{Generation: snap.Generation, Err: err}
	}

	e.last = Chunk{Data: buf.Bytes(), Generation: snap.Generation}
	return e.last, nil
}
