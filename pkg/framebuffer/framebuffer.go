package framebuffer

import (
	"sync"

	"github.com/wachiwi/barcode-streamer/pkg/frame"
)

// Snapshot is the content of the buffer at the time of a read.
type Snapshot struct {
	Frame      *frame.Frame
	Generation uint64
}

// Buffer holds the latest published frame.
// One producer calls Publish; any number of consumers call Snapshot. The lock only
// guards the reference swap, never encoding or I/O, so slow consumers cannot
// stall the producer. Published frames are shared with every reader and must not
// be modified.
type Buffer struct {
	mu         sync.RWMutex
	latest     *frame.Frame
	generation uint64
}

// New creates an empty buffer.
func New() *Buffer {
	return &Buffer{}
}

// Publish replaces the latest frame and returns its generation.
// A nil frame is ignored and the current generation is returned.
func (b *Buffer) Publish(f *frame.Frame) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if f == nil {
		return b.generation
	}
	b.latest = f
	b.generation++
	return b.generation
}

// Snapshot returns the latest frame, or false if nothing has been published yet.
func (b *Buffer) Snapshot() (Snapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.latest == nil {
		return Snapshot{}, false
	}
	return Snapshot{Frame: b.latest, Generation: b.generation}, true
}

// Generation returns the number of frames published so far.
func (b *Buffer) Generation() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.generation
}
