package stream

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wachiwi/barcode-streamer/pkg/frame"
	"github.com/wachiwi/barcode-streamer/pkg/framebuffer"
)

func testFrame(w, h int, seq uint64) *frame.Frame {
	return frame.New(image.NewRGBA(image.Rect(0, 0, w, h)), seq)
}

func TestEncoderNotReady(t *testing.T) {
	enc := NewEncoder(framebuffer.New(), 0)

	_, err := enc.NextChunk()
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestEncoderEncodesLatestFrame(t *testing.T) {
	buf := framebuffer.New()
	enc := NewEncoder(buf, 90)

	buf.Publish(testFrame(32, 16, 1))
	gen := buf.Publish(testFrame(64, 48, 2))

	chunk, err := enc.NextChunk()
	require.NoError(t, err)
	assert.Equal(t, gen, chunk.Generation)

	img, err := jpeg.Decode(bytes.NewReader(chunk.Data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 48), img.Bounds())
}

func TestEncoderReusesChunkForSameGeneration(t *testing.T) {
	buf := framebuffer.New()
	enc := NewEncoder(buf, DefaultQuality)
	buf.Publish(testFrame(16, 16, 1))

	first, err := enc.NextChunk()
	require.NoError(t, err)
	second, err := enc.NextChunk()
	require.NoError(t, err)

	assert.Equal(t, first.Generation, second.Generation)
	assert.Same(t, &first.Data[0], &second.Data[0])

	buf.Publish(testFrame(16, 16, 2))
	third, err := enc.NextChunk()
	require.NoError(t, err)
	assert.Greater(t, third.Generation, second.Generation)
}

func TestEncoderSharesOneEncodeBetweenClients(t *testing.T) {
	buf := framebuffer.New()
	enc := NewEncoder(buf, DefaultQuality)
	buf.Publish(testFrame(320, 240, 1))

	const clients = 8
	chunks := make([]Chunk, clients)
	var wg sync.WaitGroup
	for i := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			chunk, err := enc.NextChunk()
			assert.NoError(t, err)
			chunks[i] = chunk
		}()
	}
	wg.Wait()

	require.NotEmpty(t, chunks[0].Data)
	for _, c := range chunks[1:] {
		require.NotEmpty(t, c.Data)
		assert.Same(t, &chunks[0].Data[0], &c.Data[0])
	}
}

type staticSnapshot struct {
	snap framebuffer.Snapshot
}

func (s staticSnapshot) Snapshot() (framebuffer.Snapshot, bool) {
	return s.snap, true
}

func TestEncoderReportsEncodeError(t *testing.T) {
	// jpeg refuses images with a side of 65536 pixels or more.
	huge := testFrame(1<<16, 1, 1)
	enc := NewEncoder(staticSnapshot{framebuffer.Snapshot{Frame: huge, Generation: 7}}, DefaultQuality)

	_, err := enc.NextChunk()
	var encErr *EncodeError
	require.ErrorAs(t, err, &encErr)
	assert.Equal(t, uint64(7), encErr.Generation)
}

func TestEncoderConcurrentClientsNeverGoBackwards(t *testing.T) {
	buf := framebuffer.New()
	enc := NewEncoder(buf, 50)
	buf.Publish(testFrame(32, 24, 0))

	stop := make(chan struct{})
	publisherDone := make(chan struct{})
	go func() {
		defer close(publisherDone)
		for seq := uint64(1); ; seq++ {
			select {
			case <-stop:
				return
			default:
				buf.Publish(testFrame(32, 24, seq))
			}
		}
	}()

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for client := 0; client < 2; client++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last uint64
			for i := 0; i < 100; i++ {
				chunk, err := enc.NextChunk()
				if err != nil {
					errs <- err
					return
				}
				if chunk.Generation < last {
					errs <- errors.New("generation went backwards")
					return
				}
				last = chunk.Generation
			}
		}()
	}
	wg.Wait()
	close(stop)
	<-publisherDone
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

// scriptedSource replays results and cancels the session once it runs out.
type scriptedSource struct {
	results []result
	cancel  context.CancelFunc
}

type result struct {
	chunk Chunk
	err   error
}

func (s *scriptedSource) NextChunk() (Chunk, error) {
	if len(s.results) == 0 {
		s.cancel()
		return Chunk{}, ErrNotReady
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r.chunk, r.err
}

func part(data string) string {
	return "--frame\r\nContent-Type: image/jpeg\r\n\r\n" + data + "\r\n"
}

func TestSessionWritesEachGenerationOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &scriptedSource{cancel: cancel, results: []result{
		{err: ErrNotReady},
		{chunk: Chunk{Data: []byte("one"), Generation: 1}},
		{chunk: Chunk{Data: []byte("one"), Generation: 1}},
		{err: &EncodeError{Generation: 2, Err: errors.New("bad pixels")}},
		{chunk: Chunk{Data: []byte("three"), Generation: 3}},
	}}

	var out bytes.Buffer
	flushes := 0
	s := NewSession(src)
	err := s.Serve(ctx, &out, func() { flushes++ })

	require.NoError(t, err)
	assert.Equal(t, part("one")+part("three"), out.String())
	assert.Equal(t, 2, flushes)
	assert.Equal(t, uint64(2), s.ChunksSent())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestSessionEndsOnWriteError(t *testing.T) {
	src := &scriptedSource{cancel: func() {}, results: []result{
		{chunk: Chunk{Data: []byte("one"), Generation: 1}},
	}}

	err := NewSession(src).Serve(context.Background(), failingWriter{}, nil)
	assert.ErrorContains(t, err, "connection reset")
}

func TestSessionsHaveDistinctIDs(t *testing.T) {
	a := NewSession(&scriptedSource{})
	b := NewSession(&scriptedSource{})
	assert.NotEqual(t, a.ID, b.ID)
}
