package capture

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wachiwi/barcode-streamer/pkg/annotate"
	"github.com/wachiwi/barcode-streamer/pkg/camera"
	"github.com/wachiwi/barcode-streamer/pkg/frame"
)

// step is one scripted ReadFrame result.
type step struct {
	frame *frame.Frame
	err   error
}

type fakeDevice struct {
	mu     sync.Mutex
	steps  []step
	closed bool
}

func (d *fakeDevice) ReadFrame(ctx context.Context) (*frame.Frame, error) {
	d.mu.Lock()
	if len(d.steps) > 0 {
		s := d.steps[0]
		d.steps = d.steps[1:]
		d.mu.Unlock()
		return s.frame, s.err
	}
	d.mu.Unlock()

	<-ctx.Done()
	return nil, ctx.Err()
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDevice) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

type fakeSource struct {
	dev *fakeDevice
	err error
}

func (s *fakeSource) Open(context.Context) (camera.Device, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.dev, nil
}

type fakeDecoder struct {
	bySeq map[uint64][]frame.Detection
}

func (d *fakeDecoder) Decode(f *frame.Frame) []frame.Detection {
	return d.bySeq[f.Seq]
}

type recordingPublisher struct {
	mu   sync.Mutex
	seqs []uint64
}

func (p *recordingPublisher) Publish(f *frame.Frame) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seqs = append(p.seqs, f.Seq)
	return uint64(len(p.seqs))
}

func (p *recordingPublisher) published() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uint64(nil), p.seqs...)
}

func testFrame(seq uint64) *frame.Frame {
	return frame.New(image.NewRGBA(image.Rect(0, 0, 64, 48)), seq)
}

func readErr() error {
	return &camera.ReadError{Err: errors.New("sensor hiccup")}
}

func newTestLoop(src camera.Source, pub Publisher, opts Options) *Loop {
	return New(src, &fakeDecoder{}, annotate.New(), pub, opts)
}

func TestLoopSkipsFramesThatFailToRead(t *testing.T) {
	dev := &fakeDevice{steps: []step{
		{frame: testFrame(1)},
		{err: readErr()},
		{frame: testFrame(3)},
	}}
	pub := &recordingPublisher{}
	loop := newTestLoop(&fakeSource{dev: dev}, pub, Options{MaxConsecutiveReadFailures: 5})

	require.NoError(t, loop.Start(context.Background()))
	require.Eventually(t, func() bool { return len(pub.published()) == 2 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, StateRunning, loop.State())
	require.NoError(t, loop.Stop())

	assert.Equal(t, []uint64{1, 3}, pub.published())
	assert.Equal(t, StateStopped, loop.State())
	assert.True(t, dev.isClosed())

	stats := loop.Stats()
	assert.Equal(t, uint64(2), stats.FramesRead)
	assert.Equal(t, uint64(1), stats.ReadErrors)
	assert.Equal(t, uint64(2), stats.Published)
}

func TestLoopOpenFailureIsReportedSynchronously(t *testing.T) {
	openErr := &camera.OpenError{Source: "fake", Err: errors.New("no such sensor")}
	pub := &recordingPublisher{}
	loop := newTestLoop(&fakeSource{err: openErr}, pub, Options{})

	err := loop.Start(context.Background())
	require.Error(t, err)

	var target *camera.OpenError
	assert.True(t, errors.As(err, &target))
	assert.Equal(t, StateFailed, loop.State())
	assert.Equal(t, err, loop.Err())

	select {
	case <-loop.Done():
	default:
		t.Fatal("Done not closed after open failure")
	}
	assert.Empty(t, pub.published())
	assert.Equal(t, err, loop.Stop())
}

func TestLoopFailsAfterConsecutiveReadErrors(t *testing.T) {
	dev := &fakeDevice{steps: []step{
		{frame: testFrame(1)},
		{err: readErr()},
		{err: readErr()},
		{frame: testFrame(4)},
		{err: readErr()},
		{err: readErr()},
		{err: readErr()},
		{frame: testFrame(8)},
	}}
	pub := &recordingPublisher{}
	loop := newTestLoop(&fakeSource{dev: dev}, pub, Options{MaxConsecutiveReadFailures: 3})

	require.NoError(t, loop.Start(context.Background()))

	select {
	case <-loop.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not fail")
	}

	assert.Equal(t, StateFailed, loop.State())
	assert.ErrorIs(t, loop.Err(), ErrTooManyReadFailures)
	assert.Equal(t, []uint64{1, 4}, pub.published())
	assert.True(t, dev.isClosed())
}

func TestLoopUnexpectedReadErrorIsFatal(t *testing.T) {
	boom := errors.New("device vanished")
	dev := &fakeDevice{steps: []step{{err: boom}}}
	loop := newTestLoop(&fakeSource{dev: dev}, &recordingPublisher{}, Options{})

	require.NoError(t, loop.Start(context.Background()))
	<-loop.Done()

	assert.Equal(t, StateFailed, loop.State())
	assert.ErrorIs(t, loop.Err(), boom)
	assert.True(t, dev.isClosed())
}

func TestLoopNotifiesObservers(t *testing.T) {
	det := frame.Detection{Box: frame.Rect{X: 1, Y: 1, W: 10, H: 10}, Payload: []byte("hello"), Symbology: "QR_CODE"}
	dev := &fakeDevice{steps: []step{{frame: testFrame(1)}, {frame: testFrame(2)}}}

	var mu sync.Mutex
	var seen [][]frame.Detection
	obs := ObserverFunc(func(_ context.Context, dets []frame.Detection) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, dets)
	})

	loop := New(&fakeSource{dev: dev},
		&fakeDecoder{bySeq: map[uint64][]frame.Detection{2: {det}}},
		annotate.New(),
		&recordingPublisher{},
		Options{Observers: []Observer{obs}},
	)
	require.NoError(t, loop.Start(context.Background()))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, loop.Stop())

	assert.Empty(t, seen[0])
	assert.Equal(t, []frame.Detection{det}, seen[1])
	assert.Equal(t, uint64(1), loop.Stats().Detections)
}

func TestLoopStartTwice(t *testing.T) {
	loop := newTestLoop(&fakeSource{dev: &fakeDevice{}}, &recordingPublisher{}, Options{})

	require.NoError(t, loop.Start(context.Background()))
	assert.ErrorIs(t, loop.Start(context.Background()), ErrAlreadyStarted)
	require.NoError(t, loop.Stop())
	require.NoError(t, loop.Stop())
}

func TestLoopStopBeforeStart(t *testing.T) {
	loop := newTestLoop(&fakeSource{dev: &fakeDevice{}}, &recordingPublisher{}, Options{})

	require.NoError(t, loop.Stop())
	assert.Equal(t, StateStopped, loop.State())
	assert.ErrorIs(t, loop.Start(context.Background()), ErrAlreadyStarted)
}

func TestLoopStopsWithParentContext(t *testing.T) {
	dev := &fakeDevice{}
	loop := newTestLoop(&fakeSource{dev: dev}, &recordingPublisher{}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, loop.Start(ctx))
	cancel()

	<-loop.Done()
	assert.Equal(t, StateStopped, loop.State())
	assert.NoError(t, loop.Err())
	assert.True(t, dev.isClosed())
}

// warmingSource blocks in Open until ctx is done, like a camera warming up.
type warmingSource struct {
	opening chan struct{}
}

func (s *warmingSource) Open(ctx context.Context) (camera.Device, error) {
	close(s.opening)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestLoopCancelledWhileOpeningIsStopped(t *testing.T) {
	src := &warmingSource{opening: make(chan struct{})}
	loop := newTestLoop(src, &recordingPublisher{}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-src.opening
		cancel()
	}()

	err := loop.Start(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateStopped, loop.State())
	assert.NoError(t, loop.Err())
	assert.NoError(t, loop.Stop())
}

func TestLoopStopWhileOpening(t *testing.T) {
	src := &warmingSource{opening: make(chan struct{})}
	loop := newTestLoop(src, &recordingPublisher{}, Options{})

	started := make(chan error, 1)
	go func() { started <- loop.Start(context.Background()) }()

	<-src.opening
	require.NoError(t, loop.Stop())
	assert.ErrorIs(t, <-started, context.Canceled)
	assert.Equal(t, StateStopped, loop.State())
}

func TestLoopFailsWhenReadsKeepTimingOut(t *testing.T) {
	timeout := &camera.ReadError{Err: errors.New("no frame within 250ms")}
	dev := &fakeDevice{steps: []step{{err: timeout}, {err: timeout}, {err: timeout}}}
	loop := newTestLoop(&fakeSource{dev: dev}, &recordingPublisher{}, Options{MaxConsecutiveReadFailures: 3})

	require.NoError(t, loop.Start(context.Background()))
	<-loop.Done()

	assert.Equal(t, StateFailed, loop.State())
	assert.ErrorIs(t, loop.Err(), ErrTooManyReadFailures)
	assert.True(t, dev.isClosed())
}
