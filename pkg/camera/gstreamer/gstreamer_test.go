package gstreamer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wachiwi/barcode-streamer/pkg/camera"
)

// stalledPipeline plays but never hands a buffer to the appsink.
const stalledPipeline = "videotestsrc is-live=true ! video/x-raw, format=(string)RGBA, width=(int)16, height=(int)16 ! " +
	"valve drop=true ! appsink name=sink async=false max-buffers=1 drop=true sync=false"

func openOrSkip(t *testing.T, ctx context.Context, src *Source) camera.Device {
	t.Helper()

	dev, err := src.Open(ctx)
	var openErr *camera.OpenError
	if errors.As(err, &openErr) {
		t.Skipf("Skipping gstreamer test: %v", err)
	}
	require.NoError(t, err)
	return dev
}

func TestReadFrameTimesOutOnStalledPipeline(t *testing.T) {
	src := &Source{Pipeline: stalledPipeline, Width: 16, Height: 16, ReadTimeout: 50 * time.Millisecond}
	dev := openOrSkip(t, context.Background(), src)
	defer dev.Close()

	start := time.Now()
	_, err := dev.ReadFrame(context.Background())

	var readErr *camera.ReadError
	require.ErrorAs(t, err, &readErr)
	assert.Contains(t, err.Error(), "no frame within 50ms")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestReadFrameDeliversRGBA(t *testing.T) {
	src := &Source{
		Pipeline:    "videotestsrc ! video/x-raw, format=(string)RGBA, width=(int)16, height=(int)16 ! appsink name=sink",
		Width:       16,
		Height:      16,
		ReadTimeout: time.Second,
	}
	dev := openOrSkip(t, context.Background(), src)
	defer dev.Close()

	f, err := dev.ReadFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 16, f.Width())
	assert.Equal(t, uint64(1), f.Seq)
}

func TestOpenCancelledDuringWarmup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &Source{Pipeline: stalledPipeline, Width: 16, Height: 16, Warmup: time.Minute}

	time.AfterFunc(100*time.Millisecond, cancel)
	dev, err := src.Open(ctx)

	var openErr *camera.OpenError
	if errors.As(err, &openErr) {
		t.Skipf("Skipping gstreamer test: %v", err)
	}
	assert.Nil(t, dev)
	assert.ErrorIs(t, err, context.Canceled)
}
