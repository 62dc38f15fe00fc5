package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeJPEG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestJPEGSplitter(t *testing.T) {
	first := encodeJPEG(t, 16, 8, color.White)
	second := encodeJPEG(t, 8, 8, color.Black)

	var stream bytes.Buffer
	stream.WriteString("garbage before the first frame")
	stream.Write(first)
	stream.Write(second)

	s := newJPEGSplitter(iotest.OneByteReader(&stream))

	got, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, first, got)

	got, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, second, got)

	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestPipeDeviceReadFrame(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(encodeJPEG(t, 32, 16, color.White))
	stream.Write([]byte{0xFF, 0xD8, 0x00, 0x01, 0xFF, 0xD9}) // markers without image data
	stream.Write(encodeJPEG(t, 32, 16, color.Black))

	d := newPipeDevice(io.NopCloser(&stream), nil, nil)
	defer d.Close()
	ctx := context.Background()

	f, err := d.ReadFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, 32, f.Width())
	assert.Equal(t, 16, f.Height())
	assert.Equal(t, uint64(1), f.Seq)

	_, err = d.ReadFrame(ctx)
	var readErr *ReadError
	require.True(t, errors.As(err, &readErr), "corrupt frame should be a ReadError, got %v", err)

	f, err = d.ReadFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), f.Seq)

	_, err = d.ReadFrame(ctx)
	require.True(t, errors.As(err, &readErr), "end of stream should be a ReadError, got %v", err)
}

func TestTestPatternProducesFrames(t *testing.T) {
	src := NewTestPattern(Settings{Width: 320, Height: 240, FPS: 100}, "hello")
	dev, err := src.Open(context.Background())
	require.NoError(t, err)
	defer dev.Close()

	for i := uint64(1); i <= 3; i++ {
		f, err := dev.ReadFrame(context.Background())
		require.NoError(t, err)
		assert.Equal(t, i, f.Seq)
		assert.Equal(t, 320, f.Width())
		assert.Equal(t, 240, f.Height())
	}
}

func TestTestPatternHonoursCancellation(t *testing.T) {
	src := NewTestPattern(Settings{Width: 64, Height: 64, FPS: 1}, "")
	dev, err := src.Open(context.Background())
	require.NoError(t, err)
	defer dev.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = dev.ReadFrame(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUpstreamReadsMultipartStream(t *testing.T) {
	frames := [][]byte{
		encodeJPEG(t, 24, 12, color.White),
		encodeJPEG(t, 24, 12, color.Black),
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mw := multipart.NewWriter(w)
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
		for _, data := range frames {
			header := textproto.MIMEHeader{}
			header.Set("Content-Type", "image/jpeg")
			header.Set("Content-Length", fmt.Sprint(len(data)))
			part, err := mw.CreatePart(header)
			if err != nil {
				return
			}
			part.Write(data)
		}
		mw.Close()
	}))
	defer server.Close()

	dev, err := NewUpstream(server.URL).Open(context.Background())
	require.NoError(t, err)
	defer dev.Close()

	for i := uint64(1); i <= 2; i++ {
		f, err := dev.ReadFrame(context.Background())
		require.NoError(t, err)
		assert.Equal(t, i, f.Seq)
		assert.Equal(t, 24, f.Width())
	}
}

func TestUpstreamOpenFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	_, err := NewUpstream(server.URL).Open(context.Background())
	var openErr *OpenError
	require.True(t, errors.As(err, &openErr))
	assert.Equal(t, "mjpeg", openErr.Source)
}
