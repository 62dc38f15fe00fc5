package camera

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mattn/go-mjpeg"
	"github.com/wachiwi/barcode-streamer/pkg/frame"
)

// Upstream reads frames from a remote multipart MJPEG stream, e.g. another camera
// server or an IP camera.
type Upstream struct {
	URL    string
	Client *http.Client
}

// NewUpstream creates an upstream MJPEG source.
func NewUpstream(url string) *Upstream {
	return &Upstream{URL: url, Client: http.DefaultClient}
}

// Open connects to the stream. The connection lives until ctx is cancelled or the
// device is closed.
func (u *Upstream) Open(ctx context.Context) (Device, error) {
	ctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.URL, nil)
	if err != nil {
		cancel()
		return nil, &OpenError{Source: "mjpeg", Err: err}
	}
	resp, err := u.Client.Do(req)
	if err != nil {
		cancel()
		return nil, &OpenError{Source: "mjpeg", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, &OpenError{Source: "mjpeg", Err: fmt.Errorf("upstream returned status %d", resp.StatusCode)}
	}

	dec, err := mjpeg.NewDecoderFromResponse(resp)
	if err != nil {
		resp.Body.Close()
		cancel()
		return nil, &OpenError{Source: "mjpeg", Err: err}
	}

	slog.Info("Connected to upstream MJPEG stream", "url", u.URL)
	return &upstreamDevice{dec: dec, resp: resp, cancel: cancel}, nil
}

type upstreamDevice struct {
	dec    *mjpeg.Decoder
	resp   *http.Response
	cancel context.CancelFunc
	seq    uint64
}

func (d *upstreamDevice) ReadFrame(ctx context.Context) (*frame.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := d.dec.Decode()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ReadError{Err: err}
	}

	d.seq++
	return frame.New(toRGBA(img), d.seq), nil
}

func (d *upstreamDevice) Close() error {
	d.cancel()
	return d.resp.Body.Close()
}
