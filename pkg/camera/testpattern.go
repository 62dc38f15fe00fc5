package camera

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"log/slog"
	"time"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/wachiwi/barcode-streamer/pkg/frame"
)

// TestPattern synthesises frames with a drifting gradient and a QR code, for running
// the pipeline without camera hardware.
type TestPattern struct {
	Settings Settings
	Payload  string
}

// NewTestPattern creates a test pattern source. An empty payload disables the QR code.
func NewTestPattern(settings Settings, payload string) *TestPattern {
	if settings.Width == 0 {
		settings.Width = 640
	}
	if settings.Height == 0 {
		settings.Height = 480
	}
	if settings.FPS == 0 {
		settings.FPS = 30
	}
	return &TestPattern{Settings: settings, Payload: payload}
}

// Open implements Source.
func (p *TestPattern) Open(_ context.Context) (Device, error) {
	d := &testPatternDevice{
		settings: p.Settings,
		ticker:   time.NewTicker(time.Second / time.Duration(p.Settings.FPS)),
	}

	if p.Payload != "" {
		side := min(p.Settings.Width, p.Settings.Height) / 2
		matrix, err := qrcode.NewQRCodeWriter().Encode(p.Payload, gozxing.BarcodeFormat_QR_CODE, side, side, nil)
		if err != nil {
			d.ticker.Stop()
			return nil, &OpenError{Source: "testpattern", Err: fmt.Errorf("failed to render QR code: %w", err)}
		}
		d.code = matrix
	}

	slog.Info("Test pattern camera opened", "width", p.Settings.Width, "height", p.Settings.Height, "fps", p.Settings.FPS)
	return d, nil
}

type testPatternDevice struct {
	settings Settings
	ticker   *time.Ticker
	code     image.Image
	seq      uint64
}

func (d *testPatternDevice) ReadFrame(ctx context.Context) (*frame.Frame, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.ticker.C:
	}

	d.seq++
	w, h := d.settings.Width, d.settings.Height
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	shade := byte(d.seq % 256)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			offset := y*img.Stride + x*4
			img.Pix[offset] = shade
			img.Pix[offset+1] = byte((x * 255) / w)
			img.Pix[offset+2] = byte((y * 255) / h)
			img.Pix[offset+3] = 255
		}
	}

	if d.code != nil {
		size := d.code.Bounds().Size()
		travel := w - size.X
		x := 0
		if travel > 0 {
			// bounce horizontally so consumers can see the stream is live
			step := int(d.seq*2) % (2 * travel)
			if step > travel {
				step = 2*travel - step
			}
			x = step
		}
		at := image.Pt(x, (h-size.Y)/2)
		draw.Draw(img, image.Rectangle{Min: at, Max: at.Add(size)}, d.code, image.Point{}, draw.Src)
	}

	return frame.New(img, d.seq), nil
}

func (d *testPatternDevice) Close() error {
	d.ticker.Stop()
	return nil
}
