package decoder

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/wachiwi/barcode-streamer/pkg/frame"
)

// Decoder finds barcodes in a frame. An empty result is normal.
type Decoder interface {
	Decode(f *frame.Frame) []frame.Detection
}

// DefaultSymbologies is used when no symbologies are configured.
var DefaultSymbologies = []string{"QR_CODE", "CODE_128", "EAN_13", "CODE_39"}

var readerFactories = map[string]func() gozxing.Reader{
	"QR_CODE":  func() gozxing.Reader { return qrcode.NewQRCodeReader() },
	"CODE_128": func() gozxing.Reader { return oned.NewCode128Reader() },
	"CODE_39":  func() gozxing.Reader { return oned.NewCode39Reader() },
	"EAN_13":   func() gozxing.Reader { return oned.NewEAN13Reader() },
	"EAN_8":    func() gozxing.Reader { return oned.NewEAN8Reader() },
	"UPC_A":    func() gozxing.Reader { return oned.NewUPCAReader() },
}

// Supported reports whether the symbology name can be decoded.
func Supported(name string) bool {
	_, ok := readerFactories[strings.ToUpper(name)]
	return ok
}

type namedReader struct {
	name   string
	reader gozxing.Reader
}

// ZXing decodes frames with the gozxing readers for a fixed list of symbologies.
// It is not safe for concurrent use; the capture loop owns its instance.
type ZXing struct {
	readers []namedReader
	hints   map[gozxing.DecodeHintType]interface{}
}

// NewZXing builds a decoder trying the given symbologies in order.
func NewZXing(symbologies []string, tryHarder bool) (*ZXing, error) {
	if len(symbologies) == 0 {
		symbologies = DefaultSymbologies
	}

	z := &ZXing{hints: map[gozxing.DecodeHintType]interface{}{}}
	if tryHarder {
		z.hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}
	for _, s := range symbologies {
		name := strings.ToUpper(s)
		factory, ok := readerFactories[name]
		if !ok {
			return nil, fmt.Errorf("unsupported symbology %q", s)
		}
		z.readers = append(z.readers, namedReader{name: name, reader: factory()})
	}
	return z, nil
}

// Decode runs every reader over the frame. Each reader contributes at most one
// detection, in reader order.
func (z *ZXing) Decode(f *frame.Frame) []frame.Detection {
	bmp, err := gozxing.NewBinaryBitmapFromImage(f.Image)
	if err != nil {
		slog.Debug("Failed to binarize frame", "seq", f.Seq, "error", err)
		return nil
	}

	var dets []frame.Detection
	var matrix *gozxing.BitMatrix
	for _, nr := range z.readers {
		result, err := nr.reader.Decode(bmp, z.hints)
		nr.reader.Reset()
		if err != nil {
			var notFound gozxing.NotFoundException
			if !errors.As(err, &notFound) {
				slog.Debug("Decoder error", "symbology", nr.name, "error", err)
			}
			continue
		}
		if matrix == nil {
			if matrix, err = bmp.GetBlackMatrix(); err != nil {
				matrix = nil
			}
		}
		dets = append(dets, frame.Detection{
			Box:       symbolBox(matrix, result.GetBarcodeFormat(), result.GetResultPoints(), f.Width(), f.Height()),
			Payload:   []byte(result.GetText()),
			Symbology: result.GetBarcodeFormat().String(),
		})
	}
	return dets
}

// boundingBox returns the axis-aligned box around the result points, at least one
// pixel wide and high, clamped to the frame.
func boundingBox(points []gozxing.ResultPoint, width, height int) frame.Rect {
	if len(points) == 0 {
		return frame.Rect{}
	}
	return pointSpan(points).clamp(width, height).rect()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
