package frame

import (
	"fmt"
	"image"
)

// Rect is an axis-aligned bounding box in pixel coordinates.
type Rect struct {
	X int
	Y int
	W int
	H int
}

// Rectangle converts the box to an image.Rectangle with corners (X,Y) and (X+W,Y+H).
func (r Rect) Rectangle() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// Detection is one decoded barcode or QR code within a frame.
type Detection struct {
	Box       Rect
	Payload   []byte
	Symbology string
}

// Label returns the text drawn next to the detection, "payload (symbology)".
func (d Detection) Label() string {
	return fmt.Sprintf("%s (%s)", d.Payload, d.Symbology)
}
