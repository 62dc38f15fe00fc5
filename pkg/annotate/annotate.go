package annotate

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/wachiwi/barcode-streamer/pkg/frame"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// labelOffset is the distance between the label baseline and the top of its box.
const labelOffset = 10

// Mark is what gets drawn for a single detection.
type Mark struct {
	Box     image.Rectangle
	Label   string
	LabelAt image.Point // baseline origin of the label
}

// Annotator draws detection boxes and labels onto frames.
type Annotator struct {
	Color     color.RGBA
	Thickness int
	Face      font.Face
}

// New returns an annotator drawing 2px red boxes with the 7x13 bitmap font.
func New() *Annotator {
	return &Annotator{
		Color:     color.RGBA{R: 255, A: 255},
		Thickness: 2,
		Face:      basicfont.Face7x13,
	}
}

// Layout computes the marks for the given detections, in detection order.
func (a *Annotator) Layout(dets []frame.Detection) []Mark {
	ascent := a.Face.Metrics().Ascent.Ceil()

	marks := make([]Mark, 0, len(dets))
	for _, d := range dets {
		box := d.Box.Rectangle()
		baseline := box.Min.Y - labelOffset
		// Keep the label on screen for codes touching the top edge.
		if baseline < ascent {
			baseline = ascent
		}
		marks = append(marks, Mark{
			Box:     box,
			Label:   d.Label(),
			LabelAt: image.Pt(box.Min.X, baseline),
		})
	}
	return marks
}

// Annotate returns a copy of f with a box and a label drawn for every detection.
// The input frame is never modified.
func (a *Annotator) Annotate(f *frame.Frame, dets []frame.Detection) *frame.Frame {
	out := f.Clone()
	if len(dets) == 0 {
		return out
	}

	src := image.NewUniform(a.Color)
	for _, m := range a.Layout(dets) {
		a.strokeRect(out.Image, m.Box, src)

		d := &font.Drawer{
			Dst:  out.Image,
			Src:  src,
			Face: a.Face,
			Dot:  fixed.P(m.LabelAt.X, m.LabelAt.Y),
		}
		d.DrawString(m.Label)
	}
	return out
}

// strokeRect outlines r, treating r.Max as the inclusive far corner.
// draw.Draw clips every band to the destination bounds.
func (a *Annotator) strokeRect(dst draw.Image, r image.Rectangle, src image.Image) {
	t := a.Thickness
	if t < 1 {
		t = 1
	}
	x0, y0, x1, y1 := r.Min.X, r.Min.Y, r.Max.X, r.Max.Y

	bands := []image.Rectangle{
		image.Rect(x0, y0, x1+1, y0+t),     // top
		image.Rect(x0, y1-t+1, x1+1, y1+1), // bottom
		image.Rect(x0, y0, x0+t, y1+1),     // left
		image.Rect(x1-t+1, y0, x1+1, y1+1), // right
	}
	for _, b := range bands {
		draw.Draw(dst, b, src, image.Point{}, draw.Src)
	}
}
