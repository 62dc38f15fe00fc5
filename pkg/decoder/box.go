package decoder

import (
	"math"

	"github.com/makiuchi-d/gozxing"
	"github.com/wachiwi/barcode-streamer/pkg/frame"
)

// span is an inclusive pixel range on both axes.
type span struct {
	x0, y0, x1, y1 int
}

func (s span) union(o span) span {
	return span{
		x0: min(s.x0, o.x0),
		y0: min(s.y0, o.y0),
		x1: max(s.x1, o.x1),
		y1: max(s.y1, o.y1),
	}
}

func (s span) clamp(width, height int) span {
	return span{
		x0: clamp(s.x0, 0, width-1),
		y0: clamp(s.y0, 0, height-1),
		x1: clamp(s.x1, 0, width-1),
		y1: clamp(s.y1, 0, height-1),
	}
}

func (s span) rect() frame.Rect {
	return frame.Rect{X: s.x0, Y: s.y0, W: max(s.x1-s.x0, 1), H: max(s.y1-s.y0, 1)}
}

func pointSpan(points []gozxing.ResultPoint) span {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range points {
		minX = math.Min(minX, p.GetX())
		minY = math.Min(minY, p.GetY())
		maxX = math.Max(maxX, p.GetX())
		maxY = math.Max(maxY, p.GetY())
	}
	return span{
		x0: int(math.Floor(minX)),
		y0: int(math.Floor(minY)),
		x1: int(math.Ceil(maxX)),
		y1: int(math.Ceil(maxY)),
	}
}

// symbolBox returns the box around the whole symbol. Result points only mark
// the QR finder centres or the scan line of a linear code, so the box is grown
// over the dark modules of the binarized frame. Without a matrix it falls back
// to the points.
func symbolBox(m *gozxing.BitMatrix, format gozxing.BarcodeFormat, points []gozxing.ResultPoint, width, height int) frame.Rect {
	if len(points) == 0 {
		return frame.Rect{}
	}
	if m == nil {
		return boundingBox(points, width, height)
	}

	s := pointSpan(points)
	if format == gozxing.BarcodeFormat_QR_CODE {
		s = qrSpan(m, points, s)
	} else {
		s = linearSpan(m, s)
	}
	return s.clamp(width, height).rect()
}

// qrSpan adds the outline of each finder pattern. The three finders sit in the
// corners, so their union covers the symbol.
func qrSpan(m *gozxing.BitMatrix, points []gozxing.ResultPoint, s span) span {
	for _, p := range points[:min(len(points), 3)] {
		if f, ok := finderSpan(m, p); ok {
			s = s.union(f)
		}
	}
	return s
}

func finderSpan(m *gozxing.BitMatrix, p gozxing.ResultPoint) (span, bool) {
	x, y := int(math.Round(p.GetX())), int(math.Round(p.GetY()))
	if !inMatrix(m, x, y) || !m.Get(x, y) {
		return span{}, false
	}

	left, ok1 := finderEdge(m, x, y, -1, 0)
	right, ok2 := finderEdge(m, x, y, 1, 0)
	top, ok3 := finderEdge(m, x, y, 0, -1)
	bottom, ok4 := finderEdge(m, x, y, 0, 1)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return span{}, false
	}
	return span{x0: left, y0: top, x1: right, y1: bottom}, true
}

// finderEdge walks from a finder centre across the dark core, the light ring and
// the dark ring, and returns the coordinate of the last dark pixel.
func finderEdge(m *gozxing.BitMatrix, x, y, dx, dy int) (int, bool) {
	dark := true
	transitions := 0
	for {
		nx, ny := x+dx, y+dy
		if !inMatrix(m, nx, ny) {
			return 0, false
		}
		if m.Get(nx, ny) != dark {
			dark = !dark
			transitions++
			if transitions == 3 {
				if dx != 0 {
					return x, true
				}
				return y, true
			}
		}
		x, y = nx, ny
	}
}

// linearSpan widens a scan line to the outer bars and then grows it up and down
// while rows keep at least half the dark pixels of the scan line. Spans that are
// not a horizontal scan line are returned as they are.
func linearSpan(m *gozxing.BitMatrix, s span) span {
	if s.y1-s.y0 > 1 {
		return s
	}
	row := s.y0
	if !inMatrix(m, s.x0, row) || !inMatrix(m, s.x1, row) {
		return s
	}

	module := narrowestBar(m, row, s.x0, s.x1)
	if module == 0 {
		return s
	}
	// wider than any space inside a symbol, narrower than the quiet zone
	gap := 6 * module
	s.x0 = outerBar(m, row, s.x0, -1, gap)
	s.x1 = outerBar(m, row, s.x1, 1, gap)

	want := darkCount(m, row, s.x0, s.x1)
	s.y0, s.y1 = row, row
	for s.y0 > 0 && 2*darkCount(m, s.y0-1, s.x0, s.x1) >= want {
		s.y0--
	}
	for s.y1 < m.GetHeight()-1 && 2*darkCount(m, s.y1+1, s.x0, s.x1) >= want {
		s.y1++
	}
	return s
}

// narrowestBar ignores runs cut off at either end of the range.
func narrowestBar(m *gozxing.BitMatrix, y, x0, x1 int) int {
	narrowest, start := 0, -1
	for x := x0; x <= x1; x++ {
		if m.Get(x, y) {
			if start < 0 {
				start = x
			}
			continue
		}
		if start > x0 {
			if run := x - start; narrowest == 0 || run < narrowest {
				narrowest = run
			}
		}
		start = -1
	}
	return narrowest
}

func outerBar(m *gozxing.BitMatrix, y, x, dir, gap int) int {
	last, light := x, 0
	for nx := x + dir; nx >= 0 && nx < m.GetWidth(); nx += dir {
		if m.Get(nx, y) {
			last, light = nx, 0
			continue
		}
		light++
		if light > gap {
			break
		}
	}
	return last
}

func darkCount(m *gozxing.BitMatrix, y, x0, x1 int) int {
	n := 0
	for x := x0; x <= x1; x++ {
		if m.Get(x, y) {
			n++
		}
	}
	return n
}

func inMatrix(m *gozxing.BitMatrix, x, y int) bool {
	return x >= 0 && y >= 0 && x < m.GetWidth() && y < m.GetHeight()
}
