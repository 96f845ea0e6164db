package element

import (
	"math"
	"unicode/utf8"
)

// DefaultTolerance is the eraser reach in document units.
const DefaultTolerance = 5.0

const (
	// text is rendered at size*textScale px; glyphs average half an em wide.
	textScale     = 5.0
	textGlyphWide = 0.5

	outlineCapSides = 8
)

// Rect is a normalized box: Width and Height are never negative.
type Rect struct {
	MinX   float64 `json:"minX"`
	MinY   float64 `json:"minY"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) MaxX() float64 { return r.MinX + r.Width }
func (r Rect) MaxY() float64 { return r.MinY + r.Height }

// Normalize builds the bounding box of two corner points in any order.
func Normalize(x1, y1, x2, y2 float64) Rect {
	return Rect{
		MinX:   math.Min(x1, x2),
		MinY:   math.Min(y1, y2),
		Width:  math.Abs(x2 - x1),
		Height: math.Abs(y2 - y1),
	}
}

// Bounds returns the normalized bounding box of e.
func Bounds(e Element) Rect {
	switch e.Type {
	case TypeBrush:
		if len(e.Points) == 0 {
			return Rect{}
		}
		minX, minY := e.Points[0].X, e.Points[0].Y
		maxX, maxY := minX, minY
		for _, p := range e.Points[1:] {
			minX = math.Min(minX, p.X)
			minY = math.Min(minY, p.Y)
			maxX = math.Max(maxX, p.X)
			maxY = math.Max(maxY, p.Y)
		}
		return Rect{MinX: minX, MinY: minY, Width: maxX - minX, Height: maxY - minY}
	case TypeText:
		w, h := textExtent(e)
		return Rect{MinX: e.X1, MinY: e.Y1, Width: w, Height: h}
	default:
		return Normalize(e.X1, e.Y1, e.X2, e.Y2)
	}
}

func textExtent(e Element) (float64, float64) {
	font := e.Size * textScale
	return float64(utf8.RuneCountInString(e.Text)) * font * textGlyphWide, e.Size
}

// Vertices returns the corner points of a box-shaped primitive, in drawing
// order. Circles are approximated by their bounding box.
func Vertices(e Element) []Point {
	r := Normalize(e.X1, e.Y1, e.X2, e.Y2)
	midX, midY := r.MinX+r.Width/2, r.MinY+r.Height/2
	switch e.Type {
	case TypeTriangle:
		return []Point{{midX, r.MinY}, {r.MinX, r.MaxY()}, {r.MaxX(), r.MaxY()}}
	case TypeDiamond:
		return []Point{{midX, r.MinY}, {r.MaxX(), midY}, {midX, r.MaxY()}, {r.MinX, midY}}
	case TypeText:
		b := Bounds(e)
		return []Point{{b.MinX, b.MinY}, {b.MaxX(), b.MinY}, {b.MaxX(), b.MaxY()}, {b.MinX, b.MaxY()}}
	default:
		return []Point{{r.MinX, r.MinY}, {r.MaxX(), r.MinY}, {r.MaxX(), r.MaxY()}, {r.MinX, r.MaxY()}}
	}
}

// Outline computes the closed polygon that renders a freehand stroke. It is a
// pure function of points and size.
func Outline(points []Point, size float64) []Point {
	pts := dedupe(points)
	if len(pts) == 0 {
		return nil
	}
	radius := math.Max(size, 1) / 2

	if len(pts) == 1 {
		out := make([]Point, outlineCapSides)
		for i := range out {
			a := 2 * math.Pi * float64(i) / outlineCapSides
			out[i] = Point{pts[0].X + radius*math.Cos(a), pts[0].Y + radius*math.Sin(a)}
		}
		return out
	}

	n := len(pts)
	left := make([]Point, n)
	right := make([]Point, n)
	var nx, ny float64
	for i := range pts {
		// A stroke that turns back onto the point before has no chord
		// direction; keep the last usable normal in that case.
		if dx, dy, ok := direction(pts, i); ok {
			l := math.Hypot(dx, dy)
			nx, ny = -dy/l, dx/l
		}
		left[i] = Point{pts[i].X + nx*radius, pts[i].Y + ny*radius}
		right[i] = Point{pts[i].X - nx*radius, pts[i].Y - ny*radius}
	}

	out := make([]Point, 0, 2*n)
	out = append(out, left...)
	for i := n - 1; i >= 0; i-- {
		out = append(out, right[i])
	}
	return out
}

// direction returns the tangent at pts[i]: the chord between its neighbours,
// or else the incoming or outgoing segment.
func direction(pts []Point, i int) (float64, float64, bool) {
	n := len(pts)
	candidates := [][2]Point{
		{pts[max(i-1, 0)], pts[min(i+1, n-1)]},
		{pts[max(i-1, 0)], pts[i]},
		{pts[i], pts[min(i+1, n-1)]},
	}
	for _, c := range candidates {
		dx, dy := c[1].X-c[0].X, c[1].Y-c[0].Y
		if dx != 0 || dy != 0 {
			return dx, dy, true
		}
	}
	return 0, 0, false
}

func dedupe(points []Point) []Point {
	out := make([]Point, 0, len(points))
	for i, p := range points {
		if i > 0 && p == points[i-1] {
			continue
		}
		out = append(out, p)
	}
	return out
}

// HitTest reports whether p lies within tol of e. outline is the cached
// freehand outline for brush elements and is ignored for every other type.
func HitTest(e Element, p Point, tol float64, outline []Point) bool {
	switch e.Type {
	case TypeLine, TypeArrow:
		return SegmentDistance(p, Point{e.X1, e.Y1}, Point{e.X2, e.Y2}) <= tol
	case TypeRectangle, TypeCircle, TypeTriangle, TypeDiamond, TypeText:
		return nearPolygon(p, Vertices(e), tol)
	case TypeBrush:
		if outline == nil {
			outline = Outline(e.Points, e.Size)
		}
		return Contains(outline, p) || nearPolygon(p, outline, tol)
	}
	return false
}

func nearPolygon(p Point, poly []Point, tol float64) bool {
	for i := range poly {
		if SegmentDistance(p, poly[i], poly[(i+1)%len(poly)]) <= tol {
			return true
		}
	}
	return false
}

// SegmentDistance is the distance from p to the segment a-b.
func SegmentDistance(p, a, b Point) float64 {
	dx, dy := b.X-a.X, b.Y-a.Y
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return math.Hypot(p.X-a.X, p.Y-a.Y)
	}
	t := ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / lenSq
	t = math.Max(0, math.Min(1, t))
	return math.Hypot(p.X-(a.X+t*dx), p.Y-(a.Y+t*dy))
}

// Contains is an even-odd point-in-polygon test.
func Contains(poly []Point, p Point) bool {
	inside := false
	for i, j := 0, len(poly)-1; i < len(poly); j, i = i, i+1 {
		a, b := poly[i], poly[j]
		if (a.Y > p.Y) != (b.Y > p.Y) &&
			p.X < (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y)+a.X {
			inside = !inside
		}
	}
	return inside
}
