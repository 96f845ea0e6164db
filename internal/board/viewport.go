package board

import (
	"math"

	"github.com/manpreetbhatti/waveboard/internal/element"
)

const (
	MinScale = 0.1
	MaxScale = 5.0
)

// Viewport maps screen coordinates to document coordinates. It is local
// presentation state and is never synchronized.
type Viewport struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Scale float64 `json:"scale"`
}

func DefaultViewport() Viewport {
	return Viewport{Scale: 1}
}

// ToDocument converts a screen point to document space.
func (v Viewport) ToDocument(p element.Point) element.Point {
	return element.Point{X: (p.X - v.X) / v.Scale, Y: (p.Y - v.Y) / v.Scale}
}

// ToScreen is the inverse of ToDocument.
func (v Viewport) ToScreen(p element.Point) element.Point {
	return element.Point{X: p.X*v.Scale + v.X, Y: p.Y*v.Scale + v.Y}
}

func (v Viewport) Pan(dx, dy float64) Viewport {
	v.X += dx
	v.Y += dy
	return v
}

// Zoom multiplies the scale by factor, clamped to [MinScale, MaxScale], while
// keeping the document point under center fixed on screen.
func (v Viewport) Zoom(factor float64, center element.Point) Viewport {
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return v
	}
	anchor := v.ToDocument(center)
	v.Scale = math.Max(MinScale, math.Min(MaxScale, v.Scale*factor))
	v.X = center.X - anchor.X*v.Scale
	v.Y = center.Y - anchor.Y*v.Scale
	return v
}
