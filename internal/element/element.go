// Package element defines the drawable primitives of a canvas document and
// the pure geometry shared by the editor, the relay and the renderer.
package element

import (
	"errors"
	"fmt"
	"math"
)

// Type identifies the primitive an Element draws.
type Type string

const (
	TypeLine      Type = "line"
	TypeRectangle Type = "rectangle"
	TypeCircle    Type = "circle"
	TypeArrow     Type = "arrow"
	TypeTriangle  Type = "triangle"
	TypeDiamond   Type = "diamond"
	TypeBrush     Type = "brush"
	TypeText      Type = "text"
)

var ErrInvalidElement = errors.New("invalid element")

// Valid reports whether t is one of the known primitive types.
func (t Type) Valid() bool {
	switch t {
	case TypeLine, TypeRectangle, TypeCircle, TypeArrow,
		TypeTriangle, TypeDiamond, TypeBrush, TypeText:
		return true
	}
	return false
}

// Boxed reports whether the type is drawn from a normalized bounding box.
func (t Type) Boxed() bool {
	switch t {
	case TypeRectangle, TypeCircle, TypeTriangle, TypeDiamond:
		return true
	}
	return false
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Style is the stroke configuration applied to newly created elements.
type Style struct {
	Stroke string  `json:"stroke"`
	Fill   string  `json:"fill,omitempty"`
	Size   float64 `json:"size"`
}

// Element is one drawable primitive. It only carries plain values so it can
// cross the relay and persistence boundaries unchanged.
type Element struct {
	ID     int     `json:"id"`
	Type   Type    `json:"type"`
	X1     float64 `json:"x1"`
	Y1     float64 `json:"y1"`
	X2     float64 `json:"x2"`
	Y2     float64 `json:"y2"`
	Points []Point `json:"points,omitempty"`
	Text   string  `json:"text,omitempty"`
	Stroke string  `json:"stroke"`
	Fill   string  `json:"fill,omitempty"`
	Size   float64 `json:"size"`
}

// New creates a zero-length element anchored at p.
func New(id int, t Type, p Point, style Style) Element {
	e := Element{
		ID:     id,
		Type:   t,
		X1:     p.X,
		Y1:     p.Y,
		X2:     p.X,
		Y2:     p.Y,
		Stroke: style.Stroke,
		Fill:   style.Fill,
		Size:   style.Size,
	}
	if t == TypeBrush {
		e.Points = []Point{p}
	}
	return e
}

// Clone returns a deep copy of e.
func (e Element) Clone() Element {
	if e.Points != nil {
		pts := make([]Point, len(e.Points))
		copy(pts, e.Points)
		e.Points = pts
	}
	return e
}

// CloneAll deep copies a list of elements.
func CloneAll(elems []Element) []Element {
	out := make([]Element, len(elems))
	for i, e := range elems {
		out[i] = e.Clone()
	}
	return out
}

// Validate checks that e is structurally sound.
func Validate(e Element) error {
	if !e.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidElement, e.Type)
	}
	if e.ID < 0 {
		return fmt.Errorf("%w: negative id %d", ErrInvalidElement, e.ID)
	}
	if !finite(e.X1, e.Y1, e.X2, e.Y2, e.Size) {
		return fmt.Errorf("%w: element %d has non-finite geometry", ErrInvalidElement, e.ID)
	}
	if e.Size < 0 {
		return fmt.Errorf("%w: element %d has negative size", ErrInvalidElement, e.ID)
	}
	if e.Type == TypeBrush {
		if len(e.Points) == 0 {
			return fmt.Errorf("%w: brush %d has no points", ErrInvalidElement, e.ID)
		}
		for _, p := range e.Points {
			if !finite(p.X, p.Y) {
				return fmt.Errorf("%w: brush %d has non-finite point", ErrInvalidElement, e.ID)
			}
		}
	}
	return nil
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
