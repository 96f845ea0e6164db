package element

import (
	"fmt"

	"github.com/goccy/go-json"
)

// wireElement mirrors Element with pointer fields so that missing required
// fields can be told apart from zero values.
type wireElement struct {
	ID     *int     `json:"id"`
	Type   *Type    `json:"type"`
	X1     *float64 `json:"x1"`
	Y1     *float64 `json:"y1"`
	X2     *float64 `json:"x2"`
	Y2     *float64 `json:"y2"`
	Points []Point  `json:"points"`
	Text   string   `json:"text"`
	Stroke string   `json:"stroke"`
	Fill   string   `json:"fill"`
	Size   *float64 `json:"size"`
}

func (w wireElement) element(i int) (Element, error) {
	if w.ID == nil || w.Type == nil {
		return Element{}, fmt.Errorf("%w: element %d is missing id or type", ErrInvalidElement, i)
	}
	e := Element{
		ID:     *w.ID,
		Type:   *w.Type,
		Points: w.Points,
		Text:   w.Text,
		Stroke: w.Stroke,
		Fill:   w.Fill,
	}
	if w.Size != nil {
		e.Size = *w.Size
	}

	if e.Type == TypeBrush {
		if len(w.Points) > 0 {
			e.X1, e.Y1 = w.Points[0].X, w.Points[0].Y
			e.X2, e.Y2 = e.X1, e.Y1
		}
	} else {
		if w.X1 == nil || w.Y1 == nil {
			return Element{}, fmt.Errorf("%w: element %d is missing its anchor", ErrInvalidElement, e.ID)
		}
		e.X1, e.Y1 = *w.X1, *w.Y1
		e.X2, e.Y2 = e.X1, e.Y1
		if w.X2 != nil && w.Y2 != nil {
			e.X2, e.Y2 = *w.X2, *w.Y2
		} else if e.Type != TypeText {
			return Element{}, fmt.Errorf("%w: element %d is missing its end point", ErrInvalidElement, e.ID)
		}
	}

	if err := Validate(e); err != nil {
		return Element{}, err
	}
	return e, nil
}

// DecodeSnapshot parses a full document. Any malformed element rejects the
// whole snapshot. Unknown fields are dropped.
func DecodeSnapshot(data []byte) ([]Element, error) {
	var wire []wireElement
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidElement, err)
	}
	if wire == nil {
		return nil, fmt.Errorf("%w: snapshot is not a list", ErrInvalidElement)
	}

	elems := make([]Element, 0, len(wire))
	for i, w := range wire {
		e, err := w.element(i)
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
	}
	return elems, nil
}

// EncodeSnapshot serializes a document. A nil document encodes as [].
func EncodeSnapshot(elems []Element) ([]byte, error) {
	if elems == nil {
		elems = []Element{}
	}
	return json.Marshal(elems)
}

// ValidateAll checks every element of a document.
func ValidateAll(elems []Element) error {
	for _, e := range elems {
		if err := Validate(e); err != nil {
			return err
		}
	}
	return nil
}
