// Package board holds the client-side canvas document: the element store,
// its undo history, the viewport and the local edit state machine.
package board

import (
	"github.com/manpreetbhatti/waveboard/internal/element"
)

// Store is the live ordered list of elements. Freehand outlines are kept in a
// side table parallel to the element slice, so documents carrying repeated
// ids still hit test each stroke against its own outline.
type Store struct {
	elems    []element.Element
	outlines [][]element.Point
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Len() int { return len(s.elems) }

// Elements returns a deep copy of the current document.
func (s *Store) Elements() []element.Element {
	return element.CloneAll(s.elems)
}

// Snapshot is Elements under the name used by the history manager.
func (s *Store) Snapshot() []element.Element {
	return s.Elements()
}

// Last returns the most recently appended element.
func (s *Store) Last() (element.Element, bool) {
	if len(s.elems) == 0 {
		return element.Element{}, false
	}
	return s.elems[len(s.elems)-1].Clone(), true
}

// Outline returns the cached freehand outline of the first element with id,
// or nil.
func (s *Store) Outline(id int) []element.Point {
	for i, e := range s.elems {
		if e.ID == id {
			return s.outlines[i]
		}
	}
	return nil
}

// NextID returns an id not used by any element currently in the store.
func (s *Store) NextID() int {
	next := len(s.elems)
	for _, e := range s.elems {
		if e.ID >= next {
			next = e.ID + 1
		}
	}
	return next
}

func (s *Store) Append(e element.Element) {
	e = e.Clone()
	s.elems = append(s.elems, e)
	s.outlines = append(s.outlines, outlineOf(e))
}

// ReplaceLast swaps the most recent element for e. It is a no-op on an empty
// store.
func (s *Store) ReplaceLast(e element.Element) {
	if len(s.elems) == 0 {
		return
	}
	e = e.Clone()
	last := len(s.elems) - 1
	s.elems[last] = e
	s.outlines[last] = outlineOf(e)
}

// RemoveWhere drops every element matching pred and returns how many were
// removed.
func (s *Store) RemoveWhere(pred func(element.Element, []element.Point) bool) int {
	kept := s.elems[:0]
	keptOutlines := s.outlines[:0]
	for i, e := range s.elems {
		if pred(e, s.outlines[i]) {
			continue
		}
		kept = append(kept, e)
		keptOutlines = append(keptOutlines, s.outlines[i])
	}
	removed := len(s.elems) - len(kept)
	for i := len(kept); i < len(s.elems); i++ {
		s.elems[i] = element.Element{}
		s.outlines[i] = nil
	}
	s.elems = kept
	s.outlines = keptOutlines
	return removed
}

// Replace swaps in a whole document and rebuilds every derived outline.
func (s *Store) Replace(elems []element.Element) {
	s.elems = element.CloneAll(elems)
	s.outlines = make([][]element.Point, len(s.elems))
	for i, e := range s.elems {
		s.outlines[i] = outlineOf(e)
	}
}

func outlineOf(e element.Element) []element.Point {
	if e.Type != element.TypeBrush {
		return nil
	}
	return element.Outline(e.Points, e.Size)
}
