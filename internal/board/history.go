package board

import (
	"github.com/manpreetbhatti/waveboard/internal/element"
)

// History is a linear list of committed snapshots with a cursor. Committing
// after an undo discards the redo branch.
type History struct {
	snapshots [][]element.Element
	index     int
}

// NewHistory starts a history whose only entry is initial.
func NewHistory(initial []element.Element) *History {
	h := &History{}
	h.Reset(initial)
	return h
}

// Reset discards every entry and starts over from snapshot.
func (h *History) Reset(snapshot []element.Element) {
	h.snapshots = [][]element.Element{element.CloneAll(snapshot)}
	h.index = 0
}

// Commit truncates any redo branch, appends snapshot and moves the cursor to
// it. The stored copy is returned.
func (h *History) Commit(snapshot []element.Element) []element.Element {
	stored := element.CloneAll(snapshot)
	h.snapshots = append(h.snapshots[:h.index+1], stored)
	h.index = len(h.snapshots) - 1
	return element.CloneAll(stored)
}

// Undo moves the cursor back. ok is false at the first entry.
func (h *History) Undo() ([]element.Element, bool) {
	if h.index == 0 {
		return nil, false
	}
	h.index--
	return h.Current(), true
}

// Redo moves the cursor forward. ok is false at the last entry.
func (h *History) Redo() ([]element.Element, bool) {
	if h.index >= len(h.snapshots)-1 {
		return nil, false
	}
	h.index++
	return h.Current(), true
}

// Current returns the snapshot at the cursor.
func (h *History) Current() []element.Element {
	return element.CloneAll(h.snapshots[h.index])
}

func (h *History) Index() int { return h.index }
func (h *History) Len() int { return len(h.snapshots) }
func (h *History) CanUndo() bool { return h.index > 0 }
func (h *History) CanRedo() bool { return h.index < len(h.snapshots)-1 }
