package board

import (
	"github.com/manpreetbhatti/waveboard/internal/element"
)

// Outcome reports what ApplyRemote did with an incoming snapshot.
type Outcome int

const (
	OutcomeApplied Outcome = iota
	// OutcomeDropped means a local gesture was in flight; the local commit
	// that ends it will win.
	OutcomeDropped
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeDropped:
		return "dropped"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// ApplyRemote replaces the whole document with a peer's snapshot unless a
// local gesture owns it. Invalid snapshots are rejected without touching the
// document. History is never modified by remote updates.
func (e *Editor) ApplyRemote(elems []element.Element) (Outcome, error) {
	if err := element.ValidateAll(elems); err != nil {
		return OutcomeRejected, err
	}
	if e.mode.Busy() {
		return OutcomeDropped, nil
	}
	e.store.Replace(elems)
	return OutcomeApplied, nil
}
