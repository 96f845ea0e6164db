package board

import (
	"fmt"

	"github.com/manpreetbhatti/waveboard/internal/element"
)

// Mode is the local edit state.
type Mode int

const (
	ModeIdle Mode = iota
	ModeDrawing
	ModeErasing
	ModeWritingText
	ModePanning
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeDrawing:
		return "drawing"
	case ModeErasing:
		return "erasing"
	case ModeWritingText:
		return "writing-text"
	case ModePanning:
		return "panning"
	default:
		return "InvalidMode"
	}
}

// Busy reports whether a local gesture owns the document.
func (m Mode) Busy() bool {
	return m == ModeDrawing || m == ModeErasing || m == ModeWritingText
}

func (m Mode) validateTransitionTo(next Mode) error {
	switch m {
	case ModeIdle:
		switch next {
		case ModeDrawing, ModeErasing, ModeWritingText, ModePanning:
			return nil
		}
	case ModeDrawing, ModeErasing:
		if next == ModeIdle || next == ModePanning {
			return nil
		}
	case ModeWritingText, ModePanning:
		if next == ModeIdle {
			return nil
		}
	}
	return fmt.Errorf("invalid mode transition from %v to %v", m, next)
}

// Tool is the active drawing tool: any element type, or the eraser.
type Tool string

const ToolEraser Tool = "eraser"

// ToolFor returns the tool that draws t.
func ToolFor(t element.Type) Tool { return Tool(t) }

func (t Tool) Valid() bool {
	return t == ToolEraser || element.Type(t).Valid()
}

// UpdateKind tags why a document snapshot is being broadcast.
type UpdateKind string

const (
	UpdateDrawComplete UpdateKind = "drawComplete"
	UpdateErasing      UpdateKind = "erasing"
	UpdateTextComplete UpdateKind = "textComplete"
	UpdateUndo         UpdateKind = "undo"
	UpdateRedo         UpdateKind = "redo"
)

// Modifiers describe pointer state that changes how a gesture starts.
type Modifiers struct {
	// Pan is set for the pan trigger (shift-drag or middle button).
	Pan bool
}

// Listener receives the side effects of local edits. Calls happen
// synchronously on the goroutine driving the editor.
type Listener interface {
	// Broadcast is called with the fresh document that should be relayed.
	Broadcast(kind UpdateKind, elems []element.Element)
	// Persist is called whenever the document settles into a new state.
	Persist(elems []element.Element)
	// TextInputRequested asks the UI to open a text input for el.
	TextInputRequested(el element.Element)
}

type NopListener struct{}

func (NopListener) Broadcast(UpdateKind, []element.Element) {}
func (NopListener) Persist([]element.Element) {}
func (NopListener) TextInputRequested(element.Element) {}

// Editor is the local edit state machine. It is not safe for concurrent use;
// callers serialize access the way a UI thread would.
type Editor struct {
	store     *Store
	history   *History
	viewport  Viewport
	mode      Mode
	tool      Tool
	style     element.Style
	tolerance float64
	listener  Listener

	anchor  element.Point
	panFrom element.Point
}

type Option func(*Editor)

func WithListener(l Listener) Option {
	return func(e *Editor) { e.listener = l }
}

// WithTolerance sets the eraser reach in document units.
func WithTolerance(tol float64) Option {
	return func(e *Editor) { e.tolerance = tol }
}

func NewEditor(opts ...Option) *Editor {
	e := &Editor{
		store:     NewStore(),
		history:   NewHistory(nil),
		viewport:  DefaultViewport(),
		tool:      ToolFor(element.TypeBrush),
		style:     element.Style{Stroke: "#000000", Size: 2},
		tolerance: element.DefaultTolerance,
		listener:  NopListener{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Editor) Mode() Mode { return e.mode }
func (e *Editor) Tool() Tool { return e.tool }
func (e *Editor) Style() element.Style { return e.style }
func (e *Editor) Viewport() Viewport { return e.viewport }
func (e *Editor) History() *History { return e.history }
func (e *Editor) Elements() []element.Element { return e.store.Elements() }

// Outline exposes the freehand outline cache to renderers.
func (e *Editor) Outline(id int) []element.Point { return e.store.Outline(id) }

func (e *Editor) SetTool(t Tool) error {
	if !t.Valid() {
		return fmt.Errorf("unknown tool %q", t)
	}
	e.tool = t
	return nil
}

func (e *Editor) SetStyle(s element.Style) {
	e.style = s
}

// Load replaces the document and restarts history from it. It is used when a
// canvas is opened.
func (e *Editor) Load(elems []element.Element) {
	e.store.Replace(elems)
	e.history.Reset(elems)
	e.mode = ModeIdle
}

func (e *Editor) transitionTo(next Mode) bool {
	if err := e.mode.validateTransitionTo(next); err != nil {
		return false
	}
	e.mode = next
	return true
}

// Commit snapshots the store into history and returns the stored snapshot.
func (e *Editor) Commit() []element.Element {
	snap := e.history.Commit(e.store.Snapshot())
	e.listener.Persist(snap)
	return snap
}

// PointerDown starts a gesture at a screen position.
func (e *Editor) PointerDown(screen element.Point, mods Modifiers) {
	if e.mode == ModeWritingText {
		return
	}

	if mods.Pan {
		if e.mode == ModeDrawing || e.mode == ModeErasing {
			e.endGesture()
		}
		if e.transitionTo(ModePanning) {
			e.panFrom = screen
		}
		return
	}

	if e.mode != ModeIdle {
		return
	}
	doc := e.viewport.ToDocument(screen)

	switch e.tool {
	case ToolEraser:
		e.transitionTo(ModeErasing)
	case Tool(element.TypeText):
		el := element.New(e.store.NextID(), element.TypeText, doc, e.style)
		e.store.Append(el)
		e.transitionTo(ModeWritingText)
		e.listener.TextInputRequested(el)
	default:
		el := element.New(e.store.NextID(), element.Type(e.tool), doc, e.style)
		e.store.Append(el)
		e.anchor = doc
		e.transitionTo(ModeDrawing)
	}
}

// PointerMove continues the current gesture.
func (e *Editor) PointerMove(screen element.Point) {
	switch e.mode {
	case ModePanning:
		e.viewport = e.viewport.Pan(screen.X-e.panFrom.X, screen.Y-e.panFrom.Y)
		e.panFrom = screen
	case ModeDrawing:
		e.drawTo(e.viewport.ToDocument(screen))
	case ModeErasing:
		e.EraseAt(e.viewport.ToDocument(screen))
		e.listener.Broadcast(UpdateErasing, e.store.Elements())
	}
}

func (e *Editor) drawTo(doc element.Point) {
	last, ok := e.store.Last()
	if !ok {
		return
	}
	if last.Type == element.TypeBrush {
		last.Points = append(last.Points, doc)
	} else {
		last.X1, last.Y1 = e.anchor.X, e.anchor.Y
		last.X2, last.Y2 = doc.X, doc.Y
	}
	e.store.ReplaceLast(last)
}

// EraseAt removes every element hit at a document-space point.
func (e *Editor) EraseAt(doc element.Point) int {
	return e.store.RemoveWhere(func(el element.Element, outline []element.Point) bool {
		return element.HitTest(el, doc, e.tolerance, outline)
	})
}

// PointerUp ends the current gesture. A text gesture stays open until
// TextBlur.
func (e *Editor) PointerUp() {
	switch e.mode {
	case ModeDrawing, ModeErasing:
		e.endGesture()
	case ModePanning:
		e.transitionTo(ModeIdle)
	}
}

func (e *Editor) endGesture() {
	mode := e.mode
	e.transitionTo(ModeIdle)
	snap := e.Commit()
	if mode == ModeDrawing {
		e.listener.Broadcast(UpdateDrawComplete, snap)
	}
}

// TextBlur finishes text entry with the typed content.
func (e *Editor) TextBlur(text string) {
	if e.mode != ModeWritingText {
		return
	}
	if last, ok := e.store.Last(); ok && last.Type == element.TypeText {
		last.Text = text
		e.store.ReplaceLast(last)
	}
	e.transitionTo(ModeIdle)
	snap := e.Commit()
	e.listener.Broadcast(UpdateTextComplete, snap)
}

// Undo steps history back. It only runs while no gesture is in flight and
// reports whether the document changed.
func (e *Editor) Undo() bool {
	return e.step(e.history.Undo, UpdateUndo)
}

func (e *Editor) Redo() bool {
	return e.step(e.history.Redo, UpdateRedo)
}

func (e *Editor) step(move func() ([]element.Element, bool), kind UpdateKind) bool {
	if e.mode != ModeIdle {
		return false
	}
	snap, ok := move()
	if !ok {
		return false
	}
	e.store.Replace(snap)
	e.listener.Persist(snap)
	e.listener.Broadcast(kind, snap)
	return true
}

func (e *Editor) Pan(dx, dy float64) {
	e.viewport = e.viewport.Pan(dx, dy)
}

func (e *Editor) Zoom(factor float64, center element.Point) {
	e.viewport = e.viewport.Zoom(factor, center)
}

func (e *Editor) ResetViewport() {
	e.viewport = DefaultViewport()
}
