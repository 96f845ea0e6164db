package board

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manpreetbhatti/waveboard/internal/element"
)

type broadcast struct {
	kind  UpdateKind
	elems []element.Element
}

type recorder struct {
	broadcasts []broadcast
	persisted  [][]element.Element
	textInputs []element.Element
}

func (r *recorder) Broadcast(kind UpdateKind, elems []element.Element) {
	r.broadcasts = append(r.broadcasts, broadcast{kind, elems})
}

func (r *recorder) Persist(elems []element.Element) {
	r.persisted = append(r.persisted, elems)
}

func (r *recorder) TextInputRequested(el element.Element) {
	r.textInputs = append(r.textInputs, el)
}

func newTestEditor(t *testing.T) (*Editor, *recorder) {
	t.Helper()
	rec := &recorder{}
	return NewEditor(WithListener(rec)), rec
}

func pt(x, y float64) element.Point { return element.Point{X: x, Y: y} }

func drag(e *Editor, from, to element.Point) {
	e.PointerDown(from, Modifiers{})
	e.PointerMove(to)
	e.PointerUp()
}

func TestModeTransitions(t *testing.T) {
	valid := map[Mode][]Mode{
		ModeIdle:        {ModeDrawing, ModeErasing, ModeWritingText, ModePanning},
		ModeDrawing:     {ModeIdle, ModePanning},
		ModeErasing:     {ModeIdle, ModePanning},
		ModeWritingText: {ModeIdle},
		ModePanning:     {ModeIdle},
	}
	all := []Mode{ModeIdle, ModeDrawing, ModeErasing, ModeWritingText, ModePanning}

	for from, targets := range valid {
		for _, to := range all {
			err := from.validateTransitionTo(to)
			if contains(targets, to) {
				assert.NoError(t, err, "%v -> %v", from, to)
			} else {
				assert.Error(t, err, "%v -> %v", from, to)
			}
		}
	}
}

func contains(modes []Mode, m Mode) bool {
	for _, x := range modes {
		if x == m {
			return true
		}
	}
	return false
}

func TestDrawRectangleCommitsAndBroadcastsOnce(t *testing.T) {
	e, rec := newTestEditor(t)
	require.NoError(t, e.SetTool(ToolFor(element.TypeRectangle)))

	e.PointerDown(pt(10, 10), Modifiers{})
	assert.Equal(t, ModeDrawing, e.Mode())
	e.PointerMove(pt(50, 50))
	e.PointerMove(pt(100, 80))
	assert.Len(t, e.Elements(), 1, "in-flight gesture never grows the document")
	assert.Empty(t, rec.broadcasts)

	e.PointerUp()
	assert.Equal(t, ModeIdle, e.Mode())
	require.Len(t, rec.broadcasts, 1)
	assert.Equal(t, UpdateDrawComplete, rec.broadcasts[0].kind)

	got := rec.broadcasts[0].elems
	require.Len(t, got, 1)
	assert.Equal(t, element.TypeRectangle, got[0].Type)
	assert.Equal(t, [4]float64{10, 10, 100, 80}, [4]float64{got[0].X1, got[0].Y1, got[0].X2, got[0].Y2})
	assert.Equal(t, got, e.History().Current(), "broadcast carries the committed snapshot")
	assert.Len(t, rec.persisted, 1)
}

func TestDragDirectionDoesNotChangeBounds(t *testing.T) {
	for _, typ := range []element.Type{element.TypeRectangle, element.TypeCircle, element.TypeTriangle, element.TypeDiamond} {
		t.Run(string(typ), func(t *testing.T) {
			a, b := pt(20, 90), pt(140, 15)

			e1, _ := newTestEditor(t)
			require.NoError(t, e1.SetTool(ToolFor(typ)))
			drag(e1, a, b)

			e2, _ := newTestEditor(t)
			require.NoError(t, e2.SetTool(ToolFor(typ)))
			drag(e2, b, a)

			assert.Equal(t, element.Bounds(e1.Elements()[0]), element.Bounds(e2.Elements()[0]))
		})
	}
}

func TestGeometryRecomputedFromAnchor(t *testing.T) {
	e, _ := newTestEditor(t)
	require.NoError(t, e.SetTool(ToolFor(element.TypeRectangle)))

	e.PointerDown(pt(50, 50), Modifiers{})
	e.PointerMove(pt(100, 100))
	e.PointerMove(pt(10, 20))
	e.PointerUp()

	assert.Equal(t, element.Rect{MinX: 10, MinY: 20, Width: 40, Height: 30}, element.Bounds(e.Elements()[0]))
}

func TestBrushAppendsPointsAndOutline(t *testing.T) {
	e, _ := newTestEditor(t)
	e.PointerDown(pt(0, 0), Modifiers{})
	e.PointerMove(pt(5, 0))
	e.PointerMove(pt(10, 0))
	e.PointerUp()

	el := e.Elements()[0]
	assert.Equal(t, []element.Point{pt(0, 0), pt(5, 0), pt(10, 0)}, el.Points)
	assert.Equal(t, element.Outline(el.Points, el.Size), e.Outline(el.ID))
}

func TestZeroLengthGesture(t *testing.T) {
	e, rec := newTestEditor(t)
	require.NoError(t, e.SetTool(ToolFor(element.TypeCircle)))

	assert.NotPanics(t, func() {
		e.PointerDown(pt(5, 5), Modifiers{})
		e.PointerUp()
	})
	assert.Len(t, e.Elements(), 1)
	assert.Len(t, rec.broadcasts, 1)
}

func TestEraserBroadcastsEveryMoveButNotOnEnd(t *testing.T) {
	e, rec := newTestEditor(t)
	require.NoError(t, e.SetTool(ToolFor(element.TypeLine)))
	drag(e, pt(0, 0), pt(100, 0))
	drag(e, pt(0, 50), pt(100, 50))
	rec.broadcasts = nil
	commits := e.History().Len()

	require.NoError(t, e.SetTool(ToolEraser))
	e.PointerDown(pt(200, 200), Modifiers{})
	assert.Equal(t, ModeErasing, e.Mode())
	e.PointerMove(pt(50, 2))
	e.PointerMove(pt(300, 300))
	e.PointerUp()

	require.Len(t, rec.broadcasts, 2)
	for _, b := range rec.broadcasts {
		assert.Equal(t, UpdateErasing, b.kind)
		assert.Len(t, b.elems, 1)
	}
	assert.Equal(t, commits+1, e.History().Len(), "erase end commits once")
	assert.Equal(t, 50.0, e.Elements()[0].Y1)
}

func TestEraserWorksInDocumentSpace(t *testing.T) {
	e, _ := newTestEditor(t)
	require.NoError(t, e.SetTool(ToolFor(element.TypeLine)))
	drag(e, pt(0, 0), pt(100, 0))

	e.Zoom(2, pt(0, 0))
	require.NoError(t, e.SetTool(ToolEraser))

	// screen (100, 16) is document (50, 8): outside tolerance
	e.PointerDown(pt(100, 16), Modifiers{})
	e.PointerMove(pt(100, 16))
	e.PointerUp()
	assert.Len(t, e.Elements(), 1)

	// screen (100, 8) is document (50, 4): inside tolerance
	e.PointerDown(pt(100, 8), Modifiers{})
	e.PointerMove(pt(100, 8))
	e.PointerUp()
	assert.Empty(t, e.Elements())
}

func TestTextEntry(t *testing.T) {
	e, rec := newTestEditor(t)
	require.NoError(t, e.SetTool(ToolFor(element.TypeText)))

	e.PointerDown(pt(10, 10), Modifiers{})
	assert.Equal(t, ModeWritingText, e.Mode())
	require.Len(t, rec.textInputs, 1)

	e.PointerDown(pt(300, 300), Modifiers{})
	e.PointerMove(pt(310, 310))
	e.PointerUp()
	assert.Equal(t, ModeWritingText, e.Mode(), "pointer input is ignored while typing")
	assert.Len(t, e.Elements(), 1)

	e.TextBlur("hello")
	assert.Equal(t, ModeIdle, e.Mode())
	require.Len(t, rec.broadcasts, 1)
	assert.Equal(t, UpdateTextComplete, rec.broadcasts[0].kind)
	assert.Equal(t, "hello", rec.broadcasts[0].elems[0].Text)
}

func TestPanNeverTouchesDocument(t *testing.T) {
	e, rec := newTestEditor(t)
	drag(e, pt(0, 0), pt(10, 10))
	before := e.Elements()
	commits := e.History().Len()

	e.PointerDown(pt(100, 100), Modifiers{Pan: true})
	assert.Equal(t, ModePanning, e.Mode())
	e.PointerMove(pt(130, 90))
	e.PointerUp()

	assert.Equal(t, ModeIdle, e.Mode())
	assert.Equal(t, Viewport{X: 30, Y: -10, Scale: 1}, e.Viewport())
	assert.Equal(t, before, e.Elements())
	assert.Equal(t, commits, e.History().Len())
	assert.Len(t, rec.broadcasts, 1)
}

func TestPanTriggerEndsDrawing(t *testing.T) {
	e, rec := newTestEditor(t)
	e.PointerDown(pt(0, 0), Modifiers{})
	e.PointerMove(pt(10, 10))

	e.PointerDown(pt(10, 10), Modifiers{Pan: true})

	assert.Equal(t, ModePanning, e.Mode())
	assert.Equal(t, 2, e.History().Len())
	require.Len(t, rec.broadcasts, 1)
	assert.Equal(t, UpdateDrawComplete, rec.broadcasts[0].kind)
}

func TestUndoRedoBroadcast(t *testing.T) {
	e, rec := newTestEditor(t)
	drag(e, pt(0, 0), pt(10, 10))
	drag(e, pt(20, 20), pt(30, 30))
	rec.broadcasts = nil

	require.True(t, e.Undo())
	assert.Len(t, e.Elements(), 1)
	require.True(t, e.Undo())
	assert.Empty(t, e.Elements())
	assert.False(t, e.Undo(), "undo at the first entry is a no-op")

	require.True(t, e.Redo())
	assert.Len(t, e.Elements(), 1)

	kinds := []UpdateKind{}
	for _, b := range rec.broadcasts {
		kinds = append(kinds, b.kind)
	}
	assert.Equal(t, []UpdateKind{UpdateUndo, UpdateUndo, UpdateRedo}, kinds)
}

func TestUndoIgnoredMidGesture(t *testing.T) {
	e, _ := newTestEditor(t)
	drag(e, pt(0, 0), pt(10, 10))

	e.PointerDown(pt(20, 20), Modifiers{})
	assert.False(t, e.Undo())
	assert.Len(t, e.Elements(), 2)
}

func TestSetToolRejectsUnknown(t *testing.T) {
	e, _ := newTestEditor(t)
	assert.Error(t, e.SetTool("laser"))
	assert.Equal(t, ToolFor(element.TypeBrush), e.Tool())
}

func TestLoadResetsHistory(t *testing.T) {
	e, _ := newTestEditor(t)
	drag(e, pt(0, 0), pt(10, 10))

	e.Load(snap(7, 8))

	assert.Equal(t, 1, e.History().Len())
	assert.Equal(t, 9, e.store.NextID())
	assert.False(t, e.Undo())
}
