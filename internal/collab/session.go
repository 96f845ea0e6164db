// Package collab runs one board session: a local editor, the relay link to
// the room, and the persistence service behind it.
package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/manpreetbhatti/waveboard/internal/board"
	"github.com/manpreetbhatti/waveboard/internal/canvasclient"
	"github.com/manpreetbhatti/waveboard/internal/client"
	"github.com/manpreetbhatti/waveboard/internal/element"
	"github.com/manpreetbhatti/waveboard/internal/protocol"
)

// Persister loads and saves canvas documents. canvasclient.Client is the
// production implementation.
type Persister interface {
	Load(ctx context.Context, canvasID string) (*canvasclient.Canvas, error)
	Save(ctx context.Context, canvasID string, elems []element.Element) error
}

// Cursor is the last reported pointer of a peer, in document coordinates.
type Cursor struct {
	X, Y   float64
	Action string
}

type Options struct {
	// RoomID is the canvas id. The guest room stays local only.
	RoomID string
	// Relay configures the relay link. URL, Credential and the throttle
	// intervals are used; the room and handlers are set by the session.
	Relay     client.Options
	Persister Persister
	Logger    zerolog.Logger

	// OnChange is called after the document changed because of a peer.
	OnChange func()
	// OnSaveFailed reports a save that did not go through. The local
	// document is kept as is.
	OnSaveFailed func(error)
	// OnTextInput asks the UI to open a text input for a new text element.
	OnTextInput func(element.Element)
}

// Session serializes every editor access behind one mutex, the way a UI
// thread would.
type Session struct {
	opts   Options
	log    zerolog.Logger
	roomID string

	mu      sync.Mutex
	editor  *board.Editor
	members []protocol.Member
	cursors map[string]Cursor

	relay *client.Client
	store Persister

	saves    chan []element.Element
	saveDone chan struct{}
	closed   bool
}

func New(opts Options) (*Session, error) {
	if opts.RoomID == "" {
		return nil, client.ErrNoRoom
	}
	s := &Session{
		opts:    opts,
		log:     opts.Logger.With().Str("room", opts.RoomID).Logger(),
		roomID:  opts.RoomID,
		cursors: make(map[string]Cursor),
	}
	s.editor = board.NewEditor(board.WithListener(s))

	if opts.RoomID == protocol.GuestRoomID {
		return s, nil
	}

	s.store = opts.Persister
	if s.store != nil {
		s.saves = make(chan []element.Element, 1)
		s.saveDone = make(chan struct{})
		go s.saveLoop()
	}

	relayOpts := opts.Relay
	relayOpts.RoomID = opts.RoomID
	relayOpts.Logger = opts.Logger
	if relayOpts.URL != "" {
		relay, err := client.New(relayOpts, client.Handlers{
			OnMembers:  s.onMembers,
			OnDocument: s.onDocument,
			OnCursor:   s.onCursor,
			OnState: func(st client.State) {
				s.log.Debug().Stringer("state", st).Msg("relay state")
			},
		})
		if err != nil {
			return nil, err
		}
		s.relay = relay
	}
	return s, nil
}

// Open loads the stored canvas, restarting history from it, then joins the
// room. A relay that cannot be reached leaves the session local only.
func (s *Session) Open(ctx context.Context) error {
	if s.store != nil {
		c, err := s.store.Load(ctx, s.roomID)
		if err != nil {
			return fmt.Errorf("load canvas %s: %w", s.roomID, err)
		}
		s.mu.Lock()
		s.editor.Load(c.Elements)
		s.mu.Unlock()
	}

	if s.relay != nil {
		if err := s.relay.Connect(ctx); err != nil {
			s.log.Warn().Err(err).Msg("relay unavailable, working offline")
		}
	}
	return nil
}

// Close leaves the room and waits for the last pending save.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	if s.relay != nil && s.relay.State() != client.StateClosed {
		if err := s.relay.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.saves != nil {
		close(s.saves)
		<-s.saveDone
	}
	return errors.Join(errs...)
}

// Connected is the connectivity indicator.
func (s *Session) Connected() bool {
	return s.relay != nil && s.relay.Connected()
}

func (s *Session) Members() []protocol.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Member, len(s.members))
	copy(out, s.members)
	return out
}

// Cursors returns the last cursor of each peer by connection id.
func (s *Session) Cursors() map[string]Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Cursor, len(s.cursors))
	for id, c := range s.cursors {
		out[id] = c
	}
	return out
}

// Local edits. Each call holds the session lock for its whole duration.

func (s *Session) PointerDown(screen element.Point, mods board.Modifiers) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editor.PointerDown(screen, mods)
}

// PointerMove also reports the pointer to peers.
func (s *Session) PointerMove(screen element.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editor.PointerMove(screen)

	if s.relay != nil {
		doc := s.editor.Viewport().ToDocument(screen)
		s.relay.SendCursor(doc.X, doc.Y, cursorAction(s.editor.Mode()))
	}
}

func (s *Session) PointerUp() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editor.PointerUp()
}

func (s *Session) TextBlur(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editor.TextBlur(text)
}

func (s *Session) Undo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editor.Undo()
}

func (s *Session) Redo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editor.Redo()
}

func (s *Session) SetTool(t board.Tool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editor.SetTool(t)
}

func (s *Session) SetStyle(st element.Style) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editor.SetStyle(st)
}

func (s *Session) Pan(dx, dy float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editor.Pan(dx, dy)
}

func (s *Session) Zoom(factor float64, center element.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editor.Zoom(factor, center)
}

func (s *Session) ResetViewport() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editor.ResetViewport()
}

// Read-only views for a renderer.

func (s *Session) Elements() []element.Element {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editor.Elements()
}

func (s *Session) Mode() board.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editor.Mode()
}

func (s *Session) Viewport() board.Viewport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editor.Viewport()
}

func (s *Session) Outline(id int) []element.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editor.Outline(id)
}

func (s *Session) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editor.Mode() == board.ModeIdle && s.editor.History().CanUndo()
}

func (s *Session) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editor.Mode() == board.ModeIdle && s.editor.History().CanRedo()
}

// board.Listener. These run with s.mu held.

func (s *Session) Broadcast(kind board.UpdateKind, elems []element.Element) {
	if s.relay == nil {
		return
	}
	if err := s.relay.SendDocument(kind, elems); err != nil {
		s.log.Error().Err(err).Str("kind", string(kind)).Msg("encode document update")
	}
}

// Persist queues the snapshot for saving. Only the newest pending snapshot
// is kept.
func (s *Session) Persist(elems []element.Element) {
	if s.saves == nil || s.closed {
		return
	}
	select {
	case <-s.saves:
	default:
	}
	s.saves <- element.CloneAll(elems)
}

func (s *Session) TextInputRequested(el element.Element) {
	if s.opts.OnTextInput != nil {
		s.opts.OnTextInput(el)
	}
}

func (s *Session) saveLoop() {
	defer close(s.saveDone)
	for elems := range s.saves {
		if err := s.store.Save(context.Background(), s.roomID, elems); err != nil {
			s.log.Warn().Err(err).Int("elements", len(elems)).Msg("save failed")
			if s.opts.OnSaveFailed != nil {
				s.opts.OnSaveFailed(err)
			}
		}
	}
}

// Relay events.

func (s *Session) onDocument(upd protocol.DocumentUpdate) {
	elems, err := element.DecodeSnapshot(upd.Elements)
	if err != nil {
		s.log.Warn().Err(err).Str("from", upd.SenderConnectionID).Msg("rejected remote snapshot")
		return
	}

	s.mu.Lock()
	outcome, err := s.editor.ApplyRemote(elems)
	s.mu.Unlock()
	if err != nil {
		s.log.Warn().Err(err).Msg("rejected remote snapshot")
		return
	}

	s.log.Debug().Stringer("outcome", outcome).Str("kind", upd.Kind).Int("elements", len(elems)).
		Msg("remote update")
	if outcome == board.OutcomeApplied && s.opts.OnChange != nil {
		s.opts.OnChange()
	}
}

func (s *Session) onMembers(members []protocol.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members = members

	present := make(map[string]bool, len(members))
	for _, m := range members {
		present[m.ConnectionID] = true
	}
	for id := range s.cursors {
		if !present[id] {
			delete(s.cursors, id)
		}
	}
}

func (s *Session) onCursor(c protocol.CursorUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[c.SenderConnectionID] = Cursor{X: c.X, Y: c.Y, Action: c.Action}
}

func cursorAction(m board.Mode) string {
	switch m {
	case board.ModeDrawing, board.ModeErasing:
		return m.String()
	default:
		return "move"
	}
}
