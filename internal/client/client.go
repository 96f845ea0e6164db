// Package client is the relay connection used by a board session. It joins
// one room, emits document and cursor updates, and reconnects with backoff
// when the link drops.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/manpreetbhatti/waveboard/internal/board"
	"github.com/manpreetbhatti/waveboard/internal/element"
	"github.com/manpreetbhatti/waveboard/internal/protocol"
	"github.com/manpreetbhatti/waveboard/internal/ratelimit"
)

var (
	// ErrGuestRoom is returned for the local-only room, which never connects.
	ErrGuestRoom = errors.New("guest room has no relay")
	ErrNoRoom    = errors.New("room id is required")
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 50 * time.Second
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "InvalidState"
	}
}

func (s State) validateTransitionTo(next State) error {
	switch s {
	case StateDisconnected:
		switch next {
		case StateConnecting, StateClosing:
			return nil
		}
	case StateConnecting:
		switch next {
		case StateConnected, StateDisconnected, StateClosing:
			return nil
		}
	case StateConnected:
		switch next {
		case StateConnecting, StateDisconnected, StateClosing:
			return nil
		}
	case StateClosing:
		if next == StateClosed {
			return nil
		}
	}
	return fmt.Errorf("invalid state transition from %v to %v", s, next)
}

type Options struct {
	URL        string
	RoomID     string
	Credential string

	// CursorInterval and EraseInterval drop emissions that follow the
	// previous accepted one too closely.
	CursorInterval time.Duration
	EraseInterval  time.Duration
	SendBuffer     int

	Retryer Retryer
	Dialer  *websocket.Dialer
	Logger  zerolog.Logger
}

func (o *Options) setDefaults() {
	if o.CursorInterval == 0 {
		o.CursorInterval = 100 * time.Millisecond
	}
	if o.EraseInterval == 0 {
		o.EraseInterval = 50 * time.Millisecond
	}
	if o.SendBuffer == 0 {
		o.SendBuffer = 64
	}
	if o.Retryer == nil {
		o.Retryer = NewExponentialBackoffRetryer()
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
}

// Handlers receive relay events on the client's read goroutine.
type Handlers struct {
	OnJoined   func(protocol.Joined)
	OnMembers  func([]protocol.Member)
	OnDocument func(protocol.DocumentUpdate)
	OnCursor   func(protocol.CursorUpdate)
	OnError    func(message string)
	OnState    func(State)
}

// link is one websocket connection. A reconnect replaces it.
type link struct {
	conn *websocket.Conn
	out  chan []byte
	done chan struct{}
}

type Client struct {
	opts     Options
	handlers Handlers
	log      zerolog.Logger

	stateMu sync.Mutex
	state   State

	mu           sync.Mutex
	current      *link
	connectionID string

	cursorGate *ratelimit.Throttle
	eraseGate  *ratelimit.Throttle

	closeCh  chan struct{}
	loopDone chan struct{}
}

func New(opts Options, handlers Handlers) (*Client, error) {
	switch opts.RoomID {
	case "":
		return nil, ErrNoRoom
	case protocol.GuestRoomID:
		return nil, ErrGuestRoom
	}
	opts.setDefaults()

	return &Client{
		opts:       opts,
		handlers:   handlers,
		log:        opts.Logger.With().Str("room", opts.RoomID).Logger(),
		state:      StateDisconnected,
		cursorGate: ratelimit.NewThrottle(opts.CursorInterval),
		eraseGate:  ratelimit.NewThrottle(opts.EraseInterval),
		closeCh:    make(chan struct{}),
	}, nil
}

func (c *Client) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *Client) Connected() bool { return c.State() == StateConnected }

// ConnectionID is the id the relay assigned on the last join.
func (c *Client) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionID
}

func (c *Client) transitionTo(next State) error {
	c.stateMu.Lock()
	if err := c.state.validateTransitionTo(next); err != nil {
		c.stateMu.Unlock()
		return err
	}
	c.state = next
	c.stateMu.Unlock()

	c.log.Debug().Stringer("state", next).Msg("relay client state transitioned")
	if c.handlers.OnState != nil {
		c.handlers.OnState(next)
	}
	return nil
}

// Connect dials the relay and joins the room. A failed first dial is
// returned to the caller; later drops are retried in the background.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transitionTo(StateConnecting); err != nil {
		return err
	}

	l, err := c.dial(ctx)
	if err != nil {
		if stateErr := c.transitionTo(StateDisconnected); stateErr != nil {
			c.log.Error().Err(stateErr).Msg("BUG: failed to transition to disconnected state")
		}
		return err
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.loopDone = done
	c.mu.Unlock()

	c.attach(l)
	if err := c.transitionTo(StateConnected); err != nil {
		c.detach(l)
		close(done)
		return err
	}
	go c.run(l, done)
	return nil
}

// dial opens a socket and sends the join before anything else.
func (c *Client) dial(ctx context.Context) (*link, error) {
	conn, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	join, err := protocol.Encode(protocol.TypeJoin, c.opts.RoomID, protocol.Join{Credential: c.opts.Credential})
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, join); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send join: %w", err)
	}

	return &link{
		conn: conn,
		out:  make(chan []byte, c.opts.SendBuffer),
		done: make(chan struct{}),
	}, nil
}

func (c *Client) attach(l *link) {
	c.mu.Lock()
	c.current = l
	c.mu.Unlock()
}

func (c *Client) detach(l *link) {
	c.mu.Lock()
	if c.current == l {
		c.current = nil
	}
	c.mu.Unlock()
	close(l.done)
	l.conn.Close()
}

// run serves links until the client is closed or retries run out.
func (c *Client) run(l *link, done chan struct{}) {
	defer close(done)

	for {
		go c.writeLoop(l)
		err := c.readLoop(l)
		c.detach(l)

		select {
		case <-c.closeCh:
			return
		default:
		}

		c.log.Warn().Err(err).Msg("relay connection lost")
		if stateErr := c.transitionTo(StateConnecting); stateErr != nil {
			return
		}

		l = c.reconnect(err)
		if l == nil {
			select {
			case <-c.closeCh:
				return
			default:
			}
			if stateErr := c.transitionTo(StateDisconnected); stateErr != nil {
				c.log.Error().Err(stateErr).Msg("BUG: failed to transition to disconnected state")
			}
			return
		}
		c.attach(l)
		if err := c.transitionTo(StateConnected); err != nil {
			c.detach(l)
			return
		}
	}
}

func (c *Client) reconnect(lastErr error) *link {
	for attempt := 0; ; attempt++ {
		delay, ok := c.opts.Retryer.NextDelay(attempt, lastErr)
		if !ok {
			c.log.Warn().Int("attempts", attempt).Msg("giving up on relay")
			return nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-c.closeCh:
			timer.Stop()
			return nil
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		l, err := c.dial(ctx)
		cancel()
		if err == nil {
			c.opts.Retryer.Reset()
			c.log.Info().Int("attempt", attempt+1).Msg("reconnected to relay")
			return l
		}
		lastErr = err
		c.log.Debug().Err(err).Int("attempt", attempt+1).Msg("reconnect failed")
	}
}

func (c *Client) readLoop(l *link) error {
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			return err
		}
		env, err := protocol.Decode(data)
		if err != nil {
			c.log.Debug().Err(err).Msg("ignoring malformed frame")
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeJoined:
		joined, err := protocol.DecodePayload[protocol.Joined](env)
		if err != nil {
			return
		}
		c.mu.Lock()
		c.connectionID = joined.ConnectionID
		c.mu.Unlock()
		if c.handlers.OnJoined != nil {
			c.handlers.OnJoined(joined)
		}

	case protocol.TypeMemberListChanged:
		list, err := protocol.DecodePayload[protocol.MemberList](env)
		if err == nil && c.handlers.OnMembers != nil {
			c.handlers.OnMembers(list.Members)
		}

	case protocol.TypeDocumentUpdate:
		upd, err := protocol.DecodePayload[protocol.DocumentUpdate](env)
		if err != nil {
			return
		}
		if upd.SenderConnectionID != "" && upd.SenderConnectionID == c.ConnectionID() {
			return
		}
		if c.handlers.OnDocument != nil {
			c.handlers.OnDocument(upd)
		}

	case protocol.TypeCursorUpdate:
		cur, err := protocol.DecodePayload[protocol.CursorUpdate](env)
		if err == nil && c.handlers.OnCursor != nil {
			c.handlers.OnCursor(cur)
		}

	case protocol.TypeError:
		e, err := protocol.DecodePayload[protocol.Error](env)
		if err == nil {
			c.log.Warn().Str("message", e.Message).Msg("relay error")
			if c.handlers.OnError != nil {
				c.handlers.OnError(e.Message)
			}
		}
	}
}

func (c *Client) writeLoop(l *link) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case data := <-l.out:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				l.conn.Close()
				return
			}
		case <-ticker.C:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				l.conn.Close()
				return
			}
		}
	}
}

// enqueue never blocks. Frames are dropped while disconnected or when the
// outbound buffer is full.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	l := c.current
	c.mu.Unlock()
	if l == nil {
		return false
	}
	select {
	case l.out <- data:
		return true
	default:
		return false
	}
}

// SendDocument relays a full snapshot. Erasing updates are throttled.
func (c *Client) SendDocument(kind board.UpdateKind, elems []element.Element) error {
	raw, err := element.EncodeSnapshot(elems)
	if err != nil {
		return err
	}
	frame, err := protocol.Encode(protocol.TypeDocumentUpdate, c.opts.RoomID, protocol.DocumentUpdate{
		Kind:      string(kind),
		Elements:  raw,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}

	if kind == board.UpdateErasing {
		c.eraseGate.Do(func() { c.enqueue(frame) })
		return nil
	}
	c.enqueue(frame)
	return nil
}

// SendCursor relays the local pointer position in document coordinates.
func (c *Client) SendCursor(x, y float64, action string) {
	c.cursorGate.Do(func() {
		frame, err := protocol.Encode(protocol.TypeCursorUpdate, c.opts.RoomID, protocol.CursorUpdate{
			X:         x,
			Y:         y,
			Action:    action,
			Timestamp: time.Now().UnixMilli(),
		})
		if err != nil {
			return
		}
		c.enqueue(frame)
	})
}

// Close drops the connection, which the relay treats as leaving the room,
// and stops reconnecting.
func (c *Client) Close() error {
	if err := c.transitionTo(StateClosing); err != nil {
		return fmt.Errorf("relay client already closing or closed: %w", err)
	}
	defer func() {
		if err := c.transitionTo(StateClosed); err != nil {
			c.log.Error().Err(err).Msg("BUG: failed to transition to closed state")
		}
	}()

	close(c.closeCh)

	c.mu.Lock()
	l := c.current
	done := c.loopDone
	c.mu.Unlock()
	if l != nil {
		l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		l.conn.Close()
	}

	if done != nil {
		<-done
	}
	return nil
}
