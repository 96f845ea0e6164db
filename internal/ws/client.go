package ws

import (
	"context"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/manpreetbhatti/waveboard/internal/element"
	"github.com/manpreetbhatti/waveboard/internal/protocol"
	"github.com/manpreetbhatti/waveboard/internal/ratelimit"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	verifyWait   = 5 * time.Second
	maxViolation = 1000
)

// Client is one websocket connection. roomID is only touched by the hub
// goroutine.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	id          string
	roomID      string
	rateLimiter *ratelimit.Limiter
}

// ServeWs upgrades the request and starts the connection's pumps. The client
// is not in any room until it sends a join.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("Upgrade error")
		return
	}

	client := &Client{
		hub:         h,
		conn:        conn,
		send:        make(chan []byte, h.opts.SendBuffer),
		id:          uuid.NewString(),
		rateLimiter: ratelimit.NewLimiter(h.opts.MessagesPerSecond, h.opts.MessageBurst),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.opts.MaxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	log := c.hub.log.With().Str("conn", c.id).Logger()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if ok, violations := c.rateLimiter.Allow(); !ok {
			if violations%100 == 1 {
				log.Warn().Int("warning", violations).Msg("⚠️ Rate limit exceeded")
			}
			if violations > maxViolation {
				log.Warn().Msg("🚫 Disconnecting client for excessive rate limit violations")
				return
			}
			continue
		}

		m, err := c.parse(data)
		if err != nil {
			log.Debug().Err(err).Msg("⚠️ Invalid message")
			m = &Message{Client: c, Type: protocol.TypeError, RoomID: m.RoomID, Err: errorText(err)}
		}
		if !c.hub.submit(m) {
			return
		}
	}
}

var (
	errNoRoom    = errors.New("a room id is required")
	errGuestRoom = errors.New("the guest room is local only")
	errAuth      = errors.New("authentication failed")
	errElements  = errors.New("invalid canvas elements")
	errCursor    = errors.New("invalid cursor position")
	errUnknown   = errors.New("unknown message type")
)

func errorText(err error) string {
	for _, known := range []error{errNoRoom, errGuestRoom, errAuth, errElements, errCursor, errUnknown} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "malformed message"
}

// parse validates one frame and turns it into a hub event. Credential checks
// and element decoding happen here, off the hub goroutine. The returned
// Message is never nil.
func (c *Client) parse(data []byte) (*Message, error) {
	m := &Message{Client: c, Timestamp: time.Now().UnixMilli()}

	env, err := protocol.Decode(data)
	if err != nil {
		return m, err
	}
	m.Type = env.Type
	m.RoomID = env.RoomID

	if env.Type.RoomScoped() {
		if env.RoomID == "" {
			return m, errNoRoom
		}
		if env.RoomID == protocol.GuestRoomID {
			return m, errGuestRoom
		}
	}

	switch env.Type {
	case protocol.TypeJoin:
		join, err := protocol.DecodePayload[protocol.Join](env)
		if err != nil {
			return m, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), verifyWait)
		defer cancel()
		id, err := c.hub.verifier.Verify(ctx, join.Credential)
		if err != nil {
			return m, errors.Join(errAuth, err)
		}
		m.Identity = id

	case protocol.TypeLeave, protocol.TypePing:

	case protocol.TypeDocumentUpdate:
		upd, err := protocol.DecodePayload[protocol.DocumentUpdate](env)
		if err != nil {
			return m, err
		}
		elems, err := element.DecodeSnapshot(upd.Elements)
		if err != nil {
			return m, errors.Join(errElements, err)
		}
		raw, err := element.EncodeSnapshot(elems)
		if err != nil {
			return m, errors.Join(errElements, err)
		}
		m.Kind = upd.Kind
		m.Elements = elems
		m.Raw = raw

	case protocol.TypeCursorUpdate:
		cur, err := protocol.DecodePayload[protocol.CursorUpdate](env)
		if err != nil {
			return m, err
		}
		if !finite(cur.X) || !finite(cur.Y) {
			return m, errCursor
		}
		m.Cursor = cur

	default:
		return m, errUnknown
	}
	return m, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
