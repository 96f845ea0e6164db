package ws

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/manpreetbhatti/waveboard/internal/auth"
	"github.com/manpreetbhatti/waveboard/internal/element"
	"github.com/manpreetbhatti/waveboard/internal/protocol"
	"github.com/manpreetbhatti/waveboard/internal/room"
)

// Options bound each connection served by the hub.
type Options struct {
	MaxMessageBytes   int64
	MessagesPerSecond float64
	MessageBurst      int
	SendBuffer        int
}

func DefaultOptions() Options {
	return Options{
		MaxMessageBytes:   10 * 1024 * 1024,
		MessagesPerSecond: 100,
		MessageBurst:      200,
		SendBuffer:        256,
	}
}

// Hub serializes every room event through a single goroutine, so each
// member of a room receives broadcasts in the order the hub received them.
type Hub struct {
	registry *room.Registry
	verifier auth.Verifier
	opts     Options
	log      zerolog.Logger

	// Connected clients by connection id. Owned by Run.
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	inbound    chan *Message

	done        chan struct{}
	connections atomic.Int64
}

// Message is a validated client event waiting for the hub.
type Message struct {
	Client *Client
	Type   protocol.MessageType
	RoomID string

	Identity  auth.Identity
	Kind      string
	Elements  []element.Element
	Raw       json.RawMessage
	Cursor    protocol.CursorUpdate
	Timestamp int64
	Err       string
}

func NewHub(registry *room.Registry, verifier auth.Verifier, opts Options, log zerolog.Logger) *Hub {
	return &Hub{
		registry:   registry,
		verifier:   verifier,
		opts:       opts,
		log:        log,
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan *Message, 256),
		done:       make(chan struct{}),
	}
}

// Registry exposes the room state for monitoring.
func (h *Hub) Registry() *room.Registry { return h.registry }

func (h *Hub) GetRoomCount() int { return h.registry.RoomCount() }

// GetClientCount counts open connections, including ones not in a room yet.
func (h *Hub) GetClientCount() int { return int(h.connections.Load()) }

// Stop ends Run and disconnects every client.
func (h *Hub) Stop() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			for _, c := range h.clients {
				h.drop(c)
			}
			return

		case client := <-h.register:
			h.clients[client.id] = client
			h.connections.Add(1)
			h.log.Debug().Str("conn", client.id).Msg("client connected")

		case client := <-h.unregister:
			if _, ok := h.clients[client.id]; ok {
				h.leave(client)
				h.drop(client)
			}

		case m := <-h.inbound:
			if _, ok := h.clients[m.Client.id]; !ok {
				continue
			}
			h.handle(m)
		}
	}
}

func (h *Hub) handle(m *Message) {
	switch m.Type {
	case protocol.TypeJoin:
		h.join(m)
	case protocol.TypeLeave:
		if m.Client.roomID == m.RoomID {
			h.leave(m.Client)
		}
	case protocol.TypeDocumentUpdate:
		h.broadcastUpdate(m)
	case protocol.TypeCursorUpdate:
		h.broadcastCursor(m)
	case protocol.TypePing:
		h.sendTo(m.Client, protocol.TypePong, "", protocol.Pong{Timestamp: time.Now().UnixMilli()})
	case protocol.TypeError:
		h.sendTo(m.Client, protocol.TypeError, m.RoomID, protocol.Error{Message: m.Err})
	}
}

func (h *Hub) join(m *Message) {
	c := m.Client
	if c.roomID != "" && c.roomID != m.RoomID {
		h.leave(c)
	}

	member := protocol.Member{
		ConnectionID: c.id,
		UserID:       m.Identity.ID,
		DisplayName:  m.Identity.DisplayName,
		Email:        m.Identity.Email,
	}
	if member.DisplayName == "" {
		member.DisplayName = "User-" + c.id[max(len(c.id)-6, 0):]
	}

	member, members, snap := h.registry.Join(m.RoomID, member)
	c.roomID = m.RoomID

	h.log.Info().Str("room", m.RoomID).Str("conn", c.id).Str("user", member.DisplayName).
		Int("total", len(members)).Msg("Client joined room")

	h.sendTo(c, protocol.TypeJoined, m.RoomID, protocol.Joined{
		ConnectionID: c.id,
		Member:       member,
		Members:      members,
	})
	h.fanOut(m.RoomID, memberIDs(members), protocol.TypeMemberListChanged, protocol.MemberList{Members: members}, false)

	if snap != nil {
		raw, err := element.EncodeSnapshot(snap)
		if err != nil {
			h.log.Error().Err(err).Str("room", m.RoomID).Msg("encode cached snapshot")
			return
		}
		h.sendTo(c, protocol.TypeDocumentUpdate, m.RoomID, protocol.DocumentUpdate{
			Kind:      "snapshot",
			Elements:  raw,
			Timestamp: time.Now().UnixMilli(),
		})
	}
}

func (h *Hub) leave(c *Client) {
	roomID := c.roomID
	if roomID == "" {
		return
	}
	c.roomID = ""

	remaining, removed := h.registry.Leave(roomID, c.id)
	if !removed {
		return
	}
	if len(remaining) == 0 {
		h.log.Info().Str("room", roomID).Msg("Room closed (empty)")
		return
	}
	h.log.Info().Str("room", roomID).Str("conn", c.id).Int("remaining", len(remaining)).Msg("Client left room")
	h.fanOut(roomID, memberIDs(remaining), protocol.TypeMemberListChanged, protocol.MemberList{Members: remaining}, false)
}

func (h *Hub) broadcastUpdate(m *Message) {
	c := m.Client
	if c.roomID != m.RoomID {
		h.sendTo(c, protocol.TypeError, m.RoomID, protocol.Error{Message: "Not a member of this room"})
		return
	}

	recipients, ok := h.registry.RecordUpdate(m.RoomID, c.id, m.Elements)
	if !ok {
		return
	}
	h.log.Debug().Str("room", m.RoomID).Str("kind", m.Kind).Int("elements", len(m.Elements)).
		Int("recipients", len(recipients)).Msg("canvas update")

	h.fanOut(m.RoomID, recipients, protocol.TypeDocumentUpdate, protocol.DocumentUpdate{
		Kind:               m.Kind,
		Elements:           m.Raw,
		SenderConnectionID: c.id,
		Timestamp:          m.Timestamp,
	}, false)
}

func (h *Hub) broadcastCursor(m *Message) {
	c := m.Client
	if c.roomID != m.RoomID {
		return
	}
	recipients, ok := h.registry.Recipients(m.RoomID, c.id)
	if !ok {
		return
	}
	h.fanOut(m.RoomID, recipients, protocol.TypeCursorUpdate, protocol.CursorUpdate{
		X:                  math.Round(m.Cursor.X),
		Y:                  math.Round(m.Cursor.Y),
		Action:             m.Cursor.Action,
		SenderConnectionID: c.id,
		Timestamp:          m.Timestamp,
	}, true)
}

// fanOut encodes once and queues the frame on every recipient. Recipients
// whose buffer is full are disconnected, unless the frame is droppable, in
// which case only the frame is lost.
func (h *Hub) fanOut(roomID string, recipients []string, t protocol.MessageType, payload any, droppable bool) {
	if len(recipients) == 0 {
		return
	}
	data, err := protocol.Encode(t, roomID, payload)
	if err != nil {
		h.log.Error().Err(err).Str("type", string(t)).Msg("encode broadcast")
		return
	}

	var slow []*Client
	for _, id := range recipients {
		c, ok := h.clients[id]
		if !ok {
			continue
		}
		select {
		case c.send <- data:
		default:
			if !droppable {
				slow = append(slow, c)
			}
		}
	}
	for _, c := range slow {
		h.log.Warn().Str("conn", c.id).Str("room", roomID).Msg("⚠️ Send buffer full, disconnecting client")
		h.evict(c)
	}
}

func (h *Hub) sendTo(c *Client, t protocol.MessageType, roomID string, payload any) {
	data, err := protocol.Encode(t, roomID, payload)
	if err != nil {
		h.log.Error().Err(err).Str("type", string(t)).Msg("encode message")
		return
	}
	select {
	case c.send <- data:
	default:
		h.evict(c)
	}
}

func (h *Hub) evict(c *Client) {
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	h.drop(c)
	h.leave(c)
}

func (h *Hub) drop(c *Client) {
	delete(h.clients, c.id)
	close(c.send)
	h.connections.Add(-1)
}

// submit hands a client event to Run. It gives up once the hub has stopped.
func (h *Hub) submit(m *Message) bool {
	select {
	case h.inbound <- m:
		return true
	case <-h.done:
		return false
	}
}

func memberIDs(members []protocol.Member) []string {
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ConnectionID
	}
	return ids
}
