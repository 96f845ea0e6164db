// Package protocol defines the relay wire format. Every frame is a JSON text
// message wrapping a typed payload.
package protocol

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// MessageType is the event name carried by every envelope.
type MessageType string

const (
	// Client to server
	TypeJoin  MessageType = "join"
	TypeLeave MessageType = "leave"
	TypePing  MessageType = "ping"

	// Both directions
	TypeDocumentUpdate MessageType = "documentUpdate"
	TypeCursorUpdate   MessageType = "cursorUpdate"

	// Server to client
	TypeJoined            MessageType = "joined"
	TypeMemberListChanged MessageType = "memberListChanged"
	TypeError             MessageType = "error"
	TypePong              MessageType = "pong"
)

// GuestRoomID is the local-only room. It never reaches the relay.
const GuestRoomID = "guest"

var ErrMalformed = errors.New("malformed message")

type Envelope struct {
	Type    MessageType     `json:"type"`
	RoomID  string          `json:"roomId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Join struct {
	Credential string `json:"credential"`
}

// Member is one connection present in a room.
type Member struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId,omitempty"`
	DisplayName  string `json:"displayName"`
	Email        string `json:"email,omitempty"`
	Color        string `json:"color"`
}

// Joined acknowledges a join to the joiner only.
type Joined struct {
	ConnectionID string   `json:"connectionId"`
	Member       Member   `json:"member"`
	Members      []Member `json:"members"`
}

type MemberList struct {
	Members []Member `json:"members"`
}

// DocumentUpdate carries a full document snapshot. Elements stays raw so the
// relay can forward it after validation without knowing every field.
type DocumentUpdate struct {
	Kind               string          `json:"kind,omitempty"`
	Elements           json.RawMessage `json:"elements"`
	SenderConnectionID string          `json:"senderConnectionId,omitempty"`
	Timestamp          int64           `json:"timestamp"`
}

type CursorUpdate struct {
	X                  float64 `json:"x"`
	Y                  float64 `json:"y"`
	Action             string  `json:"action,omitempty"`
	SenderConnectionID string  `json:"senderConnectionId,omitempty"`
	Timestamp          int64   `json:"timestamp,omitempty"`
}

type Error struct {
	Message string `json:"message"`
}

type Pong struct {
	Timestamp int64 `json:"timestamp"`
}

// Encode wraps payload in an envelope. A nil payload is omitted.
func Encode(t MessageType, roomID string, payload any) ([]byte, error) {
	env := Envelope{Type: t, RoomID: roomID}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", t, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// Decode parses an envelope without touching its payload.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if len(data) == 0 {
		return env, fmt.Errorf("%w: empty message", ErrMalformed)
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return env, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return env, nil
}

// DecodePayload unmarshals the envelope payload into T.
func DecodePayload[T any](env Envelope) (T, error) {
	var v T
	if len(env.Payload) == 0 {
		return v, fmt.Errorf("%w: %s has no payload", ErrMalformed, env.Type)
	}
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		return v, fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.Type, err)
	}
	return v, nil
}

// RoomScoped reports whether a client message must name a room.
func (t MessageType) RoomScoped() bool {
	switch t {
	case TypeJoin, TypeLeave, TypeDocumentUpdate, TypeCursorUpdate:
		return true
	}
	return false
}
