// Package room tracks who is in which collaborative session and the last
// full document each session has seen.
package room

import (
	"sort"
	"sync"
	"time"

	"github.com/manpreetbhatti/waveboard/internal/element"
	"github.com/manpreetbhatti/waveboard/internal/protocol"
)

var palette = []string{
	"#e03131", "#1971c2", "#2f9e44", "#f08c00",
	"#9c36b5", "#0c8599", "#e8590c", "#5c940d",
}

// Room is one collaborative session.
type Room struct {
	ID           string
	members      []protocol.Member
	snapshot     []element.Element
	lastActivity time.Time
	joins        int
}

func (r *Room) indexOf(connID string) int {
	for i, m := range r.members {
		if m.ConnectionID == connID {
			return i
		}
	}
	return -1
}

func (r *Room) others(connID string) []string {
	out := make([]string, 0, len(r.members))
	for _, m := range r.members {
		if m.ConnectionID != connID {
			out = append(out, m.ConnectionID)
		}
	}
	return out
}

func (r *Room) memberList() []protocol.Member {
	out := make([]protocol.Member, len(r.members))
	copy(out, r.members)
	return out
}

// Status is a read-only view of a room for monitoring.
type Status struct {
	RoomID       string            `json:"roomId"`
	UserCount    int               `json:"userCount"`
	LastActivity time.Time         `json:"lastActivity"`
	HasSnapshot  bool              `json:"hasCanvasData"`
	Users        []protocol.Member `json:"users"`
}

// Registry owns every room. All room state changes happen under one lock so
// membership and the cached snapshot move together.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room
	now   func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
		now:   time.Now,
	}
}

// Join adds m to the room, creating it if needed, and returns the member
// list in join order plus the cached snapshot, if any. Joining twice with
// the same connection id keeps the original entry.
func (reg *Registry) Join(roomID string, m protocol.Member) (protocol.Member, []protocol.Member, []element.Element) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		r = &Room{ID: roomID}
		reg.rooms[roomID] = r
	}
	r.lastActivity = reg.now()

	if i := r.indexOf(m.ConnectionID); i >= 0 {
		m = r.members[i]
	} else {
		if m.Color == "" {
			m.Color = palette[r.joins%len(palette)]
		}
		r.joins++
		r.members = append(r.members, m)
	}

	var snap []element.Element
	if r.snapshot != nil {
		snap = element.CloneAll(r.snapshot)
	}
	return m, r.memberList(), snap
}

// Leave removes a connection. Empty rooms are deleted immediately. removed is
// false when the room or the member did not exist.
func (reg *Registry) Leave(roomID, connID string) (remaining []protocol.Member, removed bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return nil, false
	}
	i := r.indexOf(connID)
	if i < 0 {
		return nil, false
	}
	r.members = append(r.members[:i], r.members[i+1:]...)
	if len(r.members) == 0 {
		delete(reg.rooms, roomID)
		return nil, true
	}
	r.lastActivity = reg.now()
	return r.memberList(), true
}

// RecordUpdate notes a document update from connID and returns the
// connections it must be relayed to. Only non-empty documents replace the
// cached snapshot. ok is false when the room is gone or the sender is not a
// member.
func (reg *Registry) RecordUpdate(roomID, connID string, elems []element.Element) (recipients []string, ok bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, found := reg.rooms[roomID]
	if !found || r.indexOf(connID) < 0 {
		return nil, false
	}
	r.lastActivity = reg.now()
	if len(elems) > 0 {
		r.snapshot = element.CloneAll(elems)
	}
	return r.others(connID), true
}

// Recipients returns every member except connID, for ephemeral relays that
// are never cached.
func (reg *Registry) Recipients(roomID, connID string) ([]string, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, found := reg.rooms[roomID]
	if !found || r.indexOf(connID) < 0 {
		return nil, false
	}
	r.lastActivity = reg.now()
	return r.others(connID), true
}

func (reg *Registry) Members(roomID string) []protocol.Member {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if r, ok := reg.rooms[roomID]; ok {
		return r.memberList()
	}
	return nil
}

func (reg *Registry) Snapshot(roomID string) ([]element.Element, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomID]
	if !ok || r.snapshot == nil {
		return nil, false
	}
	return element.CloneAll(r.snapshot), true
}

// EvictIdleSnapshots drops the cached snapshot of rooms with no activity for
// longer than ttl. Membership is untouched.
func (reg *Registry) EvictIdleSnapshots(ttl time.Duration) int {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	cutoff := reg.now().Add(-ttl)
	evicted := 0
	for _, r := range reg.rooms {
		if r.snapshot != nil && r.lastActivity.Before(cutoff) {
			r.snapshot = nil
			evicted++
		}
	}
	return evicted
}

func (reg *Registry) RoomCount() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}

func (reg *Registry) MemberCount() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	n := 0
	for _, r := range reg.rooms {
		n += len(r.members)
	}
	return n
}

// Statuses lists every room, sorted by id.
func (reg *Registry) Statuses() []Status {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	out := make([]Status, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		out = append(out, Status{
			RoomID:       r.ID,
			UserCount:    len(r.members),
			LastActivity: r.lastActivity,
			HasSnapshot:  r.snapshot != nil,
			Users:        r.memberList(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}
