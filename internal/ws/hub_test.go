package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manpreetbhatti/waveboard/internal/auth"
	"github.com/manpreetbhatti/waveboard/internal/element"
	"github.com/manpreetbhatti/waveboard/internal/protocol"
	"github.com/manpreetbhatti/waveboard/internal/room"
)

// tokenVerifier accepts "token-<name>" and rejects anything else.
type tokenVerifier struct{}

func (tokenVerifier) Verify(_ context.Context, credential string) (auth.Identity, error) {
	name, ok := strings.CutPrefix(credential, "token-")
	if !ok {
		return auth.Identity{}, auth.ErrInvalidCredential
	}
	return auth.Identity{ID: "u-" + name, DisplayName: name, Email: name + "@example.com"}, nil
}

func newTestHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(room.NewRegistry(), tokenVerifier{}, DefaultOptions(), zerolog.Nop())
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	t.Cleanup(func() {
		srv.Close()
		hub.Stop()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

type testConn struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, url string) *testConn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testConn{t: t, conn: conn}
}

func (c *testConn) send(mt protocol.MessageType, roomID string, payload any) {
	c.t.Helper()
	data, err := protocol.Encode(mt, roomID, payload)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, data))
}

func (c *testConn) sendRaw(data string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, []byte(data)))
}

// next reads frames until one of type mt arrives.
func (c *testConn) next(mt protocol.MessageType) protocol.Envelope {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := c.conn.ReadMessage()
		require.NoError(c.t, err, "waiting for %s", mt)
		env, err := protocol.Decode(data)
		require.NoError(c.t, err)
		if env.Type == mt {
			return env
		}
	}
}

// quiet asserts no frame of type mt arrives within d.
func (c *testConn) quiet(mt protocol.MessageType, d time.Duration) {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(d))
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := protocol.Decode(data)
		require.NoError(c.t, err)
		assert.NotEqual(c.t, mt, env.Type, "unexpected %s", mt)
	}
}

func (c *testConn) join(roomID, name string) protocol.Joined {
	c.t.Helper()
	c.send(protocol.TypeJoin, roomID, protocol.Join{Credential: "token-" + name})
	joined, err := protocol.DecodePayload[protocol.Joined](c.next(protocol.TypeJoined))
	require.NoError(c.t, err)
	return joined
}

const rect = `[{"id":0,"type":"rectangle","x1":10,"y1":10,"x2":50,"y2":40,"stroke":"#000","size":2}]`

func TestJoinBroadcastsMemberList(t *testing.T) {
	_, url := newTestHub(t)

	alice := dial(t, url)
	a := alice.join("r1", "alice")
	assert.Len(t, a.Members, 1)
	assert.Equal(t, "alice", a.Member.DisplayName)
	assert.NotEmpty(t, a.Member.Color)

	bob := dial(t, url)
	b := bob.join("r1", "bob")
	assert.Len(t, b.Members, 2)
	assert.NotEqual(t, a.Member.Color, b.Member.Color)

	list, err := protocol.DecodePayload[protocol.MemberList](alice.next(protocol.TypeMemberListChanged))
	require.NoError(t, err)
	require.Len(t, list.Members, 2)
	assert.Equal(t, a.ConnectionID, list.Members[0].ConnectionID)
	assert.Equal(t, b.ConnectionID, list.Members[1].ConnectionID)
}

func TestDocumentUpdateRelayedToOthers(t *testing.T) {
	_, url := newTestHub(t)

	alice := dial(t, url)
	a := alice.join("r1", "alice")
	bob := dial(t, url)
	bob.join("r1", "bob")

	alice.send(protocol.TypeDocumentUpdate, "r1", protocol.DocumentUpdate{
		Kind:     "drawComplete",
		Elements: json.RawMessage(rect),
	})

	upd, err := protocol.DecodePayload[protocol.DocumentUpdate](bob.next(protocol.TypeDocumentUpdate))
	require.NoError(t, err)
	assert.Equal(t, a.ConnectionID, upd.SenderConnectionID)
	assert.Equal(t, "drawComplete", upd.Kind)

	elems, err := element.DecodeSnapshot(upd.Elements)
	require.NoError(t, err)
	require.Len(t, elems, 1)
	assert.Equal(t, element.TypeRectangle, elems[0].Type)

	alice.quiet(protocol.TypeDocumentUpdate, 200*time.Millisecond)
}

func TestLateJoinerReceivesCachedSnapshot(t *testing.T) {
	hub, url := newTestHub(t)

	alice := dial(t, url)
	alice.join("r1", "alice")
	alice.send(protocol.TypeDocumentUpdate, "r1", protocol.DocumentUpdate{Elements: json.RawMessage(rect)})

	require.Eventually(t, func() bool {
		_, ok := hub.Registry().Snapshot("r1")
		return ok
	}, time.Second, 10*time.Millisecond)

	carol := dial(t, url)
	carol.join("r1", "carol")
	upd, err := protocol.DecodePayload[protocol.DocumentUpdate](carol.next(protocol.TypeDocumentUpdate))
	require.NoError(t, err)
	assert.Empty(t, upd.SenderConnectionID)

	elems, err := element.DecodeSnapshot(upd.Elements)
	require.NoError(t, err)
	assert.Len(t, elems, 1)
}

func TestEmptyUpdateKeepsCachedSnapshot(t *testing.T) {
	hub, url := newTestHub(t)

	alice := dial(t, url)
	alice.join("r1", "alice")
	bob := dial(t, url)
	bob.join("r1", "bob")

	alice.send(protocol.TypeDocumentUpdate, "r1", protocol.DocumentUpdate{Elements: json.RawMessage(rect)})
	bob.next(protocol.TypeDocumentUpdate)
	alice.send(protocol.TypeDocumentUpdate, "r1", protocol.DocumentUpdate{Elements: json.RawMessage(`[]`)})

	upd, err := protocol.DecodePayload[protocol.DocumentUpdate](bob.next(protocol.TypeDocumentUpdate))
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(upd.Elements))

	snap, ok := hub.Registry().Snapshot("r1")
	require.True(t, ok)
	assert.Len(t, snap, 1)
}

func TestInvalidElementsRejected(t *testing.T) {
	_, url := newTestHub(t)

	alice := dial(t, url)
	alice.join("r1", "alice")
	bob := dial(t, url)
	bob.join("r1", "bob")

	alice.send(protocol.TypeDocumentUpdate, "r1", protocol.DocumentUpdate{
		Elements: json.RawMessage(`[{"id":0,"type":"hexagon","x1":0,"y1":0,"x2":1,"y2":1}]`),
	})
	e, err := protocol.DecodePayload[protocol.Error](alice.next(protocol.TypeError))
	require.NoError(t, err)
	assert.Equal(t, "invalid canvas elements", e.Message)

	bob.quiet(protocol.TypeDocumentUpdate, 200*time.Millisecond)
}

func TestCursorRoundedAndRelayed(t *testing.T) {
	_, url := newTestHub(t)

	alice := dial(t, url)
	a := alice.join("r1", "alice")
	bob := dial(t, url)
	bob.join("r1", "bob")

	alice.send(protocol.TypeCursorUpdate, "r1", protocol.CursorUpdate{X: 10.6, Y: -3.2, Action: "drawing"})

	cur, err := protocol.DecodePayload[protocol.CursorUpdate](bob.next(protocol.TypeCursorUpdate))
	require.NoError(t, err)
	assert.Equal(t, 11.0, cur.X)
	assert.Equal(t, -3.0, cur.Y)
	assert.Equal(t, a.ConnectionID, cur.SenderConnectionID)
}

func TestGuestRoomAndBadCredentialRejected(t *testing.T) {
	hub, url := newTestHub(t)

	c := dial(t, url)
	c.send(protocol.TypeJoin, protocol.GuestRoomID, protocol.Join{Credential: "token-x"})
	e, err := protocol.DecodePayload[protocol.Error](c.next(protocol.TypeError))
	require.NoError(t, err)
	assert.Equal(t, "the guest room is local only", e.Message)

	c.send(protocol.TypeJoin, "r1", protocol.Join{Credential: "forged"})
	e, err = protocol.DecodePayload[protocol.Error](c.next(protocol.TypeError))
	require.NoError(t, err)
	assert.Equal(t, "authentication failed", e.Message)

	c.sendRaw(`{not json`)
	e, err = protocol.DecodePayload[protocol.Error](c.next(protocol.TypeError))
	require.NoError(t, err)
	assert.Equal(t, "malformed message", e.Message)

	assert.Equal(t, 0, hub.GetRoomCount())
}

func TestUpdateFromNonMemberRejected(t *testing.T) {
	_, url := newTestHub(t)

	c := dial(t, url)
	c.send(protocol.TypeDocumentUpdate, "r1", protocol.DocumentUpdate{Elements: json.RawMessage(rect)})
	e, err := protocol.DecodePayload[protocol.Error](c.next(protocol.TypeError))
	require.NoError(t, err)
	assert.Contains(t, e.Message, "Not a member")
}

func TestLeaveAndDisconnect(t *testing.T) {
	hub, url := newTestHub(t)

	alice := dial(t, url)
	alice.join("r1", "alice")
	bob := dial(t, url)
	b := bob.join("r1", "bob")
	alice.next(protocol.TypeMemberListChanged)

	bob.send(protocol.TypeLeave, "r1", nil)
	list, err := protocol.DecodePayload[protocol.MemberList](alice.next(protocol.TypeMemberListChanged))
	require.NoError(t, err)
	require.Len(t, list.Members, 1)
	assert.NotEqual(t, b.ConnectionID, list.Members[0].ConnectionID)

	alice.conn.Close()
	require.Eventually(t, func() bool { return hub.GetRoomCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestJoiningAnotherRoomLeavesThePrevious(t *testing.T) {
	hub, url := newTestHub(t)

	alice := dial(t, url)
	alice.join("r1", "alice")
	alice.join("r2", "alice")

	require.Eventually(t, func() bool {
		return len(hub.Registry().Members("r1")) == 0 && len(hub.Registry().Members("r2")) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPingPong(t *testing.T) {
	_, url := newTestHub(t)

	c := dial(t, url)
	c.send(protocol.TypePing, "", nil)
	pong, err := protocol.DecodePayload[protocol.Pong](c.next(protocol.TypePong))
	require.NoError(t, err)
	assert.NotZero(t, pong.Timestamp)
}

func TestStopDisconnectsEveryClient(t *testing.T) {
	hub, url := newTestHub(t)

	alice := dial(t, url)
	alice.join("r1", "alice")
	bob := dial(t, url)
	bob.join("r1", "bob")
	require.Equal(t, 2, hub.GetClientCount())

	hub.Stop()

	require.Eventually(t, func() bool { return hub.GetClientCount() == 0 }, time.Second, 10*time.Millisecond)
	alice.conn.SetReadDeadline(time.Now().Add(time.Second))
	for {
		if _, _, err := alice.conn.ReadMessage(); err != nil {
			break
		}
	}
}
