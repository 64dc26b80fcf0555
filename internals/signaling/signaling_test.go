package signaling

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/mynameaksh/SkillXChange/internals/sfuerr"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestErrorFor(t *testing.T) {
	req := Message{Type: MessageTypeConsume, RequestID: "r-7"}
	msg := ErrorFor(req, sfuerr.New(sfuerr.CodeNotFound, "producer %s not found", "p1"))

	assert.Equal(t, MessageTypeError, msg.Type)
	assert.Equal(t, "r-7", msg.RequestID)

	var body ErrorMessage
	require.NoError(t, json.Unmarshal(msg.Data, &body))
	assert.Equal(t, sfuerr.CodeNotFound, body.Code)
	assert.Equal(t, "producer p1 not found", body.Message)
	assert.True(t, body.Terminal)
	assert.Equal(t, MessageTypeConsume, body.Request)

	msg = ErrorFor(req, sfuerr.New(sfuerr.CodeCodecMismatch, "nope"))
	require.NoError(t, json.Unmarshal(msg.Data, &body))
	assert.False(t, body.Terminal)
}

func TestDecode(t *testing.T) {
	var v struct {
		RoomID string `json:"roomId"`
	}
	require.NoError(t, Decode(Message{Type: MessageTypeJoin}, &v))
	assert.Empty(t, v.RoomID)

	msg, err := NewMessage(MessageTypeJoin, map[string]string{"roomId": "r1"})
	require.NoError(t, err)
	require.NoError(t, Decode(msg, &v))
	assert.Equal(t, "r1", v.RoomID)

	err = Decode(Message{Type: MessageTypeJoin, Data: json.RawMessage(`[1,2]`)}, &v)
	assert.True(t, sfuerr.Is(err, sfuerr.CodeInvalidRequest))
}

func startEcho(t *testing.T, opts ClientOptions) *websocket.Conn {
	t.Helper()
	upgrader := NewUpgrader([]string{"*"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient("u1", conn, opts, zap.NewNop())
		client.OnMessage = func(c *Client, m Message) {
			c.Reply(m, map[string]string{"echo": string(m.Type)})
		}
		go client.WritePump()
		client.ReadPump()
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func errorCode(t *testing.T, msg Message) sfuerr.Code {
	t.Helper()
	require.Equal(t, MessageTypeError, msg.Type)
	var body ErrorMessage
	require.NoError(t, json.Unmarshal(msg.Data, &body))
	return body.Code
}

func TestClientRoundTrip(t *testing.T) {
	conn := startEcho(t, DefaultClientOptions())

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypePing, RequestID: "1"}))
	pong := read(t, conn)
	assert.Equal(t, MessageTypePong, pong.Type)
	assert.Equal(t, "1", pong.RequestID)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeGetCapabilities, RequestID: "2"}))
	reply := read(t, conn)
	assert.Equal(t, MessageTypeGetCapabilities, reply.Type)
	assert.Equal(t, "2", reply.RequestID)
	assert.JSONEq(t, `{"echo":"get-capabilities"}`, string(reply.Data))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json}")))
	assert.Equal(t, sfuerr.CodeInvalidRequest, errorCode(t, read(t, conn)))

	// The connection survives a malformed frame.
	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeJoin, RequestID: "3"}))
	assert.Equal(t, "3", read(t, conn).RequestID)
}

func TestClientRateLimit(t *testing.T) {
	opts := DefaultClientOptions()
	opts.RatePerSec = 0.01
	opts.RateBurst = 1
	conn := startEcho(t, opts)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeJoin, RequestID: "a"}))
	assert.Equal(t, MessageTypeJoin, read(t, conn).Type)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeJoin, RequestID: "b"}))
	limited := read(t, conn)
	assert.Equal(t, "b", limited.RequestID)
	assert.Equal(t, sfuerr.CodeRateLimited, errorCode(t, limited))

	// Pings are answered regardless of the limit.
	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypePing, RequestID: "c"}))
	assert.Equal(t, MessageTypePong, read(t, conn).Type)
}

func TestHub(t *testing.T) {
	hub := NewHub("media", zap.NewNop())
	a := NewClient("alice", nil, DefaultClientOptions(), zap.NewNop())
	b := NewClient("bob", nil, DefaultClientOptions(), zap.NewNop())
	hub.Register(a)
	hub.Register(b)

	assert.Equal(t, 2, hub.Count())
	got, ok := hub.GetClient(a.ID)
	require.True(t, ok)
	assert.Same(t, a, got)
	assert.Len(t, hub.ClientsByUser("bob"), 1)

	assert.True(t, hub.Unregister(a))
	assert.False(t, hub.Unregister(a))
	assert.False(t, a.SendMessage(Message{Type: MessageTypePong}))

	assert.True(t, b.SendMessage(Message{Type: MessageTypePong}))
	hub.CloseAll()
	assert.Zero(t, hub.Count())
	<-b.Send
	_, open := <-b.Send
	assert.False(t, open)
}

func TestUpgraderOrigins(t *testing.T) {
	up := NewUpgrader([]string{"https://app.example.com"})
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, up.CheckOrigin(req))

	req.Header.Set("Origin", "https://APP.example.com")
	assert.True(t, up.CheckOrigin(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, up.CheckOrigin(req))
}

func TestPubSubDeliversAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	newClient := func() *redis.Client {
		c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { c.Close() })
		return c
	}

	type delivery struct {
		user string
		msg  Message
	}
	received := make(chan delivery, 4)

	t.Setenv("INSTANCE_ID", "instance-a")
	a := NewPubSubManager(newClient(), func(userID string, msg Message) {
		received <- delivery{userID, msg}
	}, zap.NewNop())
	t.Cleanup(func() { a.Close() })

	t.Setenv("INSTANCE_ID", "instance-b")
	b := NewPubSubManager(newClient(), func(string, Message) {}, zap.NewNop())
	t.Cleanup(func() { b.Close() })

	assert.Equal(t, "instance-a", a.InstanceID())
	require.NoError(t, a.SubscribeUser(t.Context(), "bob"))
	require.NoError(t, a.SubscribeUser(t.Context(), "bob"))

	// Own messages are skipped.
	_, err := a.PublishToUser("bob", Message{Type: MessageTypeTypingStart})
	require.NoError(t, err)

	msg, err := NewMessage(MessageTypeChatReceive, map[string]string{"content": "hi"})
	require.NoError(t, err)
	receivers, err := b.PublishToUser("bob", msg)
	require.NoError(t, err)
	assert.EqualValues(t, 1, receivers)

	select {
	case d := <-received:
		assert.Equal(t, "bob", d.user)
		assert.Equal(t, MessageTypeChatReceive, d.msg.Type)
		assert.JSONEq(t, `{"content":"hi"}`, string(d.msg.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("message was not delivered")
	}

	a.UnsubscribeUser("bob")
	receivers, err = b.PublishToUser("bob", msg)
	require.NoError(t, err)
	assert.Zero(t, receivers, "nobody holds bob any more")
	select {
	case d := <-received:
		t.Fatalf("unexpected delivery after unsubscribe: %v", d.msg.Type)
	case <-time.After(100 * time.Millisecond):
	}
	require.NoError(t, a.Ping())
}
