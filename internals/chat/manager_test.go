package chat

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mynameaksh/SkillXChange/internals/sfuerr"
	"github.com/mynameaksh/SkillXChange/internals/signaling"
	"github.com/mynameaksh/SkillXChange/internals/store"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeConn struct {
	id, user string

	mu   sync.Mutex
	msgs []signaling.Message
}

func (f *fakeConn) ConnID() string { return f.id }
func (f *fakeConn) User() string   { return f.user }

func (f *fakeConn) SendMessage(m signaling.Message) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, m)
	return true
}

func (f *fakeConn) take() []signaling.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.msgs
	f.msgs = nil
	return out
}

func (f *fakeConn) types() []signaling.MessageType {
	var out []signaling.MessageType
	for _, m := range f.take() {
		out = append(out, m.Type)
	}
	return out
}

func setup(t *testing.T) (*Manager, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	mem.PutChatRoom(&store.ChatRoom{ID: "c1", ParticipantA: "alice", ParticipantB: "bob"})
	return NewManager(mem, Options{MaxMessageLength: 20}, zap.NewNop()), mem
}

func send(t *testing.T, m *Manager, c *fakeConn, reqID string, body SendRequest) {
	t.Helper()
	msg, err := signaling.NewMessage(signaling.MessageTypeChatSend, body)
	require.NoError(t, err)
	msg.RequestID = reqID
	m.Handle(context.Background(), c, msg)
}

func chatErrorCode(t *testing.T, msg signaling.Message) sfuerr.Code {
	t.Helper()
	require.Equal(t, signaling.MessageTypeChatError, msg.Type)
	var body signaling.ErrorMessage
	require.NoError(t, json.Unmarshal(msg.Data, &body))
	return body.Code
}

func TestSendMessageDeliversAndAcks(t *testing.T) {
	m, mem := setup(t)
	ctx := context.Background()
	alice := &fakeConn{id: "a1", user: "alice"}
	bob := &fakeConn{id: "b1", user: "bob"}
	m.Connect(ctx, alice)
	m.Connect(ctx, bob)
	alice.take()

	send(t, m, alice, "req-1", SendRequest{RoomID: "c1", Content: "hello"})

	got := bob.take()
	require.Len(t, got, 1)
	assert.Equal(t, signaling.MessageTypeChatReceive, got[0].Type)
	var delivered store.Message
	require.NoError(t, json.Unmarshal(got[0].Data, &delivered))
	assert.Equal(t, "alice", delivered.Sender)
	assert.Equal(t, "bob", delivered.Receiver)
	assert.Equal(t, store.MessageText, delivered.Kind)

	acks := alice.take()
	require.Len(t, acks, 1)
	assert.Equal(t, signaling.MessageTypeChatSent, acks[0].Type)
	assert.Equal(t, "req-1", acks[0].RequestID)

	require.Len(t, mem.Messages("c1"), 1)
	room, err := mem.FindRoom(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, delivered.ID, room.LastMessageID)
}

func TestSendMessageToOfflineUserIsStored(t *testing.T) {
	m, mem := setup(t)
	alice := &fakeConn{id: "a1", user: "alice"}
	m.Connect(context.Background(), alice)

	send(t, m, alice, "1", SendRequest{RoomID: "c1", Content: "are you there?"})
	assert.Equal(t, []signaling.MessageType{signaling.MessageTypeChatSent}, alice.types())
	assert.Len(t, mem.Messages("c1"), 1)
}

func TestSendMessageErrors(t *testing.T) {
	m, mem := setup(t)
	mallory := &fakeConn{id: "m1", user: "mallory"}
	alice := &fakeConn{id: "a1", user: "alice"}

	tests := []struct {
		name string
		conn *fakeConn
		body SendRequest
		want sfuerr.Code
	}{
		{"not a participant", mallory, SendRequest{RoomID: "c1", Content: "hi"}, sfuerr.CodeUnauthorized},
		{"unknown room", alice, SendRequest{RoomID: "nope", Content: "hi"}, sfuerr.CodeNotFound},
		{"empty content", alice, SendRequest{RoomID: "c1", Content: "  "}, sfuerr.CodeInvalidRequest},
		{"too long", alice, SendRequest{RoomID: "c1", Content: strings.Repeat("x", 21)}, sfuerr.CodeInvalidRequest},
		{"bad kind", alice, SendRequest{RoomID: "c1", Content: "hi", Kind: "video"}, sfuerr.CodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send(t, m, tt.conn, "r", tt.body)
			got := tt.conn.take()
			require.Len(t, got, 1)
			assert.Equal(t, "r", got[0].RequestID)
			assert.Equal(t, tt.want, chatErrorCode(t, got[0]))
		})
	}
	assert.Empty(t, mem.Messages("c1"))
}

func TestTypingRelayedOnlyToConnectedCounterpart(t *testing.T) {
	m, _ := setup(t)
	ctx := context.Background()
	alice := &fakeConn{id: "a1", user: "alice"}
	m.Connect(ctx, alice)

	start, err := signaling.NewMessage(signaling.MessageTypeTypingStart, TypingEvent{RoomID: "c1"})
	require.NoError(t, err)
	m.Handle(ctx, alice, start)
	assert.Empty(t, alice.take())

	bob := &fakeConn{id: "b1", user: "bob"}
	m.Connect(ctx, bob)
	alice.take()
	m.Handle(ctx, alice, start)

	got := bob.take()
	require.Len(t, got, 1)
	assert.Equal(t, signaling.MessageTypeTypingStart, got[0].Type)
	var ev TypingEvent
	require.NoError(t, json.Unmarshal(got[0].Data, &ev))
	assert.Equal(t, TypingEvent{RoomID: "c1", UserID: "alice"}, ev)

	mallory := &fakeConn{id: "m1", user: "mallory"}
	m.Handle(ctx, mallory, start)
	assert.Empty(t, bob.take())
}

func TestPresenceAndReplacement(t *testing.T) {
	m, _ := setup(t)
	ctx := context.Background()
	bob := &fakeConn{id: "b1", user: "bob"}
	m.Connect(ctx, bob)

	first := &fakeConn{id: "a1", user: "alice"}
	m.Connect(ctx, first)
	assert.Equal(t, []signaling.MessageType{signaling.MessageTypeUserOnline}, bob.types())

	second := &fakeConn{id: "a2", user: "alice"}
	m.Connect(ctx, second)
	assert.Empty(t, bob.types(), "a replacement is not a new arrival")
	_, ok := m.UserOf("a1")
	assert.False(t, ok)

	// The stale connection closing does not take alice offline.
	m.Disconnect(ctx, first)
	assert.True(t, m.Online("alice"))
	assert.Empty(t, bob.types())

	send(t, m, bob, "1", SendRequest{RoomID: "c1", Content: "hi"})
	assert.Empty(t, first.take())
	assert.Len(t, second.take(), 1)
	assert.Equal(t, []signaling.MessageType{signaling.MessageTypeChatSent}, bob.types())

	m.Disconnect(ctx, second)
	assert.False(t, m.Online("alice"))
	got := bob.take()
	require.Len(t, got, 1)
	assert.Equal(t, signaling.MessageTypeUserOffline, got[0].Type)
	assert.JSONEq(t, `{"userId":"alice"}`, string(got[0].Data))
}

func TestRelayAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	mem := store.NewMemory()
	mem.PutChatRoom(&store.ChatRoom{ID: "c1", ParticipantA: "alice", ParticipantB: "bob"})

	newManager := func(instance string) *Manager {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		m := NewManager(mem, Options{}, zap.NewNop())
		t.Setenv("INSTANCE_ID", instance)
		ps := signaling.NewPubSubManager(client, func(userID string, msg signaling.Message) {
			m.Deliver(userID, msg)
		}, zap.NewNop())
		t.Cleanup(func() { ps.Close() })
		m.SetRelay(ps)
		return m
	}
	east, west := newManager("east"), newManager("west")

	ctx := context.Background()
	alice := &fakeConn{id: "a1", user: "alice"}
	bob := &fakeConn{id: "b1", user: "bob"}
	east.Connect(ctx, alice)
	west.Connect(ctx, bob)

	send(t, east, alice, "1", SendRequest{RoomID: "c1", Content: "over the wire"})

	require.Eventually(t, func() bool {
		bob.mu.Lock()
		defer bob.mu.Unlock()
		for _, m := range bob.msgs {
			if m.Type == signaling.MessageTypeChatReceive {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRelayReportsUnreachableUser(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	m, _ := setup(t)
	t.Setenv("INSTANCE_ID", "solo")
	ps := signaling.NewPubSubManager(client, func(string, signaling.Message) {}, zap.NewNop())
	t.Cleanup(func() { ps.Close() })
	m.SetRelay(ps)

	msg := signaling.Message{Type: signaling.MessageTypeChatReceive}
	assert.False(t, m.reach("bob", msg), "bob is connected nowhere")

	require.NoError(t, ps.SubscribeUser(context.Background(), "bob"))
	assert.True(t, m.reach("bob", msg))
}
