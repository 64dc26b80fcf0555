package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory keeps every record in process. Used when Redis is disabled and in tests.
type Memory struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	rooms       map[string]*VideoRoom // roomID -> record
	roomsBySess map[string]string     // sessionID -> roomID
	chatRooms   map[string]*ChatRoom
	messages    map[string][]*Message // chat room id -> history
	now         func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		sessions:    make(map[string]*Session),
		rooms:       make(map[string]*VideoRoom),
		roomsBySess: make(map[string]string),
		chatRooms:   make(map[string]*ChatRoom),
		messages:    make(map[string][]*Message),
		now:         time.Now,
	}
}

func (m *Memory) PutSession(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *s
	m.sessions[s.ID] = &c
}

func (m *Memory) PutChatRoom(r *ChatRoom) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *r
	m.chatRooms[r.ID] = &c
}

func (m *Memory) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *s
	return &c, nil
}

func (m *Memory) SetSessionStatus(ctx context.Context, sessionID string, status SessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.Status = status
	return nil
}

func (m *Memory) Create(ctx context.Context, room *VideoRoom) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roomsBySess[room.SessionID]; ok {
		return ErrAlreadyExists
	}
	if _, ok := m.rooms[room.RoomID]; ok {
		return ErrAlreadyExists
	}
	m.rooms[room.RoomID] = room.clone()
	m.roomsBySess[room.SessionID] = room.RoomID
	return nil
}

func (m *Memory) FindBySession(ctx context.Context, sessionID string) (*VideoRoom, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	roomID, ok := m.roomsBySess[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return m.rooms[roomID].clone(), nil
}

func (m *Memory) Get(ctx context.Context, roomID string) (*VideoRoom, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	return r.clone(), nil
}

func (m *Memory) update(roomID string, fn func(*VideoRoom) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return ErrNotFound
	}
	return fn(r)
}

func (m *Memory) SetParticipantConnected(ctx context.Context, roomID, userID string) error {
	return m.update(roomID, func(r *VideoRoom) error { return r.setConnected(userID, m.now()) })
}

func (m *Memory) SetParticipantDisconnected(ctx context.Context, roomID, userID string) error {
	return m.update(roomID, func(r *VideoRoom) error { return r.setDisconnected(userID, m.now()) })
}

func (m *Memory) SetStatus(ctx context.Context, roomID string, status RoomStatus) error {
	return m.update(roomID, func(r *VideoRoom) error {
		r.setStatus(status, m.now())
		return nil
	})
}

func (m *Memory) SetScreenSharing(ctx context.Context, roomID, ownerUserID string) error {
	return m.update(roomID, func(r *VideoRoom) error {
		r.setScreenSharing(ownerUserID)
		return nil
	})
}

func (m *Memory) FindRoom(ctx context.Context, roomID string) (*ChatRoom, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.chatRooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *r
	return &c, nil
}

func (m *Memory) RoomsForUser(ctx context.Context, userID string) ([]*ChatRoom, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ChatRoom
	for _, r := range m.chatRooms {
		if r.HasParticipant(userID) {
			c := *r
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CreateMessage(ctx context.Context, msg *Message) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *msg
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.now()
	}
	m.messages[c.RoomID] = append(m.messages[c.RoomID], &c)
	out := c
	return &out, nil
}

// Messages returns the stored history of a chat room.
func (m *Memory) Messages(roomID string) []*Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Message(nil), m.messages[roomID]...)
}

func (m *Memory) UpdateLastMessage(ctx context.Context, roomID, messageID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.chatRooms[roomID]
	if !ok {
		return ErrNotFound
	}
	r.LastMessageID = messageID
	r.LastMessageAt = &at
	return nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
