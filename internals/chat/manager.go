// Package chat relays direct messages and typing indicators between the two
// participants of a chat room and tracks who is online.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/mynameaksh/SkillXChange/internals/metrics"
	"github.com/mynameaksh/SkillXChange/internals/sfuerr"
	"github.com/mynameaksh/SkillXChange/internals/signaling"
	"github.com/mynameaksh/SkillXChange/internals/store"
	"go.uber.org/zap"
)

// Conn is a live chat connection.
type Conn interface {
	ConnID() string
	User() string
	SendMessage(signaling.Message) bool
}

// Relay reaches users connected to other instances.
type Relay interface {
	PublishToUser(userID string, msg signaling.Message) (int64, error)
	SubscribeUser(ctx context.Context, userID string) error
	UnsubscribeUser(userID string)
}

type Options struct {
	MaxMessageLength int
	StoreTimeout     time.Duration
}

type SendRequest struct {
	RoomID  string            `json:"roomId"`
	Content string            `json:"content"`
	Kind    store.MessageKind `json:"type"`
}

type TypingEvent struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type PresenceEvent struct {
	UserID string `json:"userId"`
}

// Manager maps each user to at most one live connection. A newer connection
// for the same user replaces the mapping.
type Manager struct {
	chats  store.ChatStore
	opts   Options
	logger *zap.Logger

	relayMu sync.RWMutex
	relay   Relay

	mu     sync.RWMutex
	byUser map[string]Conn
	byConn map[string]string
}

func NewManager(chats store.ChatStore, opts Options, logger *zap.Logger) *Manager {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	return &Manager{
		chats:  chats,
		opts:   opts,
		logger: logger,
		byUser: make(map[string]Conn),
		byConn: make(map[string]string),
	}
}

// SetRelay enables cross-instance delivery.
func (m *Manager) SetRelay(r Relay) {
	m.relayMu.Lock()
	m.relay = r
	m.relayMu.Unlock()
}

func (m *Manager) getRelay() Relay {
	m.relayMu.RLock()
	defer m.relayMu.RUnlock()
	return m.relay
}

func (m *Manager) Connect(ctx context.Context, c Conn) {
	userID := c.User()

	m.mu.Lock()
	old, replaced := m.byUser[userID]
	if replaced {
		delete(m.byConn, old.ConnID())
	} else {
		metrics.ChatConnections.Inc()
	}
	m.byUser[userID] = c
	m.byConn[c.ConnID()] = userID
	m.mu.Unlock()

	if relay := m.getRelay(); relay != nil {
		if err := relay.SubscribeUser(ctx, userID); err != nil {
			m.logger.Warn("Failed to subscribe chat user", zap.String("userID", userID), zap.Error(err))
		}
	}

	m.logger.Info("Chat user connected",
		zap.String("userID", userID),
		zap.String("connID", c.ConnID()),
		zap.Bool("replaced", replaced),
	)
	if !replaced {
		m.broadcastPresence(ctx, userID, signaling.MessageTypeUserOnline)
	}
}

// Disconnect drops the mapping only if it still points at c, so a stale
// connection closing late cannot take a newer one offline.
func (m *Manager) Disconnect(ctx context.Context, c Conn) {
	userID := c.User()

	m.mu.Lock()
	delete(m.byConn, c.ConnID())
	current, ok := m.byUser[userID]
	owned := ok && current.ConnID() == c.ConnID()
	if owned {
		delete(m.byUser, userID)
		metrics.ChatConnections.Dec()
	}
	m.mu.Unlock()

	if !owned {
		return
	}
	if relay := m.getRelay(); relay != nil {
		relay.UnsubscribeUser(userID)
	}
	m.logger.Info("Chat user disconnected", zap.String("userID", userID), zap.String("connID", c.ConnID()))
	m.broadcastPresence(ctx, userID, signaling.MessageTypeUserOffline)
}

// Online reports whether the user has a connection on this instance.
func (m *Manager) Online(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byUser[userID]
	return ok
}

// UserOf resolves a connection id to its user while the mapping is current.
func (m *Manager) UserOf(connID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	userID, ok := m.byConn[connID]
	return userID, ok
}

func (m *Manager) local(userID string) (Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byUser[userID]
	return c, ok
}

// Deliver hands msg to the user's local connection. It is also the sink for
// messages arriving from other instances.
func (m *Manager) Deliver(userID string, msg signaling.Message) bool {
	c, ok := m.local(userID)
	if !ok {
		return false
	}
	return c.SendMessage(msg)
}

// reach delivers locally or through the relay and reports whether some
// instance holding the user's connection got the message.
func (m *Manager) reach(userID string, msg signaling.Message) bool {
	if m.Deliver(userID, msg) {
		return true
	}
	relay := m.getRelay()
	if relay == nil {
		return false
	}
	receivers, err := relay.PublishToUser(userID, msg)
	if err != nil {
		m.logger.Warn("Failed to relay chat message", zap.String("userID", userID), zap.Error(err))
		return false
	}
	return receivers > 0
}

// Handle dispatches one chat frame.
func (m *Manager) Handle(ctx context.Context, c Conn, msg signaling.Message) {
	switch msg.Type {
	case signaling.MessageTypeChatSend:
		m.SendMessage(ctx, c, msg)
	case signaling.MessageTypeTypingStart, signaling.MessageTypeTypingStop:
		m.Typing(ctx, c, msg)
	default:
		m.replyError(c, msg, sfuerr.New(sfuerr.CodeInvalidRequest, "unknown message type %q", msg.Type))
	}
}

// SendMessage persists a message, delivers it to the counterpart and
// acknowledges it to the sender.
func (m *Manager) SendMessage(ctx context.Context, c Conn, req signaling.Message) {
	var body SendRequest
	if err := signaling.Decode(req, &body); err != nil {
		m.fail(c, req, err)
		return
	}
	if err := m.validate(&body); err != nil {
		m.fail(c, req, err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.StoreTimeout)
	defer cancel()

	sender := c.User()
	room, err := m.chats.FindRoom(ctx, body.RoomID)
	if errors.Is(err, store.ErrNotFound) {
		m.fail(c, req, sfuerr.New(sfuerr.CodeNotFound, "chat room not found"))
		return
	}
	if err != nil {
		m.fail(c, req, sfuerr.Wrap(sfuerr.CodeInternal, err, "chat room lookup failed"))
		return
	}
	if !room.HasParticipant(sender) {
		m.fail(c, req, sfuerr.New(sfuerr.CodeUnauthorized, "not a participant of this chat room"))
		return
	}

	receiver := room.Counterpart(sender)
	saved, err := m.chats.CreateMessage(ctx, &store.Message{
		RoomID:   room.ID,
		Sender:   sender,
		Receiver: receiver,
		Content:  body.Content,
		Kind:     body.Kind,
	})
	if err != nil {
		m.fail(c, req, sfuerr.Wrap(sfuerr.CodeInternal, err, "failed to store message"))
		return
	}
	if err := m.chats.UpdateLastMessage(ctx, room.ID, saved.ID, saved.CreatedAt); err != nil {
		m.logger.Warn("Failed to update last message", zap.String("roomID", room.ID), zap.Error(err))
	}

	outcome := "stored"
	if delivery, err := signaling.NewMessage(signaling.MessageTypeChatReceive, saved); err == nil {
		if m.reach(receiver, delivery) {
			outcome = "delivered"
		}
	}
	metrics.ChatMessagesTotal.WithLabelValues(outcome).Inc()

	ack, err := signaling.NewMessage(signaling.MessageTypeChatSent, saved)
	if err != nil {
		m.logger.Error("Failed to encode chat ack", zap.Error(err))
		return
	}
	ack.RequestID = req.RequestID
	c.SendMessage(ack)
}

func (m *Manager) validate(body *SendRequest) error {
	body.RoomID = strings.TrimSpace(body.RoomID)
	if body.RoomID == "" {
		return sfuerr.New(sfuerr.CodeInvalidRequest, "roomId is required")
	}
	if strings.TrimSpace(body.Content) == "" {
		return sfuerr.New(sfuerr.CodeInvalidRequest, "message content is empty")
	}
	if m.opts.MaxMessageLength > 0 && utf8.RuneCountInString(body.Content) > m.opts.MaxMessageLength {
		return sfuerr.New(sfuerr.CodeInvalidRequest, "message exceeds %d characters", m.opts.MaxMessageLength)
	}
	if body.Kind == "" {
		body.Kind = store.MessageText
	}
	if !body.Kind.Valid() {
		return sfuerr.New(sfuerr.CodeInvalidRequest, "unknown message type %q", body.Kind)
	}
	return nil
}

func (m *Manager) fail(c Conn, req signaling.Message, err error) {
	metrics.ChatMessagesTotal.WithLabelValues("failed").Inc()
	m.replyError(c, req, err)
}

func (m *Manager) replyError(c Conn, req signaling.Message, err error) {
	code := sfuerr.CodeOf(err)
	if code == sfuerr.CodeInternal {
		m.logger.Error("Chat request failed", zap.String("userID", c.User()), zap.Error(err))
	}
	reply, encErr := signaling.NewMessage(signaling.MessageTypeChatError, signaling.ErrorMessage{
		Code:     code,
		Message:  sfuerr.MessageOf(err),
		Terminal: sfuerr.Terminal(code),
		Request:  req.Type,
	})
	if encErr != nil {
		return
	}
	reply.RequestID = req.RequestID
	c.SendMessage(reply)
}

// Typing relays a typing indicator to a connected counterpart. Nothing is
// stored and nothing is reported back.
func (m *Manager) Typing(ctx context.Context, c Conn, req signaling.Message) {
	var body TypingEvent
	if err := signaling.Decode(req, &body); err != nil || body.RoomID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.StoreTimeout)
	defer cancel()
	room, err := m.chats.FindRoom(ctx, body.RoomID)
	if err != nil || !room.HasParticipant(c.User()) {
		return
	}

	event, err := signaling.NewMessage(req.Type, TypingEvent{RoomID: room.ID, UserID: c.User()})
	if err != nil {
		return
	}
	m.reach(room.Counterpart(c.User()), event)
}

func (m *Manager) broadcastPresence(ctx context.Context, userID string, t signaling.MessageType) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.StoreTimeout)
	defer cancel()

	rooms, err := m.chats.RoomsForUser(ctx, userID)
	if err != nil {
		m.logger.Warn("Failed to list chat rooms for presence", zap.String("userID", userID), zap.Error(err))
		return
	}
	msg, err := signaling.NewMessage(t, PresenceEvent{UserID: userID})
	if err != nil {
		return
	}

	seen := make(map[string]bool)
	for _, room := range rooms {
		other := room.Counterpart(userID)
		if other == "" || seen[other] {
			continue
		}
		seen[other] = true
		m.reach(other, msg)
	}
}
