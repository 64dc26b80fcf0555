// Package store holds the records owned outside the media layer: scheduled
// sessions, their video room records and the two-party chat rooms.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

type Role string

const (
	RoleTeacher Role = "teacher"
	RoleLearner Role = "learner"
)

type SessionStatus string

const (
	SessionScheduled  SessionStatus = "scheduled"
	SessionInProgress SessionStatus = "in-progress"
	SessionCompleted  SessionStatus = "completed"
	SessionCancelled  SessionStatus = "cancelled"
)

type Session struct {
	ID            string        `json:"id"`
	TeacherUserID string        `json:"teacherUserId"`
	LearnerUserID string        `json:"learnerUserId"`
	ScheduledTime time.Time     `json:"scheduledTime"`
	Status        SessionStatus `json:"status"`
}

// RoleOf returns the role userID holds in the session.
func (s *Session) RoleOf(userID string) (Role, bool) {
	switch userID {
	case "":
		return "", false
	case s.TeacherUserID:
		return RoleTeacher, true
	case s.LearnerUserID:
		return RoleLearner, true
	}
	return "", false
}

type RoomStatus string

const (
	RoomWaiting RoomStatus = "waiting"
	RoomActive  RoomStatus = "active"
	RoomEnded   RoomStatus = "ended"
)

type ConnectionStatus string

const (
	Connected    ConnectionStatus = "connected"
	Disconnected ConnectionStatus = "disconnected"
)

type Participant struct {
	UserID           string           `json:"userId"`
	Role             Role             `json:"role"`
	ConnectionStatus ConnectionStatus `json:"connectionStatus"`
	JoinedAt         *time.Time       `json:"joinedAt,omitempty"`
	LeftAt           *time.Time       `json:"leftAt,omitempty"`
}

type ScreenSharing struct {
	Active   bool   `json:"isActive"`
	SharedBy string `json:"sharedBy,omitempty"`
}

type VideoRoom struct {
	RoomID        string        `json:"roomId"`
	SessionID     string        `json:"sessionId"`
	Status        RoomStatus    `json:"status"`
	Participants  []Participant `json:"participants"`
	ScreenSharing ScreenSharing `json:"screenSharing"`
	CreatedAt     time.Time     `json:"createdAt"`
	StartTime     *time.Time    `json:"startTime,omitempty"`
	EndTime       *time.Time    `json:"endTime,omitempty"`
}

func (v *VideoRoom) Participant(userID string) (*Participant, bool) {
	for i := range v.Participants {
		if v.Participants[i].UserID == userID {
			return &v.Participants[i], true
		}
	}
	return nil, false
}

// CanJoin reports whether userID is a recorded participant of a room that
// has not ended.
func (v *VideoRoom) CanJoin(userID string) bool {
	_, ok := v.Participant(userID)
	return ok && v.Status != RoomEnded
}

func (v *VideoRoom) setConnected(userID string, now time.Time) error {
	p, ok := v.Participant(userID)
	if !ok {
		return ErrNotFound
	}
	p.ConnectionStatus = Connected
	p.JoinedAt = &now
	p.LeftAt = nil
	return nil
}

func (v *VideoRoom) setDisconnected(userID string, now time.Time) error {
	p, ok := v.Participant(userID)
	if !ok {
		return ErrNotFound
	}
	p.ConnectionStatus = Disconnected
	p.LeftAt = &now
	return nil
}

func (v *VideoRoom) setStatus(status RoomStatus, now time.Time) {
	v.Status = status
	switch status {
	case RoomActive:
		if v.StartTime == nil {
			v.StartTime = &now
		}
	case RoomEnded:
		v.EndTime = &now
	}
}

func (v *VideoRoom) setScreenSharing(ownerUserID string) {
	v.ScreenSharing = ScreenSharing{Active: ownerUserID != "", SharedBy: ownerUserID}
}

func (v *VideoRoom) clone() *VideoRoom {
	c := *v
	c.Participants = append([]Participant(nil), v.Participants...)
	return &c
}

type ChatRoom struct {
	ID            string     `json:"id"`
	ParticipantA  string     `json:"participantA"`
	ParticipantB  string     `json:"participantB"`
	LastMessageID string     `json:"lastMessageId,omitempty"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
}

func (r *ChatRoom) HasParticipant(userID string) bool {
	return userID != "" && (r.ParticipantA == userID || r.ParticipantB == userID)
}

// Counterpart returns the other participant of the room.
func (r *ChatRoom) Counterpart(userID string) string {
	if r.ParticipantA == userID {
		return r.ParticipantB
	}
	return r.ParticipantA
}

type MessageKind string

const (
	MessageText   MessageKind = "text"
	MessageImage  MessageKind = "image"
	MessageSystem MessageKind = "system"
)

func (k MessageKind) Valid() bool {
	return k == MessageText || k == MessageImage || k == MessageSystem
}

type Message struct {
	ID        string      `json:"id"`
	RoomID    string      `json:"roomId"`
	Sender    string      `json:"sender"`
	Receiver  string      `json:"receiver"`
	Content   string      `json:"content"`
	Kind      MessageKind `json:"type"`
	CreatedAt time.Time   `json:"createdAt"`
}

type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	SetSessionStatus(ctx context.Context, sessionID string, status SessionStatus) error
}

type VideoRoomStore interface {
	// Create fails with ErrAlreadyExists when the session already has a room.
	Create(ctx context.Context, room *VideoRoom) error
	FindBySession(ctx context.Context, sessionID string) (*VideoRoom, error)
	Get(ctx context.Context, roomID string) (*VideoRoom, error)
	SetParticipantConnected(ctx context.Context, roomID, userID string) error
	SetParticipantDisconnected(ctx context.Context, roomID, userID string) error
	SetStatus(ctx context.Context, roomID string, status RoomStatus) error
	// SetScreenSharing records the sharing user; "" clears it.
	SetScreenSharing(ctx context.Context, roomID, ownerUserID string) error
}

type ChatStore interface {
	FindRoom(ctx context.Context, roomID string) (*ChatRoom, error)
	RoomsForUser(ctx context.Context, userID string) ([]*ChatRoom, error)
	CreateMessage(ctx context.Context, msg *Message) (*Message, error)
	UpdateLastMessage(ctx context.Context, roomID, messageID string, at time.Time) error
}

// Store bundles every collaborator a server needs.
type Store interface {
	SessionStore
	VideoRoomStore
	ChatStore
	Ping(ctx context.Context) error
	Close() error
}
