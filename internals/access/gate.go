// Package access decides who may enter a video room and provisions the room
// records for scheduled sessions.
package access

import (
	"context"
	"errors"

	"github.com/mynameaksh/SkillXChange/internals/sfuerr"
	"github.com/mynameaksh/SkillXChange/internals/store"
	"go.uber.org/zap"
)

// Grant is the outcome of a successful authorization.
type Grant struct {
	Role   store.Role
	Record *store.VideoRoom
}

type Gate struct {
	sessions store.SessionStore
	rooms    store.VideoRoomStore
	logger   *zap.Logger
}

func NewGate(sessions store.SessionStore, rooms store.VideoRoomStore, logger *zap.Logger) *Gate {
	return &Gate{sessions: sessions, rooms: rooms, logger: logger}
}

// Authorize returns the role userID holds in the session's video room. It
// denies unknown sessions, rooms that have ended and users who are not one
// of the recorded participants.
func (g *Gate) Authorize(ctx context.Context, sessionID, userID string) (Grant, error) {
	if sessionID == "" || userID == "" {
		return Grant{}, sfuerr.New(sfuerr.CodeUnauthorized, "session and user are required")
	}

	session, err := g.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return Grant{}, g.lookupError(err, "session not found", sessionID)
	}
	record, err := g.rooms.FindBySession(ctx, sessionID)
	if err != nil {
		return Grant{}, g.lookupError(err, "no video room for this session", sessionID)
	}
	if record.Status == store.RoomEnded {
		return Grant{}, sfuerr.New(sfuerr.CodeUnauthorized, "video room has ended")
	}

	participant, ok := record.Participant(userID)
	if !ok {
		return Grant{}, sfuerr.New(sfuerr.CodeUnauthorized, "user is not a participant of this session")
	}
	if role, ok := session.RoleOf(userID); ok && role != participant.Role {
		g.logger.Warn("Session and video room disagree on role",
			zap.String("session_id", sessionID),
			zap.String("user_id", userID),
			zap.String("session_role", string(role)),
			zap.String("room_role", string(participant.Role)),
		)
	}

	return Grant{Role: participant.Role, Record: record}, nil
}

// AuthorizeJoin additionally requires the requested room to be the one
// recorded for the session.
func (g *Gate) AuthorizeJoin(ctx context.Context, roomID, sessionID, userID string) (Grant, error) {
	grant, err := g.Authorize(ctx, sessionID, userID)
	if err != nil {
		return Grant{}, err
	}
	if grant.Record.RoomID != roomID {
		return Grant{}, sfuerr.New(sfuerr.CodeUnauthorized, "room does not belong to this session")
	}
	return grant, nil
}

func (g *Gate) lookupError(err error, msg, sessionID string) error {
	if errors.Is(err, store.ErrNotFound) {
		return sfuerr.New(sfuerr.CodeUnauthorized, "%s", msg)
	}
	g.logger.Error("Access lookup failed", zap.String("session_id", sessionID), zap.Error(err))
	return sfuerr.Wrap(sfuerr.CodeInternal, err, "record lookup failed")
}
