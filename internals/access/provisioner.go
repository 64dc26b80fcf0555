package access

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mynameaksh/SkillXChange/internals/sfuerr"
	"github.com/mynameaksh/SkillXChange/internals/store"
	"go.uber.org/zap"
)

// DefaultLeadTime is how long before the scheduled start a room may be opened.
const DefaultLeadTime = 5 * time.Minute

type Provisioner struct {
	sessions store.SessionStore
	rooms    store.VideoRoomStore
	logger   *zap.Logger
	LeadTime time.Duration
	Now      func() time.Time
}

func NewProvisioner(sessions store.SessionStore, rooms store.VideoRoomStore, logger *zap.Logger) *Provisioner {
	return &Provisioner{
		sessions: sessions,
		rooms:    rooms,
		logger:   logger,
		LeadTime: DefaultLeadTime,
		Now:      time.Now,
	}
}

// Create opens the video room for a session on behalf of one of its
// participants.
func (p *Provisioner) Create(ctx context.Context, sessionID, userID string) (*store.VideoRoom, error) {
	session, err := p.sessions.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, sfuerr.New(sfuerr.CodeNotFound, "session not found")
	}
	if err != nil {
		return nil, sfuerr.Wrap(sfuerr.CodeInternal, err, "session lookup failed")
	}
	if _, ok := session.RoleOf(userID); !ok {
		return nil, sfuerr.New(sfuerr.CodeUnauthorized, "not authorized to create video room for this session")
	}

	now := p.Now()
	if session.ScheduledTime.Sub(now) > p.LeadTime {
		return nil, sfuerr.New(sfuerr.CodeInvalidRequest,
			"cannot create video room more than %s before scheduled time", p.LeadTime)
	}

	room := &store.VideoRoom{
		RoomID:    uuid.NewString(),
		SessionID: sessionID,
		Status:    store.RoomWaiting,
		Participants: []store.Participant{
			{UserID: session.TeacherUserID, Role: store.RoleTeacher, ConnectionStatus: store.Disconnected},
			{UserID: session.LearnerUserID, Role: store.RoleLearner, ConnectionStatus: store.Disconnected},
		},
		CreatedAt: now,
	}
	if err := p.rooms.Create(ctx, room); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, sfuerr.New(sfuerr.CodeAlreadyExists, "video room already exists for this session")
		}
		return nil, sfuerr.Wrap(sfuerr.CodeInternal, err, "failed to create video room")
	}

	if err := p.sessions.SetSessionStatus(ctx, sessionID, store.SessionInProgress); err != nil {
		p.logger.Warn("Failed to mark session in progress", zap.String("session_id", sessionID), zap.Error(err))
	}
	p.logger.Info("Video room created",
		zap.String("room_id", room.RoomID),
		zap.String("session_id", sessionID),
	)
	return room, nil
}

// Get returns a room record to one of its participants.
func (p *Provisioner) Get(ctx context.Context, roomID, userID string) (*store.VideoRoom, error) {
	room, err := p.load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.CanJoin(userID) {
		return nil, sfuerr.New(sfuerr.CodeUnauthorized, "not authorized to access this video room")
	}
	return room, nil
}

// End marks the room ended and the session completed.
func (p *Provisioner) End(ctx context.Context, roomID, userID string) (*store.VideoRoom, error) {
	room, err := p.load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.CanJoin(userID) {
		return nil, sfuerr.New(sfuerr.CodeUnauthorized, "not authorized to end this video room")
	}
	if err := p.rooms.SetStatus(ctx, roomID, store.RoomEnded); err != nil {
		return nil, sfuerr.Wrap(sfuerr.CodeInternal, err, "failed to end video room")
	}
	if err := p.sessions.SetSessionStatus(ctx, room.SessionID, store.SessionCompleted); err != nil && !errors.Is(err, store.ErrNotFound) {
		p.logger.Warn("Failed to mark session completed", zap.String("session_id", room.SessionID), zap.Error(err))
	}
	p.logger.Info("Video room ended", zap.String("room_id", roomID), zap.String("user_id", userID))
	return p.load(ctx, roomID)
}

func (p *Provisioner) load(ctx context.Context, roomID string) (*store.VideoRoom, error) {
	room, err := p.rooms.Get(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, sfuerr.New(sfuerr.CodeNotFound, "video room not found")
	}
	if err != nil {
		return nil, sfuerr.Wrap(sfuerr.CodeInternal, err, "video room lookup failed")
	}
	return room, nil
}
