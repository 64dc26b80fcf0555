package access

import (
	"context"
	"testing"
	"time"

	"github.com/mynameaksh/SkillXChange/internals/sfuerr"
	"github.com/mynameaksh/SkillXChange/internals/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var scheduled = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*store.Memory, *Gate, *Provisioner) {
	t.Helper()
	mem := store.NewMemory()
	mem.PutSession(&store.Session{
		ID: "s1", TeacherUserID: "teacher", LearnerUserID: "learner",
		ScheduledTime: scheduled, Status: store.SessionScheduled,
	})
	prov := NewProvisioner(mem, mem, zap.NewNop())
	prov.Now = func() time.Time { return scheduled.Add(-2 * time.Minute) }
	return mem, NewGate(mem, mem, zap.NewNop()), prov
}

func TestProvisionerCreate(t *testing.T) {
	mem, _, prov := setup(t)
	ctx := context.Background()

	room, err := prov.Create(ctx, "s1", "learner")
	require.NoError(t, err)
	assert.Equal(t, store.RoomWaiting, room.Status)
	require.Len(t, room.Participants, 2)
	assert.Equal(t, store.RoleTeacher, room.Participants[0].Role)

	s, err := mem.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, store.SessionInProgress, s.Status)

	_, err = prov.Create(ctx, "s1", "teacher")
	assert.True(t, sfuerr.Is(err, sfuerr.CodeAlreadyExists))
}

func TestProvisionerCreateRejects(t *testing.T) {
	_, _, prov := setup(t)
	ctx := context.Background()

	_, err := prov.Create(ctx, "missing", "teacher")
	assert.True(t, sfuerr.Is(err, sfuerr.CodeNotFound))

	_, err = prov.Create(ctx, "s1", "intruder")
	assert.True(t, sfuerr.Is(err, sfuerr.CodeUnauthorized))

	prov.Now = func() time.Time { return scheduled.Add(-6 * time.Minute) }
	_, err = prov.Create(ctx, "s1", "teacher")
	assert.True(t, sfuerr.Is(err, sfuerr.CodeInvalidRequest))
}

func TestProvisionerEnd(t *testing.T) {
	mem, _, prov := setup(t)
	ctx := context.Background()
	room, err := prov.Create(ctx, "s1", "teacher")
	require.NoError(t, err)

	_, err = prov.End(ctx, room.RoomID, "intruder")
	assert.True(t, sfuerr.Is(err, sfuerr.CodeUnauthorized))

	ended, err := prov.End(ctx, room.RoomID, "teacher")
	require.NoError(t, err)
	assert.Equal(t, store.RoomEnded, ended.Status)
	assert.NotNil(t, ended.EndTime)

	s, _ := mem.GetSession(ctx, "s1")
	assert.Equal(t, store.SessionCompleted, s.Status)

	_, err = prov.Get(ctx, room.RoomID, "teacher")
	assert.True(t, sfuerr.Is(err, sfuerr.CodeUnauthorized))
	_, err = prov.Get(ctx, "missing", "teacher")
	assert.True(t, sfuerr.Is(err, sfuerr.CodeNotFound))
}

func TestGateAuthorize(t *testing.T) {
	_, gate, prov := setup(t)
	ctx := context.Background()

	_, err := gate.Authorize(ctx, "s1", "teacher")
	assert.True(t, sfuerr.Is(err, sfuerr.CodeUnauthorized), "no room yet")

	room, err := prov.Create(ctx, "s1", "teacher")
	require.NoError(t, err)

	for user, role := range map[string]store.Role{"teacher": store.RoleTeacher, "learner": store.RoleLearner} {
		grant, err := gate.Authorize(ctx, "s1", user)
		require.NoError(t, err)
		assert.Equal(t, role, grant.Role)
		assert.Equal(t, room.RoomID, grant.Record.RoomID)
	}

	tests := []struct {
		name      string
		sessionID string
		userID    string
	}{
		{"unknown session", "nope", "teacher"},
		{"not a participant", "s1", "intruder"},
		{"empty user", "s1", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := gate.Authorize(ctx, tt.sessionID, tt.userID)
			assert.True(t, sfuerr.Is(err, sfuerr.CodeUnauthorized))
			assert.True(t, sfuerr.Terminal(sfuerr.CodeOf(err)))
		})
	}
}

func TestGateAuthorizeJoin(t *testing.T) {
	_, gate, prov := setup(t)
	ctx := context.Background()
	room, err := prov.Create(ctx, "s1", "teacher")
	require.NoError(t, err)

	_, err = gate.AuthorizeJoin(ctx, room.RoomID, "s1", "learner")
	require.NoError(t, err)

	_, err = gate.AuthorizeJoin(ctx, "other-room", "s1", "learner")
	assert.True(t, sfuerr.Is(err, sfuerr.CodeUnauthorized))

	_, err = prov.End(ctx, room.RoomID, "teacher")
	require.NoError(t, err)
	_, err = gate.AuthorizeJoin(ctx, room.RoomID, "s1", "learner")
	assert.True(t, sfuerr.Is(err, sfuerr.CodeUnauthorized), "ended room")
}
