package room

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mynameaksh/SkillXChange/internals/media"
	"github.com/mynameaksh/SkillXChange/internals/media/mediatest"
	"github.com/mynameaksh/SkillXChange/internals/peer"
	"github.com/mynameaksh/SkillXChange/internals/sfuerr"
	"github.com/mynameaksh/SkillXChange/internals/signaling"
	"github.com/mynameaksh/SkillXChange/internals/store"
	"github.com/mynameaksh/SkillXChange/internals/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type discard struct{}

func (discard) SendMessage(signaling.Message) bool { return true }

func newRegistry(t *testing.T, maxRooms, maxPerWorker int) (*Registry, *mediatest.Engine, *worker.Pool) {
	t.Helper()
	engine := mediatest.NewEngine()
	pool, err := worker.NewPool(context.Background(), engine, worker.Options{
		MaxWorkers:          2,
		MaxRoutersPerWorker: maxPerWorker,
		Strategy:            worker.LeastLoaded{},
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	reg := NewRegistry(pool, RegistryOptions{
		Codecs:         media.DefaultCodecs(1000),
		MaxRooms:       maxRooms,
		RequestTimeout: time.Second,
	}, zap.NewNop())
	return reg, engine, pool
}

func newPeer(id, userID string, role store.Role) *peer.Peer {
	return peer.NewPeer(id, "r1", "s1", userID, role, discard{}, zap.NewNop())
}

func TestGetOrCreateConcurrentJoinsShareOneRouter(t *testing.T) {
	reg, engine, pool := newRegistry(t, 0, 0)

	const joiners = 16
	rooms := make([]*Room, joiners)
	var wg sync.WaitGroup
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := reg.GetOrCreate(context.Background(), "r1")
			assert.NoError(t, err)
			rooms[i] = r
		}(i)
	}
	wg.Wait()

	for _, r := range rooms {
		assert.Same(t, rooms[0], r)
	}
	assert.Equal(t, 1, engine.RoutersCreated())
	assert.Equal(t, 1, reg.Len())

	total := 0
	for _, s := range pool.Stats() {
		total += s.Routers
	}
	assert.Equal(t, 1, total)
}

func TestDestroyReleasesEverything(t *testing.T) {
	reg, engine, pool := newRegistry(t, 0, 0)
	ctx := context.Background()

	r, err := reg.GetOrCreate(ctx, "r1")
	require.NoError(t, err)
	p := newPeer("c1", "teacher", store.RoleTeacher)
	require.NoError(t, r.AddPeer(p))

	tr, err := r.Router.CreateTransport(ctx, media.TransportOptions{AnnouncedIP: "127.0.0.1"})
	require.NoError(t, err)
	require.NoError(t, r.AddTransport(p.ID, tr))

	assert.False(t, reg.DestroyIfEmpty("r1"), "a registered peer keeps the room")

	assert.True(t, reg.Destroy("r1"))
	assert.False(t, reg.Destroy("r1"))
	assert.False(t, reg.DestroyIfEmpty("r1"))

	assert.True(t, tr.Closed())
	assert.Equal(t, 1, engine.RoutersClosed())
	for _, s := range pool.Stats() {
		assert.Zero(t, s.Routers)
	}
	_, ok := reg.Get("r1")
	assert.False(t, ok)
	assert.ErrorIs(t, r.AddPeer(newPeer("c2", "learner", store.RoleLearner)), ErrRoomClosed)
}

func TestDestroyIfEmpty(t *testing.T) {
	reg, engine, _ := newRegistry(t, 0, 0)
	r, err := reg.GetOrCreate(context.Background(), "r1")
	require.NoError(t, err)

	a := newPeer("c1", "teacher", store.RoleTeacher)
	b := newPeer("c2", "learner", store.RoleLearner)
	require.NoError(t, r.AddPeer(a))
	require.NoError(t, r.AddPeer(b))

	_, ok := r.RemovePeer(b.ID)
	require.True(t, ok)
	_, ok = r.RemovePeer(b.ID)
	assert.False(t, ok)
	assert.False(t, reg.DestroyIfEmpty("r1"))

	_, ok = r.RemovePeer(a.ID)
	require.True(t, ok)
	assert.True(t, reg.DestroyIfEmpty("r1"))
	assert.True(t, r.Closed())
	assert.Equal(t, 1, engine.RoutersClosed())

	// A later join gets a fresh room.
	again, err := reg.GetOrCreate(context.Background(), "r1")
	require.NoError(t, err)
	assert.NotSame(t, r, again)
	assert.Equal(t, 2, engine.RoutersCreated())
}

func TestRoomLimits(t *testing.T) {
	reg, _, _ := newRegistry(t, 1, 0)
	ctx := context.Background()
	_, err := reg.GetOrCreate(ctx, "r1")
	require.NoError(t, err)
	_, err = reg.GetOrCreate(ctx, "r2")
	assert.True(t, sfuerr.Is(err, sfuerr.CodeResourceExhausted))

	reg, _, pool := newRegistry(t, 0, 1)
	for i := 0; i < pool.Len(); i++ {
		_, err := reg.GetOrCreate(ctx, fmt.Sprintf("room-%d", i))
		require.NoError(t, err)
	}
	_, err = reg.GetOrCreate(ctx, "one-too-many")
	assert.True(t, sfuerr.Is(err, sfuerr.CodeResourceExhausted))
}

func TestRemovePeerReturnsOwnedResources(t *testing.T) {
	reg, _, _ := newRegistry(t, 0, 0)
	ctx := context.Background()
	r, err := reg.GetOrCreate(ctx, "r1")
	require.NoError(t, err)

	a := newPeer("c1", "teacher", store.RoleTeacher)
	b := newPeer("c2", "learner", store.RoleLearner)
	require.NoError(t, r.AddPeer(a))
	require.NoError(t, r.AddPeer(b))

	ta, err := r.Router.CreateTransport(ctx, media.TransportOptions{})
	require.NoError(t, err)
	require.NoError(t, r.AddTransport(a.ID, ta))
	tb, err := r.Router.CreateTransport(ctx, media.TransportOptions{})
	require.NoError(t, err)
	require.NoError(t, r.AddTransport(b.ID, tb))

	require.NoError(t, ta.Connect(ctx, media.ConnectParams{DtlsParameters: media.DtlsParameters{
		Fingerprints: []media.DtlsFingerprint{{Algorithm: "sha-256", Value: "00"}},
	}}))
	prod, err := ta.Produce(ctx, media.ProduceOptions{Kind: media.KindVideo, RtpParameters: media.RtpParameters{
		Codecs:    []media.RtpCodecParameters{{MimeType: "video/VP8", PayloadType: 96, ClockRate: 90000}},
		Encodings: []media.RtpEncodingParameters{{Ssrc: 1111}},
	}})
	require.NoError(t, err)
	require.NoError(t, r.AddProducer(ProducerEntry{Producer: prod, PeerID: a.ID, UserID: a.UserID, Source: "camera"}))

	assert.Len(t, r.LiveProducers(b.ID), 1)
	assert.Empty(t, r.LiveProducers(a.ID))

	removed, ok := r.RemovePeer(a.ID)
	require.True(t, ok)
	require.Len(t, removed.Transports, 1)
	assert.Equal(t, ta.ID(), removed.Transports[0].ID())
	require.Len(t, removed.Producers, 1)
	assert.Equal(t, "camera", removed.Producers[0].Source)

	_, ok = r.Transport(ta.ID())
	assert.False(t, ok)
	_, ok = r.Transport(tb.ID())
	assert.True(t, ok)
	assert.Empty(t, r.LiveProducers(b.ID))

	assert.ErrorIs(t, r.AddTransport(a.ID, ta), ErrPeerNotInRoom)
}

func TestScreenShare(t *testing.T) {
	reg, _, _ := newRegistry(t, 0, 0)
	r, err := reg.GetOrCreate(context.Background(), "r1")
	require.NoError(t, err)

	require.NoError(t, r.StartScreenShare("teacher"))
	require.NoError(t, r.StartScreenShare("teacher"))
	assert.ErrorIs(t, r.StartScreenShare("learner"), ErrAlreadySharing)
	assert.False(t, r.StopScreenShare("learner"))
	assert.Equal(t, "teacher", r.ScreenShareOwner())

	assert.True(t, r.StopScreenShare("teacher"))
	assert.Empty(t, r.ScreenShareOwner())
	require.NoError(t, r.StartScreenShare("learner"))
}

func TestRegistryClose(t *testing.T) {
	reg, engine, _ := newRegistry(t, 0, 0)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		_, err := reg.GetOrCreate(ctx, id)
		require.NoError(t, err)
	}
	assert.Len(t, reg.List(), 2)
	assert.Equal(t, "a", reg.List()[0].ID)

	reg.Close()
	assert.Zero(t, reg.Len())
	assert.Equal(t, 2, engine.RoutersClosed())

	_, err := reg.GetOrCreate(ctx, "c")
	assert.True(t, sfuerr.Is(err, sfuerr.CodeResourceExhausted))
}
