package room

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mynameaksh/SkillXChange/internals/media"
	"github.com/mynameaksh/SkillXChange/internals/metrics"
	"github.com/mynameaksh/SkillXChange/internals/sfuerr"
	"github.com/mynameaksh/SkillXChange/internals/worker"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type RegistryOptions struct {
	Codecs []media.RtpCodecCapability
	// MaxRooms bounds the number of live rooms; 0 means unbounded.
	MaxRooms       int
	RequestTimeout time.Duration
}

// Registry owns the live rooms of the process.
type Registry struct {
	pool   *worker.Pool
	opts   RegistryOptions
	logger *zap.Logger

	group singleflight.Group

	mu     sync.RWMutex
	rooms  map[string]*Room
	closed bool
}

func NewRegistry(pool *worker.Pool, opts RegistryOptions, logger *zap.Logger) *Registry {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 5 * time.Second
	}
	return &Registry{
		pool:   pool,
		opts:   opts,
		logger: logger,
		rooms:  make(map[string]*Room),
	}
}

// GetOrCreate returns the live room, creating its router on first use.
// Concurrent callers for the same id share a single creation.
func (reg *Registry) GetOrCreate(ctx context.Context, roomID string) (*Room, error) {
	if r, ok := reg.Get(roomID); ok {
		return r, nil
	}

	ch := reg.group.DoChan(roomID, func() (interface{}, error) {
		return reg.create(roomID)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Room), nil
	case <-ctx.Done():
		return nil, sfuerr.Wrap(sfuerr.CodeTimeout, ctx.Err(), "room creation did not finish in time")
	}
}

func (reg *Registry) create(roomID string) (*Room, error) {
	reg.mu.RLock()
	existing, ok := reg.rooms[roomID]
	count := len(reg.rooms)
	closed := reg.closed
	reg.mu.RUnlock()

	switch {
	case closed:
		return nil, sfuerr.New(sfuerr.CodeResourceExhausted, "server is shutting down")
	case ok:
		return existing, nil
	case reg.opts.MaxRooms > 0 && count >= reg.opts.MaxRooms:
		return nil, sfuerr.New(sfuerr.CodeResourceExhausted, "room limit of %d reached", reg.opts.MaxRooms)
	}

	w, handle, err := reg.pool.Acquire()
	if err != nil {
		return nil, err
	}

	// Detached from any caller: other joiners may be waiting on this result.
	ctx, cancel := context.WithTimeout(context.Background(), reg.opts.RequestTimeout)
	defer cancel()
	router, err := w.CreateRouter(ctx, reg.opts.Codecs)
	if err != nil {
		handle.Release()
		reg.logger.Error("Failed to create router", zap.String("roomID", roomID), zap.String("workerID", w.ID()), zap.Error(err))
		if sfuerr.Is(err, sfuerr.CodeTimeout) {
			return nil, sfuerr.Wrap(sfuerr.CodeTimeout, err, "media worker did not create the router in time")
		}
		return nil, sfuerr.Wrap(sfuerr.CodeInternal, err, "failed to create router")
	}

	r := newRoom(roomID, router, handle, reg.logger)

	reg.mu.Lock()
	if reg.closed || (reg.opts.MaxRooms > 0 && len(reg.rooms) >= reg.opts.MaxRooms) {
		reg.mu.Unlock()
		r.markClosed()
		r.release()
		return nil, sfuerr.New(sfuerr.CodeResourceExhausted, "no room capacity left")
	}
	reg.rooms[roomID] = r
	reg.mu.Unlock()

	metrics.RecordRoomCreated()
	reg.logger.Info("Room created",
		zap.String("roomID", roomID),
		zap.String("routerID", router.ID()),
		zap.String("workerID", w.ID()),
	)
	return r, nil
}

func (reg *Registry) Get(roomID string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[roomID]
	return r, ok
}

// DestroyIfEmpty tears the room down when no peer is registered in it. The
// room refuses new peers from that point, so a concurrent join either lands
// before the check and keeps the room alive or sees it closed.
func (reg *Registry) DestroyIfEmpty(roomID string) bool {
	reg.mu.Lock()
	r, ok := reg.rooms[roomID]
	if !ok || !r.markClosedIfEmpty() {
		reg.mu.Unlock()
		return false
	}
	delete(reg.rooms, roomID)
	reg.mu.Unlock()

	reg.finish(r)
	return true
}

// Destroy tears the room down regardless of its peers. Calling it for an
// unknown or already destroyed room does nothing.
func (reg *Registry) Destroy(roomID string) bool {
	reg.mu.Lock()
	r, ok := reg.rooms[roomID]
	if ok {
		delete(reg.rooms, roomID)
	}
	reg.mu.Unlock()

	if !ok || !r.markClosed() {
		return false
	}
	reg.finish(r)
	return true
}

func (reg *Registry) finish(r *Room) {
	r.release()
	metrics.RecordRoomDestroyed()
	reg.logger.Info("Room destroyed", zap.String("roomID", r.ID))
}

// List returns live rooms sorted by id.
func (reg *Registry) List() []*Room {
	reg.mu.RLock()
	out := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		out = append(out, r)
	}
	reg.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// Close destroys every room and refuses new ones.
func (reg *Registry) Close() {
	reg.mu.Lock()
	reg.closed = true
	ids := make([]string, 0, len(reg.rooms))
	for id := range reg.rooms {
		ids = append(ids, id)
	}
	reg.mu.Unlock()

	for _, id := range ids {
		reg.Destroy(id)
	}
}
