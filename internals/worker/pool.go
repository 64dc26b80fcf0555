// Package worker owns the fixed set of media workers and assigns one to every
// new room router.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/mynameaksh/SkillXChange/internals/media"
	"github.com/mynameaksh/SkillXChange/internals/metrics"
	"github.com/mynameaksh/SkillXChange/internals/sfuerr"
	"go.uber.org/zap"
)

type Options struct {
	// MaxWorkers caps the pool; the actual size is min(MaxWorkers, NumCPU).
	MaxWorkers int
	// MaxRoutersPerWorker of 0 means unbounded.
	MaxRoutersPerWorker int
	Strategy            Strategy
}

type slot struct {
	worker  media.Worker
	routers int
}

type Pool struct {
	opts   Options
	logger *zap.Logger

	mu     sync.Mutex
	slots  []*slot
	closed bool
}

// Handle binds one router to a worker. Release gives the capacity back.
type Handle struct {
	pool  *Pool
	index int
	once  sync.Once
}

func Size(maxWorkers int) int {
	n := runtime.NumCPU()
	if maxWorkers > 0 && maxWorkers < n {
		n = maxWorkers
	}
	if n < 1 {
		n = 1
	}
	return n
}

// NewPool starts every worker up front and fails if any of them cannot start.
func NewPool(ctx context.Context, engine media.Engine, opts Options, logger *zap.Logger) (*Pool, error) {
	if opts.Strategy == nil {
		opts.Strategy = LeastLoaded{}
	}
	p := &Pool{opts: opts, logger: logger}

	n := Size(opts.MaxWorkers)
	for i := 0; i < n; i++ {
		w, err := engine.NewWorker(ctx, i)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to start media worker %d: %w", i, err)
		}
		p.slots = append(p.slots, &slot{worker: w})
		metrics.WorkerRouters.WithLabelValues(w.ID()).Set(0)
	}

	logger.Info("Media worker pool started",
		zap.Int("workers", n),
		zap.String("strategy", opts.Strategy.Name()),
		zap.Int("maxRoutersPerWorker", opts.MaxRoutersPerWorker),
	)
	return p, nil
}

// Acquire selects a worker for a new router and counts it against the
// worker's load.
func (p *Pool) Acquire() (media.Worker, *Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || len(p.slots) == 0 {
		return nil, nil, sfuerr.New(sfuerr.CodeResourceExhausted, "worker pool is closed")
	}

	loads := make([]Load, len(p.slots))
	for i, s := range p.slots {
		loads[i] = Load{
			Index:    i,
			Routers:  s.routers,
			Headroom: p.opts.MaxRoutersPerWorker <= 0 || s.routers < p.opts.MaxRoutersPerWorker,
		}
	}
	idx := p.opts.Strategy.Pick(loads)
	if idx < 0 || idx >= len(p.slots) {
		return nil, nil, sfuerr.New(sfuerr.CodeResourceExhausted, "all media workers are at capacity")
	}

	s := p.slots[idx]
	s.routers++
	metrics.WorkerRouters.WithLabelValues(s.worker.ID()).Set(float64(s.routers))
	return s.worker, &Handle{pool: p, index: idx}, nil
}

func (h *Handle) Release() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		p := h.pool
		p.mu.Lock()
		defer p.mu.Unlock()
		if h.index >= len(p.slots) {
			return
		}
		s := p.slots[h.index]
		if s.routers > 0 {
			s.routers--
		}
		metrics.WorkerRouters.WithLabelValues(s.worker.ID()).Set(float64(s.routers))
	})
}

type WorkerStats struct {
	ID      string `json:"id"`
	Routers int    `json:"routers"`
}

func (p *Pool) Stats() []WorkerStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]WorkerStats, 0, len(p.slots))
	for _, s := range p.slots {
		out = append(out, WorkerStats{ID: s.worker.ID(), Routers: s.routers})
	}
	return out
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}

func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	slots := p.slots
	p.mu.Unlock()

	for _, s := range slots {
		if err := s.worker.Close(); err != nil {
			p.logger.Warn("Failed to close media worker", zap.String("workerID", s.worker.ID()), zap.Error(err))
		}
	}
}
