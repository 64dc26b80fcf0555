package worker

import (
	"fmt"
	"sync"
)

// Load is what a Strategy sees of a worker when choosing.
type Load struct {
	Index   int
	Routers int
	// Headroom is false when the worker is at its router limit.
	Headroom bool
}

// Strategy picks the worker for a new router. It returns -1 when no worker
// has headroom.
type Strategy interface {
	Name() string
	Pick(loads []Load) int
}

const (
	StrategyLeastLoaded = "least-loaded"
	StrategyRoundRobin  = "round-robin"
)

func NewStrategy(name string) (Strategy, error) {
	switch name {
	case "", StrategyLeastLoaded:
		return LeastLoaded{}, nil
	case StrategyRoundRobin:
		return &RoundRobin{}, nil
	default:
		return nil, fmt.Errorf("unknown worker strategy %q", name)
	}
}

// LeastLoaded picks the worker with the fewest routers, lowest index first.
type LeastLoaded struct{}

func (LeastLoaded) Name() string { return StrategyLeastLoaded }

func (LeastLoaded) Pick(loads []Load) int {
	best := -1
	for i, l := range loads {
		if !l.Headroom {
			continue
		}
		if best == -1 || l.Routers < loads[best].Routers {
			best = i
		}
	}
	return best
}

// RoundRobin cycles through the workers, skipping those without headroom.
type RoundRobin struct {
	mu   sync.Mutex
	next int
}

func (r *RoundRobin) Name() string { return StrategyRoundRobin }

func (r *RoundRobin) Pick(loads []Load) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(loads)
	for i := 0; i < n; i++ {
		idx := (r.next + i) % n
		if loads[idx].Headroom {
			r.next = (idx + 1) % n
			return idx
		}
	}
	return -1
}
