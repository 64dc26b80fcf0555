package worker

import (
	"context"
	"errors"
	"runtime"
	"testing"

	"github.com/mynameaksh/SkillXChange/internals/media/mediatest"
	"github.com/mynameaksh/SkillXChange/internals/sfuerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLeastLoadedPick(t *testing.T) {
	tests := []struct {
		name  string
		loads []Load
		want  int
	}{
		{"empty", nil, -1},
		{"tie goes to lowest index", []Load{{0, 1, true}, {1, 1, true}}, 0},
		{"fewest routers", []Load{{0, 3, true}, {1, 1, true}, {2, 2, true}}, 1},
		{"skips full workers", []Load{{0, 0, false}, {1, 5, true}}, 1},
		{"none with headroom", []Load{{0, 2, false}, {1, 2, false}}, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LeastLoaded{}.Pick(tt.loads))
		})
	}
}

func TestRoundRobinPick(t *testing.T) {
	rr := &RoundRobin{}
	loads := []Load{{0, 0, true}, {1, 0, false}, {2, 0, true}}

	assert.Equal(t, 0, rr.Pick(loads))
	assert.Equal(t, 2, rr.Pick(loads))
	assert.Equal(t, 0, rr.Pick(loads))

	loads[0].Headroom, loads[2].Headroom = false, false
	assert.Equal(t, -1, rr.Pick(loads))
}

func TestNewStrategy(t *testing.T) {
	s, err := NewStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyLeastLoaded, s.Name())

	s, err = NewStrategy(StrategyRoundRobin)
	require.NoError(t, err)
	assert.Equal(t, StrategyRoundRobin, s.Name())

	_, err = NewStrategy("random")
	assert.Error(t, err)
}

func TestSizeIsBoundedByCPUs(t *testing.T) {
	assert.Equal(t, 1, Size(1))
	assert.LessOrEqual(t, Size(64), runtime.NumCPU())
	assert.GreaterOrEqual(t, Size(0), 1)
}

func TestPoolSpreadsRoutersByLoad(t *testing.T) {
	if runtime.NumCPU() < 2 {
		t.Skip("needs at least two CPUs for two workers")
	}
	engine := mediatest.NewEngine()
	pool, err := NewPool(context.Background(), engine, Options{MaxWorkers: 2}, zap.NewNop())
	require.NoError(t, err)
	defer pool.Close()
	require.Equal(t, 2, engine.WorkerCount())

	w1, h1, err := pool.Acquire()
	require.NoError(t, err)
	w2, h2, err := pool.Acquire()
	require.NoError(t, err)
	assert.NotEqual(t, w1.ID(), w2.ID())

	h1.Release()
	h1.Release()
	w3, _, err := pool.Acquire()
	require.NoError(t, err)
	assert.Equal(t, w1.ID(), w3.ID())

	h2.Release()
	stats := pool.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, 1, stats[0].Routers)
	assert.Equal(t, 0, stats[1].Routers)
}

func TestPoolUnboundedNeverExhausts(t *testing.T) {
	pool, err := NewPool(context.Background(), mediatest.NewEngine(), Options{MaxWorkers: 1}, zap.NewNop())
	require.NoError(t, err)
	defer pool.Close()

	for i := 0; i < 100; i++ {
		_, _, err := pool.Acquire()
		require.NoError(t, err)
	}
	assert.Equal(t, 100, pool.Stats()[0].Routers)
}

func TestPoolCapacityExhausted(t *testing.T) {
	pool, err := NewPool(context.Background(), mediatest.NewEngine(), Options{MaxWorkers: 1, MaxRoutersPerWorker: 1}, zap.NewNop())
	require.NoError(t, err)
	defer pool.Close()

	_, h, err := pool.Acquire()
	require.NoError(t, err)

	_, _, err = pool.Acquire()
	assert.True(t, sfuerr.Is(err, sfuerr.CodeResourceExhausted))

	h.Release()
	_, _, err = pool.Acquire()
	assert.NoError(t, err)
}

func TestPoolStartupFailure(t *testing.T) {
	engine := mediatest.NewEngine()
	engine.FailWorker = errors.New("no processes left")

	_, err := NewPool(context.Background(), engine, Options{MaxWorkers: 2}, zap.NewNop())
	assert.ErrorContains(t, err, "no processes left")
}

func TestClosedPoolRefusesAcquire(t *testing.T) {
	pool, err := NewPool(context.Background(), mediatest.NewEngine(), Options{MaxWorkers: 1}, zap.NewNop())
	require.NoError(t, err)
	pool.Close()
	pool.Close()

	_, _, err = pool.Acquire()
	assert.True(t, sfuerr.Is(err, sfuerr.CodeResourceExhausted))
}
