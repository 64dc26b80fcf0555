// Package ortc implements the media engine on pion's ORTC objects: every
// transport is an ICE-lite gatherer/transport pair with a DTLS transport on
// top, producers are RTP receivers and consumers are RTP senders fed by the
// producer's forwarding loop.
package ortc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mynameaksh/SkillXChange/internals/media"
	appmetrics "github.com/mynameaksh/SkillXChange/internals/metrics"
	"go.uber.org/zap"
)

type Options struct {
	UDPPortMin uint16
	UDPPortMax uint16
	// ListenIP restricts gathering to one local address; "0.0.0.0" gathers on all.
	ListenIP    string
	AnnouncedIP string
}

type Engine struct {
	opts   Options
	logger *zap.Logger
}

func NewEngine(opts Options, logger *zap.Logger) *Engine {
	return &Engine{opts: opts, logger: logger}
}

func (e *Engine) NewWorker(ctx context.Context, index int) (media.Worker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w := &Worker{
		id:       fmt.Sprintf("worker-%d", index),
		engine:   e,
		requests: make(chan func(), 64),
		done:     make(chan struct{}),
		logger:   e.logger.With(zap.String("workerID", fmt.Sprintf("worker-%d", index))),
	}
	go w.run()
	w.logger.Info("Media worker started")
	return w, nil
}

// Worker serializes control requests for the routers it hosts on its own
// goroutine, so requests to different workers proceed independently.
type Worker struct {
	id       string
	engine   *Engine
	requests chan func()
	done     chan struct{}
	once     sync.Once
	logger   *zap.Logger
}

func (w *Worker) ID() string { return w.id }

func (w *Worker) run() {
	for {
		select {
		case fn := <-w.requests:
			fn()
		case <-w.done:
			return
		}
	}
}

func (w *Worker) submit(ctx context.Context, fn func()) error {
	select {
	case <-w.done:
		return media.ErrClosed
	default:
	}
	select {
	case w.requests <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.done:
		return media.ErrClosed
	}
}

// do runs fn on the worker goroutine and waits for it within ctx.
func (w *Worker) do(ctx context.Context, op string, fn func() error) error {
	start := time.Now()
	defer appmetrics.RecordEngineLatency(op, start)

	errCh := make(chan error, 1)
	if err := w.submit(ctx, func() { errCh <- fn() }); err != nil {
		return err
	}
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-w.done:
		return media.ErrClosed
	}
}

type closer interface{ Close() error }

// create runs a constructor on the worker. When the caller gives up before
// the constructor finishes, the late result is closed instead of leaking.
func create[T closer](ctx context.Context, w *Worker, op string, fn func() (T, error)) (T, error) {
	start := time.Now()
	defer appmetrics.RecordEngineLatency(op, start)

	type result struct {
		v   T
		err error
	}
	var zero T
	resCh := make(chan result, 1)
	if err := w.submit(ctx, func() {
		v, err := fn()
		resCh <- result{v, err}
	}); err != nil {
		return zero, err
	}
	select {
	case res := <-resCh:
		return res.v, res.err
	case <-ctx.Done():
		go func() {
			if res := <-resCh; res.err == nil {
				res.v.Close()
			}
		}()
		return zero, ctx.Err()
	case <-w.done:
		return zero, media.ErrClosed
	}
}

func (w *Worker) CreateRouter(ctx context.Context, codecs []media.RtpCodecCapability) (media.Router, error) {
	return create(ctx, w, "create_router", func() (*Router, error) {
		return newRouter(w, codecs)
	})
}

func (w *Worker) Close() error {
	w.once.Do(func() {
		close(w.done)
		w.logger.Info("Media worker stopped")
	})
	return nil
}
