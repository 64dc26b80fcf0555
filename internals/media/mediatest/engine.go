// Package mediatest provides an in-process media engine with deterministic
// behaviour, counters and fault hooks for exercising orchestration code.
package mediatest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/mynameaksh/SkillXChange/internals/media"
)

var ErrHandshake = errors.New("mediatest: dtls handshake rejected")

// Engine implements media.Engine. All objects share the engine lock.
type Engine struct {
	mu sync.Mutex

	// Fault injection. Hooks run without the engine lock held. After hooks
	// only run when the object was created.
	FailWorker    error
	FailConnect   bool
	BeforeProduce func()
	BeforeConsume func()
	BeforeCreate  func()
	AfterProduce  func()
	AfterConsume  func()
	AfterCreate   func()
	AfterResume   func()

	workers          []*Worker
	routersCreated   int
	routersClosed    int
	transportsClosed int
	consumersResumed int
	consumersCreated int
	consumersClosed  int
	producersCreated int
	producersClosed  int
}

func NewEngine() *Engine {
	return &Engine{}
}

func (e *Engine) NewWorker(ctx context.Context, index int) (media.Worker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailWorker != nil {
		return nil, e.FailWorker
	}
	w := &Worker{id: "worker-" + strconv.Itoa(index), engine: e}
	e.workers = append(e.workers, w)
	return w, nil
}

func (e *Engine) RoutersCreated() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.routersCreated
}

func (e *Engine) RoutersClosed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.routersClosed
}

func (e *Engine) TransportsClosed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transportsClosed
}

func (e *Engine) ConsumersResumed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.consumersResumed
}

func (e *Engine) ProducersClosed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.producersClosed
}

// OpenProducers is the number of producers created and not yet closed.
func (e *Engine) OpenProducers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.producersCreated - e.producersClosed
}

func (e *Engine) OpenConsumers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.consumersCreated - e.consumersClosed
}

func (e *Engine) WorkerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.workers)
}

type Worker struct {
	id     string
	engine *Engine
	closed bool
}

func (w *Worker) ID() string { return w.id }

func (w *Worker) CreateRouter(ctx context.Context, codecs []media.RtpCodecCapability) (media.Router, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.engine.mu.Lock()
	defer w.engine.mu.Unlock()
	if w.closed {
		return nil, media.ErrClosed
	}
	w.engine.routersCreated++
	return &Router{
		id:        uuid.NewString(),
		worker:    w,
		engine:    w.engine,
		caps:      media.RtpCapabilities{Codecs: append([]media.RtpCodecCapability(nil), codecs...)},
		producers: make(map[string]*Producer),
	}, nil
}

func (w *Worker) Close() error {
	w.engine.mu.Lock()
	defer w.engine.mu.Unlock()
	w.closed = true
	return nil
}

type Router struct {
	id         string
	worker     *Worker
	engine     *Engine
	caps       media.RtpCapabilities
	producers  map[string]*Producer
	transports []*Transport
	closed     bool
}

func (r *Router) ID() string                          { return r.id }
func (r *Router) WorkerID() string                    { return r.worker.id }
func (r *Router) Capabilities() media.RtpCapabilities { return r.caps }

func (r *Router) CanConsume(producerID string, caps media.RtpCapabilities) bool {
	r.engine.mu.Lock()
	defer r.engine.mu.Unlock()
	p, ok := r.producers[producerID]
	if !ok || p.closed {
		return false
	}
	return media.CanConsume(p.params, caps)
}

func (r *Router) CreateTransport(ctx context.Context, opts media.TransportOptions) (media.Transport, error) {
	if hook := r.engine.BeforeCreate; hook != nil {
		hook()
	}
	t, err := r.createTransport(ctx, opts)
	if hook := r.engine.AfterCreate; hook != nil && err == nil {
		hook()
	}
	return t, err
}

func (r *Router) createTransport(ctx context.Context, opts media.TransportOptions) (media.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.engine.mu.Lock()
	defer r.engine.mu.Unlock()
	if r.closed {
		return nil, media.ErrClosed
	}
	id := uuid.NewString()
	t := &Transport{
		id:     id,
		router: r,
		params: media.TransportParams{
			ID:            id,
			IceParameters: media.IceParameters{UsernameFragment: id[:8], Password: id, IceLite: true},
			IceCandidates: []media.IceCandidate{{
				Foundation: "udpcandidate", Priority: 1076302079, IP: opts.AnnouncedIP,
				Protocol: "udp", Port: 40000, Type: "host",
			}},
			DtlsParameters: media.DtlsParameters{
				Role:         media.DtlsRoleAuto,
				Fingerprints: []media.DtlsFingerprint{{Algorithm: "sha-256", Value: "AA:BB"}},
			},
		},
		consumers: make(map[string]*Consumer),
		producers: make(map[string]*Producer),
	}
	r.transports = append(r.transports, t)
	return t, nil
}

func (r *Router) Close() error {
	r.engine.mu.Lock()
	defer r.engine.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.engine.routersClosed++
	for _, t := range r.transports {
		t.closeLocked()
	}
	return nil
}

type Transport struct {
	id        string
	router    *Router
	params    media.TransportParams
	connected bool
	closed    bool
	producers map[string]*Producer
	consumers map[string]*Consumer
	mid       int
}

func (t *Transport) ID() string                    { return t.id }
func (t *Transport) Params() media.TransportParams { return t.params }

func (t *Transport) Connected() bool {
	t.router.engine.mu.Lock()
	defer t.router.engine.mu.Unlock()
	return t.connected
}

func (t *Transport) Closed() bool {
	t.router.engine.mu.Lock()
	defer t.router.engine.mu.Unlock()
	return t.closed
}

func (t *Transport) Connect(ctx context.Context, params media.ConnectParams) error {
	e := t.router.engine
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case t.closed:
		return media.ErrClosed
	case t.connected:
		return fmt.Errorf("%w: already connected", media.ErrBadParameters)
	case len(params.DtlsParameters.Fingerprints) == 0:
		return fmt.Errorf("%w: no dtls fingerprints", media.ErrBadParameters)
	case e.FailConnect:
		return ErrHandshake
	}
	t.connected = true
	return nil
}

func (t *Transport) Produce(ctx context.Context, opts media.ProduceOptions) (media.Producer, error) {
	e := t.router.engine
	if hook := e.BeforeProduce; hook != nil {
		hook()
	}
	p, err := t.produce(ctx, opts)
	if hook := e.AfterProduce; hook != nil && err == nil {
		hook()
	}
	return p, err
}

func (t *Transport) produce(ctx context.Context, opts media.ProduceOptions) (media.Producer, error) {
	e := t.router.engine
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if t.closed {
		return nil, media.ErrClosed
	}
	if !t.connected {
		return nil, media.ErrNotConnected
	}
	if err := media.ValidateProduce(opts.Kind, opts.RtpParameters, t.router.caps); err != nil {
		return nil, err
	}
	p := &Producer{
		id:        uuid.NewString(),
		kind:      opts.Kind,
		params:    opts.RtpParameters,
		appData:   opts.AppData,
		transport: t,
		consumers: make(map[string]*Consumer),
	}
	t.producers[p.id] = p
	t.router.producers[p.id] = p
	e.producersCreated++
	return p, nil
}

func (t *Transport) Consume(ctx context.Context, opts media.ConsumeOptions) (media.Consumer, error) {
	e := t.router.engine
	if hook := e.BeforeConsume; hook != nil {
		hook()
	}
	c, err := t.consume(ctx, opts)
	if hook := e.AfterConsume; hook != nil && err == nil {
		hook()
	}
	return c, err
}

func (t *Transport) consume(ctx context.Context, opts media.ConsumeOptions) (media.Consumer, error) {
	e := t.router.engine
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if t.closed {
		return nil, media.ErrClosed
	}
	p, ok := t.router.producers[opts.ProducerID]
	if !ok || p.closed {
		return nil, media.ErrUnknownProducer
	}
	if !media.CanConsume(p.params, opts.RtpCapabilities) {
		return nil, media.ErrCannotConsume
	}
	params, err := media.ConsumerRtpParameters(t.router.caps, p.params, uint32(1000+t.mid), strconv.Itoa(t.mid))
	if err != nil {
		return nil, err
	}
	t.mid++
	c := &Consumer{
		id:        uuid.NewString(),
		producer:  p,
		transport: t,
		params:    params,
		paused:    opts.Paused,
	}
	t.consumers[c.id] = c
	p.consumers[c.id] = c
	e.consumersCreated++
	return c, nil
}

func (t *Transport) Close() error {
	t.router.engine.mu.Lock()
	defer t.router.engine.mu.Unlock()
	t.closeLocked()
	return nil
}

func (t *Transport) closeLocked() {
	if t.closed {
		return
	}
	t.closed = true
	t.router.engine.transportsClosed++
	for _, p := range t.producers {
		p.closeLocked()
	}
	for _, c := range t.consumers {
		c.closeLocked()
	}
}

type Producer struct {
	id        string
	kind      media.Kind
	params    media.RtpParameters
	appData   map[string]interface{}
	transport *Transport
	consumers map[string]*Consumer
	closed    bool
}

func (p *Producer) ID() string                          { return p.id }
func (p *Producer) Kind() media.Kind                    { return p.kind }
func (p *Producer) RtpParameters() media.RtpParameters  { return p.params }
func (p *Producer) AppData() map[string]interface{}     { return p.appData }

func (p *Producer) Closed() bool {
	p.transport.router.engine.mu.Lock()
	defer p.transport.router.engine.mu.Unlock()
	return p.closed
}

func (p *Producer) Close() error {
	p.transport.router.engine.mu.Lock()
	defer p.transport.router.engine.mu.Unlock()
	p.closeLocked()
	return nil
}

func (p *Producer) closeLocked() {
	if p.closed {
		return
	}
	p.closed = true
	p.transport.router.engine.producersClosed++
	delete(p.transport.router.producers, p.id)
	for _, c := range p.consumers {
		c.closeLocked()
	}
}

type Consumer struct {
	id        string
	producer  *Producer
	transport *Transport
	params    media.RtpParameters
	paused    bool
	closed    bool
}

func (c *Consumer) ID() string                         { return c.id }
func (c *Consumer) ProducerID() string                 { return c.producer.id }
func (c *Consumer) Kind() media.Kind                   { return c.producer.kind }
func (c *Consumer) RtpParameters() media.RtpParameters { return c.params }

func (c *Consumer) Paused() bool {
	c.transport.router.engine.mu.Lock()
	defer c.transport.router.engine.mu.Unlock()
	return c.paused
}

func (c *Consumer) Closed() bool {
	c.transport.router.engine.mu.Lock()
	defer c.transport.router.engine.mu.Unlock()
	return c.closed
}

func (c *Consumer) Pause(ctx context.Context) error {
	c.transport.router.engine.mu.Lock()
	defer c.transport.router.engine.mu.Unlock()
	if c.closed {
		return media.ErrClosed
	}
	c.paused = true
	return nil
}

func (c *Consumer) Resume(ctx context.Context) error {
	e := c.transport.router.engine
	if err := c.resume(); err != nil {
		return err
	}
	if hook := e.AfterResume; hook != nil {
		hook()
	}
	return nil
}

func (c *Consumer) resume() error {
	e := c.transport.router.engine
	e.mu.Lock()
	defer e.mu.Unlock()
	if c.closed {
		return media.ErrClosed
	}
	if c.paused {
		c.paused = false
		e.consumersResumed++
	}
	return nil
}

func (c *Consumer) Close() error {
	c.transport.router.engine.mu.Lock()
	defer c.transport.router.engine.mu.Unlock()
	c.closeLocked()
	return nil
}

func (c *Consumer) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	c.transport.router.engine.consumersClosed++
	delete(c.producer.consumers, c.id)
}
