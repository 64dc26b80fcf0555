package ortc

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/mynameaksh/SkillXChange/internals/media"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

var errHandshake = errors.New("ortc: ice/dtls handshake failed")

type Transport struct {
	id     string
	router *Router
	opts   media.TransportOptions
	params media.TransportParams
	logger *zap.Logger

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport

	// ready is closed once DTLS is up; failed once the handshake has failed.
	ready  chan struct{}
	failed chan struct{}
	done   chan struct{}

	mu        sync.Mutex
	connected bool
	closed    bool
	mids      int
	producers map[string]*Producer
	consumers map[string]*Consumer
}

func newTransport(ctx context.Context, r *Router, opts media.TransportOptions) (*Transport, error) {
	gatherer, err := r.api.NewICEGatherer(webrtc.ICEGatherOptions{})
	if err != nil {
		return nil, err
	}
	ice := r.api.NewICETransport(gatherer)
	dtls, err := r.api.NewDTLSTransport(ice, nil)
	if err != nil {
		gatherer.Close()
		return nil, err
	}

	t := &Transport{
		id:        uuid.NewString(),
		router:    r,
		opts:      opts,
		gatherer:  gatherer,
		ice:       ice,
		dtls:      dtls,
		ready:     make(chan struct{}),
		failed:    make(chan struct{}),
		done:      make(chan struct{}),
		producers: make(map[string]*Producer),
		consumers: make(map[string]*Consumer),
	}
	t.logger = r.logger.With(zap.String("transportID", t.id))

	gathered := make(chan struct{})
	var once sync.Once
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			once.Do(func() { close(gathered) })
		}
	})
	if err := gatherer.Gather(); err != nil {
		t.stop()
		return nil, err
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		t.stop()
		return nil, ctx.Err()
	}

	iceParams, err := gatherer.GetLocalParameters()
	if err != nil {
		t.stop()
		return nil, err
	}
	candidates, err := gatherer.GetLocalCandidates()
	if err != nil {
		t.stop()
		return nil, err
	}
	dtlsParams, err := dtls.GetLocalParameters()
	if err != nil {
		t.stop()
		return nil, err
	}
	iceParams.ICELite = true

	t.params = media.TransportParams{
		ID:             t.id,
		IceParameters:  fromICEParameters(iceParams),
		IceCandidates:  fromICECandidates(candidates),
		DtlsParameters: fromDTLSParameters(dtlsParams),
	}
	t.logger.Info("Transport created", zap.Int("candidates", len(candidates)))
	return t, nil
}

func (t *Transport) ID() string                    { return t.id }
func (t *Transport) Params() media.TransportParams { return t.params }

func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Connect validates the remote parameters and starts ICE and DTLS in the
// background. Media operations wait for the handshake to finish.
func (t *Transport) Connect(ctx context.Context, params media.ConnectParams) error {
	dtlsParams, err := toDTLSParameters(params.DtlsParameters)
	if err != nil {
		return err
	}
	if params.IceParameters == nil || params.IceParameters.UsernameFragment == "" || params.IceParameters.Password == "" {
		return fmt.Errorf("%w: ice parameters required", media.ErrBadParameters)
	}
	iceParams := toICEParameters(*params.IceParameters)
	candidates, err := toICECandidates(params.IceCandidates)
	if err != nil {
		return err
	}

	return t.router.worker.do(ctx, "connect_transport", func() error {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.closed {
			return media.ErrClosed
		}
		if t.connected {
			return fmt.Errorf("%w: already connected", media.ErrBadParameters)
		}
		t.connected = true
		go t.handshake(iceParams, candidates, dtlsParams)
		return nil
	})
}

func (t *Transport) handshake(iceParams webrtc.ICEParameters, candidates []webrtc.ICECandidate, dtlsParams webrtc.DTLSParameters) {
	if len(candidates) > 0 {
		if err := t.ice.SetRemoteCandidates(candidates); err != nil {
			t.fail(err)
			return
		}
	}
	role := webrtc.ICERoleControlled
	if err := t.ice.Start(nil, iceParams, &role); err != nil {
		t.fail(err)
		return
	}
	if err := t.dtls.Start(dtlsParams); err != nil {
		t.fail(err)
		return
	}
	close(t.ready)
	t.logger.Info("Transport connected")
}

func (t *Transport) fail(err error) {
	t.logger.Warn("Transport handshake failed", zap.Error(err))
	close(t.failed)
}

// waitReady blocks until DTLS is established on a connected transport.
func (t *Transport) waitReady(ctx context.Context) error {
	if !t.Connected() {
		return media.ErrNotConnected
	}
	return t.waitHandshake(ctx)
}

// waitHandshake also covers transports the client has not connected yet.
func (t *Transport) waitHandshake(ctx context.Context) error {
	select {
	case <-t.ready:
		return nil
	case <-t.failed:
		return errHandshake
	case <-t.done:
		return media.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) Produce(ctx context.Context, opts media.ProduceOptions) (media.Producer, error) {
	if err := media.ValidateProduce(opts.Kind, opts.RtpParameters, t.router.caps); err != nil {
		return nil, err
	}
	if len(opts.RtpParameters.Encodings) == 0 || opts.RtpParameters.Encodings[0].Ssrc == 0 {
		return nil, fmt.Errorf("%w: encoding ssrc required", media.ErrBadParameters)
	}
	if t.Closed() {
		return nil, media.ErrClosed
	}
	if err := t.waitReady(ctx); err != nil {
		return nil, err
	}
	return create(ctx, t.router.worker, "produce", func() (*Producer, error) {
		return newProducer(t, opts)
	})
}

func (t *Transport) Consume(ctx context.Context, opts media.ConsumeOptions) (media.Consumer, error) {
	if t.Closed() {
		return nil, media.ErrClosed
	}
	return create(ctx, t.router.worker, "consume", func() (*Consumer, error) {
		p, ok := t.router.producer(opts.ProducerID)
		if !ok {
			return nil, media.ErrUnknownProducer
		}
		if !media.CanConsume(p.params, opts.RtpCapabilities) {
			return nil, media.ErrCannotConsume
		}
		return newConsumer(t, p, opts.Paused)
	})
}

func (t *Transport) addProducer(p *Producer) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return media.ErrClosed
	}
	t.producers[p.id] = p
	return nil
}

func (t *Transport) addConsumer(c *Consumer) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return media.ErrClosed
	}
	t.consumers[c.id] = c
	return nil
}

func (t *Transport) nextMid() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	mid := strconv.Itoa(t.mids)
	t.mids++
	return mid
}

func (t *Transport) removeProducer(id string) {
	t.mu.Lock()
	delete(t.producers, id)
	t.mu.Unlock()
}

func (t *Transport) removeConsumer(id string) {
	t.mu.Lock()
	delete(t.consumers, id)
	t.mu.Unlock()
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	producers := make([]*Producer, 0, len(t.producers))
	for _, p := range t.producers {
		producers = append(producers, p)
	}
	consumers := make([]*Consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	t.mu.Unlock()

	for _, p := range producers {
		p.Close()
	}
	for _, c := range consumers {
		c.Close()
	}
	t.stop()
	t.router.removeTransport(t.id)
	t.logger.Info("Transport closed")
	return nil
}

func (t *Transport) stop() {
	if err := t.dtls.Stop(); err != nil {
		t.logger.Debug("DTLS stop", zap.Error(err))
	}
	if err := t.ice.Stop(); err != nil {
		t.logger.Debug("ICE stop", zap.Error(err))
	}
	if err := t.gatherer.Close(); err != nil {
		t.logger.Debug("Gatherer close", zap.Error(err))
	}
}
