package ortc

import (
	"context"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/mynameaksh/SkillXChange/internals/media"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Router owns one pion API (media engine, interceptors, settings) built from
// the room codec profile, plus the producer index used to route consumers.
type Router struct {
	id     string
	worker *Worker
	api    *webrtc.API
	caps   media.RtpCapabilities
	logger *zap.Logger

	mu         sync.RWMutex
	producers  map[string]*Producer
	transports map[string]*Transport
	closed     bool
}

func newRouter(w *Worker, codecs []media.RtpCodecCapability) (*Router, error) {
	api, err := buildAPI(w.engine.opts, codecs)
	if err != nil {
		return nil, err
	}
	r := &Router{
		id:         uuid.NewString(),
		worker:     w,
		api:        api,
		caps:       media.RtpCapabilities{Codecs: append([]media.RtpCodecCapability(nil), codecs...)},
		producers:  make(map[string]*Producer),
		transports: make(map[string]*Transport),
	}
	r.logger = w.logger.With(zap.String("routerID", r.id))
	r.logger.Info("Router created", zap.Int("codecs", len(codecs)))
	return r, nil
}

func buildAPI(opts Options, codecs []media.RtpCodecCapability) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	for _, c := range codecs {
		kind := c.Kind
		if kind == "" {
			kind = media.KindOfMime(c.MimeType)
		}
		if !kind.Valid() {
			return nil, media.ErrBadParameters
		}
		if err := m.RegisterCodec(toCodecParameters(c), codecType(kind)); err != nil {
			return nil, err
		}
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, err
	}

	s := webrtc.SettingEngine{}
	s.SetLite(true)
	s.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	if opts.UDPPortMin > 0 && opts.UDPPortMax >= opts.UDPPortMin {
		if err := s.SetEphemeralUDPPortRange(opts.UDPPortMin, opts.UDPPortMax); err != nil {
			return nil, err
		}
	}
	if opts.AnnouncedIP != "" {
		s.SetNAT1To1IPs([]string{opts.AnnouncedIP}, webrtc.ICECandidateTypeHost)
	}
	if listen := net.ParseIP(opts.ListenIP); listen != nil && !listen.IsUnspecified() {
		s.SetIPFilter(func(ip net.IP) bool { return ip.Equal(listen) })
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
		webrtc.WithSettingEngine(s),
	), nil
}

func (r *Router) ID() string                          { return r.id }
func (r *Router) WorkerID() string                    { return r.worker.id }
func (r *Router) Capabilities() media.RtpCapabilities { return r.caps }

func (r *Router) CanConsume(producerID string, caps media.RtpCapabilities) bool {
	p, ok := r.producer(producerID)
	if !ok {
		return false
	}
	return media.CanConsume(p.params, caps)
}

func (r *Router) producer(id string) (*Producer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[id]
	return p, ok
}

func (r *Router) CreateTransport(ctx context.Context, opts media.TransportOptions) (media.Transport, error) {
	return create(ctx, r.worker, "create_transport", func() (*Transport, error) {
		r.mu.RLock()
		closed := r.closed
		r.mu.RUnlock()
		if closed {
			return nil, media.ErrClosed
		}
		t, err := newTransport(ctx, r, opts)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			go t.Close()
			return nil, media.ErrClosed
		}
		r.transports[t.id] = t
		return t, nil
	})
}

func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	transports := make([]*Transport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.mu.Unlock()

	for _, t := range transports {
		t.Close()
	}
	r.logger.Info("Router closed", zap.Int("transports", len(transports)))
	return nil
}

func (r *Router) removeTransport(id string) {
	r.mu.Lock()
	delete(r.transports, id)
	r.mu.Unlock()
}
