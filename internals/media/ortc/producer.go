package ortc

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mynameaksh/SkillXChange/internals/media"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const rembInterval = 5 * time.Second

type Producer struct {
	id        string
	kind      media.Kind
	params    media.RtpParameters
	appData   map[string]interface{}
	ssrc      uint32
	transport *Transport
	receiver  *webrtc.RTPReceiver
	stats     statsRecorder
	logger    *zap.Logger
	done      chan struct{}

	mu        sync.RWMutex
	consumers map[string]*Consumer
	closed    bool
}

func newProducer(t *Transport, opts media.ProduceOptions) (*Producer, error) {
	receiver, err := t.router.api.NewRTPReceiver(codecType(opts.Kind), t.dtls)
	if err != nil {
		return nil, err
	}

	enc := opts.RtpParameters.Encodings[0]
	codec := opts.RtpParameters.Codecs[0]
	err = receiver.Receive(webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				RID:         enc.Rid,
				SSRC:        webrtc.SSRC(enc.Ssrc),
				PayloadType: webrtc.PayloadType(codec.PayloadType),
			},
		}},
	})
	if err != nil {
		receiver.Stop()
		return nil, err
	}

	p := &Producer{
		id:        uuid.NewString(),
		kind:      opts.Kind,
		params:    opts.RtpParameters,
		appData:   opts.AppData,
		ssrc:      enc.Ssrc,
		transport: t,
		receiver:  receiver,
		done:      make(chan struct{}),
		consumers: make(map[string]*Consumer),
	}
	p.logger = t.logger.With(zap.String("producerID", p.id), zap.String("kind", string(p.kind)))

	if err := t.addProducer(p); err != nil {
		receiver.Stop()
		return nil, err
	}
	t.router.mu.Lock()
	t.router.producers[p.id] = p
	t.router.mu.Unlock()

	go p.forward()
	go p.readRTCP()
	if t.opts.MaxIncomingBitrate > 0 && p.kind == media.KindVideo {
		go p.capBitrate(t.opts.MaxIncomingBitrate)
	}
	p.logger.Info("Producer created", zap.Uint32("ssrc", p.ssrc))
	return p, nil
}

func (p *Producer) ID() string                         { return p.id }
func (p *Producer) Kind() media.Kind                   { return p.kind }
func (p *Producer) RtpParameters() media.RtpParameters { return p.params }
func (p *Producer) AppData() map[string]interface{}    { return p.appData }
func (p *Producer) Stats() MediaStats                  { return p.stats.snapshot() }

func (p *Producer) Closed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// forward fans every received packet out to the attached consumers.
func (p *Producer) forward() {
	track := p.receiver.Track()
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		p.stats.received(pkt)

		p.mu.RLock()
		for _, c := range p.consumers {
			c.enqueue(pkt)
		}
		p.mu.RUnlock()
	}
}

func (p *Producer) readRTCP() {
	for {
		pkts, _, err := p.receiver.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			p.stats.rtcp(pkt, p.logger)
		}
	}
}

// capBitrate keeps announcing the incoming bitrate ceiling to the sender.
func (p *Producer) capBitrate(max uint32) {
	ticker := time.NewTicker(rembInterval)
	defer ticker.Stop()
	for {
		remb := &rtcp.ReceiverEstimatedMaximumBitrate{Bitrate: float32(max), SSRCs: []uint32{p.ssrc}}
		if _, err := p.transport.dtls.WriteRTCP([]rtcp.Packet{remb}); err != nil {
			p.logger.Debug("Failed to send REMB", zap.Error(err))
		}
		select {
		case <-ticker.C:
		case <-p.done:
			return
		}
	}
}

// RequestKeyFrame asks the sending client for a new key frame.
func (p *Producer) RequestKeyFrame() {
	if p.kind != media.KindVideo || p.Closed() {
		return
	}
	pli := &rtcp.PictureLossIndication{MediaSSRC: p.ssrc}
	if _, err := p.transport.dtls.WriteRTCP([]rtcp.Packet{pli}); err != nil {
		p.logger.Debug("Failed to send PLI", zap.Error(err))
	}
}

func (p *Producer) attach(c *Consumer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return media.ErrClosed
	}
	p.consumers[c.id] = c
	return nil
}

func (p *Producer) detach(id string) {
	p.mu.Lock()
	delete(p.consumers, id)
	p.mu.Unlock()
}

// Close stops the receiver and closes every consumer of this producer.
func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	consumers := make([]*Consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		consumers = append(consumers, c)
	}
	p.mu.Unlock()

	for _, c := range consumers {
		c.Close()
	}
	if err := p.receiver.Stop(); err != nil {
		p.logger.Debug("Receiver stop", zap.Error(err))
	}

	r := p.transport.router
	r.mu.Lock()
	delete(r.producers, p.id)
	r.mu.Unlock()
	p.transport.removeProducer(p.id)

	s := p.stats.snapshot()
	p.logger.Info("Producer closed",
		zap.Uint64("packetsReceived", s.PacketsReceived),
		zap.Uint64("bytesReceived", s.BytesReceived),
		zap.Uint64("packetsLost", s.PacketsLost),
	)
	return nil
}
