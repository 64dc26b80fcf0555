package ortc

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/mynameaksh/SkillXChange/internals/media"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const consumerQueueSize = 512

type Consumer struct {
	id        string
	producer  *Producer
	transport *Transport
	params    media.RtpParameters
	track     *webrtc.TrackLocalStaticRTP
	sender    *webrtc.RTPSender
	queue     chan *rtp.Packet
	done      chan struct{}
	stats     statsRecorder
	logger    *zap.Logger

	mu     sync.RWMutex
	paused bool
	closed bool
}

func newConsumer(t *Transport, p *Producer, paused bool) (*Consumer, error) {
	id := uuid.NewString()
	codec, err := media.ConsumerRtpParameters(t.router.caps, p.params, 0, "")
	if err != nil {
		return nil, err
	}
	track, err := webrtc.NewTrackLocalStaticRTP(toCodecCapability(codec.Codecs[0]), id, p.id)
	if err != nil {
		return nil, err
	}
	sender, err := t.router.api.NewRTPSender(track, t.dtls)
	if err != nil {
		return nil, err
	}

	encodings := sender.GetParameters().Encodings
	if len(encodings) == 0 {
		sender.Stop()
		return nil, media.ErrCannotConsume
	}
	ssrc := uint32(encodings[0].SSRC)

	params, err := media.ConsumerRtpParameters(t.router.caps, p.params, ssrc, t.nextMid())
	if err != nil {
		sender.Stop()
		return nil, err
	}

	c := &Consumer{
		id:        id,
		producer:  p,
		transport: t,
		params:    params,
		track:     track,
		sender:    sender,
		queue:     make(chan *rtp.Packet, consumerQueueSize),
		done:      make(chan struct{}),
		paused:    paused,
	}
	c.logger = t.logger.With(zap.String("consumerID", id), zap.String("producerID", p.id))

	if err := t.addConsumer(c); err != nil {
		sender.Stop()
		return nil, err
	}
	if err := p.attach(c); err != nil {
		t.removeConsumer(id)
		sender.Stop()
		return nil, err
	}

	// Send blocks on SRTP setup; the write loop starts after it returns.
	go c.start(params.Codecs[0].PayloadType, ssrc)
	c.logger.Info("Consumer created", zap.Bool("paused", paused))
	return c, nil
}

func (c *Consumer) start(pt uint8, ssrc uint32) {
	if err := c.transport.waitHandshake(context.Background()); err != nil {
		c.logger.Warn("Consumer transport never became ready", zap.Error(err))
		return
	}
	err := c.sender.Send(webrtc.RTPSendParameters{
		Encodings: []webrtc.RTPEncodingParameters{{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				SSRC:        webrtc.SSRC(ssrc),
				PayloadType: webrtc.PayloadType(pt),
			},
		}},
	})
	if err != nil {
		c.logger.Warn("Failed to start sender", zap.Error(err))
		return
	}
	go c.readRTCP()
	c.writeLoop()
}

func (c *Consumer) writeLoop() {
	for {
		select {
		case pkt := <-c.queue:
			if err := c.track.WriteRTP(pkt); err != nil {
				c.stats.dropped()
				continue
			}
			c.stats.sent(pkt)
		case <-c.done:
			return
		}
	}
}

// readRTCP relays key frame requests from the receiving client to the producer.
func (c *Consumer) readRTCP() {
	for {
		pkts, _, err := c.sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			if c.stats.rtcp(pkt, c.logger) {
				c.producer.RequestKeyFrame()
			}
		}
	}
}

// enqueue never blocks the producer's forwarding loop.
func (c *Consumer) enqueue(pkt *rtp.Packet) {
	if c.Paused() {
		return
	}
	select {
	case c.queue <- pkt:
	default:
		c.stats.dropped()
	}
}

func (c *Consumer) ID() string                         { return c.id }
func (c *Consumer) ProducerID() string                 { return c.producer.id }
func (c *Consumer) Kind() media.Kind                   { return c.producer.kind }
func (c *Consumer) RtpParameters() media.RtpParameters { return c.params }
func (c *Consumer) Stats() MediaStats                  { return c.stats.snapshot() }

func (c *Consumer) Paused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paused
}

func (c *Consumer) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Consumer) Pause(ctx context.Context) error {
	return c.transport.router.worker.do(ctx, "pause_consumer", func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return media.ErrClosed
		}
		c.paused = true
		return nil
	})
}

// Resume starts forwarding and asks the producer for a key frame so video
// starts without waiting for the next periodic one.
func (c *Consumer) Resume(ctx context.Context) error {
	var wasPaused bool
	err := c.transport.router.worker.do(ctx, "resume_consumer", func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return media.ErrClosed
		}
		wasPaused = c.paused
		c.paused = false
		return nil
	})
	if err == nil && wasPaused {
		c.producer.RequestKeyFrame()
	}
	return err
}

func (c *Consumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	c.producer.detach(c.id)
	c.transport.removeConsumer(c.id)
	if err := c.sender.Stop(); err != nil {
		c.logger.Debug("Sender stop", zap.Error(err))
	}
	s := c.stats.snapshot()
	c.logger.Info("Consumer closed",
		zap.Uint64("packetsSent", s.PacketsSent),
		zap.Uint64("packetsDropped", s.PacketsDropped),
	)
	return nil
}
