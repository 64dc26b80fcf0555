package peer

import (
	"sync"
	"time"

	"github.com/mynameaksh/SkillXChange/internals/media"
	"github.com/mynameaksh/SkillXChange/internals/signaling"
	"github.com/mynameaksh/SkillXChange/internals/store"
	"go.uber.org/zap"
)

type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Direction is the role a transport took on. A transport has no direction
// until it first hosts a producer or a consumer.
type Direction string

const (
	DirectionUnset Direction = ""
	DirectionSend  Direction = "send"
	DirectionRecv  Direction = "recv"
)

// Sink delivers server-initiated messages to the peer's connection.
type Sink interface {
	SendMessage(signaling.Message) bool
}

// ProducerInfo is the payload of a new-producer notification.
type ProducerInfo struct {
	ProducerID string     `json:"producerId"`
	Kind       media.Kind `json:"kind"`
	PeerID     string     `json:"peerId"`
	UserID     string     `json:"userId"`
	Source     string     `json:"source,omitempty"`
}

// Peer is one participant's live connection to a room. It does not survive
// a reconnect; the new connection gets a new Peer.
type Peer struct {
	ID        string     `json:"id"`
	RoomID    string     `json:"roomId"`
	SessionID string     `json:"sessionId"`
	UserID    string     `json:"userId"`
	Role      store.Role `json:"role"`
	JoinedAt  time.Time  `json:"joinedAt"`

	sink   Sink
	logger *zap.Logger

	mu               sync.RWMutex
	status           Status
	transports       map[string]Direction
	producers        map[string]struct{}
	consumers        map[string]media.Consumer
	capabilitiesSent bool
	announced        map[string]struct{}
}

func NewPeer(id, roomID, sessionID, userID string, role store.Role, sink Sink, logger *zap.Logger) *Peer {
	return &Peer{
		ID:         id,
		RoomID:     roomID,
		SessionID:  sessionID,
		UserID:     userID,
		Role:       role,
		JoinedAt:   time.Now(),
		sink:       sink,
		logger:     logger.With(zap.String("peerID", id), zap.String("userID", userID)),
		status:     StatusConnected,
		transports: make(map[string]Direction),
		producers:  make(map[string]struct{}),
		consumers:  make(map[string]media.Consumer),
		announced:  make(map[string]struct{}),
	}
}

func (p *Peer) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

func (p *Peer) IsConnected() bool {
	return p.Status() == StatusConnected
}

// MarkDisconnected flips the peer to disconnected. Only the first call
// returns true, so cleanup runs once per peer.
func (p *Peer) MarkDisconnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusDisconnected {
		return false
	}
	p.status = StatusDisconnected
	return true
}

// Send delivers msg unless the peer has left.
func (p *Peer) Send(msg signaling.Message) bool {
	if !p.IsConnected() {
		return false
	}
	return p.sink.SendMessage(msg)
}

func (p *Peer) AddTransport(id string, dir Direction) {
	p.mu.Lock()
	p.transports[id] = dir
	p.mu.Unlock()
}

func (p *Peer) RemoveTransport(id string) {
	p.mu.Lock()
	delete(p.transports, id)
	p.mu.Unlock()
}

// Transport reports the direction of a transport the peer owns.
func (p *Peer) Transport(id string) (Direction, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	dir, ok := p.transports[id]
	return dir, ok
}

// ClaimDirection fixes the direction of an unset transport. It fails when
// the transport already serves the other direction.
func (p *Peer) ClaimDirection(id string, dir Direction) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	current, ok := p.transports[id]
	if !ok {
		return false
	}
	if current == DirectionUnset {
		p.transports[id] = dir
		return true
	}
	return current == dir
}

// TransportsWith lists owned transports of the given direction, in no
// particular order.
func (p *Peer) TransportsWith(dir Direction) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var ids []string
	for id, d := range p.transports {
		if d == dir {
			ids = append(ids, id)
		}
	}
	return ids
}

func (p *Peer) TransportIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.transports))
	for id := range p.transports {
		ids = append(ids, id)
	}
	return ids
}

func (p *Peer) AddProducer(id string) {
	p.mu.Lock()
	p.producers[id] = struct{}{}
	p.mu.Unlock()
}

func (p *Peer) RemoveProducer(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.producers[id]
	delete(p.producers, id)
	return ok
}

func (p *Peer) OwnsProducer(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.producers[id]
	return ok
}

func (p *Peer) ProducerIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.producers))
	for id := range p.producers {
		ids = append(ids, id)
	}
	return ids
}

func (p *Peer) AddConsumer(c media.Consumer) {
	p.mu.Lock()
	p.consumers[c.ID()] = c
	p.mu.Unlock()
}

func (p *Peer) Consumer(id string) (media.Consumer, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.consumers[id]
	return c, ok
}

// DropConsumersOf removes and returns the consumers fed by a producer.
func (p *Peer) DropConsumersOf(producerID string) []media.Consumer {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []media.Consumer
	for id, c := range p.consumers {
		if c.ProducerID() == producerID {
			out = append(out, c)
			delete(p.consumers, id)
		}
	}
	delete(p.announced, producerID)
	return out
}

// Consumers removes and returns every consumer the peer holds.
func (p *Peer) Consumers() []media.Consumer {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]media.Consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		out = append(out, c)
	}
	p.consumers = make(map[string]media.Consumer)
	return out
}

func (p *Peer) CapabilitiesSent() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.capabilitiesSent
}

// DeliverCapabilities sends the capabilities reply and then replays every
// producer returned by live. Holding the peer lock across both keeps any
// concurrent Announce behind the reply. It reports false, having sent
// nothing, once the peer is disconnected.
func (p *Peer) DeliverCapabilities(reply signaling.Message, live func() []ProducerInfo) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != StatusConnected {
		return 0, false
	}
	p.sink.SendMessage(reply)
	p.capabilitiesSent = true

	replayed := 0
	for _, info := range live() {
		if p.announceLocked(info) {
			replayed++
		}
	}
	if replayed > 0 {
		p.logger.Debug("Replayed existing producers", zap.Int("count", replayed))
	}
	return replayed, true
}

// Announce sends a new-producer notification once per producer. Before the
// peer has its capabilities the notification is held back; the replay in
// DeliverCapabilities picks it up.
func (p *Peer) Announce(info ProducerInfo) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != StatusConnected || !p.capabilitiesSent {
		return false
	}
	return p.announceLocked(info)
}

func (p *Peer) announceLocked(info ProducerInfo) bool {
	if _, done := p.announced[info.ProducerID]; done {
		return false
	}
	msg, err := signaling.NewMessage(signaling.MessageTypeNewProducer, info)
	if err != nil {
		p.logger.Error("Failed to encode new-producer", zap.Error(err))
		return false
	}
	if !p.sink.SendMessage(msg) {
		p.logger.Warn("Failed to deliver new-producer", zap.String("producerID", info.ProducerID))
		return false
	}
	p.announced[info.ProducerID] = struct{}{}
	return true
}

// Info is the public view used in room listings and join replies.
type Info struct {
	PeerID    string     `json:"peerId"`
	UserID    string     `json:"userId"`
	Role      store.Role `json:"role"`
	Status    Status     `json:"status"`
	Producers int        `json:"producers"`
	JoinedAt  time.Time  `json:"joinedAt"`
}

func (p *Peer) Info() Info {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Info{
		PeerID:    p.ID,
		UserID:    p.UserID,
		Role:      p.Role,
		Status:    p.status,
		Producers: len(p.producers),
		JoinedAt:  p.JoinedAt,
	}
}
