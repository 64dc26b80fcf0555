package peer

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/mynameaksh/SkillXChange/internals/media"
	"github.com/mynameaksh/SkillXChange/internals/signaling"
	"github.com/mynameaksh/SkillXChange/internals/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorder struct {
	mu   sync.Mutex
	msgs []signaling.Message
}

func (r *recorder) SendMessage(m signaling.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
	return true
}

func (r *recorder) types() []signaling.MessageType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]signaling.MessageType, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = m.Type
	}
	return out
}

func newTestPeer() (*Peer, *recorder) {
	sink := &recorder{}
	return NewPeer("c1", "room", "s1", "learner", store.RoleLearner, sink, zap.NewNop()), sink
}

func TestMarkDisconnectedOnce(t *testing.T) {
	p, sink := newTestPeer()
	assert.True(t, p.IsConnected())
	assert.True(t, p.MarkDisconnected())
	assert.False(t, p.MarkDisconnected())
	assert.Equal(t, StatusDisconnected, p.Status())

	assert.False(t, p.Send(signaling.Message{Type: signaling.MessageTypePong}))
	assert.Empty(t, sink.types())
}

func TestAnnounceWaitsForCapabilities(t *testing.T) {
	p, sink := newTestPeer()
	early := ProducerInfo{ProducerID: "p1", Kind: media.KindVideo, UserID: "teacher"}

	assert.False(t, p.Announce(early))
	assert.Empty(t, sink.types())

	reply := signaling.Message{Type: signaling.MessageTypeGetCapabilities, RequestID: "1"}
	n, ok := p.DeliverCapabilities(reply, func() []ProducerInfo { return []ProducerInfo{early} })
	require.True(t, ok)
	assert.Equal(t, 1, n)
	assert.Equal(t, []signaling.MessageType{
		signaling.MessageTypeGetCapabilities,
		signaling.MessageTypeNewProducer,
	}, sink.types())

	var got ProducerInfo
	require.NoError(t, json.Unmarshal(sink.msgs[1].Data, &got))
	assert.Equal(t, early, got)

	// Duplicates are suppressed, both from a second replay and a late broadcast.
	n, ok = p.DeliverCapabilities(reply, func() []ProducerInfo { return []ProducerInfo{early} })
	assert.True(t, ok)
	assert.Zero(t, n)
	assert.False(t, p.Announce(early))

	assert.True(t, p.Announce(ProducerInfo{ProducerID: "p2", Kind: media.KindAudio}))
	assert.Len(t, sink.types(), 4)
}

func TestDeliverCapabilitiesAfterDisconnect(t *testing.T) {
	p, sink := newTestPeer()
	require.True(t, p.MarkDisconnected())

	reply := signaling.Message{Type: signaling.MessageTypeGetCapabilities, RequestID: "1"}
	n, ok := p.DeliverCapabilities(reply, func() []ProducerInfo {
		return []ProducerInfo{{ProducerID: "p1", Kind: media.KindVideo}}
	})
	assert.False(t, ok)
	assert.Zero(t, n)
	assert.Empty(t, sink.types())
	assert.False(t, p.CapabilitiesSent())
}

func TestTransportDirection(t *testing.T) {
	p, _ := newTestPeer()
	p.AddTransport("t1", DirectionUnset)

	assert.True(t, p.ClaimDirection("t1", DirectionSend))
	assert.True(t, p.ClaimDirection("t1", DirectionSend))
	assert.False(t, p.ClaimDirection("t1", DirectionRecv))
	assert.False(t, p.ClaimDirection("missing", DirectionSend))

	dir, ok := p.Transport("t1")
	require.True(t, ok)
	assert.Equal(t, DirectionSend, dir)
	assert.Equal(t, []string{"t1"}, p.TransportsWith(DirectionSend))
	assert.Empty(t, p.TransportsWith(DirectionRecv))

	p.RemoveTransport("t1")
	assert.Empty(t, p.TransportIDs())
}

func TestProducersAndInfo(t *testing.T) {
	p, _ := newTestPeer()
	p.AddProducer("p1")
	assert.True(t, p.OwnsProducer("p1"))
	assert.Equal(t, 1, p.Info().Producers)
	assert.True(t, p.RemoveProducer("p1"))
	assert.False(t, p.RemoveProducer("p1"))

	info := p.Info()
	assert.Equal(t, "learner", info.UserID)
	assert.Equal(t, store.RoleLearner, info.Role)
	assert.Equal(t, StatusConnected, info.Status)
}
