package ortc

import (
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"go.uber.org/zap"
)

type MediaStats struct {
	PacketsReceived uint64
	PacketsSent     uint64
	PacketsDropped  uint64
	BytesReceived   uint64
	BytesSent       uint64
	PacketsLost     uint64
	Jitter          float64
	KeyFrameReqs    uint64
	LastUpdated     time.Time
}

// statsRecorder accumulates RTP/RTCP counters for one producer or consumer.
type statsRecorder struct {
	mu    sync.RWMutex
	stats MediaStats
}

func (s *statsRecorder) received(pkt *rtp.Packet) {
	s.mu.Lock()
	s.stats.PacketsReceived++
	s.stats.BytesReceived += uint64(len(pkt.Payload))
	s.stats.LastUpdated = time.Now()
	s.mu.Unlock()
}

func (s *statsRecorder) sent(pkt *rtp.Packet) {
	s.mu.Lock()
	s.stats.PacketsSent++
	s.stats.BytesSent += uint64(len(pkt.Payload))
	s.stats.LastUpdated = time.Now()
	s.mu.Unlock()
}

func (s *statsRecorder) dropped() {
	s.mu.Lock()
	s.stats.PacketsDropped++
	s.mu.Unlock()
}

// rtcp folds receiver reports into the counters and reports whether the
// packet asks for a key frame.
func (s *statsRecorder) rtcp(pkt rtcp.Packet, logger *zap.Logger) (keyFrame bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch p := pkt.(type) {
	case *rtcp.ReceiverReport:
		for _, report := range p.Reports {
			s.stats.PacketsLost += uint64(report.TotalLost)
			s.stats.Jitter = float64(report.Jitter)
		}
	case *rtcp.PictureLossIndication:
		s.stats.KeyFrameReqs++
		logger.Debug("Received PLI request", zap.Uint32("ssrc", p.MediaSSRC))
		return true
	case *rtcp.FullIntraRequest:
		s.stats.KeyFrameReqs++
		logger.Debug("Received FIR request", zap.Uint32("ssrc", p.MediaSSRC))
		return true
	}
	return false
}

func (s *statsRecorder) snapshot() MediaStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}
