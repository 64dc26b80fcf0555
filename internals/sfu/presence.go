package sfu

import (
	"github.com/mynameaksh/SkillXChange/internals/metrics"
	"github.com/mynameaksh/SkillXChange/internals/peer"
	"github.com/mynameaksh/SkillXChange/internals/room"
	"github.com/mynameaksh/SkillXChange/internals/signaling"
	"github.com/mynameaksh/SkillXChange/internals/store"
	"go.uber.org/zap"
)

type LeaveReply struct {
	RoomID string `json:"roomId"`
}

func (s *Server) handleClientDisconnect(client *signaling.Client) {
	if b, ok := s.binding(client.ID); ok {
		s.cleanupPeer(b.peer, b.room, "disconnected")
	}
	s.mediaHub.Unregister(client)
}

// handleLeave takes the peer out of its room but keeps the connection open
// for a later join.
func (s *Server) handleLeave(client *signaling.Client, b binding, msg signaling.Message) error {
	s.cleanupPeer(b.peer, b.room, "left")
	client.Reply(msg, LeaveReply{RoomID: b.room.ID})
	return nil
}

// cleanupPeer releases everything a departing peer held. Only the first call
// for a peer does anything. Failures are logged and never stop the
// remaining steps.
func (s *Server) cleanupPeer(p *peer.Peer, rm *room.Room, reason string) {
	if !p.MarkDisconnected() {
		return
	}
	s.unbind(p.ID)

	removed, _ := rm.RemovePeer(p.ID)

	for _, c := range p.Consumers() {
		closeConsumer(c, s.logger)
	}
	// Closing a transport closes the producers and consumers on it.
	for _, t := range removed.Transports {
		if err := t.Close(); err != nil {
			s.logger.Warn("Failed to close transport", zap.String("transportID", t.ID()), zap.Error(err))
		}
	}
	for _, pe := range removed.Producers {
		if err := pe.Producer.Close(); err != nil {
			s.logger.Debug("Producer already closed", zap.String("producerID", pe.Producer.ID()), zap.Error(err))
		}
		s.closeConsumersOf(rm, pe.Producer.ID(), p.ID)
	}

	ctx, cancel := s.requestContext()
	defer cancel()

	// Another connection of the same user keeps the participant present.
	stillPresent := len(rm.PeersByUser(p.UserID)) > 0
	if !stillPresent {
		if rm.StopScreenShare(p.UserID) {
			s.screenShareStopped(rm, p)
		}
		if err := s.store.SetParticipantDisconnected(ctx, rm.ID, p.UserID); err != nil {
			s.logger.Warn("Failed to record participant disconnected", zap.String("roomID", rm.ID), zap.Error(err))
		}
		s.broadcast(rm, p.ID, signaling.MessageTypeParticipantLeft, ParticipantEvent{
			PeerID: p.ID,
			UserID: p.UserID,
			Role:   p.Role,
		})
	}
	metrics.ActivePeers.Dec()

	s.logger.Info("Peer cleaned up",
		zap.String("roomID", rm.ID),
		zap.String("peerID", p.ID),
		zap.String("userID", p.UserID),
		zap.String("reason", reason),
		zap.Int("transports", len(removed.Transports)),
		zap.Int("producers", len(removed.Producers)),
	)

	if s.rooms.DestroyIfEmpty(rm.ID) {
		if err := s.store.SetStatus(ctx, rm.ID, store.RoomEnded); err != nil {
			s.logger.Warn("Failed to end video room", zap.String("roomID", rm.ID), zap.Error(err))
		}
	}
}

// endRoom is the operator path: every peer is told the room ended, cleaned
// up and disconnected, then the room is destroyed.
func (s *Server) endRoom(roomID string) {
	rm, ok := s.rooms.Get(roomID)
	if !ok {
		return
	}
	ended, err := signaling.NewMessage(signaling.MessageTypeRoomEnded, LeaveReply{RoomID: roomID})
	if err != nil {
		s.logger.Error("Failed to encode room-ended", zap.Error(err))
	}
	for _, p := range rm.Peers() {
		if err == nil {
			p.Send(ended)
		}
		s.cleanupPeer(p, rm, "room ended")
		if c, ok := s.mediaHub.GetClient(p.ID); ok {
			s.mediaHub.Unregister(c)
		}
	}
	s.rooms.Destroy(roomID)
}
