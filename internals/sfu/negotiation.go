package sfu

import (
	"context"
	"errors"
	"time"

	"github.com/mynameaksh/SkillXChange/internals/media"
	"github.com/mynameaksh/SkillXChange/internals/metrics"
	"github.com/mynameaksh/SkillXChange/internals/peer"
	"github.com/mynameaksh/SkillXChange/internals/room"
	"github.com/mynameaksh/SkillXChange/internals/sfuerr"
	"github.com/mynameaksh/SkillXChange/internals/signaling"
	"github.com/mynameaksh/SkillXChange/internals/store"
	"go.uber.org/zap"
)

type JoinRequest struct {
	RoomID    string `json:"roomId"`
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
}

type JoinReply struct {
	RoomID        string      `json:"roomId"`
	PeerID        string      `json:"peerId"`
	Role          store.Role  `json:"role"`
	Participants  []peer.Info `json:"participants"`
	ScreenSharing string      `json:"screenSharing,omitempty"`
}

type ParticipantEvent struct {
	PeerID string     `json:"peerId"`
	UserID string     `json:"userId"`
	Role   store.Role `json:"role"`
}

type CreateTransportRequest struct {
	// Direction is an optional hint; without it the first produce or
	// consume on the transport decides.
	Direction peer.Direction `json:"direction,omitempty"`
}

type ConnectTransportRequest struct {
	TransportID    string               `json:"transportId"`
	DtlsParameters media.DtlsParameters `json:"dtlsParameters"`
	IceParameters  *media.IceParameters `json:"iceParameters,omitempty"`
	IceCandidates  []media.IceCandidate `json:"iceCandidates,omitempty"`
}

type ConnectTransportReply struct {
	TransportID string `json:"transportId"`
	OK          bool   `json:"ok"`
}

type ProduceRequest struct {
	TransportID   string                 `json:"transportId"`
	Kind          media.Kind             `json:"kind"`
	RtpParameters media.RtpParameters    `json:"rtpParameters"`
	AppData       map[string]interface{} `json:"appData,omitempty"`
}

type ProduceReply struct {
	ProducerID string `json:"producerId"`
}

type ConsumeRequest struct {
	ProducerID string `json:"producerId"`
	// TransportID selects the receive transport; without it the peer's
	// receive transport is used or created.
	TransportID     string                 `json:"transportId,omitempty"`
	RtpCapabilities *media.RtpCapabilities `json:"rtpCapabilities,omitempty"`
}

type ConsumeReply struct {
	ID            string                 `json:"id"`
	ConsumerID    string                 `json:"consumerId"`
	ProducerID    string                 `json:"producerId"`
	Kind          media.Kind             `json:"kind"`
	RtpParameters media.RtpParameters    `json:"rtpParameters"`
	Paused        bool                   `json:"paused"`
	TransportID   string                 `json:"transportId"`
	Transport     *media.TransportParams `json:"transport,omitempty"`
}

type ConsumerRequest struct {
	ConsumerID string `json:"consumerId"`
}

type ConsumerStateReply struct {
	ConsumerID string `json:"consumerId"`
	Paused     bool   `json:"paused"`
}

type CloseProducerRequest struct {
	ProducerID string `json:"producerId"`
}

type ConsumerClosedEvent struct {
	ProducerID string `json:"producerId"`
	ConsumerID string `json:"consumerId,omitempty"`
}

type ScreenShareEvent struct {
	Active bool   `json:"isActive"`
	UserID string `json:"userId,omitempty"`
	PeerID string `json:"peerId,omitempty"`
}

// --- join ---

// handleJoin admits the connection into a room. Refusals terminate the
// connection; a half-joined client is never left behind.
func (s *Server) handleJoin(client *signaling.Client, msg signaling.Message) {
	if _, ok := s.binding(client.ID); ok {
		client.SendError(msg, sfuerr.New(sfuerr.CodeProtocolViolation, "already joined"))
		return
	}

	var req JoinRequest
	if err := signaling.Decode(msg, &req); err != nil {
		client.SendError(msg, err)
		return
	}
	userID := client.UserID
	if req.UserID != "" {
		if userID != "" && req.UserID != userID {
			s.refuse(client, msg, sfuerr.New(sfuerr.CodeUnauthorized, "userId does not match the authenticated user"))
			return
		}
		userID = req.UserID
	}
	if err := validateID(req.RoomID, s.config.Media.MaxRoomIDLength, "roomId"); err != nil {
		client.SendError(msg, err)
		return
	}
	if err := validateID(userID, s.config.Media.MaxUserIDLength, "userId"); err != nil {
		client.SendError(msg, err)
		return
	}

	ctx, cancel := s.requestContext()
	defer cancel()

	grant, err := s.gate.AuthorizeJoin(ctx, req.RoomID, req.SessionID, userID)
	if err != nil {
		s.refuse(client, msg, err)
		return
	}

	rm, p, err := s.admit(ctx, client, req, userID, grant.Role)
	if err != nil {
		s.refuse(client, msg, err)
		return
	}
	s.bind(client.ID, binding{peer: p, room: rm})
	metrics.ActivePeers.Inc()

	// A reconnecting user replaces the connection it left behind.
	for _, old := range rm.PeersByUser(userID) {
		if old.ID == p.ID {
			continue
		}
		s.logger.Info("Evicting stale peer for reconnecting user",
			zap.String("userID", userID),
			zap.String("oldPeerID", old.ID),
		)
		s.cleanupPeer(old, rm, "replaced")
		if c, ok := s.mediaHub.GetClient(old.ID); ok {
			s.mediaHub.Unregister(c)
		}
	}

	if err := s.store.SetParticipantConnected(ctx, rm.ID, userID); err != nil {
		s.logger.Warn("Failed to record participant connected", zap.String("roomID", rm.ID), zap.Error(err))
	}
	if grant.Record.Status == store.RoomWaiting {
		if err := s.store.SetStatus(ctx, rm.ID, store.RoomActive); err != nil {
			s.logger.Warn("Failed to activate video room", zap.String("roomID", rm.ID), zap.Error(err))
		}
	}

	participants := make([]peer.Info, 0, 2)
	for _, other := range rm.Peers() {
		participants = append(participants, other.Info())
	}
	reply, err := signaling.NewMessage(signaling.MessageTypeJoined, JoinReply{
		RoomID:        rm.ID,
		PeerID:        p.ID,
		Role:          p.Role,
		Participants:  participants,
		ScreenSharing: rm.ScreenShareOwner(),
	})
	if err != nil {
		client.SendError(msg, sfuerr.Wrap(sfuerr.CodeInternal, err, "failed to encode join reply"))
		return
	}
	reply.RequestID = msg.RequestID
	client.SendMessage(reply)

	s.logger.Info("Peer joined",
		zap.String("roomID", rm.ID),
		zap.String("peerID", p.ID),
		zap.String("userID", userID),
		zap.String("role", string(p.Role)),
	)

	s.broadcast(rm, p.ID, signaling.MessageTypeParticipantJoined, ParticipantEvent{
		PeerID: p.ID,
		UserID: p.UserID,
		Role:   p.Role,
	})
}

// admit gets the room and registers a new peer in it. A room destroyed
// between lookup and registration is recreated once.
func (s *Server) admit(ctx context.Context, client *signaling.Client, req JoinRequest, userID string, role store.Role) (*room.Room, *peer.Peer, error) {
	for attempt := 0; attempt < 2; attempt++ {
		rm, err := s.rooms.GetOrCreate(ctx, req.RoomID)
		if err != nil {
			return nil, nil, err
		}
		p := peer.NewPeer(client.ID, rm.ID, req.SessionID, userID, role, client, s.logger)
		err = rm.AddPeer(p)
		if err == nil {
			return rm, p, nil
		}
		if !errors.Is(err, room.ErrRoomClosed) {
			return nil, nil, sfuerr.Wrap(sfuerr.CodeInternal, err, "failed to join room")
		}
	}
	return nil, nil, sfuerr.New(sfuerr.CodeResourceExhausted, "room closed while joining")
}

// refuse answers with the error and drops the connection.
func (s *Server) refuse(client *signaling.Client, msg signaling.Message, err error) {
	s.logger.Info("Join refused",
		zap.String("clientID", client.ID),
		zap.String("code", string(sfuerr.CodeOf(err))),
		zap.Error(err),
	)
	client.SendError(msg, err)
	s.mediaHub.Unregister(client)
}

// --- capabilities ---

// handleGetCapabilities replies with the router capabilities and then
// replays every live producer of the other peers.
func (s *Server) handleGetCapabilities(b binding, msg signaling.Message) error {
	reply, err := signaling.NewMessage(msg.Type, b.room.Router.Capabilities())
	if err != nil {
		return sfuerr.Wrap(sfuerr.CodeInternal, err, "failed to encode capabilities")
	}
	reply.RequestID = msg.RequestID
	if _, ok := b.peer.DeliverCapabilities(reply, func() []peer.ProducerInfo {
		return b.room.LiveProducers(b.peer.ID)
	}); !ok {
		return sfuerr.New(sfuerr.CodeNotFound, "peer has left the room")
	}
	return nil
}

// --- transports ---

func (s *Server) handleCreateTransport(client *signaling.Client, b binding, msg signaling.Message) error {
	var req CreateTransportRequest
	if err := signaling.Decode(msg, &req); err != nil {
		return err
	}
	switch req.Direction {
	case peer.DirectionUnset, peer.DirectionSend, peer.DirectionRecv:
	default:
		return sfuerr.New(sfuerr.CodeInvalidRequest, "unknown direction %q", req.Direction)
	}

	ctx, cancel := s.requestContext()
	defer cancel()

	t, err := s.createTransport(ctx, b, req.Direction)
	if err != nil {
		return err
	}
	client.Reply(msg, t.Params())
	return nil
}

// createTransport creates a transport on the room's router and registers it
// for the peer, closing it again if the peer left while it was created.
func (s *Server) createTransport(ctx context.Context, b binding, dir peer.Direction) (media.Transport, error) {
	start := time.Now()
	t, err := b.room.Router.CreateTransport(ctx, s.transportOpts)
	metrics.RecordEngineLatency("create_transport", start)
	if err != nil {
		return nil, engineError(err, "failed to create transport")
	}
	if err := b.room.AddTransport(b.peer.ID, t); err != nil {
		t.Close()
		return nil, staleError(err)
	}
	b.peer.AddTransport(t.ID(), dir)
	return t, nil
}

// ownedTransport resolves a transport id registered to this peer in this room.
func ownedTransport(b binding, id string) (media.Transport, error) {
	e, ok := b.room.Transport(id)
	if !ok || e.PeerID != b.peer.ID || e.Transport.Closed() {
		return nil, sfuerr.New(sfuerr.CodeUnknownTransport, "unknown transport %q", id)
	}
	return e.Transport, nil
}

func (s *Server) handleConnectTransport(client *signaling.Client, b binding, msg signaling.Message) error {
	var req ConnectTransportRequest
	if err := signaling.Decode(msg, &req); err != nil {
		return err
	}
	t, err := ownedTransport(b, req.TransportID)
	if err != nil {
		return err
	}
	if t.Connected() {
		return sfuerr.New(sfuerr.CodeProtocolViolation, "transport already connected")
	}

	ctx, cancel := s.requestContext()
	defer cancel()

	start := time.Now()
	err = t.Connect(ctx, media.ConnectParams{
		DtlsParameters: req.DtlsParameters,
		IceParameters:  req.IceParameters,
		IceCandidates:  req.IceCandidates,
	})
	metrics.RecordEngineLatency("connect_transport", start)
	if err != nil {
		switch {
		case errors.Is(err, media.ErrBadParameters):
			return sfuerr.Wrap(sfuerr.CodeInvalidRequest, err, "invalid transport parameters")
		case errors.Is(err, media.ErrClosed):
			return sfuerr.Wrap(sfuerr.CodeUnknownTransport, err, "transport closed")
		case errors.Is(err, context.DeadlineExceeded):
			return sfuerr.Wrap(sfuerr.CodeTimeout, err, "transport connect timed out")
		}
		return sfuerr.Wrap(sfuerr.CodeConnectFailure, err, "transport handshake failed")
	}

	client.Reply(msg, ConnectTransportReply{TransportID: t.ID(), OK: true})
	return nil
}

// --- produce ---

func (s *Server) handleProduce(client *signaling.Client, b binding, msg signaling.Message) error {
	var req ProduceRequest
	if err := signaling.Decode(msg, &req); err != nil {
		return err
	}
	if !req.Kind.Valid() {
		return sfuerr.New(sfuerr.CodeInvalidRequest, "kind must be audio or video")
	}
	t, err := ownedTransport(b, req.TransportID)
	if err != nil {
		return err
	}
	if !t.Connected() {
		return sfuerr.New(sfuerr.CodeProtocolViolation, "connect the transport before producing")
	}
	if !b.peer.ClaimDirection(t.ID(), peer.DirectionSend) {
		return sfuerr.New(sfuerr.CodeProtocolViolation, "transport is used for receiving")
	}

	ctx, cancel := s.requestContext()
	defer cancel()

	start := time.Now()
	prod, err := t.Produce(ctx, media.ProduceOptions{
		Kind:          req.Kind,
		RtpParameters: req.RtpParameters,
		AppData:       req.AppData,
	})
	metrics.RecordEngineLatency("produce", start)
	if err != nil {
		switch {
		case errors.Is(err, media.ErrUnsupported):
			return sfuerr.Wrap(sfuerr.CodeCodecMismatch, err, "codec not supported by the room")
		case errors.Is(err, media.ErrBadParameters):
			return sfuerr.Wrap(sfuerr.CodeInvalidRequest, err, "invalid rtp parameters")
		case errors.Is(err, media.ErrNotConnected):
			return sfuerr.Wrap(sfuerr.CodeProtocolViolation, err, "connect the transport before producing")
		}
		return engineError(err, "failed to create producer")
	}

	entry := room.ProducerEntry{
		Producer: prod,
		PeerID:   b.peer.ID,
		UserID:   b.peer.UserID,
		Source:   sourceOf(req.AppData, req.Kind),
	}
	if err := b.room.AddProducer(entry); err != nil {
		prod.Close()
		return staleError(err)
	}
	b.peer.AddProducer(prod.ID())

	client.Reply(msg, ProduceReply{ProducerID: prod.ID()})

	info := entry.Info()
	for _, other := range b.room.Others(b.peer.ID) {
		other.Announce(info)
	}
	s.logger.Info("Producer created",
		zap.String("roomID", b.room.ID),
		zap.String("peerID", b.peer.ID),
		zap.String("producerID", prod.ID()),
		zap.String("kind", string(req.Kind)),
		zap.String("source", entry.Source),
	)
	return nil
}

func sourceOf(appData map[string]interface{}, kind media.Kind) string {
	if src, ok := appData["source"].(string); ok {
		switch src {
		case "camera", "mic", "screen":
			return src
		}
	}
	if kind == media.KindAudio {
		return "mic"
	}
	return "camera"
}

// --- consume ---

func (s *Server) handleConsume(client *signaling.Client, b binding, msg signaling.Message) error {
	var req ConsumeRequest
	if err := signaling.Decode(msg, &req); err != nil {
		return err
	}
	if !b.peer.CapabilitiesSent() {
		return sfuerr.New(sfuerr.CodeProtocolViolation, "request capabilities before consuming")
	}
	pe, ok := b.room.Producer(req.ProducerID)
	if !ok || pe.Producer.Closed() {
		return sfuerr.New(sfuerr.CodeNotFound, "producer %q not found", req.ProducerID)
	}
	if pe.PeerID == b.peer.ID {
		return sfuerr.New(sfuerr.CodeProtocolViolation, "cannot consume your own producer")
	}

	caps := b.room.Router.Capabilities()
	if req.RtpCapabilities != nil {
		caps = *req.RtpCapabilities
	}
	if !b.room.Router.CanConsume(pe.Producer.ID(), caps) {
		return sfuerr.New(sfuerr.CodeCodecMismatch, "cannot consume %s producer with the given capabilities", pe.Producer.Kind())
	}

	ctx, cancel := s.requestContext()
	defer cancel()

	t, created, err := s.recvTransport(ctx, b, req.TransportID)
	if err != nil {
		return err
	}

	start := time.Now()
	cons, err := t.Consume(ctx, media.ConsumeOptions{
		ProducerID:      pe.Producer.ID(),
		RtpCapabilities: caps,
		Paused:          true,
	})
	metrics.RecordEngineLatency("consume", start)
	if err != nil {
		switch {
		case errors.Is(err, media.ErrUnknownProducer):
			return sfuerr.Wrap(sfuerr.CodeNotFound, err, "producer closed")
		case errors.Is(err, media.ErrCannotConsume):
			return sfuerr.Wrap(sfuerr.CodeCodecMismatch, err, "codec cannot be consumed")
		}
		return engineError(err, "failed to create consumer")
	}

	// Consumers start paused; the client only ever sees one that is flowing.
	if err := cons.Resume(ctx); err != nil {
		cons.Close()
		return engineError(err, "failed to resume consumer")
	}

	b.peer.AddConsumer(cons)
	metrics.Consumers.WithLabelValues(string(cons.Kind())).Inc()
	if _, ok := b.room.Peer(b.peer.ID); !ok || !b.peer.IsConnected() || pe.Producer.Closed() {
		for _, c := range b.peer.DropConsumersOf(pe.Producer.ID()) {
			closeConsumer(c, s.logger)
		}
		return sfuerr.New(sfuerr.CodeNotFound, "producer or peer left during consume")
	}

	reply := ConsumeReply{
		ID:            cons.ID(),
		ConsumerID:    cons.ID(),
		ProducerID:    cons.ProducerID(),
		Kind:          cons.Kind(),
		RtpParameters: cons.RtpParameters(),
		Paused:        cons.Paused(),
		TransportID:   t.ID(),
	}
	if created {
		params := t.Params()
		reply.Transport = &params
	}
	client.Reply(msg, reply)
	return nil
}

// recvTransport picks the transport a consumer goes on: the one named, the
// peer's existing receive transport, or a new one.
func (s *Server) recvTransport(ctx context.Context, b binding, id string) (media.Transport, bool, error) {
	if id != "" {
		t, err := ownedTransport(b, id)
		if err != nil {
			return nil, false, err
		}
		if !b.peer.ClaimDirection(t.ID(), peer.DirectionRecv) {
			return nil, false, sfuerr.New(sfuerr.CodeProtocolViolation, "transport is used for sending")
		}
		return t, false, nil
	}

	for _, tid := range b.peer.TransportsWith(peer.DirectionRecv) {
		if t, err := ownedTransport(b, tid); err == nil {
			return t, false, nil
		}
	}

	t, err := s.createTransport(ctx, b, peer.DirectionRecv)
	if err != nil {
		return nil, false, err
	}
	return t, true, nil
}

func (s *Server) handleConsumerState(client *signaling.Client, b binding, msg signaling.Message) error {
	var req ConsumerRequest
	if err := signaling.Decode(msg, &req); err != nil {
		return err
	}
	c, ok := b.peer.Consumer(req.ConsumerID)
	if !ok {
		return sfuerr.New(sfuerr.CodeNotFound, "consumer %q not found", req.ConsumerID)
	}

	ctx, cancel := s.requestContext()
	defer cancel()

	var err error
	if msg.Type == signaling.MessageTypePauseConsumer {
		err = c.Pause(ctx)
	} else {
		err = c.Resume(ctx)
	}
	if err != nil {
		return engineError(err, "failed to change consumer state")
	}
	client.Reply(msg, ConsumerStateReply{ConsumerID: c.ID(), Paused: c.Paused()})
	return nil
}

// --- close-producer ---

func (s *Server) handleCloseProducer(client *signaling.Client, b binding, msg signaling.Message) error {
	var req CloseProducerRequest
	if err := signaling.Decode(msg, &req); err != nil {
		return err
	}
	if !b.peer.OwnsProducer(req.ProducerID) {
		return sfuerr.New(sfuerr.CodeNotFound, "producer %q not found", req.ProducerID)
	}
	b.peer.RemoveProducer(req.ProducerID)
	if pe, ok := b.room.RemoveProducer(req.ProducerID); ok {
		if err := pe.Producer.Close(); err != nil {
			s.logger.Warn("Failed to close producer", zap.String("producerID", req.ProducerID), zap.Error(err))
		}
	}
	s.closeConsumersOf(b.room, req.ProducerID, b.peer.ID)

	client.Reply(msg, ProduceReply{ProducerID: req.ProducerID})
	return nil
}

// closeConsumersOf closes every consumer of a producer and tells the peers
// that held one, or were told about it, that it is gone.
func (s *Server) closeConsumersOf(rm *room.Room, producerID, ownerPeerID string) {
	for _, p := range rm.Others(ownerPeerID) {
		dropped := p.DropConsumersOf(producerID)
		if len(dropped) == 0 {
			if p.CapabilitiesSent() {
				s.send(p, signaling.MessageTypeConsumerClosed, ConsumerClosedEvent{ProducerID: producerID})
			}
			continue
		}
		for _, c := range dropped {
			closeConsumer(c, s.logger)
			s.send(p, signaling.MessageTypeConsumerClosed, ConsumerClosedEvent{
				ProducerID: producerID,
				ConsumerID: c.ID(),
			})
		}
	}
}

func closeConsumer(c media.Consumer, logger *zap.Logger) {
	if err := c.Close(); err != nil {
		logger.Warn("Failed to close consumer", zap.String("consumerID", c.ID()), zap.Error(err))
	}
	metrics.Consumers.WithLabelValues(string(c.Kind())).Dec()
}

// --- screen share ---

func (s *Server) handleScreenShareStart(client *signaling.Client, b binding, msg signaling.Message) error {
	if err := b.room.StartScreenShare(b.peer.UserID); err != nil {
		if errors.Is(err, room.ErrAlreadySharing) {
			return sfuerr.New(sfuerr.CodeAlreadySharing, "screen is already shared by %s", b.room.ScreenShareOwner())
		}
		return staleError(err)
	}

	ctx, cancel := s.requestContext()
	defer cancel()
	if err := s.store.SetScreenSharing(ctx, b.room.ID, b.peer.UserID); err != nil {
		s.logger.Warn("Failed to record screen share", zap.String("roomID", b.room.ID), zap.Error(err))
	}

	event := ScreenShareEvent{Active: true, UserID: b.peer.UserID, PeerID: b.peer.ID}
	client.Reply(msg, event)
	s.broadcast(b.room, b.peer.ID, signaling.MessageTypeScreenShareStarted, event)
	return nil
}

// handleScreenShareStop is a no-op for anyone but the owner.
func (s *Server) handleScreenShareStop(client *signaling.Client, b binding, msg signaling.Message) error {
	if !b.room.StopScreenShare(b.peer.UserID) {
		client.Reply(msg, ScreenShareEvent{Active: b.room.ScreenShareOwner() != "", UserID: b.room.ScreenShareOwner()})
		return nil
	}
	s.screenShareStopped(b.room, b.peer)
	client.Reply(msg, ScreenShareEvent{Active: false})
	return nil
}

func (s *Server) screenShareStopped(rm *room.Room, p *peer.Peer) {
	ctx, cancel := s.requestContext()
	defer cancel()
	if err := s.store.SetScreenSharing(ctx, rm.ID, ""); err != nil {
		s.logger.Warn("Failed to clear screen share", zap.String("roomID", rm.ID), zap.Error(err))
	}
	s.broadcast(rm, p.ID, signaling.MessageTypeScreenShareStopped, ScreenShareEvent{
		Active: false,
		UserID: p.UserID,
		PeerID: p.ID,
	})
}

// --- helpers ---

func (s *Server) send(p *peer.Peer, t signaling.MessageType, payload interface{}) {
	msg, err := signaling.NewMessage(t, payload)
	if err != nil {
		s.logger.Error("Failed to encode message", zap.String("type", string(t)), zap.Error(err))
		return
	}
	p.Send(msg)
}

// broadcast sends to every peer in the room except excludePeerID.
func (s *Server) broadcast(rm *room.Room, excludePeerID string, t signaling.MessageType, payload interface{}) {
	msg, err := signaling.NewMessage(t, payload)
	if err != nil {
		s.logger.Error("Failed to encode message", zap.String("type", string(t)), zap.Error(err))
		return
	}
	for _, p := range rm.Others(excludePeerID) {
		p.Send(msg)
	}
}

// engineError classifies a failed engine call.
func engineError(err error, msg string) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return sfuerr.Wrap(sfuerr.CodeTimeout, err, "media worker did not reply in time")
	case errors.Is(err, media.ErrClosed):
		return sfuerr.Wrap(sfuerr.CodeNotFound, err, "media object closed")
	case sfuerr.CodeOf(err) != sfuerr.CodeInternal:
		return err
	}
	return sfuerr.Wrap(sfuerr.CodeInternal, err, msg)
}

// staleError reports a handle that outlived its peer or room.
func staleError(err error) error {
	switch {
	case errors.Is(err, room.ErrRoomClosed):
		return sfuerr.Wrap(sfuerr.CodeNotFound, err, "room closed")
	case errors.Is(err, room.ErrPeerNotInRoom):
		return sfuerr.Wrap(sfuerr.CodeNotFound, err, "peer is no longer in the room")
	}
	return sfuerr.Wrap(sfuerr.CodeInternal, err, "room update failed")
}
