package room

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/mynameaksh/SkillXChange/internals/media"
	"github.com/mynameaksh/SkillXChange/internals/metrics"
	"github.com/mynameaksh/SkillXChange/internals/peer"
	"github.com/mynameaksh/SkillXChange/internals/worker"
	"go.uber.org/zap"
)

var (
	ErrRoomClosed     = errors.New("room: closed")
	ErrPeerNotInRoom  = errors.New("room: peer not in room")
	ErrAlreadySharing = errors.New("room: screen already shared")
)

// TransportEntry is a transport registered in a room together with the
// peer that owns it.
type TransportEntry struct {
	Transport media.Transport
	PeerID    string
}

type ProducerEntry struct {
	Producer media.Producer
	PeerID   string
	UserID   string
	Source   string
}

func (e ProducerEntry) Info() peer.ProducerInfo {
	return peer.ProducerInfo{
		ProducerID: e.Producer.ID(),
		Kind:       e.Producer.Kind(),
		PeerID:     e.PeerID,
		UserID:     e.UserID,
		Source:     e.Source,
	}
}

// Removed is what a departing peer left behind in the room.
type Removed struct {
	Transports []media.Transport
	Producers  []ProducerEntry
}

// Room unites one router with the peers, transports and producers of one
// meeting. Registries are keyed by id and every lookup reports presence.
type Room struct {
	ID        string
	Router    media.Router
	CreatedAt time.Time

	handle *worker.Handle
	logger *zap.Logger

	mu          sync.RWMutex
	peers       map[string]*peer.Peer
	transports  map[string]TransportEntry
	producers   map[string]ProducerEntry
	screenShare string
	closed      bool
}

func newRoom(id string, router media.Router, handle *worker.Handle, logger *zap.Logger) *Room {
	return &Room{
		ID:         id,
		Router:     router,
		CreatedAt:  time.Now(),
		handle:     handle,
		logger:     logger.With(zap.String("roomID", id)),
		peers:      make(map[string]*peer.Peer),
		transports: make(map[string]TransportEntry),
		producers:  make(map[string]ProducerEntry),
	}
}

func (r *Room) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *Room) AddPeer(p *peer.Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRoomClosed
	}
	r.peers[p.ID] = p

	r.logger.Info("Peer joined room",
		zap.String("peerID", p.ID),
		zap.String("userID", p.UserID),
		zap.Int("peerCount", len(r.peers)),
	)
	return nil
}

// RemovePeer unregisters a peer and hands back its transports and producers
// for the caller to close. It is a no-op for an unknown peer.
func (r *Room) RemovePeer(peerID string) (Removed, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.peers[peerID]; !ok {
		return Removed{}, false
	}
	delete(r.peers, peerID)

	var out Removed
	for id, e := range r.producers {
		if e.PeerID == peerID {
			out.Producers = append(out.Producers, e)
			delete(r.producers, id)
			metrics.Producers.WithLabelValues(string(e.Producer.Kind())).Dec()
		}
	}
	for id, e := range r.transports {
		if e.PeerID == peerID {
			out.Transports = append(out.Transports, e.Transport)
			delete(r.transports, id)
			metrics.Transports.Dec()
		}
	}

	r.logger.Info("Peer left room",
		zap.String("peerID", peerID),
		zap.Int("peerCount", len(r.peers)),
	)
	return out, true
}

func (r *Room) Peer(peerID string) (*peer.Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[peerID]
	return p, ok
}

// Peers returns the registered peers ordered by join time.
func (r *Room) Peers() []*peer.Peer {
	r.mu.RLock()
	out := make([]*peer.Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out
}

// Others returns the peers other than exclude.
func (r *Room) Others(excludePeerID string) []*peer.Peer {
	all := r.Peers()
	out := all[:0]
	for _, p := range all {
		if p.ID != excludePeerID {
			out = append(out, p)
		}
	}
	return out
}

func (r *Room) PeersByUser(userID string) []*peer.Peer {
	var out []*peer.Peer
	for _, p := range r.Peers() {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out
}

func (r *Room) PeerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// AddTransport registers t for a peer. It fails when the peer has left or
// the room closed while the transport was being created; the caller then
// owns t and must close it.
func (r *Room) AddTransport(peerID string, t media.Transport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRoomClosed
	}
	if _, ok := r.peers[peerID]; !ok {
		return ErrPeerNotInRoom
	}
	r.transports[t.ID()] = TransportEntry{Transport: t, PeerID: peerID}
	metrics.Transports.Inc()
	return nil
}

func (r *Room) Transport(id string) (TransportEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.transports[id]
	return e, ok
}

// AddProducer registers a producer under the same liveness rules as AddTransport.
func (r *Room) AddProducer(e ProducerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRoomClosed
	}
	if _, ok := r.peers[e.PeerID]; !ok {
		return ErrPeerNotInRoom
	}
	r.producers[e.Producer.ID()] = e
	metrics.Producers.WithLabelValues(string(e.Producer.Kind())).Inc()
	return nil
}

func (r *Room) Producer(id string) (ProducerEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.producers[id]
	return e, ok
}

func (r *Room) RemoveProducer(id string) (ProducerEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.producers[id]
	if ok {
		delete(r.producers, id)
		metrics.Producers.WithLabelValues(string(e.Producer.Kind())).Dec()
	}
	return e, ok
}

// LiveProducers lists open producers not owned by excludePeerID.
func (r *Room) LiveProducers(excludePeerID string) []peer.ProducerInfo {
	r.mu.RLock()
	entries := make([]ProducerEntry, 0, len(r.producers))
	for _, e := range r.producers {
		if e.PeerID != excludePeerID {
			entries = append(entries, e)
		}
	}
	r.mu.RUnlock()

	out := make([]peer.ProducerInfo, 0, len(entries))
	for _, e := range entries {
		if !e.Producer.Closed() {
			out = append(out, e.Info())
		}
	}
	return out
}

// StartScreenShare gives the screen to userID. Re-asserting ownership is allowed.
func (r *Room) StartScreenShare(userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRoomClosed
	}
	if r.screenShare != "" && r.screenShare != userID {
		return ErrAlreadySharing
	}
	r.screenShare = userID
	return nil
}

// StopScreenShare clears ownership if userID holds it and reports whether it did.
func (r *Room) StopScreenShare(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.screenShare == "" || r.screenShare != userID {
		return false
	}
	r.screenShare = ""
	return true
}

func (r *Room) ScreenShareOwner() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.screenShare
}

// markClosedIfEmpty closes the room for new peers when none are registered.
func (r *Room) markClosedIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || len(r.peers) > 0 {
		return false
	}
	r.closed = true
	return true
}

func (r *Room) markClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.closed = true
	return true
}

// release closes every transport and the router and gives the worker slot
// back. Errors are logged; cleanup always runs to the end.
func (r *Room) release() {
	r.mu.Lock()
	transports := r.transports
	producers := r.producers
	r.transports = make(map[string]TransportEntry)
	r.producers = make(map[string]ProducerEntry)
	r.peers = make(map[string]*peer.Peer)
	r.screenShare = ""
	r.mu.Unlock()

	for _, e := range producers {
		metrics.Producers.WithLabelValues(string(e.Producer.Kind())).Dec()
	}
	for id, e := range transports {
		if err := e.Transport.Close(); err != nil {
			r.logger.Warn("Failed to close transport", zap.String("transportID", id), zap.Error(err))
		}
		metrics.Transports.Dec()
	}
	if err := r.Router.Close(); err != nil {
		r.logger.Warn("Failed to close router", zap.Error(err))
	}
	r.handle.Release()
}

// Stats is the REST view of a live room.
func (r *Room) Stats() map[string]interface{} {
	peers := r.Peers()
	infos := make([]peer.Info, 0, len(peers))
	for _, p := range peers {
		infos = append(infos, p.Info())
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]interface{}{
		"id":             r.ID,
		"routerId":       r.Router.ID(),
		"workerId":       r.Router.WorkerID(),
		"peerCount":      len(infos),
		"peers":          infos,
		"transportCount": len(r.transports),
		"producerCount":  len(r.producers),
		"screenSharing":  r.screenShare,
		"createdAt":      r.CreatedAt,
	}
}
