package sfu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mynameaksh/SkillXChange/internals/access"
	"github.com/mynameaksh/SkillXChange/internals/auth"
	"github.com/mynameaksh/SkillXChange/internals/chat"
	"github.com/mynameaksh/SkillXChange/internals/config"
	"github.com/mynameaksh/SkillXChange/internals/media"
	"github.com/mynameaksh/SkillXChange/internals/peer"
	"github.com/mynameaksh/SkillXChange/internals/room"
	"github.com/mynameaksh/SkillXChange/internals/sfuerr"
	"github.com/mynameaksh/SkillXChange/internals/signaling"
	"github.com/mynameaksh/SkillXChange/internals/store"
	"github.com/mynameaksh/SkillXChange/internals/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var safeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_\-\.]+$`)

const (
	roomSweepInterval = 30 * time.Second
	// Rooms younger than this are left to the join that created them.
	roomSweepGrace = 10 * time.Second
)

// Deps are the collaborators a Server is built from. PubSub is optional.
type Deps struct {
	Pool     *worker.Pool
	Store    store.Store
	Verifier auth.TokenVerifier
	PubSub   *signaling.PubSubManager
}

// binding ties a media connection to the peer it joined as.
type binding struct {
	peer *peer.Peer
	room *room.Room
}

type Server struct {
	config *config.Config
	logger *zap.Logger

	pool     *worker.Pool
	store    store.Store
	verifier auth.TokenVerifier
	pubsub   *signaling.PubSubManager

	rooms       *room.Registry
	gate        *access.Gate
	provisioner *access.Provisioner
	chat        *chat.Manager

	mediaHub      *signaling.Hub
	chatHub       *signaling.Hub
	upgrader      *websocket.Upgrader
	clientOpts    signaling.ClientOptions
	transportOpts media.TransportOptions

	bindingsMu sync.RWMutex
	bindings   map[string]binding // client id -> joined peer

	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
}

func NewServer(cfg *config.Config, deps Deps, logger *zap.Logger) (*Server, error) {
	if deps.Pool == nil || deps.Store == nil {
		return nil, errors.New("sfu: worker pool and store are required")
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:   cfg,
		logger:   logger,
		pool:     deps.Pool,
		store:    deps.Store,
		verifier: deps.Verifier,
		pubsub:   deps.PubSub,
		rooms: room.NewRegistry(deps.Pool, room.RegistryOptions{
			Codecs:         media.DefaultCodecs(cfg.Media.VideoStartBitrate),
			MaxRooms:       cfg.Server.MaxRooms,
			RequestTimeout: cfg.Media.RequestTimeout,
		}, logger),
		gate:        access.NewGate(deps.Store, deps.Store, logger),
		provisioner: access.NewProvisioner(deps.Store, deps.Store, logger),
		chat: chat.NewManager(deps.Store, chat.Options{
			MaxMessageLength: cfg.Chat.MaxMessageLength,
			StoreTimeout:     cfg.Media.RequestTimeout,
		}, logger),
		mediaHub: signaling.NewHub("media", logger),
		chatHub:  signaling.NewHub("chat", logger),
		upgrader: signaling.NewUpgrader(cfg.Server.AllowedOrigins),
		clientOpts: signaling.ClientOptions{
			ReadLimit:    cfg.Media.WSReadLimit,
			WriteTimeout: cfg.Media.WSWriteTimeout,
			PongTimeout:  cfg.Media.WSPongTimeout,
			PingInterval: cfg.Media.WSPingInterval,
			RatePerSec:   cfg.Media.RateLimitPerSec,
			RateBurst:    cfg.Media.RateLimitBurst,
		},
		transportOpts: media.TransportOptions{
			ListenIP:                        cfg.WebRTC.ListenIP,
			AnnouncedIP:                     cfg.WebRTC.AnnouncedIP,
			InitialAvailableOutgoingBitrate: cfg.Media.InitialAvailableOutgoingBitrate,
			MinimumAvailableOutgoingBitrate: cfg.Media.MinimumAvailableOutgoingBitrate,
			MaxIncomingBitrate:              cfg.Media.MaxIncomingBitrate,
		},
		bindings: make(map[string]binding),
		ctx:      ctx,
		cancel:   cancel,
	}
	if deps.PubSub != nil {
		s.chat.SetRelay(deps.PubSub)
	}
	return s, nil
}

// Chat exposes the chat manager so cross-instance deliveries can reach it.
func (s *Server) Chat() *chat.Manager {
	return s.chat
}

// Handler returns the HTTP surface of the server.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /api/rooms", s.handleListRooms)
	api.HandleFunc("GET /api/rooms/{id}", s.handleGetRoom)
	api.HandleFunc("POST /api/video-rooms", s.handleCreateVideoRoom)
	api.HandleFunc("GET /api/video-rooms/{id}", s.handleGetVideoRoom)
	api.HandleFunc("POST /api/video-rooms/{id}/end", s.handleEndVideoRoom)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/chat", s.handleChat)
	mux.Handle("/api/", s.corsMiddleware(api))
	mux.HandleFunc("/health", s.handleHealth)

	if s.config.Metrics.Enabled {
		mux.Handle(s.config.Metrics.Path, promhttp.Handler())
	}
	return mux
}

func (s *Server) Start() error {
	s.logger.Info("Starting SFU server",
		zap.String("host", s.config.Server.Host),
		zap.Int("port", s.config.Server.Port),
		zap.Int("workers", s.pool.Len()),
	)

	go s.roomSweepLoop()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port),
		Handler:      s.Handler(),
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	s.logger.Info("SFU server started successfully")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains HTTP, disconnects every client and destroys every room.
func (s *Server) Stop() {
	s.logger.Info("Stopping SFU server")
	s.cancel()

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Warn("HTTP shutdown did not complete", zap.Error(err))
		}
	}

	s.mediaHub.CloseAll()
	s.chatHub.CloseAll()
	s.rooms.Close()
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := s.allowedOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowedOrigin(origin string) string {
	for _, allowed := range s.config.Server.AllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if origin != "" && allowed == origin {
			return origin
		}
	}
	return ""
}

// roomSweepLoop destroys rooms that were created but never got a peer, e.g.
// when the joining connection dropped between creation and admission.
func (s *Server) roomSweepLoop() {
	ticker := time.NewTicker(roomSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweepRooms()
		}
	}
}

func (s *Server) sweepRooms() int {
	swept := 0
	for _, rm := range s.rooms.List() {
		if rm.PeerCount() > 0 || time.Since(rm.CreatedAt) < roomSweepGrace {
			continue
		}
		if s.rooms.DestroyIfEmpty(rm.ID) {
			swept++
			s.logger.Debug("Swept empty room", zap.String("roomID", rm.ID))
		}
	}
	return swept
}

func (s *Server) bind(clientID string, b binding) {
	s.bindingsMu.Lock()
	s.bindings[clientID] = b
	s.bindingsMu.Unlock()
}

func (s *Server) unbind(clientID string) {
	s.bindingsMu.Lock()
	delete(s.bindings, clientID)
	s.bindingsMu.Unlock()
}

func (s *Server) binding(clientID string) (binding, bool) {
	s.bindingsMu.RLock()
	defer s.bindingsMu.RUnlock()
	b, ok := s.bindings[clientID]
	return b, ok
}

// --- Signaling message handling ---

func (s *Server) handleSignalingMessage(client *signaling.Client, message signaling.Message) {
	switch message.Type {
	case signaling.MessageTypeJoin:
		s.handleJoin(client, message)
		return
	case signaling.MessageTypePong:
		return
	}

	b, ok := s.binding(client.ID)
	if !ok {
		client.SendError(message, sfuerr.New(sfuerr.CodeProtocolViolation, "join a room first"))
		return
	}

	var err error
	switch message.Type {
	case signaling.MessageTypeLeave:
		err = s.handleLeave(client, b, message)
	case signaling.MessageTypeGetCapabilities:
		err = s.handleGetCapabilities(b, message)
	case signaling.MessageTypeCreateTransport:
		err = s.handleCreateTransport(client, b, message)
	case signaling.MessageTypeConnectTransport:
		err = s.handleConnectTransport(client, b, message)
	case signaling.MessageTypeProduce:
		err = s.handleProduce(client, b, message)
	case signaling.MessageTypeConsume:
		err = s.handleConsume(client, b, message)
	case signaling.MessageTypeResumeConsumer, signaling.MessageTypePauseConsumer:
		err = s.handleConsumerState(client, b, message)
	case signaling.MessageTypeCloseProducer:
		err = s.handleCloseProducer(client, b, message)
	case signaling.MessageTypeScreenShareStart:
		err = s.handleScreenShareStart(client, b, message)
	case signaling.MessageTypeScreenShareStop:
		err = s.handleScreenShareStop(client, b, message)
	default:
		err = sfuerr.New(sfuerr.CodeInvalidRequest, "unknown message type %q", message.Type)
	}
	if err != nil {
		s.logger.Debug("Signaling request failed",
			zap.String("clientID", client.ID),
			zap.String("type", string(message.Type)),
			zap.Error(err),
		)
		client.SendError(message, err)
	}
}

func validateID(id string, maxLen int, fieldName string) error {
	if id == "" {
		return sfuerr.New(sfuerr.CodeInvalidRequest, "%s is required", fieldName)
	}
	if maxLen > 0 && len(id) > maxLen {
		return sfuerr.New(sfuerr.CodeInvalidRequest, "%s exceeds maximum length of %d", fieldName, maxLen)
	}
	if !safeIDPattern.MatchString(id) {
		return sfuerr.New(sfuerr.CodeInvalidRequest, "%s contains invalid characters", fieldName)
	}
	return nil
}

// requestContext bounds one call into the media engine or the stores.
func (s *Server) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, s.config.Media.RequestTimeout)
}

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	rooms := s.rooms.List()
	peerCount := 0
	for _, rm := range rooms {
		peerCount += rm.PeerCount()
	}

	redisStatus := "disabled"
	if s.config.Redis.Enabled {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		redisStatus = "connected"
		if err := s.store.Ping(ctx); err != nil {
			redisStatus = "error: " + err.Error()
		}
	}

	instanceID := ""
	if s.pubsub != nil {
		instanceID = s.pubsub.InstanceID()
	}

	status := "healthy"
	if redisStatus != "connected" && redisStatus != "disabled" {
		status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":     status,
		"timestamp":  time.Now(),
		"instanceId": instanceID,
		"redis":      redisStatus,
		"rooms":      len(rooms),
		"peers":      peerCount,
		"workers":    s.pool.Stats(),
		"chatUsers":  s.chatHub.Count(),
	})
}

// --- WebSocket ---

// identify resolves the connecting user. A presented token must verify; the
// userId query parameter is honoured only when tokens are optional.
func (s *Server) identify(r *http.Request, requireToken bool) (string, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("Authorization")
	}
	if token != "" {
		if s.verifier == nil {
			return "", sfuerr.New(sfuerr.CodeUnauthorized, "token verification is not configured")
		}
		userID, err := s.verifier.VerifyToken(token)
		if err != nil {
			return "", sfuerr.Wrap(sfuerr.CodeUnauthorized, err, "invalid token")
		}
		return userID, nil
	}
	if requireToken {
		return "", sfuerr.New(sfuerr.CodeUnauthorized, "authentication token required")
	}
	return r.URL.Query().Get("userId"), nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, err := s.identify(r, s.config.Auth.RequireMediaToken)
	if err != nil {
		http.Error(w, sfuerr.MessageOf(err), http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := signaling.NewClient(userID, conn, s.clientOpts, s.logger)
	client.OnMessage = s.handleSignalingMessage
	client.OnDisconnect = s.handleClientDisconnect
	s.mediaHub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	userID, err := s.identify(r, true)
	if err != nil {
		http.Error(w, sfuerr.MessageOf(err), http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := signaling.NewClient(userID, conn, s.clientOpts, s.logger)
	client.OnMessage = func(c *signaling.Client, msg signaling.Message) {
		s.chat.Handle(s.ctx, c, msg)
	}
	client.OnDisconnect = func(c *signaling.Client) {
		s.chat.Disconnect(s.ctx, c)
		s.chatHub.Unregister(c)
	}
	s.chatHub.Register(client)
	s.chat.Connect(s.ctx, client)

	go client.WritePump()
	go client.ReadPump()
}
