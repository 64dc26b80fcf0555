package signaling

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mynameaksh/SkillXChange/internals/metrics"
	"github.com/mynameaksh/SkillXChange/internals/sfuerr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type ClientOptions struct {
	ReadLimit    int64
	WriteTimeout time.Duration
	PongTimeout  time.Duration
	PingInterval time.Duration
	RatePerSec   float64
	RateBurst    int
}

func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		ReadLimit:    524288,
		WriteTimeout: 10 * time.Second,
		PongTimeout:  60 * time.Second,
		PingInterval: 54 * time.Second,
		RatePerSec:   20,
		RateBurst:    40,
	}
}

type Client struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`

	Conn *websocket.Conn `json:"-"`
	Send chan Message    `json:"-"`

	opts    ClientOptions
	limiter *rate.Limiter

	mu        sync.RWMutex
	lastSeen  time.Time
	closeOnce sync.Once
	closed    atomic.Bool
	logger    *zap.Logger

	OnMessage    func(*Client, Message)
	OnDisconnect func(*Client)
}

func NewClient(userID string, conn *websocket.Conn, opts ClientOptions, logger *zap.Logger) *Client {
	id := "client_" + uuid.NewString()
	c := &Client{
		ID:       id,
		UserID:   userID,
		Conn:     conn,
		Send:     make(chan Message, 256),
		opts:     opts,
		lastSeen: time.Now(),
		logger:   logger.With(zap.String("clientID", id), zap.String("userID", userID)),
	}
	if opts.RatePerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.RateBurst)
	}
	return c
}

func (c *Client) ConnID() string { return c.ID }
func (c *Client) User() string   { return c.UserID }

// Allow reports whether the client is within its request rate.
func (c *Client) Allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

func (c *Client) LastSeen() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSeen
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.Send)
	})
}

// Close flushes nothing further and makes WritePump send a close frame.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeSend()
}

func (c *Client) ReadPump() {
	defer func() {
		if c.OnDisconnect != nil {
			c.OnDisconnect(c)
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.opts.ReadLimit)
	c.Conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.touch()
		c.Conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
		return nil
	})

	for {
		var message Message
		err := c.Conn.ReadJSON(&message)
		if err != nil {
			if isDecodeError(err) {
				c.SendMessage(ErrorFor(Message{}, sfuerr.New(sfuerr.CodeInvalidRequest, "malformed frame")))
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}
		c.touch()
		c.Conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))

		message.From = c.ID
		message.Timestamp = time.Now()
		metrics.MessagesReceived.WithLabelValues(string(message.Type)).Inc()

		if message.Type == MessageTypePing {
			reply, _ := NewMessage(MessageTypePong, nil)
			reply.RequestID = message.RequestID
			c.SendMessage(reply)
			continue
		}
		if !c.Allow() {
			c.SendMessage(ErrorFor(message, sfuerr.New(sfuerr.CodeRateLimited, "too many requests")))
			continue
		}

		if c.OnMessage != nil {
			c.OnMessage(c, message)
		}
	}
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteJSON(message); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}
			metrics.MessagesSent.Inc()

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage queues a message without blocking; a full queue drops it.
func (c *Client) SendMessage(message Message) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed.Load() {
		return false
	}
	select {
	case c.Send <- message:
		return true
	default:
		c.logger.Warn("Client send channel full, dropping message", zap.String("type", string(message.Type)))
		return false
	}
}

// Reply answers req with payload under the request's type.
func (c *Client) Reply(req Message, payload interface{}) {
	msg, err := NewMessage(req.Type, payload)
	if err != nil {
		c.SendError(req, sfuerr.Wrap(sfuerr.CodeInternal, err, "failed to encode reply"))
		return
	}
	msg.RequestID = req.RequestID
	c.SendMessage(msg)
}

func (c *Client) SendError(req Message, err error) {
	metrics.RecordNegotiationError(string(sfuerr.CodeOf(err)))
	c.SendMessage(ErrorFor(req, err))
}

// Hub tracks the live clients of one endpoint.
type Hub struct {
	name    string
	clients map[string]*Client
	mu      sync.RWMutex
	logger  *zap.Logger
}

func NewHub(name string, logger *zap.Logger) *Hub {
	return &Hub{
		name:    name,
		clients: make(map[string]*Client),
		logger:  logger,
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()

	h.logger.Info("Client registered",
		zap.String("hub", h.name),
		zap.String("clientID", client.ID),
		zap.String("userID", client.UserID),
	)
}

// Unregister removes the client and closes its send queue. It reports
// whether the client was still registered.
func (h *Hub) Unregister(client *Client) bool {
	h.mu.Lock()
	_, ok := h.clients[client.ID]
	if ok {
		delete(h.clients, client.ID)
	}
	h.mu.Unlock()

	if ok {
		client.Close()
		h.logger.Info("Client unregistered",
			zap.String("hub", h.name),
			zap.String("clientID", client.ID),
			zap.String("userID", client.UserID),
		)
	}
	return ok
}

func (h *Hub) GetClient(clientID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	client, exists := h.clients[clientID]
	return client, exists
}

func (h *Hub) ClientsByUser(userID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*Client
	for _, c := range h.clients {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll disconnects every client, used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}

// NewUpgrader accepts origins from the allow list; "*" accepts any.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range allowedOrigins {
				if allowed == "*" || strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}
