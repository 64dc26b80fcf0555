package signaling

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const UserChannelPrefix = "chat:user:"

// PubSubMessage wraps a message with its origin and the user it is for.
type PubSubMessage struct {
	InstanceID string  `json:"instance_id"`
	UserID     string  `json:"user_id"`
	Message    Message `json:"message"`
}

// DeliverFunc hands a message from another instance to a local connection.
type DeliverFunc func(userID string, msg Message)

// PubSubManager relays messages for users connected to other instances.
// Every instance subscribes to the channels of its locally connected users.
type PubSubManager struct {
	redis      *redis.Client
	deliver    DeliverFunc
	instanceID string
	logger     *zap.Logger

	mu   sync.Mutex
	subs map[string]*redis.PubSub // userID -> subscription

	ctx    context.Context
	cancel context.CancelFunc
}

func NewPubSubManager(redisClient *redis.Client, deliver DeliverFunc, logger *zap.Logger) *PubSubManager {
	ctx, cancel := context.WithCancel(context.Background())

	instanceID := os.Getenv("INSTANCE_ID")
	if instanceID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "sfu"
		}
		instanceID = hostname + "-" + uuid.NewString()[:8]
	}

	pm := &PubSubManager{
		redis:      redisClient,
		deliver:    deliver,
		instanceID: instanceID,
		logger:     logger,
		subs:       make(map[string]*redis.PubSub),
		ctx:        ctx,
		cancel:     cancel,
	}

	logger.Info("PubSub manager initialized", zap.String("instance_id", instanceID))
	return pm
}

func UserChannel(userID string) string {
	return UserChannelPrefix + userID
}

// PublishToUser sends msg to whichever instance holds the user's connection.
// It returns the number of instances subscribed to the user, zero when the
// user is connected nowhere.
func (p *PubSubManager) PublishToUser(userID string, msg Message) (int64, error) {
	data, err := json.Marshal(PubSubMessage{InstanceID: p.instanceID, UserID: userID, Message: msg})
	if err != nil {
		return 0, err
	}

	channel := UserChannel(userID)
	receivers, err := p.redis.Publish(p.ctx, channel, data).Result()
	if err != nil {
		p.logger.Error("Failed to publish to Redis",
			zap.String("user_id", userID),
			zap.String("channel", channel),
			zap.Error(err),
		)
		return 0, err
	}
	return receivers, nil
}

// SubscribeUser starts receiving messages for a locally connected user. It
// returns once the subscription is confirmed.
func (p *PubSubManager) SubscribeUser(ctx context.Context, userID string) error {
	p.mu.Lock()
	if _, exists := p.subs[userID]; exists {
		p.mu.Unlock()
		return nil
	}
	sub := p.redis.Subscribe(p.ctx, UserChannel(userID))
	p.subs[userID] = sub
	p.mu.Unlock()

	if _, err := sub.Receive(ctx); err != nil {
		p.UnsubscribeUser(userID)
		return err
	}

	go p.listen(userID, sub)
	return nil
}

func (p *PubSubManager) UnsubscribeUser(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sub, exists := p.subs[userID]
	if !exists {
		return
	}
	if err := sub.Close(); err != nil {
		p.logger.Warn("Error closing subscription", zap.String("user_id", userID), zap.Error(err))
	}
	delete(p.subs, userID)
}

func (p *PubSubManager) listen(userID string, sub *redis.PubSub) {
	ch := sub.Channel()
	for {
		select {
		case <-p.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			p.handle(msg)
		}
	}
}

func (p *PubSubManager) handle(redisMsg *redis.Message) {
	var pubMsg PubSubMessage
	if err := json.Unmarshal([]byte(redisMsg.Payload), &pubMsg); err != nil {
		p.logger.Warn("Failed to unmarshal pub/sub message",
			zap.String("channel", redisMsg.Channel),
			zap.Error(err),
		)
		return
	}

	// Messages from this instance were already delivered locally.
	if pubMsg.InstanceID == p.instanceID {
		return
	}

	p.logger.Debug("Received cross-instance message",
		zap.String("user_id", pubMsg.UserID),
		zap.String("from_instance", pubMsg.InstanceID),
		zap.String("type", string(pubMsg.Message.Type)),
	)
	p.deliver(pubMsg.UserID, pubMsg.Message)
}

func (p *PubSubManager) InstanceID() string {
	return p.instanceID
}

func (p *PubSubManager) Close() error {
	p.cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	for userID, sub := range p.subs {
		if err := sub.Close(); err != nil {
			p.logger.Warn("Error closing subscription during shutdown",
				zap.String("user_id", userID),
				zap.Error(err),
			)
		}
	}
	p.subs = make(map[string]*redis.PubSub)
	p.logger.Info("PubSub manager closed")
	return nil
}

func (p *PubSubManager) Ping() error {
	ctx, cancel := context.WithTimeout(p.ctx, 3*time.Second)
	defer cancel()
	return p.redis.Ping(ctx).Err()
}
