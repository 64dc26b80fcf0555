package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mynameaksh/SkillXChange/internals/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const maxTxRetries = 10

// Redis persists records as JSON documents. Read-modify-write updates run
// under WATCH so concurrent instances never lose a participant update.
type Redis struct {
	client *redis.Client
	logger *zap.Logger
	now    func() time.Time
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, opts RedisOptions, logger *zap.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	logger.Info("Redis connection established",
		zap.String("addr", opts.Addr),
		zap.Int("db", opts.DB),
	)
	return NewRedisWithClient(client, logger), nil
}

func NewRedisWithClient(client *redis.Client, logger *zap.Logger) *Redis {
	return &Redis{client: client, logger: logger, now: time.Now}
}

// Client exposes the connection for pub/sub.
func (r *Redis) Client() *redis.Client {
	return r.client
}

func (r *Redis) getJSON(ctx context.Context, c redis.Cmdable, key string, v interface{}) error {
	start := time.Now()
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.RecordRedis(start, nil)
		return ErrNotFound
	}
	metrics.RecordRedis(start, err)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (r *Redis) setJSON(ctx context.Context, c redis.Cmdable, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	start := time.Now()
	err = c.Set(ctx, key, data, 0).Err()
	metrics.RecordRedis(start, err)
	return err
}

// PutSession stores a session record; sessions are owned by the scheduling
// service and only read here.
func (r *Redis) PutSession(ctx context.Context, s *Session) error {
	return r.setJSON(ctx, r.client, SessionKey(s.ID), s)
}

func (r *Redis) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var s Session
	if err := r.getJSON(ctx, r.client, SessionKey(sessionID), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Redis) SetSessionStatus(ctx context.Context, sessionID string, status SessionStatus) error {
	key := SessionKey(sessionID)
	return r.watch(ctx, key, func(tx *redis.Tx) error {
		var s Session
		if err := r.getJSON(ctx, tx, key, &s); err != nil {
			return err
		}
		s.Status = status
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return r.setJSON(ctx, pipe, key, &s)
		})
		return err
	})
}

// watch runs fn under WATCH on key, retrying when another client wins the race.
func (r *Redis) watch(ctx context.Context, key string, fn func(*redis.Tx) error, extra ...string) error {
	keys := append([]string{key}, extra...)
	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	r.logger.Warn("Redis transaction retries exhausted", zap.String("key", key))
	return fmt.Errorf("store: too much contention on %s", key)
}

func (r *Redis) Create(ctx context.Context, room *VideoRoom) error {
	roomKey := VideoRoomKey(room.RoomID)
	indexKey := VideoRoomBySessionKey(room.SessionID)
	return r.watch(ctx, roomKey, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, roomKey, indexKey).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrAlreadyExists
		}
		data, err := json.Marshal(room)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, roomKey, data, 0)
			pipe.Set(ctx, indexKey, room.RoomID, 0)
			return nil
		})
		return err
	}, indexKey)
}

func (r *Redis) FindBySession(ctx context.Context, sessionID string) (*VideoRoom, error) {
	roomID, err := r.client.Get(ctx, VideoRoomBySessionKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, roomID)
}

func (r *Redis) Get(ctx context.Context, roomID string) (*VideoRoom, error) {
	var v VideoRoom
	if err := r.getJSON(ctx, r.client, VideoRoomKey(roomID), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *Redis) updateRoom(ctx context.Context, roomID string, fn func(*VideoRoom) error) error {
	key := VideoRoomKey(roomID)
	return r.watch(ctx, key, func(tx *redis.Tx) error {
		var v VideoRoom
		if err := r.getJSON(ctx, tx, key, &v); err != nil {
			return err
		}
		if err := fn(&v); err != nil {
			return err
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return r.setJSON(ctx, pipe, key, &v)
		})
		return err
	})
}

func (r *Redis) SetParticipantConnected(ctx context.Context, roomID, userID string) error {
	return r.updateRoom(ctx, roomID, func(v *VideoRoom) error { return v.setConnected(userID, r.now()) })
}

func (r *Redis) SetParticipantDisconnected(ctx context.Context, roomID, userID string) error {
	return r.updateRoom(ctx, roomID, func(v *VideoRoom) error { return v.setDisconnected(userID, r.now()) })
}

func (r *Redis) SetStatus(ctx context.Context, roomID string, status RoomStatus) error {
	return r.updateRoom(ctx, roomID, func(v *VideoRoom) error {
		v.setStatus(status, r.now())
		return nil
	})
}

func (r *Redis) SetScreenSharing(ctx context.Context, roomID, ownerUserID string) error {
	return r.updateRoom(ctx, roomID, func(v *VideoRoom) error {
		v.setScreenSharing(ownerUserID)
		return nil
	})
}

// PutChatRoom stores a chat room and indexes it under both participants.
func (r *Redis) PutChatRoom(ctx context.Context, room *ChatRoom) error {
	data, err := json.Marshal(room)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, ChatRoomKey(room.ID), data, 0)
		pipe.SAdd(ctx, UserChatRoomsKey(room.ParticipantA), room.ID)
		pipe.SAdd(ctx, UserChatRoomsKey(room.ParticipantB), room.ID)
		return nil
	})
	return err
}

func (r *Redis) FindRoom(ctx context.Context, roomID string) (*ChatRoom, error) {
	var c ChatRoom
	if err := r.getJSON(ctx, r.client, ChatRoomKey(roomID), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Redis) RoomsForUser(ctx context.Context, userID string) ([]*ChatRoom, error) {
	ids, err := r.client.SMembers(ctx, UserChatRoomsKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	out := make([]*ChatRoom, 0, len(ids))
	for _, id := range ids {
		room, err := r.FindRoom(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, room)
	}
	return out, nil
}

func (r *Redis) CreateMessage(ctx context.Context, msg *Message) (*Message, error) {
	c := *msg
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.now()
	}
	data, err := json.Marshal(&c)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	err = r.client.RPush(ctx, ChatMessagesKey(c.RoomID), data).Err()
	metrics.RecordRedis(start, err)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Messages returns up to limit of the most recent messages of a chat room.
func (r *Redis) Messages(ctx context.Context, roomID string, limit int64) ([]*Message, error) {
	raw, err := r.client.LRange(ctx, ChatMessagesKey(roomID), -limit, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Message, 0, len(raw))
	for _, item := range raw {
		var m Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			r.logger.Warn("Skipping malformed chat message", zap.String("room_id", roomID), zap.Error(err))
			continue
		}
		out = append(out, &m)
	}
	return out, nil
}

func (r *Redis) UpdateLastMessage(ctx context.Context, roomID, messageID string, at time.Time) error {
	key := ChatRoomKey(roomID)
	return r.watch(ctx, key, func(tx *redis.Tx) error {
		var c ChatRoom
		if err := r.getJSON(ctx, tx, key, &c); err != nil {
			return err
		}
		c.LastMessageID = messageID
		c.LastMessageAt = &at
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return r.setJSON(ctx, pipe, key, &c)
		})
		return err
	})
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close Redis connection", zap.Error(err))
		return err
	}
	r.logger.Info("Redis store closed")
	return nil
}
