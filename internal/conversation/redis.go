package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ashureev/voxcore/internal/domain"
)

// RedisStore implements Store using Redis lists and hashes. Retention is enforced by key
// expiry, refreshed on every write.
type RedisStore struct {
	client      *redis.Client
	ttl         time.Duration
	maxMessages int
	logger      *slog.Logger
}

// NewRedisFromURL parses redisURL, connects and verifies the connection.
func NewRedisFromURL(ctx context.Context, redisURL string, ttl time.Duration, maxMessages int, logger *slog.Logger) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedis(client, ttl, maxMessages, logger), nil
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, ttl time.Duration, maxMessages int, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &RedisStore{client: client, ttl: ttl, maxMessages: maxMessages, logger: logger}
}

func messagesKey(userID string) string { return fmt.Sprintf("conversation:%s:messages", userID) }
func entitiesKey(userID string) string { return fmt.Sprintf("conversation:%s:entities", userID) }

// AddMessage appends the message, trims the list and refreshes expiry atomically.
func (r *RedisStore) AddMessage(ctx context.Context, userID string, role domain.Role, content string) error {
	data, err := json.Marshal(domain.Message{Role: role, Content: content, Timestamp: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	key := messagesKey(userID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, int64(-r.maxMessages), -1)
		pipe.Expire(ctx, key, r.ttl)
		pipe.Expire(ctx, entitiesKey(userID), r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save message to Redis: %w", err)
	}
	return nil
}

// GetContext reads the tail of the message list and the entity hash.
func (r *RedisStore) GetContext(ctx context.Context, userID string, limit int) (domain.ConversationContext, error) {
	out := domain.ConversationContext{Messages: []domain.Message{}, Entities: map[string]string{}}

	raw, err := r.client.LRange(ctx, messagesKey(userID), int64(-clampLimit(limit)), -1).Result()
	if err != nil {
		return out, fmt.Errorf("failed to load messages from Redis: %w", err)
	}
	for _, item := range raw {
		var m domain.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			r.logger.Warn("Skipping unreadable conversation message", "user_id", userID, "error", err)
			continue
		}
		out.Messages = append(out.Messages, m)
	}

	entities, err := r.client.HGetAll(ctx, entitiesKey(userID)).Result()
	if err != nil {
		return out, fmt.Errorf("failed to load entities from Redis: %w", err)
	}
	for k, v := range entities {
		out.Entities[k] = v
	}
	return out, nil
}

// UpdateContext merges entities into the hash; empty values are deleted.
func (r *RedisStore) UpdateContext(ctx context.Context, userID string, entities map[string]string) error {
	if len(entities) == 0 {
		return nil
	}
	key := entitiesKey(userID)
	set := make(map[string]any, len(entities))
	var del []string
	for k, v := range entities {
		if v == "" {
			del = append(del, k)
			continue
		}
		set[k] = v
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(set) > 0 {
			pipe.HSet(ctx, key, set)
		}
		if len(del) > 0 {
			pipe.HDel(ctx, key, del...)
		}
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update entities in Redis: %w", err)
	}
	return nil
}

// Prune is a no-op; Redis expires idle conversations itself.
func (r *RedisStore) Prune(context.Context) (int64, error) {
	return 0, nil
}

// Ping verifies the Redis connection.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
