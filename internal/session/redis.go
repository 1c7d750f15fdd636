package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-voice/kestrel/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisStore holds conversation contexts in Redis so any gateway
// instance can serve any conversation. Used in the Pro tier.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(cfg domain.SessionConfig) (*RedisStore, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	return &RedisStore{client: client, ttl: ttl}, nil
}

func (s *RedisStore) key(conversationID string) string {
	return "kestrel:session:" + conversationID
}

// Get retrieves the context for a conversation, or nil if absent.
func (s *RedisStore) Get(ctx context.Context, conversationID string) (*domain.CaseContext, error) {
	val, err := s.client.Get(ctx, s.key(conversationID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var cc domain.CaseContext
	if err := json.Unmarshal(val, &cc); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", conversationID, err)
	}
	return &cc, nil
}

// Put stores the context and refreshes its TTL.
func (s *RedisStore) Put(ctx context.Context, cc *domain.CaseContext) error {
	data, err := json.Marshal(cc)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", cc.ConversationID, err)
	}
	return s.client.Set(ctx, s.key(cc.ConversationID), data, s.ttl).Err()
}

// Delete discards the context for a conversation.
func (s *RedisStore) Delete(ctx context.Context, conversationID string) error {
	return s.client.Del(ctx, s.key(conversationID)).Err()
}

// Ping verifies the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
