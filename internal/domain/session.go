package domain

import (
	"context"
	"time"
)

// SessionStore holds one CaseContext per live conversation. Contexts are
// isolated per conversation ID and expire after an idle TTL so abandoned
// calls do not leak. Supports a local LRU (Community) or Redis (Pro).
type SessionStore interface {
	// Get retrieves the context for a conversation.
	// Returns nil, nil if no context exists.
	Get(ctx context.Context, conversationID string) (*CaseContext, error)

	// Put stores the context for a conversation, refreshing its TTL.
	Put(ctx context.Context, cc *CaseContext) error

	// Delete discards the context for a conversation.
	Delete(ctx context.Context, conversationID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// SessionConfig holds configuration for session store initialization.
type SessionConfig struct {
	// Type is the store type: "memory" or "redis"
	Type string

	// Local LRU settings (Community tier)
	LocalMaxSize int

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TTL is the idle lifetime of a conversation context.
	TTL time.Duration
}
