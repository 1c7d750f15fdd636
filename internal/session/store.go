// Package session provides conversation context storage.
package session

import (
	"fmt"

	"github.com/opensource-voice/kestrel/internal/domain"
)

// New creates a session store based on configuration.
// For Community tier: returns a local LRU store.
// For Pro tier: returns a Redis store shared across instances.
func New(cfg domain.SessionConfig) (domain.SessionStore, error) {
	switch cfg.Type {
	case "memory":
		return NewLocalStore(cfg.LocalMaxSize, cfg.TTL), nil

	case "redis":
		return NewRedisStore(cfg)

	default:
		return nil, fmt.Errorf("unsupported session store type: %s", cfg.Type)
	}
}
