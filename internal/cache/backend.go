// Package cache persists events between sessions on a key/value backend.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrUnknownBackend = errors.New("unknown cache backend")

// Backend is a byte-oriented key/value store with per-key TTL.
// A TTL of zero means the entry never expires.
type Backend interface {
	// Get returns (value, found, error)
	Get(ctx context.Context, key string) ([]byte, bool, error)

	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	Delete(ctx context.Context, keys ...string) error

	// GetMultiple returns only the keys that were found
	GetMultiple(ctx context.Context, keys []string) (map[string][]byte, error)

	SetMultiple(ctx context.Context, items map[string][]byte, ttl time.Duration) error

	Close() error
}

// Open builds the backend named by kind: "memory", "redis", or "" / "none"
// for no backend at all (nil, nil).
func Open(kind, redisURL, prefix string) (Backend, error) {
	switch kind {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemoryCache(10000, time.Minute), nil
	case "redis":
		return NewRedisCache(redisURL, prefix)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, kind)
}
