// Package cache stores upstream responses in an external key-value service.
package cache

import (
	"context"
	"errors"
	"time"

	"cors-proxy-go/internal/model"
)

// ErrStore marks failures of the backing store (connection, protocol or a
// corrupt entry). Callers treat it as a cache miss on read and ignore it on write.
var ErrStore = errors.New("cache store error")

// Store is the capability the proxy needs from a cache backend.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the entry stored under key.
	// Returns nil, nil if no entry exists.
	Get(ctx context.Context, key string) (*model.CachedResponse, error)

	// Set stores entry under key with the given lifetime, replacing any
	// existing value.
	Set(ctx context.Context, key string, entry *model.CachedResponse, ttl time.Duration) error
}

// NopStore never holds anything. It backs deployments without a cache service.
type NopStore struct{}

// Get always misses.
func (NopStore) Get(context.Context, string) (*model.CachedResponse, error) {
	return nil, nil
}

// Set discards the entry.
func (NopStore) Set(context.Context, string, *model.CachedResponse, time.Duration) error {
	return nil
}
