package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"cors-proxy-go/internal/model"
)

// RedisStore keeps entries as JSON strings with a native Redis expiry.
type RedisStore struct {
	rdb redis.UniversalClient
}

// NewRedisStore wraps an existing client. The caller owns the client's lifecycle.
func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Get fetches and decodes the entry under key.
func (s *RedisStore) Get(ctx context.Context, key string) (*model.CachedResponse, error) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %w", ErrStore, key, err)
	}

	var entry model.CachedResponse
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrStore, key, err)
	}
	return &entry, nil
}

// Set encodes entry and writes it with the given expiry. A non-positive ttl
// is rejected because Redis would keep the value forever.
func (s *RedisStore) Set(ctx context.Context, key string, entry *model.CachedResponse, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("%w: set %s: ttl must be positive, got %v", ErrStore, key, ttl)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrStore, key, err)
	}
	if err := s.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %w", ErrStore, key, err)
	}
	return nil
}
