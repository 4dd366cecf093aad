package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/avasile/sharescan/internal/domain"
)

// KVCache implements domain.KVCache using plain Redis string keys with JSON
// values. All keys live under the "cache:" prefix.
type KVCache struct {
	rdb *redis.Client
}

// NewKVCache creates a KVCache backed by the given Client.
func NewKVCache(c *Client) *KVCache {
	return &KVCache{rdb: c.Underlying()}
}

func cacheKey(key string) string { return "cache:" + key }

// GetJSON retrieves and unmarshals a cached value into v. It returns
// domain.ErrNotFound when the key does not exist.
func (kc *KVCache) GetJSON(ctx context.Context, key string, v any) error {
	data, err := kc.rdb.Get(ctx, cacheKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("redis: get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("redis: unmarshal %s: %w", key, err)
	}
	return nil
}

// SetJSON marshals v and stores it under key with the given TTL. A zero TTL
// stores without expiry.
func (kc *KVCache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis: marshal %s: %w", key, err)
	}
	return kc.SetRaw(ctx, key, data, ttl)
}

// SetRaw stores raw bytes under key with the given TTL.
func (kc *KVCache) SetRaw(ctx context.Context, key string, raw []byte, ttl time.Duration) error {
	if err := kc.rdb.Set(ctx, cacheKey(key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.KVCache = (*KVCache)(nil)
