package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis implements Cache on a shared redis instance so multiple stateless
// invocations see the same entries.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis wraps a connected client. The prefix namespaces keys so several
// caches can share one database.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + ":" + key
}

// Get returns the cached value, mapping redis.Nil to ErrMiss.
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, r.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrMiss
		}
		return "", err
	}
	return value, nil
}

// Set stores a value with the given TTL.
func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, r.key(key), value, ttl).Err()
}

// Evict removes a key.
func (r *Redis) Evict(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

var _ Cache = (*Redis)(nil)
