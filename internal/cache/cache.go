package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Cache is the injected cache abstraction: explicit TTLs, no globals, so a
// process-local map and a distributed cache are interchangeable without
// touching business logic.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Evict(ctx context.Context, key string) error
}
