package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Counter tracks per-user generation usage. Increment is fire-and-forget:
// a counter failure is logged and never blocks or fails the main flow.
type Counter interface {
	Increment(ctx context.Context, userID string, step int)
}

// RedisCounter accumulates daily usage in redis.
type RedisCounter struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisCounter creates a counter on a connected client.
func NewRedisCounter(client *redis.Client, logger zerolog.Logger) *RedisCounter {
	return &RedisCounter{client: client, logger: logger}
}

// Increment adds step to the user's counter for the current UTC day. The
// key expires after 48 hours so stale days clean themselves up.
func (c *RedisCounter) Increment(ctx context.Context, userID string, step int) {
	if userID == "" || step <= 0 {
		return
	}
	day := time.Now().UTC().Format("2006-01-02")
	key := fmt.Sprintf("usage:%s:%s", userID, day)
	pipe := c.client.Pipeline()
	pipe.IncrBy(ctx, key, int64(step))
	pipe.Expire(ctx, key, 48*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn().Err(err).Str("user_id", userID).Msg("usage: increment failed")
	}
}

var _ Counter = (*RedisCounter)(nil)

// NopCounter discards all increments; used when redis is not configured.
type NopCounter struct{}

// Increment does nothing.
func (NopCounter) Increment(ctx context.Context, userID string, step int) {}

var _ Counter = NopCounter{}
