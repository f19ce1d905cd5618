package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps counter store failures. Callers must not admit on it.
var ErrUnavailable = errors.New("rate limit store unavailable")

// Counter is an atomic fixed-window counter store.
type Counter interface {
	// Incr bumps key and returns the new value. The key expires after ttl.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// RedisCounter shares counters between relay instances.
type RedisCounter struct {
	rdb *redis.Client
}

func NewRedisCounter(rdb *redis.Client) *RedisCounter {
	return &RedisCounter{rdb: rdb}
}

func (r *RedisCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var cnt *redis.IntCmd
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		cnt = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return cnt.Val(), nil
}

// MemoryCounter keeps counters in process. Only correct for a single instance.
type MemoryCounter struct {
	c *cache.Cache
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{c: cache.New(cache.NoExpiration, time.Minute)}
}

func (m *MemoryCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	// Add fails when the key is live; Increment fails when it expired in between.
	for range 3 {
		_ = m.c.Add(key, int64(0), ttl)
		n, err := m.c.IncrementInt64(key, 1)
		if err == nil {
			return n, nil
		}
	}
	return 0, fmt.Errorf("%w: counter %q kept expiring", ErrUnavailable, key)
}
