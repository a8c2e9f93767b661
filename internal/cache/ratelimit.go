// Package cache holds Redis-backed request throttling for the checkout
// endpoint, plus an in-process fallback used when no Redis is configured.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"subsync/internal/core"
)

var (
	_ core.RateLimitStore = (*RedisRateLimiter)(nil)
	_ core.RateLimitStore = (*MemoryRateLimiter)(nil)
)

// fixedWindowScript increments the counter for the current window and sets
// its expiry on first use. Returns {count, ttl_ms}.
var fixedWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local window_ms = tonumber(ARGV[1])

	local count = redis.call('INCR', key)
	if count == 1 then
		redis.call('PEXPIRE', key, window_ms)
	end

	local ttl = redis.call('PTTL', key)
	if ttl < 0 then
		redis.call('PEXPIRE', key, window_ms)
		ttl = window_ms
	end

	return {count, ttl}
`)

// RedisRateLimiter implements a fixed-window counter per key.
type RedisRateLimiter struct {
	client    redis.UniversalClient
	keyPrefix string
	now       func() time.Time
}

// NewRedisRateLimiter accepts *redis.Client, *redis.ClusterClient or *redis.Ring.
func NewRedisRateLimiter(client redis.UniversalClient, keyPrefix string) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if keyPrefix == "" {
		keyPrefix = "subsync:ratelimit:"
	}
	return &RedisRateLimiter{client: client, keyPrefix: keyPrefix, now: time.Now}, nil
}

// IncrementAndCheck counts one request against key.
func (l *RedisRateLimiter) IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (core.RateLimitResult, error) {
	res, err := fixedWindowScript.Run(ctx, l.client, []string{l.keyPrefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return core.RateLimitResult{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 2 {
		return core.RateLimitResult{}, fmt.Errorf("rate limit script returned %d values", len(res))
	}

	count, ttlMs := int(res[0]), res[1]
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return core.RateLimitResult{
		Allowed:   count <= limit,
		Remaining: remaining,
		ResetAt:   l.now().Add(time.Duration(ttlMs) * time.Millisecond),
	}, nil
}

// Ping reports whether Redis is reachable. Used by the health check.
func (l *RedisRateLimiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

type memoryWindow struct {
	count   int
	resetAt time.Time
}

// MemoryRateLimiter is a single-process fixed-window limiter.
type MemoryRateLimiter struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	now     func() time.Time
}

func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{windows: make(map[string]*memoryWindow), now: time.Now}
}

func (l *MemoryRateLimiter) IncrementAndCheck(_ context.Context, key string, limit int, window time.Duration) (core.RateLimitResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &memoryWindow{resetAt: now.Add(window)}
		l.windows[key] = w
	}
	w.count++

	remaining := limit - w.count
	if remaining < 0 {
		remaining = 0
	}
	return core.RateLimitResult{Allowed: w.count <= limit, Remaining: remaining, ResetAt: w.resetAt}, nil
}
