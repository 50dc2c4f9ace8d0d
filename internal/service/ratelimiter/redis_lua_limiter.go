// Package ratelimiter spaces outbound platform calls across worker
// processes. Every (platform, channel) pair owns one bucket; the stored
// state is a single last-grant timestamp in Redis, advanced by an atomic
// compare-and-set script. Workers poll until granted, which makes the
// limiter the engine's only backpressure mechanism.
package ratelimiter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter grants permission to issue one upstream call on a bucket key.
type Limiter interface {
	// TryAcquire performs one grant attempt without blocking.
	TryAcquire(ctx context.Context, key string) (bool, error)
	// Acquire blocks until granted or ctx is done, polling at half the
	// bucket interval.
	Acquire(ctx context.Context, key string) error
}

// keyPrefix namespaces limiter state in the shared store.
const keyPrefix = "ratelimit:"

// luaLastGrantCAS implements the grant rule atomically: read the last-grant
// timestamp, and iff now-last >= interval, write now with a TTL of twice the
// interval and report success. The TTL keeps dead buckets from accumulating
// while staying long enough that a live bucket never loses state between
// grants.
const luaLastGrantCAS = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local interval = tonumber(ARGV[2])

local last = tonumber(redis.call("GET", key))
if last == nil or (now - last) >= interval then
  redis.call("SET", key, now, "PX", interval * 2)
  return 1
end
return 0
`

// RedisLimiter is the distributed limiter backed by the shared store.
type RedisLimiter struct {
	redis  *redis.Client
	rates  map[string]float64
	script *redis.Script
	mu     sync.RWMutex
}

// NewRedisLimiter builds a limiter over rdb with per-key rates (grants per
// second). Returns nil when rdb is nil; a nil limiter fails open.
func NewRedisLimiter(rdb *redis.Client, rates map[string]float64) *RedisLimiter {
	if rdb == nil {
		return nil
	}
	if rates == nil {
		rates = map[string]float64{}
	}
	return &RedisLimiter{
		redis:  rdb,
		rates:  rates,
		script: redis.NewScript(luaLastGrantCAS),
	}
}

// SetRate updates or creates the bucket rate for key. Safe for concurrent use.
func (l *RedisLimiter) SetRate(key string, perSec float64) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rates[key] = perSec
}

// interval returns the grant spacing for key, or 0 when unthrottled.
func (l *RedisLimiter) interval(key string) time.Duration {
	l.mu.RLock()
	perSec := l.rates[key]
	l.mu.RUnlock()
	if perSec <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / perSec)
}

// TryAcquire runs the CAS script once. Unknown buckets and Redis failures
// fail open so a store outage degrades pacing, not availability.
func (l *RedisLimiter) TryAcquire(ctx context.Context, key string) (bool, error) {
	if l == nil || l.redis == nil {
		return true, nil
	}
	interval := l.interval(key)
	if interval <= 0 {
		return true, nil
	}

	now := time.Now().UnixMilli()
	res, err := l.script.Run(ctx, l.redis, []string{keyPrefix + key}, now, interval.Milliseconds()).Result()
	if err != nil {
		slog.Error("rate limiter script error", slog.String("key", key), slog.Any("error", err))
		return true, err
	}
	return toInt64(res) == 1, nil
}

// Acquire polls TryAcquire, sleeping half the bucket interval between
// attempts, until granted or ctx is cancelled.
func (l *RedisLimiter) Acquire(ctx context.Context, key string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	interval := l.interval(key)
	if interval <= 0 {
		return nil
	}
	for {
		ok, err := l.TryAcquire(ctx, key)
		if ok || err != nil {
			return nil
		}
		if err := sleepCtx(ctx, interval/2); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}
