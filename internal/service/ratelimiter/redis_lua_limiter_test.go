package ratelimiter

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisLimiter(t *testing.T, rates map[string]float64) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := NewRedisLimiter(rdb, rates)

	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return limiter, mr
}

func TestTryAcquire_NilLimiter_FailOpen(t *testing.T) {
	var limiter *RedisLimiter
	ok, err := limiter.TryAcquire(context.Background(), "any")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !ok {
		t.Fatalf("nil limiter must grant")
	}
}

func TestTryAcquire_UnknownBucket_FailOpen(t *testing.T) {
	limiter, _ := newTestRedisLimiter(t, map[string]float64{"twitter:graphql": 1})
	ok, err := limiter.TryAcquire(context.Background(), "no-such-bucket")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !ok {
		t.Fatalf("unknown bucket must grant")
	}
}

func TestTryAcquire_OneGrantPerInterval(t *testing.T) {
	// 10 grants/sec = 100ms spacing.
	limiter, _ := newTestRedisLimiter(t, map[string]float64{"twitter:graphql": 10})
	ctx := context.Background()

	ok, err := limiter.TryAcquire(ctx, "twitter:graphql")
	if err != nil || !ok {
		t.Fatalf("first attempt must grant: ok=%v err=%v", ok, err)
	}
	ok, err = limiter.TryAcquire(ctx, "twitter:graphql")
	if err != nil {
		t.Fatalf("second attempt errored: %v", err)
	}
	if ok {
		t.Fatalf("second attempt inside the interval must be denied")
	}

	time.Sleep(110 * time.Millisecond)
	ok, err = limiter.TryAcquire(ctx, "twitter:graphql")
	if err != nil || !ok {
		t.Fatalf("attempt after the interval must grant: ok=%v err=%v", ok, err)
	}
}

func TestTryAcquire_SetsDoubleIntervalTTL(t *testing.T) {
	limiter, mr := newTestRedisLimiter(t, map[string]float64{"instagram:web": 10})
	ctx := context.Background()

	if ok, _ := limiter.TryAcquire(ctx, "instagram:web"); !ok {
		t.Fatalf("grant expected")
	}
	ttl := mr.TTL(keyPrefix + "instagram:web")
	if ttl != 200*time.Millisecond {
		t.Fatalf("TTL = %v, want 200ms (twice the interval)", ttl)
	}
}

func TestTryAcquire_SingleGrantAcrossProcesses(t *testing.T) {
	// Two limiter instances over the same store stand in for two worker
	// processes: only one may win the same interval.
	rates := map[string]float64{"tiktok:web": 1}
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	rdbA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rdbB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdbA.Close(); _ = rdbB.Close() }()

	a := NewRedisLimiter(rdbA, rates)
	b := NewRedisLimiter(rdbB, rates)

	ctx := context.Background()
	okA, _ := a.TryAcquire(ctx, "tiktok:web")
	okB, _ := b.TryAcquire(ctx, "tiktok:web")
	if okA == okB {
		t.Fatalf("exactly one process may win the interval: a=%v b=%v", okA, okB)
	}
}

func TestAcquire_BlocksUntilNextInterval(t *testing.T) {
	limiter, _ := newTestRedisLimiter(t, map[string]float64{"twitter:rapid241": 10})
	ctx := context.Background()

	if err := limiter.Acquire(ctx, "twitter:rapid241"); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	start := time.Now()
	if err := limiter.Acquire(ctx, "twitter:rapid241"); err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Fatalf("second acquire returned after %v, want >= ~100ms spacing", elapsed)
	}
}

func TestAcquire_ContextCancelled(t *testing.T) {
	limiter, _ := newTestRedisLimiter(t, map[string]float64{"twitter:graphql": 0.2})

	if err := limiter.Acquire(context.Background(), "twitter:graphql"); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := limiter.Acquire(ctx, "twitter:graphql")
	if err == nil {
		t.Fatalf("expected context error while the bucket is saturated")
	}
}

func TestSetRate(t *testing.T) {
	limiter, _ := newTestRedisLimiter(t, nil)
	ctx := context.Background()

	// Unconfigured: every attempt grants.
	for i := 0; i < 3; i++ {
		if ok, _ := limiter.TryAcquire(ctx, "twitter:graphql"); !ok {
			t.Fatalf("unthrottled bucket must always grant")
		}
	}

	limiter.SetRate("twitter:graphql", 10)
	if ok, _ := limiter.TryAcquire(ctx, "twitter:graphql"); !ok {
		t.Fatalf("first throttled attempt must grant")
	}
	if ok, _ := limiter.TryAcquire(ctx, "twitter:graphql"); ok {
		t.Fatalf("second attempt inside the interval must be denied")
	}
}
