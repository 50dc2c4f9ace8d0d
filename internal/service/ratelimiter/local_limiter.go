package ratelimiter

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// LocalLimiter paces calls within a single process using token buckets with
// burst 1, which degenerates to the same minimum-spacing rule as the
// distributed limiter. It stands in when no shared store is configured;
// cross-process fairness is then not guaranteed.
type LocalLimiter struct {
	rates    map[string]float64
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
}

// NewLocalLimiter builds a process-local limiter with per-key rates.
func NewLocalLimiter(rates map[string]float64) *LocalLimiter {
	if rates == nil {
		rates = map[string]float64{}
	}
	return &LocalLimiter{
		rates:    rates,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *LocalLimiter) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[key]; ok {
		return lim
	}
	perSec, ok := l.rates[key]
	if !ok || perSec <= 0 {
		return nil
	}
	lim := rate.NewLimiter(rate.Limit(perSec), 1)
	l.limiters[key] = lim
	return lim
}

// TryAcquire reports whether a token is immediately available.
func (l *LocalLimiter) TryAcquire(_ context.Context, key string) (bool, error) {
	if l == nil {
		return true, nil
	}
	lim := l.limiter(key)
	if lim == nil {
		return true, nil
	}
	return lim.Allow(), nil
}

// Acquire waits for the next token or ctx cancellation.
func (l *LocalLimiter) Acquire(ctx context.Context, key string) error {
	if l == nil {
		return nil
	}
	lim := l.limiter(key)
	if lim == nil {
		return nil
	}
	return lim.Wait(ctx)
}
