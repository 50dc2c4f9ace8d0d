package tiktok

import (
	"context"
	"time"
)

// SetSleep swaps the polite-delay sleeper so tests run without pauses.
func SetSleep(s *Strategy, fn func(ctx context.Context, d time.Duration) error) {
	s.sleep = fn
}
