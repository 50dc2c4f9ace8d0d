package twitter

import (
	"context"
	"time"
)

// SetSleep replaces the inter-page delay hook so pagination tests run
// without real sleeps.
func SetSleep(s *Strategy, fn func(ctx context.Context, d time.Duration) error) {
	s.sleep = fn
}
