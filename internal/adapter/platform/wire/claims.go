package wire

import (
	"context"
	"errors"
	"fmt"

	"github.com/fairyhunter13/social-fetcher/internal/domain"
	"github.com/fairyhunter13/social-fetcher/internal/service/credpool"
)

// Claims hands out checked-out credentials for single requests.
// *credpool.Pool satisfies it; strategies depend on this slice of the pool
// only, so tests can swap in a canned implementation.
type Claims interface {
	Lease(ctx context.Context, accountType string, count int) (int, error)
	Size(class string) int
	Next(ctx context.Context, class string, borrow bool) (*credpool.Claim, error)
}

// EnsureLeased lazily tops up the pool: the first operation needing a class
// leases count credentials, later ones find the class populated and skip the
// admin round-trip. An empty grant is not an error here; Next reports
// ErrNotFound if nothing usable remains.
func EnsureLeased(ctx context.Context, claims Claims, class string, count int) error {
	if claims.Size(class) > 0 {
		return nil
	}
	if _, err := claims.Lease(ctx, class, count); err != nil {
		return fmt.Errorf("op=wire.EnsureLeased: %w", err)
	}
	return nil
}

// ReportOutcome routes one call outcome to the claim's bookkeeping: a
// suspension redirect disables the account immediately, a 429 adds a strike,
// and any other upstream verdict (success included) clears the strike
// counter. Timeouts and cancellations carry no verdict and leave the
// counter untouched.
func ReportOutcome(ctx context.Context, claim *credpool.Claim, err error) {
	switch {
	case err == nil:
		claim.MarkOK()
	case errors.Is(err, domain.ErrAccountSuspended):
		claim.MarkSuspended(ctx)
	case errors.Is(err, domain.ErrRateLimited):
		claim.MarkRateLimited(ctx)
	case errors.Is(err, domain.ErrUpstreamTimeout), errors.Is(err, context.Canceled):
	default:
		claim.MarkOK()
	}
}
