package usecase

import (
	"context"
	"fmt"

	"github.com/fairyhunter13/social-fetcher/internal/domain"
)

// SearchFlow runs one search task: user search paginated to count by the
// strategy, then the follows filter. Upstream relevance order is preserved
// and no scoring or avg-views enrichment happens.
type SearchFlow struct {
	Strategy domain.Strategy
}

// Run returns up to p.Count records passing the follows filter.
func (f SearchFlow) Run(ctx context.Context, p domain.SearchParams) ([]domain.UserRecord, error) {
	recs, err := f.Strategy.SearchUsers(ctx, p.Query, p.Count)
	if err != nil {
		return nil, fmt.Errorf("op=usecase.search: %w", err)
	}
	out := make([]domain.UserRecord, 0, len(recs))
	for _, r := range recs {
		if !p.Follows.Admit(r.FollowersCount) {
			continue
		}
		out = append(out, r)
		if len(out) == p.Count {
			break
		}
	}
	return out, nil
}
