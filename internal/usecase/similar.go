package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/social-fetcher/internal/adapter/platform/wire"
	"github.com/fairyhunter13/social-fetcher/internal/domain"
	obsctx "github.com/fairyhunter13/social-fetcher/internal/observability"
	"github.com/fairyhunter13/social-fetcher/pkg/textx"
)

const (
	defaultFanoutParents      = 20
	defaultFollowingsPageSize = 70

	// tag_search knobs: up to three dominant bio tags, one page each.
	maxDominantTags = 3
	tagSearchCount  = 20
)

// Ranking formula coefficients.
const (
	contentAlpha  = 0.4
	bioBeta       = 0.2
	activityDelta = 0.2
)

// Scorer holds the similarity hooks of the ranking formula. Hooks left nil
// contribute zero, which reduces ranking to source weight and collection
// order.
type Scorer struct {
	Content  func(seed, candidate domain.UserRecord) float64
	Bio      func(seed, candidate domain.UserRecord) float64
	Activity func(candidate domain.UserRecord) float64
}

func (sc Scorer) blend(seed, c domain.UserRecord) float64 {
	var content, bio, activity float64
	if sc.Content != nil {
		content = sc.Content(seed, c)
	}
	if sc.Bio != nil {
		bio = sc.Bio(seed, c)
	}
	if sc.Activity != nil {
		activity = sc.Activity(c)
	}
	return contentAlpha*content + bioBeta*bio + activityDelta*activity
}

// SimilarFlow runs one similar-user task against a task-bound strategy:
// collect the four candidate sources with the follows filter applied per
// source, dedup keeping the first-seen source, score, rank, then enrich
// ranked candidates in order until count are admitted.
type SimilarFlow struct {
	Strategy domain.Strategy
	Scorer   Scorer

	// FanoutParents caps the second-level expansion; FollowingsPageSize is
	// the single followings page requested. Zero values take the defaults.
	FanoutParents      int
	FollowingsPageSize int

	sleep func(ctx context.Context, d time.Duration) error
}

func (f *SimilarFlow) pause(ctx context.Context, d time.Duration) error {
	if f.sleep != nil {
		return f.sleep(ctx, d)
	}
	return wire.Sleep(ctx, d)
}

// Run executes the aggregation for p and returns the admitted candidates
// in rank order.
func (f *SimilarFlow) Run(ctx context.Context, p domain.SimilarParams) ([]domain.UserRecord, error) {
	// Every log line of one aggregation shares a run id; a task retried
	// after redelivery starts a fresh run.
	lg := obsctx.LoggerFromContext(ctx).With(slog.String("run_id", uuid.NewString()))
	ctx = obsctx.ContextWithLogger(ctx, lg)

	// The seed profile always comes first: it resolves the uid when the
	// request omitted it and supplies the bio the tag source mines.
	seed, err := f.Strategy.Profile(ctx, p.Username)
	if err != nil {
		return nil, fmt.Errorf("op=usecase.similar: seed profile: %w", err)
	}
	uid := p.UID
	if uid == "" {
		uid = seed.UID
	}

	collected, err := f.collect(ctx, seed, uid, p.Follows)
	if err != nil {
		return nil, fmt.Errorf("op=usecase.similar: %w", err)
	}

	sort.SliceStable(collected, func(i, j int) bool { return collected[i].Score > collected[j].Score })

	out, err := f.enrich(ctx, collected, p)
	if err != nil {
		return nil, fmt.Errorf("op=usecase.similar: %w", err)
	}
	lg.Info("similar aggregation done",
		slog.Int("collected", len(collected)),
		slog.Int("admitted", len(out)))
	return out, nil
}

// collect gathers candidates source by source in weight order. Failures in
// the lower-weight sources degrade to a smaller candidate set; only the
// first-level call and context teardown abort the run.
func (f *SimilarFlow) collect(ctx context.Context, seed domain.UserRecord, uid string, follows *domain.FollowsFilter) ([]domain.UserRecord, error) {
	seen := map[string]bool{uid: true}
	var union []domain.UserRecord

	admit := func(recs []domain.UserRecord, source string) {
		weight := domain.SourceWeight(source)
		for _, r := range recs {
			if r.UID == "" || seen[r.UID] || !follows.Admit(r.FollowersCount) {
				continue
			}
			seen[r.UID] = true
			r.Source = source
			r.Score = weight * f.Scorer.blend(seed, r)
			union = append(union, r)
		}
	}

	first, err := f.Strategy.SimilarUsers(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("first level: %w", err)
	}
	admit(first, domain.SourceFirstLevel)

	// Second level fans out over the raw first-level list so an
	// out-of-band parent can still contribute in-band candidates.
	parents := first
	if k := f.fanoutParents(); len(parents) > k {
		parents = parents[:k]
	}
	for _, parent := range parents {
		if parent.UID == "" {
			continue
		}
		recs, err := f.Strategy.SimilarUsers(ctx, parent.UID)
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return nil, cerr
			}
			if errors.Is(err, domain.ErrUnsupported) {
				break
			}
			obsctx.LoggerFromContext(ctx).Warn("second level fetch failed",
				slog.String("parent_uid", parent.UID),
				slog.Any("error", err))
			continue
		}
		admit(recs, domain.SourceSecondLevel)
		if err := f.pause(ctx, wire.SiblingDelay()); err != nil {
			return nil, err
		}
	}

	size := f.FollowingsPageSize
	if size <= 0 {
		size = defaultFollowingsPageSize
	}
	fol, err := f.Strategy.Followings(ctx, uid, size)
	switch {
	case err == nil:
		admit(fol, domain.SourceFollowings)
	case errors.Is(err, domain.ErrUnsupported):
	default:
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		obsctx.LoggerFromContext(ctx).Warn("followings fetch failed", slog.Any("error", err))
	}

	for _, tag := range textx.DominantTags([]string{seed.Bio}, maxDominantTags) {
		recs, err := f.Strategy.SearchUsers(ctx, "#"+tag, tagSearchCount)
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return nil, cerr
			}
			if errors.Is(err, domain.ErrUnsupported) {
				break
			}
			obsctx.LoggerFromContext(ctx).Warn("tag search failed", slog.String("tag", tag), slog.Any("error", err))
			continue
		}
		admit(recs, domain.SourceTagSearch)
		if err := f.pause(ctx, wire.SiblingDelay()); err != nil {
			return nil, err
		}
	}

	return union, nil
}

// enrich walks ranked candidates in order, computes average views from one
// page of recent posts and admits candidates passing the avg-views filter
// until count is reached. A candidate without a computed average passes
// only when no filter is set.
func (f *SimilarFlow) enrich(ctx context.Context, ranked []domain.UserRecord, p domain.SimilarParams) ([]domain.UserRecord, error) {
	out := make([]domain.UserRecord, 0, min(p.Count, len(ranked)))
	postsSupported := true
	for i := range ranked {
		if len(out) >= p.Count {
			break
		}
		c := ranked[i]
		if postsSupported {
			posts, err := f.Strategy.RecentPosts(ctx, c.UID)
			switch {
			case err == nil:
				if avg := averageViews(posts); avg != nil {
					c.SetAvgViews(*avg)
				}
			case errors.Is(err, domain.ErrUnsupported):
				postsSupported = false
			default:
				if cerr := ctx.Err(); cerr != nil {
					return nil, cerr
				}
				obsctx.LoggerFromContext(ctx).Warn("recent posts fetch failed",
					slog.String("uid", c.UID),
					slog.Any("error", err))
			}
			if postsSupported {
				if err := f.pause(ctx, wire.SiblingDelay()); err != nil {
					return nil, err
				}
			}
		}
		if !p.AvgViews.Admit(c.AvgViews()) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (f *SimilarFlow) fanoutParents() int {
	if f.FanoutParents > 0 {
		return f.FanoutParents
	}
	return defaultFanoutParents
}

// averageViews applies the trimmed-mean rule to the newest posts: up to 10
// non-pinned items; fewer than 3 average plainly, otherwise one maximum and
// one minimum are dropped first. The result rounds up. No usable posts
// yields nil.
func averageViews(posts []domain.Post) *int64 {
	views := make([]int64, 0, 10)
	for _, p := range posts {
		if p.Pinned {
			continue
		}
		views = append(views, p.Views)
		if len(views) == 10 {
			break
		}
	}
	if len(views) == 0 {
		return nil
	}
	var sum int64
	for _, v := range views {
		sum += v
	}
	n := int64(len(views))
	if len(views) >= 3 {
		mx, mn := views[0], views[0]
		for _, v := range views[1:] {
			if v > mx {
				mx = v
			}
			if v < mn {
				mn = v
			}
		}
		sum -= mx + mn
		n -= 2
	}
	avg := int64(math.Ceil(float64(sum) / float64(n)))
	return &avg
}
