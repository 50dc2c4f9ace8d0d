package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/social-fetcher/internal/domain"
	"github.com/fairyhunter13/social-fetcher/internal/usecase"
)

// strategyStub scripts per-operation responses and records the call order.
type strategyStub struct {
	platform domain.Platform

	profiles   map[string]domain.UserRecord
	profileErr error

	similar    map[string][]domain.UserRecord
	similarErr map[string]error

	followings    []domain.UserRecord
	followingsErr error

	search    map[string][]domain.UserRecord
	searchErr error

	posts            map[string][]domain.Post
	postsErr         map[string]error
	postsUnsupported bool

	calls []string
}

func (s *strategyStub) Platform() domain.Platform {
	if s.platform == "" {
		return domain.PlatformTwitter
	}
	return s.platform
}

func (s *strategyStub) ResolveUID(_ context.Context, username string) (string, error) {
	s.calls = append(s.calls, "resolve:"+username)
	u, ok := s.profiles[username]
	if !ok {
		return "", domain.ErrNotFound
	}
	return u.UID, nil
}

func (s *strategyStub) Profile(_ context.Context, username string) (domain.UserRecord, error) {
	s.calls = append(s.calls, "profile:"+username)
	if s.profileErr != nil {
		return domain.UserRecord{}, s.profileErr
	}
	u, ok := s.profiles[username]
	if !ok {
		return domain.UserRecord{}, domain.ErrNotFound
	}
	return u, nil
}

func (s *strategyStub) SimilarUsers(_ context.Context, uid string) ([]domain.UserRecord, error) {
	s.calls = append(s.calls, "similar:"+uid)
	if err, ok := s.similarErr[uid]; ok {
		return nil, err
	}
	return s.similar[uid], nil
}

func (s *strategyStub) SearchUsers(_ context.Context, query string, count int) ([]domain.UserRecord, error) {
	s.calls = append(s.calls, fmt.Sprintf("search:%s:%d", query, count))
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return s.search[query], nil
}

func (s *strategyStub) RecentPosts(_ context.Context, uid string) ([]domain.Post, error) {
	s.calls = append(s.calls, "posts:"+uid)
	if s.postsUnsupported {
		return nil, domain.ErrUnsupported
	}
	if err, ok := s.postsErr[uid]; ok {
		return nil, err
	}
	return s.posts[uid], nil
}

func (s *strategyStub) Followings(_ context.Context, uid string, size int) ([]domain.UserRecord, error) {
	s.calls = append(s.calls, fmt.Sprintf("followings:%s:%d", uid, size))
	if s.followingsErr != nil {
		return nil, s.followingsErr
	}
	return s.followings, nil
}

func user(uid string, followers int64) domain.UserRecord {
	return domain.UserRecord{
		Platform:       domain.PlatformTwitter,
		UID:            uid,
		Username:       "u" + uid,
		FollowersCount: followers,
	}
}

func newFlow(s *strategyStub) *usecase.SimilarFlow {
	f := &usecase.SimilarFlow{Strategy: s, FanoutParents: 2, FollowingsPageSize: 5}
	usecase.SetFlowSleep(f, func(context.Context, time.Duration) error { return nil })
	return f
}

func uids(recs []domain.UserRecord) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.UID)
	}
	return out
}

func TestSimilarRunCollectsSourcesInOrder(t *testing.T) {
	t.Parallel()

	s := &strategyStub{
		profiles: map[string]domain.UserRecord{"jane": user("1", 100)},
		similar: map[string][]domain.UserRecord{
			"1":   {user("101", 100), user("102", 100)},
			"101": {user("102", 100), user("103", 100)},
			"102": {user("104", 100)},
		},
		followings:       []domain.UserRecord{user("105", 100), user("101", 100)},
		postsUnsupported: true,
	}
	out, err := newFlow(s).Run(context.Background(), domain.SimilarParams{Username: "jane", Count: 10})
	require.NoError(t, err)

	assert.Equal(t, []string{"101", "102", "103", "104", "105"}, uids(out))
	sources := make([]string, 0, len(out))
	for _, r := range out {
		sources = append(sources, r.Source)
	}
	assert.Equal(t, []string{
		domain.SourceFirstLevel,
		domain.SourceFirstLevel,
		domain.SourceSecondLevel,
		domain.SourceSecondLevel,
		domain.SourceFollowings,
	}, sources)

	assert.Equal(t, []string{
		"profile:jane",
		"similar:1",
		"similar:101",
		"similar:102",
		"followings:1:5",
		"posts:101",
	}, s.calls)
}

func TestSimilarRunUsesProvidedUID(t *testing.T) {
	t.Parallel()

	s := &strategyStub{
		profiles:         map[string]domain.UserRecord{"jane": user("1", 100)},
		similar:          map[string][]domain.UserRecord{"999": {user("201", 100)}},
		postsUnsupported: true,
	}
	out, err := newFlow(s).Run(context.Background(), domain.SimilarParams{Username: "jane", UID: "999", Count: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"201"}, uids(out))
	assert.Contains(t, s.calls, "similar:999")
}

func TestSimilarRunSeedProfileFailureAborts(t *testing.T) {
	t.Parallel()

	s := &strategyStub{profileErr: domain.ErrNotFound}
	_, err := newFlow(s).Run(context.Background(), domain.SimilarParams{Username: "ghost", Count: 10})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSimilarRunFirstLevelFailureAborts(t *testing.T) {
	t.Parallel()

	s := &strategyStub{
		profiles:   map[string]domain.UserRecord{"jane": user("1", 100)},
		similarErr: map[string]error{"1": domain.ErrRateLimited},
	}
	_, err := newFlow(s).Run(context.Background(), domain.SimilarParams{Username: "jane", Count: 10})
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestSimilarRunSecondLevelFailureSkipsParent(t *testing.T) {
	t.Parallel()

	s := &strategyStub{
		profiles: map[string]domain.UserRecord{"jane": user("1", 100)},
		similar: map[string][]domain.UserRecord{
			"1":   {user("101", 100), user("102", 100)},
			"102": {user("103", 100)},
		},
		similarErr:       map[string]error{"101": errors.New("boom")},
		postsUnsupported: true,
	}
	out, err := newFlow(s).Run(context.Background(), domain.SimilarParams{Username: "jane", Count: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"101", "102", "103"}, uids(out))
}

func TestSimilarRunFollowsFilterAppliedPerSource(t *testing.T) {
	t.Parallel()

	s := &strategyStub{
		profiles: map[string]domain.UserRecord{"jane": user("1", 100)},
		similar: map[string][]domain.UserRecord{
			"1":   {user("101", 50), user("102", 500)},
			"102": {user("103", 10)},
		},
		followings:       []domain.UserRecord{user("104", 900), user("105", 5)},
		postsUnsupported: true,
	}
	minF := int64(100)
	out, err := newFlow(s).Run(context.Background(), domain.SimilarParams{
		Username: "jane",
		Count:    10,
		Follows:  &domain.FollowsFilter{Min: &minF},
	})
	require.NoError(t, err)
	// 101, 103 and 105 fall under the floor; 101 is still fanned out as a
	// second-level parent.
	assert.Equal(t, []string{"102", "104"}, uids(out))
	assert.Contains(t, s.calls, "similar:101")
}

func TestSimilarRunFollowingsUnsupportedDegrades(t *testing.T) {
	t.Parallel()

	s := &strategyStub{
		profiles:         map[string]domain.UserRecord{"jane": user("1", 100)},
		similar:          map[string][]domain.UserRecord{"1": {user("101", 100)}},
		followingsErr:    domain.ErrUnsupported,
		postsUnsupported: true,
	}
	out, err := newFlow(s).Run(context.Background(), domain.SimilarParams{Username: "jane", Count: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"101"}, uids(out))
}

func TestSimilarRunTagSearchFromBio(t *testing.T) {
	t.Parallel()

	seed := user("1", 100)
	seed.Bio = "all things #vegan #vegan #fitness"
	s := &strategyStub{
		profiles: map[string]domain.UserRecord{"jane": seed},
		similar:  map[string][]domain.UserRecord{"1": {user("101", 100)}},
		search: map[string][]domain.UserRecord{
			"#vegan":   {user("201", 100), user("101", 100)},
			"#fitness": {user("202", 100)},
		},
		postsUnsupported: true,
	}
	out, err := newFlow(s).Run(context.Background(), domain.SimilarParams{Username: "jane", Count: 10})
	require.NoError(t, err)

	assert.Equal(t, []string{"101", "201", "202"}, uids(out))
	assert.Equal(t, domain.SourceTagSearch, out[1].Source)
	assert.Contains(t, s.calls, "search:#vegan:20")
	assert.Contains(t, s.calls, "search:#fitness:20")
}

func TestSimilarRunRanksByScore(t *testing.T) {
	t.Parallel()

	s := &strategyStub{
		profiles: map[string]domain.UserRecord{"jane": user("1", 100)},
		similar: map[string][]domain.UserRecord{
			"1":   {user("101", 1000)},
			"101": {user("102", 5000)},
		},
		postsUnsupported: true,
	}
	f := newFlow(s)
	f.Scorer = usecase.Scorer{
		Activity: func(c domain.UserRecord) float64 { return float64(c.FollowersCount) / 1000 },
	}
	out, err := f.Run(context.Background(), domain.SimilarParams{Username: "jane", Count: 10})
	require.NoError(t, err)

	// first_level 101: 1.0 * 0.2 * 1 = 0.2; second_level 102: 0.5 * 0.2 * 5 = 0.5.
	require.Equal(t, []string{"102", "101"}, uids(out))
	assert.InDelta(t, 0.5, out[0].Score, 1e-9)
	assert.InDelta(t, 0.2, out[1].Score, 1e-9)
}

func TestSimilarRunEnrichesAndFiltersAvgViews(t *testing.T) {
	t.Parallel()

	s := &strategyStub{
		profiles: map[string]domain.UserRecord{"jane": user("1", 100)},
		similar: map[string][]domain.UserRecord{
			"1": {user("101", 100), user("102", 100), user("103", 100)},
		},
		posts: map[string][]domain.Post{
			"101": {
				{ID: "p", Views: 9999, Pinned: true},
				{ID: "a", Views: 100},
				{ID: "b", Views: 10},
				{ID: "c", Views: 20},
				{ID: "d", Views: 30},
			},
			"102": {{ID: "e", Views: 1}, {ID: "f", Views: 2}},
			"103": {{ID: "g", Views: 40}, {ID: "h", Views: 60}},
		},
	}
	minV := int64(20)
	out, err := newFlow(s).Run(context.Background(), domain.SimilarParams{
		Username: "jane",
		Count:    10,
		AvgViews: &domain.ViewsFilter{Min: &minV},
	})
	require.NoError(t, err)

	// 101 averages (20+30)/2 = 25 after trimming 100 and 10; 102 averages
	// ceil(1.5) = 2 and is rejected; 103 averages 50.
	require.Equal(t, []string{"101", "103"}, uids(out))
	require.NotNil(t, out[0].AvgViewsTweets)
	assert.Equal(t, int64(25), *out[0].AvgViewsTweets)
	require.NotNil(t, out[1].AvgViewsTweets)
	assert.Equal(t, int64(50), *out[1].AvgViewsTweets)
}

func TestSimilarRunStopsAtCount(t *testing.T) {
	t.Parallel()

	s := &strategyStub{
		profiles: map[string]domain.UserRecord{"jane": user("1", 100)},
		similar: map[string][]domain.UserRecord{
			"1": {user("101", 100), user("102", 100), user("103", 100)},
		},
		posts: map[string][]domain.Post{
			"101": {{ID: "a", Views: 10}},
			"102": {{ID: "b", Views: 10}},
		},
	}
	out, err := newFlow(s).Run(context.Background(), domain.SimilarParams{Username: "jane", Count: 2})
	require.NoError(t, err)

	assert.Equal(t, []string{"101", "102"}, uids(out))
	// 103 is never enriched once the output is full.
	assert.NotContains(t, s.calls, "posts:103")
}

func TestSimilarRunNilAvgRejectedByFilter(t *testing.T) {
	t.Parallel()

	// TikTok-style: no post listing at all, so no averages are computed.
	s := &strategyStub{
		profiles:         map[string]domain.UserRecord{"jane": user("1", 100)},
		similar:          map[string][]domain.UserRecord{"1": {user("101", 100)}},
		postsUnsupported: true,
	}
	minV := int64(1)
	out, err := newFlow(s).Run(context.Background(), domain.SimilarParams{
		Username: "jane",
		Count:    10,
		AvgViews: &domain.ViewsFilter{Min: &minV},
	})
	require.NoError(t, err)
	assert.Empty(t, out)
}
