package twitter

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/fairyhunter13/social-fetcher/internal/adapter/platform/wire"
	"github.com/fairyhunter13/social-fetcher/internal/domain"
)

// Channel names for the switchable listing endpoints. Each channel paces
// itself through its own "twitter:<name>" limiter bucket.
const (
	ChannelGraphQL  = "graphql"
	ChannelRapid241 = "rapid241"
)

// rapidMaxCount is the per-page cap the twitter241 service enforces.
const rapidMaxCount = 20

type tweetsPage struct {
	posts      []domain.Post
	nextCursor string
}

// channel serves user tweets and followings over one concrete transport.
type channel interface {
	tweets(ctx context.Context, uid string, count int, cursor string) (tweetsPage, error)
	followings(ctx context.Context, uid string, count int) ([]domain.UserRecord, error)
}

// newChannel is the factory keyed on the configured channel name. New
// transports extend this switch.
func newChannel(name string, s *Strategy) (channel, error) {
	switch name {
	case ChannelGraphQL:
		return &graphqlChannel{s: s}, nil
	case ChannelRapid241:
		if s.set.Rapid.BaseURL == "" {
			return nil, fmt.Errorf("op=twitter.newChannel: rapid base_url not configured: %w", domain.ErrConfig)
		}
		return &rapid241Channel{s: s}, nil
	default:
		return nil, fmt.Errorf("op=twitter.newChannel: channel %q: %w", name, domain.ErrUnsupported)
	}
}

// graphqlChannel rides the credentialled web API with main-class accounts.
type graphqlChannel struct{ s *Strategy }

func (c *graphqlChannel) tweets(ctx context.Context, uid string, count int, cursor string) (tweetsPage, error) {
	s := c.s
	if err := s.ensure(ctx, domain.AccountTypeMain); err != nil {
		return tweetsPage{}, err
	}
	endpoint, err := s.endpoint("user_tweets")
	if err != nil {
		return tweetsPage{}, err
	}
	variables := map[string]any{
		"userId":                                 uid,
		"count":                                  count,
		"includePromotedContent":                 false,
		"withQuickPromoteEligibilityTweetFields": false,
		"withVoice":                              true,
		"withV2Timeline":                         true,
	}
	if cursor != "" {
		variables["cursor"] = cursor
	}
	var env tweetsEnvelope
	if err := s.graphQL(ctx, domain.AccountTypeMain, endpoint, variables, tweetsFeatures, &env); err != nil {
		return tweetsPage{}, err
	}
	posts, next := parseTweets(env.Data.User.Result.Timeline.Timeline.Instructions)
	return tweetsPage{posts: posts, nextCursor: next}, nil
}

func (c *graphqlChannel) followings(ctx context.Context, uid string, count int) ([]domain.UserRecord, error) {
	s := c.s
	if err := s.ensure(ctx, domain.AccountTypeMain); err != nil {
		return nil, err
	}
	endpoint, err := s.endpoint("followings")
	if err != nil {
		return nil, err
	}
	variables := map[string]any{
		"userId":                 uid,
		"count":                  count,
		"includePromotedContent": false,
	}
	var env tweetsEnvelope
	if err := s.graphQL(ctx, domain.AccountTypeMain, endpoint, variables, tweetsFeatures, &env); err != nil {
		return nil, err
	}
	return parseFollowings(env.Data.User.Result.Timeline.Timeline.Instructions), nil
}

// rapid241Channel rides the RapidAPI twitter241 service. It claims no
// platform credential; auth is the API key pair from configuration.
type rapid241Channel struct{ s *Strategy }

func (c *rapid241Channel) headers() map[string]string {
	return map[string]string{
		"x-rapidapi-host": c.s.set.Rapid.Host,
		"x-rapidapi-key":  c.s.set.Rapid.Key,
	}
}

func (c *rapid241Channel) tweets(ctx context.Context, uid string, count int, cursor string) (tweetsPage, error) {
	if count > rapidMaxCount {
		count = rapidMaxCount
	}
	q := url.Values{}
	q.Set("user", uid)
	q.Set("count", strconv.Itoa(count))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var env rapidEnvelope
	err := c.s.client.DoJSON(ctx, wire.Request{
		URL:     c.s.set.Rapid.BaseURL + "/user-tweets?" + q.Encode(),
		Channel: ChannelRapid241,
		Header:  c.headers(),
	}, &env)
	if err != nil {
		return tweetsPage{}, err
	}
	posts, next := parseTweets(env.Result.Timeline.Instructions)
	return tweetsPage{posts: posts, nextCursor: next}, nil
}

func (c *rapid241Channel) followings(ctx context.Context, uid string, count int) ([]domain.UserRecord, error) {
	q := url.Values{}
	q.Set("user", uid)
	q.Set("count", strconv.Itoa(count))
	var env rapidEnvelope
	err := c.s.client.DoJSON(ctx, wire.Request{
		URL:     c.s.set.Rapid.BaseURL + "/followings?" + q.Encode(),
		Channel: ChannelRapid241,
		Header:  c.headers(),
	}, &env)
	if err != nil {
		return nil, err
	}
	return parseFollowings(env.Result.Timeline.Instructions), nil
}
