// Package twitter implements the Twitter fetch strategy against the
// credentialled GraphQL web API, with a switchable rapid241 channel for
// tweet and followings listings.
//
// Calls attach leased account headers (authorization, csrf token, cookie)
// verbatim and walk timeline instruction envelopes. Profile lookups double
// as the uid resolver. Search is a tweet search whose authors become the
// candidate users, paged by the bottom cursor with polite delays.
package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fairyhunter13/social-fetcher/internal/adapter/platform/wire"
	"github.com/fairyhunter13/social-fetcher/internal/config"
	"github.com/fairyhunter13/social-fetcher/internal/domain"
)

const (
	// Lease sizes per class: one quick-turnaround main account, a batch of
	// normal accounts rotated through the long search cool-down.
	mainLeaseCount   = 1
	normalLeaseCount = 10

	similarPageSize = 20
	searchPageSize  = 20
	tweetsPageSize  = 20

	// maxStalePages stops pagination after this many consecutive pages
	// that contributed no new users.
	maxStalePages = 3
)

// Strategy is bound to one task's credential pool and is not reused across
// tasks; the wire client underneath is process-wide.
type Strategy struct {
	client *wire.Client
	creds  wire.Claims
	set    config.PlatformSettings
	listed channel

	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a task-scoped strategy. The listing channel (tweets and
// followings) comes from the configured default channel name.
func New(client *wire.Client, creds wire.Claims, set config.PlatformSettings) (*Strategy, error) {
	s := &Strategy{client: client, creds: creds, set: set, sleep: wire.Sleep}
	ch, err := newChannel(set.DefaultChannel, s)
	if err != nil {
		return nil, err
	}
	s.listed = ch
	return s, nil
}

func (s *Strategy) Platform() domain.Platform { return domain.PlatformTwitter }

// ResolveUID maps a screen name to the numeric rest_id via the profile call.
func (s *Strategy) ResolveUID(ctx context.Context, username string) (string, error) {
	u, err := s.Profile(ctx, username)
	if err != nil {
		return "", fmt.Errorf("op=twitter.ResolveUID: %w", err)
	}
	return u.UID, nil
}

// Profile fetches the public profile by screen name.
func (s *Strategy) Profile(ctx context.Context, username string) (domain.UserRecord, error) {
	if err := s.ensure(ctx, domain.AccountTypeMain); err != nil {
		return domain.UserRecord{}, fmt.Errorf("op=twitter.Profile: %w", err)
	}
	endpoint, err := s.endpoint("user_by_screen_name")
	if err != nil {
		return domain.UserRecord{}, fmt.Errorf("op=twitter.Profile: %w", err)
	}
	var env profileEnvelope
	variables := map[string]any{"screen_name": username}
	if err := s.graphQL(ctx, domain.AccountTypeMain, endpoint, variables, profileFeatures, &env); err != nil {
		return domain.UserRecord{}, fmt.Errorf("op=twitter.Profile: %w", err)
	}
	u, ok := userRecordFrom(env.Data.User.Result)
	if !ok {
		return domain.UserRecord{}, fmt.Errorf("op=twitter.Profile: user %s: %w", username, domain.ErrNotFound)
	}
	return u, nil
}

// SimilarUsers fetches the connect-tab "similar to" module for uid.
func (s *Strategy) SimilarUsers(ctx context.Context, uid string) ([]domain.UserRecord, error) {
	if err := s.ensure(ctx, domain.AccountTypeMain); err != nil {
		return nil, fmt.Errorf("op=twitter.SimilarUsers: %w", err)
	}
	endpoint, err := s.endpoint("similar_users")
	if err != nil {
		return nil, fmt.Errorf("op=twitter.SimilarUsers: %w", err)
	}
	// The context variable is itself a JSON document carried as a string.
	blob, err := json.Marshal(map[string]string{"contextualUserId": uid})
	if err != nil {
		return nil, fmt.Errorf("op=twitter.SimilarUsers: %w", err)
	}
	variables := map[string]any{"count": similarPageSize, "context": string(blob)}
	var env similarEnvelope
	if err := s.graphQL(ctx, domain.AccountTypeMain, endpoint, variables, similarFeatures, &env); err != nil {
		return nil, fmt.Errorf("op=twitter.SimilarUsers: %w", err)
	}
	return parseSimilar(env.Data.ConnectTabTimeline.Timeline.Instructions), nil
}

// SearchUsers pages the search timeline until count distinct authors are
// collected, the cursor runs out, or three consecutive pages add nothing.
// Each page claims a normal-class credential, so page cadence follows the
// normal cool-down when the lease is small.
func (s *Strategy) SearchUsers(ctx context.Context, query string, count int) ([]domain.UserRecord, error) {
	if err := s.ensure(ctx, domain.AccountTypeNormal); err != nil {
		return nil, fmt.Errorf("op=twitter.SearchUsers: %w", err)
	}
	var (
		out    []domain.UserRecord
		seen   = make(map[string]struct{})
		cursor string
		stale  int
	)
	for len(out) < count {
		users, next, err := s.searchPage(ctx, query, cursor)
		if err != nil {
			return nil, fmt.Errorf("op=twitter.SearchUsers: %w", err)
		}
		before := len(out)
		for _, u := range users {
			if _, ok := seen[u.UID]; ok {
				continue
			}
			seen[u.UID] = struct{}{}
			out = append(out, u)
		}
		if len(out) == before {
			stale++
		} else {
			stale = 0
		}
		cursor = next
		if cursor == "" || len(out) >= count || stale >= maxStalePages {
			break
		}
		if err := s.sleep(ctx, wire.PageDelay()); err != nil {
			return nil, fmt.Errorf("op=twitter.SearchUsers: %w", err)
		}
	}
	if len(out) > count {
		out = out[:count]
	}
	return out, nil
}

func (s *Strategy) searchPage(ctx context.Context, query, cursor string) ([]domain.UserRecord, string, error) {
	endpoint, err := s.endpoint("search_timeline")
	if err != nil {
		return nil, "", err
	}
	source := "typed_query"
	if strings.HasPrefix(query, "#") {
		source = "recent_search_click"
	}
	variables := map[string]any{
		"rawQuery":    query,
		"count":       searchPageSize,
		"querySource": source,
		"product":     "Top",
	}
	if cursor != "" {
		variables["cursor"] = cursor
	}
	var env searchEnvelope
	if err := s.graphQL(ctx, domain.AccountTypeNormal, endpoint, variables, searchFeatures, &env); err != nil {
		return nil, "", err
	}
	users, next := parseSearch(env.Data.SearchByRawQuery.SearchTimeline.Timeline.Instructions)
	return users, next, nil
}

// RecentPosts returns one page of the newest tweets through the configured
// listing channel.
func (s *Strategy) RecentPosts(ctx context.Context, uid string) ([]domain.Post, error) {
	page, err := s.listed.tweets(ctx, uid, tweetsPageSize, "")
	if err != nil {
		return nil, fmt.Errorf("op=twitter.RecentPosts: %w", err)
	}
	return page.posts, nil
}

// Followings returns one page of accounts uid follows through the
// configured listing channel.
func (s *Strategy) Followings(ctx context.Context, uid string, size int) ([]domain.UserRecord, error) {
	users, err := s.listed.followings(ctx, uid, size)
	if err != nil {
		return nil, fmt.Errorf("op=twitter.Followings: %w", err)
	}
	return users, nil
}

// ensure lazily leases the class on first use; later calls find the class
// populated and skip the admin round-trip.
func (s *Strategy) ensure(ctx context.Context, class string) error {
	count := mainLeaseCount
	if class == domain.AccountTypeNormal {
		count = normalLeaseCount
	}
	return wire.EnsureLeased(ctx, s.creds, class, count)
}

func (s *Strategy) endpoint(name string) (string, error) {
	u, err := s.set.Endpoint(name)
	if err != nil {
		return "", fmt.Errorf("twitter endpoint %q: %w", name, domain.ErrConfig)
	}
	return u, nil
}

// graphQL claims a credential of class, issues one GET against the web API
// and reports the outcome back to the claim. Main-class calls may borrow
// from normal accounts when the main lease came back empty.
func (s *Strategy) graphQL(ctx context.Context, class, endpoint string, variables, features map[string]any, out any) error {
	query, err := wire.GraphQLQuery(variables, features)
	if err != nil {
		return err
	}
	claim, err := s.creds.Next(ctx, class, class == domain.AccountTypeMain)
	if err != nil {
		return err
	}
	err = s.client.DoJSON(ctx, wire.Request{
		URL:     endpoint + "?" + query,
		Channel: ChannelGraphQL,
		Header:  authHeaders(claim.Credential()),
	}, out)
	wire.ReportOutcome(ctx, claim, err)
	return err
}

// authHeaders merges the leased credential material with the fixed web
// client headers. The credential map carries authorization, x-csrf-token,
// cookie and, for search accounts, x-client-transaction-id.
func authHeaders(cred domain.Credential) map[string]string {
	h := make(map[string]string, len(cred.Headers)+3)
	for k, v := range cred.Headers {
		h[k] = v
	}
	h["content-type"] = "application/json"
	h["x-twitter-active-user"] = "yes"
	h["x-twitter-client-language"] = "zh-cn"
	return h
}
