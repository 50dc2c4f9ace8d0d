// Package instagram implements the Instagram fetch strategy over the
// logged-in web surface: doc_id form posts for structured data and an HTML
// profile-page scrape for username-to-id resolution.
//
// One credential claim spans a whole operation, nested profile fills
// included, the way the web client pins a session. Similar users come from
// the discover chaining module; search pages the top_serp media grid and
// surfaces the authors behind the returned medias; recent posts are the
// clips (reels) connection with play counts.
package instagram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fairyhunter13/social-fetcher/internal/adapter/platform/wire"
	"github.com/fairyhunter13/social-fetcher/internal/config"
	"github.com/fairyhunter13/social-fetcher/internal/domain"
)

// ChannelWeb is the single Instagram wire channel; its limiter bucket is
// "instagram:web".
const ChannelWeb = "web"

// appID is the fixed x-ig-app-id of the web client.
const appID = "936619743392459"

const (
	leaseCount    = 1
	reelsPageSize = 12
	maxStalePages = 3
)

// Strategy is bound to one task's credential pool and is not reused across
// tasks; the wire client underneath is process-wide.
type Strategy struct {
	client *wire.Client
	creds  wire.Claims
	set    config.PlatformSettings

	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a task-scoped strategy.
func New(client *wire.Client, creds wire.Claims, set config.PlatformSettings) *Strategy {
	return &Strategy{client: client, creds: creds, set: set, sleep: wire.Sleep}
}

func (s *Strategy) Platform() domain.Platform { return domain.PlatformInstagram }

// ResolveUID scrapes the public profile page for the numeric profile id.
func (s *Strategy) ResolveUID(ctx context.Context, username string) (string, error) {
	var uid string
	err := s.withClaim(ctx, func(cred domain.Credential) error {
		var err error
		uid, err = s.scrapeUID(ctx, cred, username)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("op=instagram.ResolveUID: %w", err)
	}
	return uid, nil
}

// Profile resolves the username to its id and fetches the profile document.
func (s *Strategy) Profile(ctx context.Context, username string) (domain.UserRecord, error) {
	var rec domain.UserRecord
	err := s.withClaim(ctx, func(cred domain.Credential) error {
		uid, err := s.scrapeUID(ctx, cred, username)
		if err != nil {
			return err
		}
		rec, err = s.profileByUID(ctx, cred, uid)
		return err
	})
	if err != nil {
		return domain.UserRecord{}, fmt.Errorf("op=instagram.Profile: %w", err)
	}
	return rec, nil
}

// SimilarUsers fetches the discover chaining module for uid. The module
// returns bare ids, so each hit is filled in with a profile fetch; users
// whose profile fetch fails are dropped rather than failing the batch.
func (s *Strategy) SimilarUsers(ctx context.Context, uid string) ([]domain.UserRecord, error) {
	var out []domain.UserRecord
	err := s.withClaim(ctx, func(cred domain.Credential) error {
		var env chainingEnvelope
		variables := map[string]any{"module": "profile", "target_id": uid}
		if err := s.docQuery(ctx, cred, "similar_users", variables, &env); err != nil {
			return err
		}
		for _, u := range env.Data.Chaining.Users {
			pk := asID(u.PK)
			if pk == "" {
				continue
			}
			rec, err := s.profileByUID(ctx, cred, pk)
			if err != nil {
				if fatal(err) {
					return err
				}
				continue
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("op=instagram.SimilarUsers: %w", err)
	}
	return out, nil
}

// SearchUsers pages the top_serp media grid until count distinct authors
// are collected, the cursor runs out, or three consecutive pages add
// nothing new.
func (s *Strategy) SearchUsers(ctx context.Context, query string, count int) ([]domain.UserRecord, error) {
	var out []domain.UserRecord
	err := s.withClaim(ctx, func(cred domain.Credential) error {
		var (
			seen      = make(map[string]struct{})
			rankToken string
			nextMaxID string
			stale     int
		)
		for len(out) < count {
			users, rank, next, err := s.serpPage(ctx, cred, query, rankToken, nextMaxID)
			if err != nil {
				return err
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
			rankToken, nextMaxID = rank, next
			if nextMaxID == "" || len(out) >= count || stale >= maxStalePages {
				break
			}
			if err := s.sleep(ctx, wire.PageDelay()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("op=instagram.SearchUsers: %w", err)
	}
	if len(out) > count {
		out = out[:count]
	}
	return out, nil
}

// RecentPosts returns one page of the newest reels with their play counts.
func (s *Strategy) RecentPosts(ctx context.Context, uid string) ([]domain.Post, error) {
	var posts []domain.Post
	err := s.withClaim(ctx, func(cred domain.Credential) error {
		variables := map[string]any{
			"data": map[string]any{
				"include_feed_video": true,
				"page_size":          reelsPageSize,
				"target_user_id":     uid,
			},
		}
		var env reelsEnvelope
		if err := s.docQuery(ctx, cred, "user_reels", variables, &env); err != nil {
			return err
		}
		for _, e := range env.Data.Clips.Edges {
			id := asID(e.Node.Media.PK)
			if id == "" {
				continue
			}
			posts = append(posts, domain.Post{ID: id, Views: e.Node.Media.PlayCount})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("op=instagram.RecentPosts: %w", err)
	}
	return posts, nil
}

// Followings is not exposed by the web surface this strategy drives.
func (s *Strategy) Followings(ctx context.Context, uid string, size int) ([]domain.UserRecord, error) {
	return nil, fmt.Errorf("op=instagram.Followings: %w", domain.ErrUnsupported)
}

// withClaim leases on first use, claims the session credential for the
// duration of one operation and reports the outcome back to the pool.
func (s *Strategy) withClaim(ctx context.Context, fn func(cred domain.Credential) error) error {
	if err := wire.EnsureLeased(ctx, s.creds, domain.AccountTypeMain, leaseCount); err != nil {
		return err
	}
	claim, err := s.creds.Next(ctx, domain.AccountTypeMain, true)
	if err != nil {
		return err
	}
	err = fn(claim.Credential())
	wire.ReportOutcome(ctx, claim, err)
	return err
}

func (s *Strategy) scrapeUID(ctx context.Context, cred domain.Credential, username string) (string, error) {
	if s.set.BaseURL == "" {
		return "", fmt.Errorf("instagram base_url: %w", domain.ErrConfig)
	}
	page, err := s.client.DoText(ctx, wire.Request{
		URL:     strings.TrimSuffix(s.set.BaseURL, "/") + "/" + url.PathEscape(username) + "/",
		Channel: ChannelWeb,
		Header:  pageHeaders(cred),
	})
	if err != nil {
		return "", err
	}
	if strings.Contains(page, "Page Not Found") {
		return "", fmt.Errorf("user %s: %w", username, domain.ErrNotFound)
	}
	uid, ok := profileIDFromHTML(page)
	if !ok {
		return "", fmt.Errorf("profile id for %s: %w", username, domain.ErrNotFound)
	}
	return uid, nil
}

func (s *Strategy) profileByUID(ctx context.Context, cred domain.Credential, uid string) (domain.UserRecord, error) {
	variables := map[string]any{"id": uid, "render_surface": "PROFILE"}
	var env profileEnvelope
	if err := s.docQuery(ctx, cred, "user_by_uid", variables, &env); err != nil {
		return domain.UserRecord{}, err
	}
	if env.Data.User == nil || env.Data.User.Username == "" {
		return domain.UserRecord{}, fmt.Errorf("user %s: %w", uid, domain.ErrNotFound)
	}
	return userRecordFrom(uid, env.Data.User), nil
}

func (s *Strategy) serpPage(ctx context.Context, cred domain.Credential, query, rankToken, nextMaxID string) ([]domain.UserRecord, string, string, error) {
	endpoint, err := s.endpoint("top_serp")
	if err != nil {
		return nil, "", "", err
	}
	q := url.Values{}
	q.Set("enable_metadata", "true")
	q.Set("query", query)
	if rankToken != "" {
		q.Set("rank_token", rankToken)
	}
	if nextMaxID != "" {
		q.Set("next_max_id", nextMaxID)
	}
	var env serpEnvelope
	if err := s.client.DoJSON(ctx, wire.Request{
		URL:     endpoint + "?" + q.Encode(),
		Channel: ChannelWeb,
		Header:  apiHeaders(cred),
	}, &env); err != nil {
		return nil, "", "", err
	}
	var users []domain.UserRecord
	for _, sec := range env.MediaGrid.Sections {
		for _, m := range sec.LayoutContent.Medias {
			if m.Media.User == nil {
				continue
			}
			pk := asID(m.Media.User.PK)
			if pk == "" {
				continue
			}
			rec, err := s.profileByUID(ctx, cred, pk)
			if err != nil {
				if fatal(err) {
					return nil, "", "", err
				}
				continue
			}
			users = append(users, rec)
		}
	}
	return users, env.MediaGrid.RankToken, env.MediaGrid.NextMaxID, nil
}

// docQuery posts a doc_id form to the named endpoint and decodes the JSON
// response. Variables ride as one JSON-encoded form field, mirroring the
// web client.
func (s *Strategy) docQuery(ctx context.Context, cred domain.Credential, name string, variables map[string]any, out any) error {
	endpoint, err := s.endpoint(name)
	if err != nil {
		return err
	}
	docID := s.set.DocIDs[name]
	if docID == "" {
		return fmt.Errorf("instagram doc_id %q: %w", name, domain.ErrConfig)
	}
	blob, err := json.Marshal(variables)
	if err != nil {
		return fmt.Errorf("op=instagram.docQuery: variables: %w", err)
	}
	form := url.Values{}
	form.Set("doc_id", docID)
	form.Set("variables", string(blob))
	return s.client.DoJSON(ctx, wire.Request{
		Method:  http.MethodPost,
		URL:     endpoint,
		Channel: ChannelWeb,
		Header:  apiHeaders(cred),
		Form:    form,
	}, out)
}

func (s *Strategy) endpoint(name string) (string, error) {
	u, err := s.set.Endpoint(name)
	if err != nil {
		return "", fmt.Errorf("instagram endpoint %q: %w", name, domain.ErrConfig)
	}
	return u, nil
}

// fatal reports errors that must abort a fan-out loop: credential verdicts
// the pool has to hear about, and context teardown.
func fatal(err error) bool {
	return errors.Is(err, domain.ErrAccountSuspended) ||
		errors.Is(err, domain.ErrRateLimited) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// apiHeaders merges the leased session material (cookie, csrf token) with
// the fixed web client headers.
func apiHeaders(cred domain.Credential) map[string]string {
	h := make(map[string]string, len(cred.Headers)+3)
	for k, v := range cred.Headers {
		h[k] = v
	}
	h["accept"] = "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8"
	h["accept-language"] = "zh-CN,zh;q=0.9,en;q=0.8,zh-TW;q=0.7"
	h["x-ig-app-id"] = appID
	return h
}

// pageHeaders are for plain page navigation; the scrape sends the session
// cookie but none of the API markers.
func pageHeaders(cred domain.Credential) map[string]string {
	h := make(map[string]string, len(cred.Headers)+3)
	for k, v := range cred.Headers {
		h[k] = v
	}
	h["accept"] = "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8"
	h["accept-language"] = "zh-CN,zh;q=0.9,en;q=0.8,zh-TW;q=0.7"
	h["sec-fetch-mode"] = "navigate"
	return h
}
