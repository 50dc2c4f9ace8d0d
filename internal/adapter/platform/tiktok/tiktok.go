// Package tiktok implements the TikTok fetch strategy over the anonymous
// web surface. Profiles come from the rehydration bootstrap embedded in
// the public profile page; similar users and search return bare usernames
// that are filled in with per-user profile scrapes; followings ride the
// credential-free web API with maxCursor paging.
//
// TikTok keys its public surface on username and secUid rather than the
// numeric id, so the strategy caches the handle triple from every profile
// it parses. Uid-keyed operations (similar, followings) only work after a
// resolve or listing call on the same strategy instance surfaced the uid;
// the per-task lifecycle guarantees that ordering.
package tiktok

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fairyhunter13/social-fetcher/internal/adapter/platform/wire"
	"github.com/fairyhunter13/social-fetcher/internal/config"
	"github.com/fairyhunter13/social-fetcher/internal/domain"
)

// ChannelWeb is the single TikTok wire channel; its limiter bucket is
// "tiktok:web".
const ChannelWeb = "web"

const similarPageSize = 20

// identity is the handle pair TikTok endpoints actually accept.
type identity struct {
	username string
	secUID   string
}

// Strategy is bound to one task and used from its single goroutine; the
// handle cache is not synchronized.
type Strategy struct {
	client *wire.Client
	set    config.PlatformSettings
	known  map[string]identity

	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a task-scoped strategy. TikTok calls carry no leased
// credential; pacing comes from the wire limiter alone.
func New(client *wire.Client, set config.PlatformSettings) *Strategy {
	return &Strategy{client: client, set: set, known: make(map[string]identity), sleep: wire.Sleep}
}

func (s *Strategy) Platform() domain.Platform { return domain.PlatformTikTok }

// ResolveUID scrapes the profile page; the numeric id rides in the
// rehydration data.
func (s *Strategy) ResolveUID(ctx context.Context, username string) (string, error) {
	rec, err := s.scrapeProfile(ctx, username)
	if err != nil {
		return "", fmt.Errorf("op=tiktok.ResolveUID: %w", err)
	}
	return rec.UID, nil
}

// Profile scrapes the public profile page for username.
func (s *Strategy) Profile(ctx context.Context, username string) (domain.UserRecord, error) {
	rec, err := s.scrapeProfile(ctx, username)
	if err != nil {
		return domain.UserRecord{}, fmt.Errorf("op=tiktok.Profile: %w", err)
	}
	return rec, nil
}

// SimilarUsers lists accounts similar to uid and fills each in with a
// profile scrape. Users whose page cannot be read are dropped.
func (s *Strategy) SimilarUsers(ctx context.Context, uid string) ([]domain.UserRecord, error) {
	id, err := s.handleFor(uid)
	if err != nil {
		return nil, fmt.Errorf("op=tiktok.SimilarUsers: %w", err)
	}
	endpoint, err := s.endpoint("similar_users")
	if err != nil {
		return nil, fmt.Errorf("op=tiktok.SimilarUsers: %w", err)
	}
	u := wire.Expand(endpoint, map[string]string{
		"username": id.username,
		"count":    strconv.Itoa(similarPageSize),
	})
	var env similarEnvelope
	if err := s.client.DoJSON(ctx, wire.Request{URL: u, Channel: ChannelWeb, Header: webHeaders()}, &env); err != nil {
		return nil, fmt.Errorf("op=tiktok.SimilarUsers: %w", err)
	}
	names := make([]string, 0, len(env.SimilarUsers))
	for _, su := range env.SimilarUsers {
		names = append(names, su.UniqueID)
	}
	users, err := s.enrichProfiles(ctx, names, similarPageSize)
	if err != nil {
		return nil, fmt.Errorf("op=tiktok.SimilarUsers: %w", err)
	}
	return users, nil
}

// SearchUsers runs one keyword search and fills the hits in with profile
// scrapes, stopping once count records are collected.
func (s *Strategy) SearchUsers(ctx context.Context, query string, count int) ([]domain.UserRecord, error) {
	endpoint, err := s.endpoint("search_users")
	if err != nil {
		return nil, fmt.Errorf("op=tiktok.SearchUsers: %w", err)
	}
	u := wire.Expand(endpoint, map[string]string{
		"query": query,
		"count": strconv.Itoa(count),
	})
	var env searchEnvelope
	if err := s.client.DoJSON(ctx, wire.Request{URL: u, Channel: ChannelWeb, Header: webHeaders()}, &env); err != nil {
		return nil, fmt.Errorf("op=tiktok.SearchUsers: %w", err)
	}
	names := make([]string, 0, len(env.UserList))
	for _, su := range env.UserList {
		names = append(names, su.UniqueID)
	}
	users, err := s.enrichProfiles(ctx, names, count)
	if err != nil {
		return nil, fmt.Errorf("op=tiktok.SearchUsers: %w", err)
	}
	return users, nil
}

// RecentPosts is not exposed by the web surface this strategy drives.
func (s *Strategy) RecentPosts(ctx context.Context, uid string) ([]domain.Post, error) {
	return nil, fmt.Errorf("op=tiktok.RecentPosts: %w", domain.ErrUnsupported)
}

// Followings pages the followings list by maxCursor until size records are
// collected or the upstream reports no more.
func (s *Strategy) Followings(ctx context.Context, uid string, size int) ([]domain.UserRecord, error) {
	id, err := s.handleFor(uid)
	if err != nil {
		return nil, fmt.Errorf("op=tiktok.Followings: %w", err)
	}
	if id.secUID == "" {
		return nil, fmt.Errorf("op=tiktok.Followings: uid %s has no secUid: %w", uid, domain.ErrNotFound)
	}
	var (
		out       []domain.UserRecord
		maxCursor int64
		minCursor int64
	)
	for len(out) < size {
		env, err := s.followingsPage(ctx, id.secUID, size, maxCursor, minCursor)
		if err != nil {
			return nil, fmt.Errorf("op=tiktok.Followings: %w", err)
		}
		for _, row := range env.UserList {
			rec := recordFrom(row.User, row.Stats)
			s.remember(rec.UID, identity{username: row.User.UniqueID, secUID: row.User.SecUID})
			out = append(out, rec)
		}
		if !env.HasMore || env.MaxCursor == maxCursor || len(out) >= size {
			break
		}
		maxCursor, minCursor = env.MaxCursor, env.MinCursor
		if err := s.sleep(ctx, wire.PageDelay()); err != nil {
			return nil, fmt.Errorf("op=tiktok.Followings: %w", err)
		}
	}
	if len(out) > size {
		out = out[:size]
	}
	return out, nil
}

func (s *Strategy) followingsPage(ctx context.Context, secUID string, count int, maxCursor, minCursor int64) (followingsEnvelope, error) {
	endpoint, err := s.endpoint("user_followings")
	if err != nil {
		return followingsEnvelope{}, err
	}
	q := followingsParams(secUID, count, maxCursor, minCursor)
	var env followingsEnvelope
	if err := s.client.DoJSON(ctx, wire.Request{
		URL:     endpoint + "?" + q.Encode(),
		Channel: ChannelWeb,
		Header:  webHeaders(),
	}, &env); err != nil {
		return followingsEnvelope{}, err
	}
	if env.StatusCode != 0 {
		return followingsEnvelope{}, fmt.Errorf("upstream status_code %d: %s", env.StatusCode, env.StatusMsg)
	}
	return env, nil
}

// enrichProfiles scrapes full profiles for the listed usernames, skipping
// pages that cannot be read, until count records are collected.
func (s *Strategy) enrichProfiles(ctx context.Context, usernames []string, count int) ([]domain.UserRecord, error) {
	var out []domain.UserRecord
	for _, username := range usernames {
		if username == "" {
			continue
		}
		rec, err := s.scrapeProfile(ctx, username)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		out = append(out, rec)
		if len(out) >= count {
			break
		}
		if err := s.sleep(ctx, wire.PageDelay()); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Strategy) scrapeProfile(ctx context.Context, username string) (domain.UserRecord, error) {
	if s.set.BaseURL == "" {
		return domain.UserRecord{}, fmt.Errorf("tiktok base_url: %w", domain.ErrConfig)
	}
	page, err := s.client.DoText(ctx, wire.Request{
		URL:     strings.TrimSuffix(s.set.BaseURL, "/") + "/@" + url.PathEscape(username),
		Channel: ChannelWeb,
		Header:  webHeaders(),
	})
	if err != nil {
		return domain.UserRecord{}, err
	}
	detail, err := userDetailFromHTML(page)
	if err != nil {
		return domain.UserRecord{}, fmt.Errorf("user %s: %w", username, err)
	}
	if detail.UserInfo == nil || detail.UserInfo.User.UniqueID == "" {
		return domain.UserRecord{}, fmt.Errorf("user %s: %w", username, domain.ErrNotFound)
	}
	rec := recordFrom(detail.UserInfo.User, detail.counts())
	s.remember(rec.UID, identity{
		username: detail.UserInfo.User.UniqueID,
		secUID:   detail.UserInfo.User.SecUID,
	})
	return rec, nil
}

// handleFor returns the cached handles for uid.
func (s *Strategy) handleFor(uid string) (identity, error) {
	if id, ok := s.known[uid]; ok {
		return id, nil
	}
	return identity{}, fmt.Errorf("uid %s has no cached handle: %w", uid, domain.ErrInvalidArgument)
}

func (s *Strategy) remember(uid string, id identity) {
	if uid == "" {
		return
	}
	s.known[uid] = id
}

func (s *Strategy) endpoint(name string) (string, error) {
	u, err := s.set.Endpoint(name)
	if err != nil {
		return "", fmt.Errorf("tiktok endpoint %q: %w", name, domain.ErrConfig)
	}
	return u, nil
}

func webHeaders() map[string]string {
	return map[string]string{
		"accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
		"accept-language": "zh-CN,zh;q=0.9,en;q=0.8,zh-TW;q=0.7",
		"content-type":    "application/json",
	}
}

// followingsParams carries the web client fingerprint the endpoint expects
// alongside the paging fields.
func followingsParams(secUID string, count int, maxCursor, minCursor int64) url.Values {
	q := url.Values{}
	q.Set("app_language", "zh-Hans")
	q.Set("app_name", "tiktok_web")
	q.Set("browser_language", "zh-CN")
	q.Set("browser_name", "Mozilla")
	q.Set("browser_online", "true")
	q.Set("browser_platform", "MacIntel")
	q.Set("browser_version", "5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/137.0.0.0 Safari/537.36")
	q.Set("channel", "tiktok_web")
	q.Set("cookie_enabled", "true")
	q.Set("count", strconv.Itoa(count))
	q.Set("data_collection_enabled", "true")
	q.Set("device_platform", "web_pc")
	q.Set("focus_state", "true")
	q.Set("from_page", "user")
	q.Set("history_len", "6")
	q.Set("is_fullscreen", "false")
	q.Set("is_page_visible", "true")
	q.Set("maxCursor", strconv.FormatInt(maxCursor, 10))
	q.Set("minCursor", strconv.FormatInt(minCursor, 10))
	q.Set("os", "mac")
	q.Set("priority_region", "US")
	q.Set("region", "US")
	q.Set("secUid", secUID)
	return q
}
