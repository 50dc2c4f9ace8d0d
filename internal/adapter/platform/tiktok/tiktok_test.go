package tiktok_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/social-fetcher/internal/adapter/platform/tiktok"
	"github.com/fairyhunter13/social-fetcher/internal/adapter/platform/wire"
	"github.com/fairyhunter13/social-fetcher/internal/config"
	"github.com/fairyhunter13/social-fetcher/internal/domain"
)

func settings(srvURL string) config.PlatformSettings {
	return config.PlatformSettings{
		BaseURL: srvURL,
		Endpoints: map[string]string{
			"similar_users":   srvURL + "/api/similar/{username}/{count}",
			"search_users":    srvURL + "/api/search/{query}/{count}",
			"user_followings": srvURL + "/api/followings",
		},
	}
}

func newStrategy(t *testing.T, srvURL string) *tiktok.Strategy {
	t.Helper()
	client, err := wire.New(wire.Options{
		Platform:   domain.PlatformTikTok,
		UserAgents: []string{"test-agent"},
		Timeout:    5 * time.Second,
	})
	require.NoError(t, err)
	s := tiktok.New(client, settings(srvURL))
	tiktok.SetSleep(s, func(context.Context, time.Duration) error { return nil })
	return s
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

// profilePage renders the rehydration bootstrap the live site embeds, with
// the newer statsV2 block carrying stringified counters.
func profilePage(uid, secUID, username string) string {
	detail := fmt.Sprintf(`{"userInfo":{"user":{
		"id":"%s","secUid":"%s","uniqueId":"%s","nickname":"Nick %s",
		"verified":true,"signature":"creator, booking: %s@mail.dev","region":"US"},
		"statsV2":{"followerCount":"1200","followingCount":"310","videoCount":"88"}}}`,
		uid, secUID, username, username, username)
	return `<html><body><script id="__UNIVERSAL_DATA_FOR_REHYDRATION__" type="application/json">` +
		`{"__DEFAULT_SCOPE__":{"webapp.user-detail":` + detail + `}}</script></body></html>`
}

func followingRow(uid, secUID, username string) string {
	return fmt.Sprintf(`{"user":{"id":"%s","secUid":"%s","uniqueId":"%s","nickname":"N","verified":false,"signature":"","region":"DE"},"stats":{"followerCount":50,"followingCount":10,"videoCount":3}}`,
		uid, secUID, username)
}

func TestProfileParsesRehydration(t *testing.T) {
	t.Parallel()
	var gotUA, gotContentType string
	mux := http.NewServeMux()
	mux.HandleFunc("/@janedoe", func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotContentType = r.Header.Get("Content-Type")
		_, _ = w.Write([]byte(profilePage("777", "sec-777", "janedoe")))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := newStrategy(t, srv.URL)
	u, err := s.Profile(context.Background(), "janedoe")
	require.NoError(t, err)

	assert.Equal(t, "test-agent", gotUA)
	assert.Equal(t, "application/json", gotContentType)

	assert.Equal(t, domain.PlatformTikTok, u.Platform)
	assert.Equal(t, "777", u.UID)
	assert.Equal(t, "janedoe", u.Username)
	assert.Equal(t, "Nick janedoe", u.Nickname)
	assert.True(t, u.IsVerified)
	assert.Equal(t, "US", u.Location)
	assert.Equal(t, "janedoe@mail.dev", u.EmailInBio)
	assert.Equal(t, int64(1200), u.FollowersCount)
	assert.Equal(t, int64(310), u.FollowingCount)
	assert.Equal(t, int64(88), u.PostCount)
	assert.Equal(t, "https://www.tiktok.com/@janedoe", u.URL)
}

func TestProfileLegacyStatsFallback(t *testing.T) {
	t.Parallel()
	page := `<html><script id="__UNIVERSAL_DATA_FOR_REHYDRATION__" type="application/json">` +
		`{"__DEFAULT_SCOPE__":{"webapp.user-detail":{"userInfo":{` +
		`"user":{"id":"12","uniqueId":"old","nickname":"Old"},` +
		`"stats":{"followerCount":42,"followingCount":7,"videoCount":5}}}}}</script></html>`
	mux := http.NewServeMux()
	mux.HandleFunc("/@old", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(page))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := newStrategy(t, srv.URL)
	u, err := s.Profile(context.Background(), "old")
	require.NoError(t, err)
	assert.Equal(t, int64(42), u.FollowersCount)
	assert.Equal(t, int64(7), u.FollowingCount)
	assert.Equal(t, int64(5), u.PostCount)
}

func TestProfileMissingDataIsNotFound(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/@bare", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body>no bootstrap here</body></html>`))
	})
	mux.HandleFunc("/@hollow", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><script id="__UNIVERSAL_DATA_FOR_REHYDRATION__" type="application/json">` +
			`{"__DEFAULT_SCOPE__":{"webapp.user-detail":{"userInfo":null}}}</script></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := newStrategy(t, srv.URL)
	_, err := s.Profile(context.Background(), "bare")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.Profile(context.Background(), "hollow")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResolveUIDViaProfile(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/@janedoe", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(profilePage("777", "sec-777", "janedoe")))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := newStrategy(t, srv.URL)
	uid, err := s.ResolveUID(context.Background(), "janedoe")
	require.NoError(t, err)
	assert.Equal(t, "777", uid)
}

func TestSimilarUsersEnrichesByHandle(t *testing.T) {
	t.Parallel()
	var similarPath string
	mux := http.NewServeMux()
	mux.HandleFunc("/@janedoe", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(profilePage("777", "sec-777", "janedoe")))
	})
	mux.HandleFunc("/@alice", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(profilePage("801", "sec-801", "alice")))
	})
	mux.HandleFunc("/@broken", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	mux.HandleFunc("/@bob", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(profilePage("802", "sec-802", "bob")))
	})
	mux.HandleFunc("/api/similar/", func(w http.ResponseWriter, r *http.Request) {
		similarPath = r.URL.Path
		writeJSON(w, `{"similar_users":[{"unique_id":"alice"},{"unique_id":""},{"unique_id":"broken"},{"unique_id":"bob"}]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := newStrategy(t, srv.URL)
	_, err := s.ResolveUID(context.Background(), "janedoe")
	require.NoError(t, err)

	users, err := s.SimilarUsers(context.Background(), "777")
	require.NoError(t, err)

	assert.Equal(t, "/api/similar/janedoe/20", similarPath)
	require.Len(t, users, 2)
	assert.Equal(t, "801", users[0].UID)
	assert.Equal(t, "alice", users[0].Username)
	assert.Equal(t, "802", users[1].UID)
}

func TestSimilarUsersUnknownUIDIsInvalid(t *testing.T) {
	t.Parallel()
	s := newStrategy(t, "http://unused")
	_, err := s.SimilarUsers(context.Background(), "777")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestSearchUsersCapsEnrichment(t *testing.T) {
	t.Parallel()
	var scrapes int
	mux := http.NewServeMux()
	mux.HandleFunc("/api/search/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/search/vegan+chef/2", r.URL.Path)
		writeJSON(w, `{"user_list":[{"unique_id":"alice"},{"unique_id":"bob"},{"unique_id":"carol"}]}`)
	})
	for _, name := range []string{"alice", "bob", "carol"} {
		mux.HandleFunc("/@"+name, func(w http.ResponseWriter, _ *http.Request) {
			scrapes++
			_, _ = w.Write([]byte(profilePage("9"+name, "sec-"+name, name)))
		})
	}
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := newStrategy(t, srv.URL)
	users, err := s.SearchUsers(context.Background(), "vegan chef", 2)
	require.NoError(t, err)

	assert.Equal(t, 2, scrapes)
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].Username)
	assert.Equal(t, "bob", users[1].Username)
}

func TestFollowingsPagesWithCursor(t *testing.T) {
	t.Parallel()
	var cursors []string
	var similarPath string
	mux := http.NewServeMux()
	mux.HandleFunc("/@janedoe", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(profilePage("777", "sec-777", "janedoe")))
	})
	mux.HandleFunc("/api/followings", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "sec-777", q.Get("secUid"))
		assert.Equal(t, "5", q.Get("count"))
		assert.Equal(t, "tiktok_web", q.Get("app_name"))
		cursors = append(cursors, q.Get("maxCursor"))
		if q.Get("maxCursor") == "0" {
			writeJSON(w, `{"statusCode":0,"hasMore":true,"maxCursor":111,"minCursor":5,"userList":[`+
				followingRow("901", "sec-901", "follower1")+","+
				followingRow("902", "sec-902", "follower2")+`]}`)
			return
		}
		writeJSON(w, `{"statusCode":0,"hasMore":false,"maxCursor":222,"minCursor":111,"userList":[`+
			followingRow("903", "sec-903", "follower3")+`]}`)
	})
	mux.HandleFunc("/api/similar/", func(w http.ResponseWriter, r *http.Request) {
		similarPath = r.URL.Path
		writeJSON(w, `{"similar_users":[]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := newStrategy(t, srv.URL)
	_, err := s.ResolveUID(context.Background(), "janedoe")
	require.NoError(t, err)

	users, err := s.Followings(context.Background(), "777", 5)
	require.NoError(t, err)

	assert.Equal(t, []string{"0", "111"}, cursors)
	require.Len(t, users, 3)
	assert.Equal(t, "follower1", users[0].Username)
	assert.Equal(t, int64(50), users[0].FollowersCount)
	assert.Equal(t, "DE", users[0].Location)

	// Followings rows carry full handles, so their uids are actionable
	// without another resolve.
	_, err = s.SimilarUsers(context.Background(), "901")
	require.NoError(t, err)
	assert.Equal(t, "/api/similar/follower1/20", similarPath)
}

func TestFollowingsUpstreamStatusError(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/@janedoe", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(profilePage("777", "sec-777", "janedoe")))
	})
	mux.HandleFunc("/api/followings", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, `{"statusCode":10201,"statusMsg":"session expired","userList":[]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := newStrategy(t, srv.URL)
	_, err := s.ResolveUID(context.Background(), "janedoe")
	require.NoError(t, err)

	_, err = s.Followings(context.Background(), "777", 5)
	require.Error(t, err)
	assert.ErrorContains(t, err, "10201")
	assert.ErrorContains(t, err, "session expired")
}

func TestRecentPostsUnsupported(t *testing.T) {
	t.Parallel()
	s := newStrategy(t, "http://unused")
	_, err := s.RecentPosts(context.Background(), "777")
	assert.ErrorIs(t, err, domain.ErrUnsupported)
}
