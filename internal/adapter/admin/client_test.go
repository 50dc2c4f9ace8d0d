package admin_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/social-fetcher/internal/adapter/admin"
	"github.com/fairyhunter13/social-fetcher/internal/domain"
)

func TestLock_SendsCountAndType(t *testing.T) {
	t.Parallel()
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"accounts": []map[string]any{
				{"id": "a1", "username": "acct1", "headers": map[string]string{"authorization": "Bearer x"}, "account_type": "main"},
				{"id": "a2", "username": "acct2", "headers": map[string]string{"authorization": "Bearer y"}, "account_type": "main"},
			},
		})
	}))
	defer srv.Close()

	c := admin.New(srv.URL)
	creds, err := c.Lock(context.Background(), domain.PlatformTwitter, domain.AccountTypeMain, 2)
	require.NoError(t, err)
	require.Len(t, creds, 2)
	assert.Equal(t, "/v1/twitter/accounts/lock", gotPath)
	assert.EqualValues(t, 2, gotBody["count"])
	assert.Equal(t, "main", gotBody["account_type"])
	assert.Equal(t, "a1", creds[0].ID)
	assert.Equal(t, "Bearer x", creds[0].Headers["authorization"])
}

func TestLock_AnyClassOmitsType(t *testing.T) {
	t.Parallel()
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]any{"accounts": []any{}})
	}))
	defer srv.Close()

	c := admin.New(srv.URL)
	creds, err := c.Lock(context.Background(), domain.PlatformInstagram, domain.AccountTypeAny, 1)
	require.NoError(t, err)
	assert.Empty(t, creds)
	_, present := gotBody["account_type"]
	assert.False(t, present, "empty class must be omitted from the request")
}

func TestLock_InvalidCount(t *testing.T) {
	t.Parallel()
	c := admin.New("http://unused")
	_, err := c.Lock(context.Background(), domain.PlatformTwitter, domain.AccountTypeMain, 0)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestUnlock_SendsIDsAndDelay(t *testing.T) {
	t.Parallel()
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	}))
	defer srv.Close()

	c := admin.New(srv.URL)
	err := c.Unlock(context.Background(), domain.PlatformTwitter, []string{"a1", "a2"}, 30)
	require.NoError(t, err)
	assert.Equal(t, "/v1/twitter/accounts/unlock", gotPath)
	assert.EqualValues(t, 30, gotBody["delay"])
	assert.Len(t, gotBody["ids"], 2)
}

func TestUnlock_NoIDsIsNoop(t *testing.T) {
	t.Parallel()
	c := admin.New("http://unused")
	require.NoError(t, c.Unlock(context.Background(), domain.PlatformTwitter, nil, 0))
}

func TestUnlock_Refused(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false})
	}))
	defer srv.Close()

	c := admin.New(srv.URL)
	err := c.Unlock(context.Background(), domain.PlatformTikTok, []string{"a1"}, 0)
	require.Error(t, err)
}

func TestUpdateStatus_RetriesTransient(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.Equal(t, "/v1/twitter/accounts/a1/status", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "suspended", body["status"])
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := admin.New(srv.URL)
	err := c.UpdateStatus(context.Background(), domain.PlatformTwitter, "a1", domain.AccountSuspended)
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
}

func TestUpdateStatus_PermanentOn4xx(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := admin.New(srv.URL)
	err := c.UpdateStatus(context.Background(), domain.PlatformTwitter, "ghost", domain.AccountDisabled)
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load(), "4xx must not be retried")
}
