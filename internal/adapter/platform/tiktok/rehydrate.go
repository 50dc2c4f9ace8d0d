package tiktok

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/fairyhunter13/social-fetcher/internal/domain"
	"github.com/fairyhunter13/social-fetcher/pkg/textx"
)

// Profile pages ship their data in one rehydration bootstrap script; the
// user record lives under the webapp.user-detail scope.
var rehydrationRe = regexp.MustCompile(`(?s)<script id="__UNIVERSAL_DATA_FOR_REHYDRATION__" type="application/json">(.*?)</script>`)

type tkUser struct {
	ID        string `json:"id"`
	SecUID    string `json:"secUid"`
	UniqueID  string `json:"uniqueId"`
	Nickname  string `json:"nickname"`
	Verified  bool   `json:"verified"`
	Signature string `json:"signature"`
	Region    string `json:"region"`
}

type userDetail struct {
	UserInfo *struct {
		User    tkUser         `json:"user"`
		Stats   map[string]any `json:"stats"`
		StatsV2 map[string]any `json:"statsV2"`
	} `json:"userInfo"`
}

// counts prefers statsV2 and falls back to the legacy stats block.
func (d *userDetail) counts() map[string]any {
	if len(d.UserInfo.StatsV2) > 0 {
		return d.UserInfo.StatsV2
	}
	return d.UserInfo.Stats
}

// userDetailFromHTML pulls the rehydration bootstrap out of a profile page
// and decodes its webapp.user-detail scope.
func userDetailFromHTML(page string) (*userDetail, error) {
	m := rehydrationRe.FindStringSubmatch(page)
	if m == nil {
		return nil, fmt.Errorf("no rehydration data: %w", domain.ErrNotFound)
	}
	var blob struct {
		DefaultScope map[string]json.RawMessage `json:"__DEFAULT_SCOPE__"`
	}
	if err := json.Unmarshal([]byte(m[1]), &blob); err != nil {
		return nil, fmt.Errorf("rehydration json: %w: %v", domain.ErrSchemaInvalid, err)
	}
	raw, ok := blob.DefaultScope["webapp.user-detail"]
	if !ok {
		return nil, fmt.Errorf("user-detail scope missing: %w", domain.ErrNotFound)
	}
	var detail userDetail
	if err := json.Unmarshal(raw, &detail); err != nil {
		return nil, fmt.Errorf("user-detail scope: %w: %v", domain.ErrSchemaInvalid, err)
	}
	return &detail, nil
}

type similarEnvelope struct {
	SimilarUsers []struct {
		UniqueID string `json:"unique_id"`
	} `json:"similar_users"`
}

type searchEnvelope struct {
	UserList []struct {
		UniqueID string `json:"unique_id"`
	} `json:"user_list"`
}

type followingsEnvelope struct {
	StatusCode int    `json:"statusCode"`
	StatusMsg  string `json:"statusMsg"`
	HasMore    bool   `json:"hasMore"`
	MaxCursor  int64  `json:"maxCursor"`
	MinCursor  int64  `json:"minCursor"`
	UserList   []struct {
		User  tkUser         `json:"user"`
		Stats map[string]any `json:"stats"`
	} `json:"userList"`
}

func recordFrom(u tkUser, stats map[string]any) domain.UserRecord {
	return domain.UserRecord{
		Platform:       domain.PlatformTikTok,
		UID:            u.ID,
		Username:       u.UniqueID,
		Nickname:       u.Nickname,
		IsVerified:     u.Verified,
		Bio:            u.Signature,
		Location:       u.Region,
		URL:            "https://www.tiktok.com/@" + u.UniqueID,
		FollowersCount: asCount(stats["followerCount"]),
		FollowingCount: asCount(stats["followingCount"]),
		PostCount:      asCount(stats["videoCount"]),
		EmailInBio:     textx.ExtractEmail(u.Signature),
	}
}

// asCount reads a counter that arrives as a number in stats and as a
// decimal string in statsV2.
func asCount(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0
		}
		return parsed
	}
	return 0
}
