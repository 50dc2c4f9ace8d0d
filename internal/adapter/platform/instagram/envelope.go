package instagram

import (
	"strconv"

	"github.com/fairyhunter13/social-fetcher/internal/domain"
	"github.com/fairyhunter13/social-fetcher/pkg/textx"
)

// Response shapes for the doc_id form posts and the top_serp media grid.
// Instagram stringifies ids on some surfaces and sends raw numbers on
// others, so id-bearing fields decode loosely and normalize through asID.

type profileEnvelope struct {
	Data struct {
		User *profileUser `json:"user"`
	} `json:"data"`
}

type profileUser struct {
	Username       string `json:"username"`
	FullName       string `json:"full_name"`
	IsVerified     bool   `json:"is_verified"`
	Biography      string `json:"biography"`
	FollowerCount  int64  `json:"follower_count"`
	FollowingCount int64  `json:"following_count"`
	MediaCount     int64  `json:"media_count"`
}

type chainingEnvelope struct {
	Data struct {
		Chaining struct {
			Users []struct {
				PK any `json:"pk"`
			} `json:"users"`
		} `json:"xdt_api__v1__discover__chaining"`
	} `json:"data"`
}

type serpEnvelope struct {
	MediaGrid struct {
		RankToken string `json:"rank_token"`
		NextMaxID string `json:"next_max_id"`
		Sections  []struct {
			LayoutContent struct {
				Medias []struct {
					Media struct {
						User *struct {
							PK any `json:"pk"`
						} `json:"user"`
					} `json:"media"`
				} `json:"medias"`
			} `json:"layout_content"`
		} `json:"sections"`
	} `json:"media_grid"`
}

type reelsEnvelope struct {
	Data struct {
		Clips struct {
			Edges []struct {
				Node struct {
					Media struct {
						PK        any   `json:"pk"`
						PlayCount int64 `json:"play_count"`
					} `json:"media"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"xdt_api__v1__clips__user__connection_v2"`
	} `json:"data"`
}

func userRecordFrom(uid string, u *profileUser) domain.UserRecord {
	return domain.UserRecord{
		Platform:       domain.PlatformInstagram,
		UID:            uid,
		Username:       u.Username,
		Nickname:       u.FullName,
		IsVerified:     u.IsVerified,
		Bio:            u.Biography,
		URL:            "https://www.instagram.com/" + u.Username,
		FollowersCount: u.FollowerCount,
		FollowingCount: u.FollowingCount,
		PostCount:      u.MediaCount,
		EmailInBio:     textx.ExtractEmail(u.Biography),
	}
}

// asID renders a loosely-typed id field as its canonical string form.
// Numeric ids stay well under float64's integer range.
func asID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	}
	return ""
}
