package twitter

import (
	"strconv"
	"strings"

	"github.com/fairyhunter13/social-fetcher/internal/domain"
	"github.com/fairyhunter13/social-fetcher/pkg/textx"
)

// Timeline envelope shapes shared by the GraphQL and rapid241 channels.
// Instructions carry either a single entry (TimelinePinEntry,
// TimelineReplaceEntry) or a list (TimelineAddEntries); entries are selected
// by entryId prefix and unexpected shapes are skipped, never fatal.

type profileEnvelope struct {
	Data struct {
		User struct {
			Result userResult `json:"result"`
		} `json:"user"`
	} `json:"data"`
}

type similarEnvelope struct {
	Data struct {
		ConnectTabTimeline struct {
			Timeline struct {
				Instructions []instruction `json:"instructions"`
			} `json:"timeline"`
		} `json:"connect_tab_timeline"`
	} `json:"data"`
}

type searchEnvelope struct {
	Data struct {
		SearchByRawQuery struct {
			SearchTimeline struct {
				Timeline struct {
					Instructions []instruction `json:"instructions"`
				} `json:"timeline"`
			} `json:"search_timeline"`
		} `json:"search_by_raw_query"`
	} `json:"data"`
}

type tweetsEnvelope struct {
	Data struct {
		User struct {
			Result struct {
				Timeline struct {
					Timeline struct {
						Instructions []instruction `json:"instructions"`
					} `json:"timeline"`
				} `json:"timeline"`
			} `json:"result"`
		} `json:"user"`
	} `json:"data"`
}

// rapidEnvelope is the twitter241 wrapper; the instruction shapes inside
// match the web API.
type rapidEnvelope struct {
	Result struct {
		Timeline struct {
			Instructions []instruction `json:"instructions"`
		} `json:"timeline"`
	} `json:"result"`
}

type instruction struct {
	Type    string  `json:"type"`
	Entry   entry   `json:"entry"`
	Entries []entry `json:"entries"`
}

type entry struct {
	EntryID string `json:"entryId"`
	Content struct {
		Value string `json:"value"`
		Items []struct {
			Item struct {
				ItemContent itemContent `json:"itemContent"`
			} `json:"item"`
		} `json:"items"`
		ItemContent itemContent `json:"itemContent"`
	} `json:"content"`
}

type itemContent struct {
	TweetResults struct {
		Result tweetResult `json:"result"`
	} `json:"tweet_results"`
	UserResults struct {
		Result userResult `json:"result"`
	} `json:"user_results"`
}

type tweetResult struct {
	TypeName string `json:"__typename"`
	RestID   string `json:"rest_id"`
	Legacy   *struct {
		IsRetweet bool `json:"is_retweet"`
	} `json:"legacy"`
	Views struct {
		Count string `json:"count"`
	} `json:"views"`
	Core struct {
		UserResults struct {
			Result userResult `json:"result"`
		} `json:"user_results"`
	} `json:"core"`
}

type userResult struct {
	TypeName       string `json:"__typename"`
	RestID         string `json:"rest_id"`
	IsBlueVerified bool   `json:"is_blue_verified"`
	Core           struct {
		Name       string `json:"name"`
		ScreenName string `json:"screen_name"`
	} `json:"core"`
	Location struct {
		Location string `json:"location"`
	} `json:"location"`
	Legacy struct {
		ScreenName     string `json:"screen_name"`
		Name           string `json:"name"`
		Description    string `json:"description"`
		Location       string `json:"location"`
		Verified       bool   `json:"verified"`
		FollowersCount int64  `json:"followers_count"`
		FriendsCount   int64  `json:"friends_count"`
		StatusesCount  int64  `json:"statuses_count"`
	} `json:"legacy"`
}

// userRecordFrom maps a GraphQL user result onto the shared record. Newer
// payloads move screen_name/name under core; older ones keep them in legacy,
// so core wins and legacy backfills.
func userRecordFrom(u userResult) (domain.UserRecord, bool) {
	if u.RestID == "" {
		return domain.UserRecord{}, false
	}
	username := u.Core.ScreenName
	if username == "" {
		username = u.Legacy.ScreenName
	}
	nickname := u.Core.Name
	if nickname == "" {
		nickname = u.Legacy.Name
	}
	location := u.Location.Location
	if location == "" {
		location = u.Legacy.Location
	}
	bio := u.Legacy.Description
	return domain.UserRecord{
		Platform:       domain.PlatformTwitter,
		UID:            u.RestID,
		Username:       username,
		Nickname:       nickname,
		IsVerified:     u.IsBlueVerified || u.Legacy.Verified,
		Bio:            bio,
		EmailInBio:     textx.ExtractEmail(bio),
		Location:       location,
		FollowersCount: u.Legacy.FollowersCount,
		FollowingCount: u.Legacy.FriendsCount,
		PostCount:      u.Legacy.StatusesCount,
		URL:            "https://x.com/" + username,
	}, true
}

// postFrom reduces a tweet result to the engagement record. Retweets and
// non-Tweet typenames (ads, tombstones, visibility wrappers) are dropped.
func postFrom(t tweetResult) (domain.Post, bool) {
	if t.RestID == "" || t.TypeName != "Tweet" || t.Legacy == nil || t.Legacy.IsRetweet {
		return domain.Post{}, false
	}
	views, _ := strconv.ParseInt(t.Views.Count, 10, 64)
	return domain.Post{ID: t.RestID, Views: views}, true
}

// parseTweets walks a user-tweets timeline: the pin instruction first, then
// tweet- entries and profile-conversation- modules (the author's own tweet
// is the first item), and the bottom cursor.
func parseTweets(instructions []instruction) (posts []domain.Post, nextCursor string) {
	for _, ins := range instructions {
		switch ins.Type {
		case "TimelinePinEntry":
			if p, ok := postFrom(ins.Entry.Content.ItemContent.TweetResults.Result); ok {
				p.Pinned = true
				posts = append(posts, p)
			}
		case "TimelineAddEntries":
			for _, e := range ins.Entries {
				switch {
				case strings.HasPrefix(e.EntryID, "tweet-"):
					if p, ok := postFrom(e.Content.ItemContent.TweetResults.Result); ok {
						posts = append(posts, p)
					}
				case strings.HasPrefix(e.EntryID, "profile-conversation-"):
					if len(e.Content.Items) == 0 {
						continue
					}
					if p, ok := postFrom(e.Content.Items[0].Item.ItemContent.TweetResults.Result); ok {
						posts = append(posts, p)
					}
				case strings.HasPrefix(e.EntryID, "cursor-bottom-"):
					nextCursor = e.Content.Value
				}
			}
		}
	}
	return posts, nextCursor
}

// parseSimilar extracts the similar-to module from a connect-tab timeline.
func parseSimilar(instructions []instruction) []domain.UserRecord {
	var users []domain.UserRecord
	for _, ins := range instructions {
		if ins.Type != "TimelineAddEntries" {
			continue
		}
		for _, e := range ins.Entries {
			if e.EntryID != "similartomodule-1" {
				continue
			}
			for _, item := range e.Content.Items {
				if u, ok := userRecordFrom(item.Item.ItemContent.UserResults.Result); ok {
					users = append(users, u)
				}
			}
		}
	}
	return users
}

// parseSearch walks one search-timeline page: tweet authors from tweet-
// entries, and the bottom cursor from either the cursor entry or a
// TimelineReplaceEntry instruction.
func parseSearch(instructions []instruction) (users []domain.UserRecord, nextCursor string) {
	for _, ins := range instructions {
		switch ins.Type {
		case "TimelineAddEntries":
			for _, e := range ins.Entries {
				switch {
				case strings.HasPrefix(e.EntryID, "cursor-bottom-"):
					nextCursor = e.Content.Value
				case strings.HasPrefix(e.EntryID, "tweet-"):
					author := e.Content.ItemContent.TweetResults.Result.Core.UserResults.Result
					if u, ok := userRecordFrom(author); ok {
						users = append(users, u)
					}
				}
			}
		case "TimelineReplaceEntry":
			if nextCursor == "" && strings.HasPrefix(ins.Entry.EntryID, "cursor-bottom-") {
				nextCursor = ins.Entry.Content.Value
			}
		}
	}
	return users, nextCursor
}

// parseFollowings extracts user- entries from a followings timeline page.
func parseFollowings(instructions []instruction) []domain.UserRecord {
	var users []domain.UserRecord
	for _, ins := range instructions {
		if ins.Type != "TimelineAddEntries" {
			continue
		}
		for _, e := range ins.Entries {
			if !strings.HasPrefix(e.EntryID, "user-") {
				continue
			}
			if u, ok := userRecordFrom(e.Content.ItemContent.UserResults.Result); ok {
				users = append(users, u)
			}
		}
	}
	return users
}
