package domain

import (
	"context"
	"crypto/md5" //nolint:gosec // Task IDs need determinism, not collision resistance.
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrRateLimited       = errors.New("rate limited")
	ErrAccountSuspended  = errors.New("account suspended")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrSchemaInvalid     = errors.New("schema invalid")
	ErrUnsupported       = errors.New("operation unsupported")
	ErrConfig            = errors.New("configuration error")
	ErrInternal          = errors.New("internal error")
)

// SuspendedMessage is the user-visible message attached to calls aborted
// because the upstream redirected to an account-suspension page.
const SuspendedMessage = "账号被挂起"

// Platform enumerates the supported upstream platforms.
type Platform string

const (
	PlatformTwitter   Platform = "twitter"
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
)

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	switch p {
	case PlatformTwitter, PlatformInstagram, PlatformTikTok:
		return true
	}
	return false
}

// Action enumerates the work-item actions carried on the queue.
type Action string

const (
	ActionSimilar Action = "similar"
	ActionSearch  Action = "search"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionSimilar || a == ActionSearch
}

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Terminal reports whether s is a terminal status. Transitions are
// pending -> running -> {completed, failed}; backward transitions are
// forbidden and running is never a final state.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// FetchTask is the durable work record. Exactly one row exists per accepted
// intake request; rows are never deleted.
type FetchTask struct {
	TaskID    string
	Platform  Platform
	Action    Action
	Params    map[string]any
	Status    TaskStatus
	Result    []UserRecord
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewTaskID derives the deterministic 32-hex task identifier from the
// submission instant (millisecond precision), platform and action. Two
// submissions in the same millisecond with equal platform+action collide by
// construction; a later millisecond always yields a distinct ID.
func NewTaskID(at time.Time, platform Platform, action Action) string {
	seed := fmt.Sprintf("%d_%s_%s", at.UnixMilli(), platform, action)
	sum := md5.Sum([]byte(seed)) //nolint:gosec // see type doc
	return hex.EncodeToString(sum[:])
}

// Candidate sources, in collection order. The order doubles as precedence:
// when a uid appears in several sources the first-seen (highest-weight)
// source is retained.
const (
	SourceFirstLevel  = "first_level"
	SourceSecondLevel = "second_level"
	SourceFollowings  = "followings"
	SourceTagSearch   = "tag_search"
)

// SourceWeight returns the multiplicative ranking weight of a source.
func SourceWeight(source string) float64 {
	switch source {
	case SourceFirstLevel:
		return 1.0
	case SourceSecondLevel:
		return 0.5
	case SourceFollowings:
		return 0.3
	case SourceTagSearch:
		return 0.2
	}
	return 0
}

// UserRecord is the platform-agnostic candidate representation emitted by
// strategies and returned in task results.
type UserRecord struct {
	Platform Platform `json:"platform"`
	UID      string   `json:"uid"`
	Username string   `json:"username"`

	Nickname   string `json:"nickname"`
	IsVerified bool   `json:"is_verified"`
	Bio        string `json:"bio"`
	Location   string `json:"location,omitempty"`
	URL        string `json:"url"`

	FollowersCount int64 `json:"followers_count"`
	FollowingCount int64 `json:"following_count"`
	PostCount      int64 `json:"post_count"`

	EmailInBio string `json:"email_in_bio,omitempty"`

	// Exactly one of the two averages is populated, matching the platform:
	// tweets for Twitter, reels for Instagram. TikTok computes neither.
	AvgViewsTweets *int64 `json:"avg_views_last_10_tweets,omitempty"`
	AvgPlayReels   *int64 `json:"avg_play_last_10_reels,omitempty"`

	Source string  `json:"source,omitempty"`
	Score  float64 `json:"score,omitempty"`
}

// SetAvgViews stores v under the platform-appropriate field.
func (u *UserRecord) SetAvgViews(v int64) {
	switch u.Platform {
	case PlatformInstagram:
		u.AvgPlayReels = &v
	default:
		u.AvgViewsTweets = &v
	}
}

// AvgViews returns whichever average is populated, or nil when none was
// computed (no posts fetched).
func (u *UserRecord) AvgViews() *int64 {
	if u.AvgViewsTweets != nil {
		return u.AvgViewsTweets
	}
	return u.AvgPlayReels
}

// Account classes. The empty string asks the admin service for any class.
const (
	AccountTypeMain   = "main"
	AccountTypeNormal = "normal"
	AccountTypeAny    = ""
)

// AccountStatus values reported back to the admin credential service.
type AccountStatus string

const (
	AccountSuspended AccountStatus = "suspended"
	AccountDisabled  AccountStatus = "disabled"
)

// Credential is an upstream account leased from the admin service. Headers
// carry the opaque auth material (authorization, csrf token, cookie and the
// optional client-transaction token) and are attached verbatim to requests.
type Credential struct {
	ID          string            `json:"id"`
	Username    string            `json:"username"`
	Headers     map[string]string `json:"headers"`
	AccountType string            `json:"account_type,omitempty"`
}

// Post is a tweet or reel reduced to the engagement fields needed for
// average-view computation. Posts arrive newest first.
type Post struct {
	ID     string
	Views  int64
	Pinned bool
}

// RateLimitBucket names one distributed limiter bucket, one per
// (platform, channel) pair.
type RateLimitBucket struct {
	Key        string
	RatePerSec float64
}

// Interval returns the minimum spacing between grants.
func (b RateLimitBucket) Interval() time.Duration {
	if b.RatePerSec <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / b.RatePerSec)
}

// FetchTaskPayload is the work item serialized onto the queue, one per task.
type FetchTaskPayload struct {
	TaskID   string         `json:"task_id"`
	Platform Platform       `json:"platform"`
	Action   Action         `json:"action"`
	Params   map[string]any `json:"params"`
}

// Ports

// TaskRepository is the task-log port. Only the coordinator inserts and only
// the worker updates, so there is no concurrent writer contention per task.
type TaskRepository interface {
	Create(ctx Context, t FetchTask) error
	UpdateStatus(ctx Context, taskID string, status TaskStatus) error
	Complete(ctx Context, taskID string, result []UserRecord) error
	Fail(ctx Context, taskID string, reason string) error
	Get(ctx Context, taskID string) (FetchTask, error)
	Recent(ctx Context, limit int) ([]FetchTask, error)
}

// Queue publishes work items for worker consumption.
type Queue interface {
	Enqueue(ctx Context, p FetchTaskPayload) error
}

// AccountService is the admin credential-service port: exclusive leasing,
// release with an optional cool-off delay, and status write-back for
// suspended/disabled accounts.
type AccountService interface {
	Lock(ctx Context, platform Platform, accountType string, count int) ([]Credential, error)
	Unlock(ctx Context, platform Platform, ids []string, delaySeconds int) error
	UpdateStatus(ctx Context, platform Platform, id string, status AccountStatus) error
}

// Strategy is the per-platform fetch capability set. Platforms that lack a
// capability return ErrUnsupported and callers degrade.
type Strategy interface {
	Platform() Platform
	// ResolveUID maps a username to the platform-scoped stable ID.
	ResolveUID(ctx Context, username string) (string, error)
	Profile(ctx Context, username string) (UserRecord, error)
	SimilarUsers(ctx Context, uid string) ([]UserRecord, error)
	SearchUsers(ctx Context, query string, count int) ([]UserRecord, error)
	// RecentPosts returns the newest posts (tweets or reels) for uid, one page.
	RecentPosts(ctx Context, uid string) ([]Post, error)
	Followings(ctx Context, uid string, size int) ([]UserRecord, error)
}

// Context is an alias to allow decoupling from std context in domain
// Adapters and usecases should pass context.Context through
type Context = context.Context
