package domain

import (
	"regexp"
	"testing"
	"time"
)

func TestNewTaskID_DeterministicPerMillisecond(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	a := NewTaskID(at, PlatformTwitter, ActionSimilar)
	b := NewTaskID(at, PlatformTwitter, ActionSimilar)
	if a != b {
		t.Fatalf("same millisecond must yield equal IDs: %q vs %q", a, b)
	}
	c := NewTaskID(at.Add(time.Millisecond), PlatformTwitter, ActionSimilar)
	if a == c {
		t.Fatalf("different millisecond must yield distinct IDs")
	}
	d := NewTaskID(at, PlatformInstagram, ActionSimilar)
	if a == d {
		t.Fatalf("different platform must yield distinct IDs")
	}
	e := NewTaskID(at, PlatformTwitter, ActionSearch)
	if a == e {
		t.Fatalf("different action must yield distinct IDs")
	}
}

func TestNewTaskID_Is32Hex(t *testing.T) {
	id := NewTaskID(time.Now(), PlatformTikTok, ActionSearch)
	if !regexp.MustCompile(`^[0-9a-f]{32}$`).MatchString(id) {
		t.Fatalf("task id must be 32 lowercase hex chars, got %q", id)
	}
}

func TestPlatformAction_Valid(t *testing.T) {
	for _, p := range []Platform{PlatformTwitter, PlatformInstagram, PlatformTikTok} {
		if !p.Valid() {
			t.Errorf("platform %q should be valid", p)
		}
	}
	if Platform("facebook").Valid() {
		t.Errorf("unknown platform must be invalid")
	}
	if !ActionSimilar.Valid() || !ActionSearch.Valid() {
		t.Errorf("known actions must be valid")
	}
	if Action("profile").Valid() {
		t.Errorf("unknown action must be invalid")
	}
}

func TestTaskStatus_Terminal(t *testing.T) {
	if TaskPending.Terminal() || TaskRunning.Terminal() {
		t.Errorf("pending/running are not terminal")
	}
	if !TaskCompleted.Terminal() || !TaskFailed.Terminal() {
		t.Errorf("completed/failed are terminal")
	}
}

func TestSourceWeight(t *testing.T) {
	cases := map[string]float64{
		SourceFirstLevel:  1.0,
		SourceSecondLevel: 0.5,
		SourceFollowings:  0.3,
		SourceTagSearch:   0.2,
		"unknown":         0,
	}
	for source, want := range cases {
		if got := SourceWeight(source); got != want {
			t.Errorf("weight(%s) = %v, want %v", source, got, want)
		}
	}
}

func TestUserRecord_AvgViewsByPlatform(t *testing.T) {
	tw := UserRecord{Platform: PlatformTwitter}
	tw.SetAvgViews(42)
	if tw.AvgViewsTweets == nil || *tw.AvgViewsTweets != 42 {
		t.Fatalf("twitter average must land in the tweets field")
	}
	if tw.AvgPlayReels != nil {
		t.Fatalf("twitter average must not set the reels field")
	}
	if got := tw.AvgViews(); got == nil || *got != 42 {
		t.Fatalf("AvgViews must surface the tweets value")
	}

	ig := UserRecord{Platform: PlatformInstagram}
	ig.SetAvgViews(7)
	if ig.AvgPlayReels == nil || *ig.AvgPlayReels != 7 {
		t.Fatalf("instagram average must land in the reels field")
	}

	var none UserRecord
	if none.AvgViews() != nil {
		t.Fatalf("no average computed must read as nil")
	}
}

func TestRateLimitBucket_Interval(t *testing.T) {
	b := RateLimitBucket{Key: "twitter:graphql", RatePerSec: 2}
	if got := b.Interval(); got != 500*time.Millisecond {
		t.Errorf("interval = %v, want 500ms", got)
	}
	zero := RateLimitBucket{Key: "x"}
	if zero.Interval() != 0 {
		t.Errorf("zero rate must yield zero interval")
	}
}
