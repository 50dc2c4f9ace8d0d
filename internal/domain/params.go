package domain

import (
	"encoding/json"
	"fmt"
)

// FollowsFilter bounds candidates by followers_count. A nil bound is open.
type FollowsFilter struct {
	Min *int64 `json:"min,omitempty"`
	Max *int64 `json:"max,omitempty"`
}

// Admit reports whether a follower count passes the filter.
func (f *FollowsFilter) Admit(followers int64) bool {
	if f == nil {
		return true
	}
	if f.Min != nil && followers < *f.Min {
		return false
	}
	if f.Max != nil && followers > *f.Max {
		return false
	}
	return true
}

// Validate rejects negative bounds and inverted ranges.
func (f *FollowsFilter) Validate() error {
	if f == nil {
		return nil
	}
	if f.Min != nil && *f.Min < 0 {
		return fmt.Errorf("follows.min must be non-negative: %w", ErrInvalidArgument)
	}
	if f.Max != nil && *f.Max < 0 {
		return fmt.Errorf("follows.max must be non-negative: %w", ErrInvalidArgument)
	}
	if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
		return fmt.Errorf("follows.min exceeds follows.max: %w", ErrInvalidArgument)
	}
	return nil
}

// ViewsFilter bounds candidates by their average views. A candidate with no
// computed average is admitted only when no filter is set, so callers must
// check for nil before applying Admit.
type ViewsFilter struct {
	Min *int64 `json:"min,omitempty"`
	Max *int64 `json:"max,omitempty"`
}

// Admit reports whether an average-view value passes the filter. A nil value
// never passes a non-nil filter.
func (f *ViewsFilter) Admit(avg *int64) bool {
	if f == nil {
		return true
	}
	if avg == nil {
		return false
	}
	if f.Min != nil && *avg < *f.Min {
		return false
	}
	if f.Max != nil && *avg > *f.Max {
		return false
	}
	return true
}

// SimilarParams are the inputs of an ActionSimilar task.
type SimilarParams struct {
	Username string         `json:"username"`
	UID      string         `json:"uid,omitempty"`
	Count    int            `json:"count"`
	Follows  *FollowsFilter `json:"follows,omitempty"`
	AvgViews *ViewsFilter   `json:"avg_views,omitempty"`
}

// SearchParams are the inputs of an ActionSearch task.
type SearchParams struct {
	Query   string         `json:"query"`
	Count   int            `json:"count"`
	Follows *FollowsFilter `json:"follows,omitempty"`
}

// Validate checks the shared intake rules: count in (0,100], non-negative
// follower bounds, mandatory username.
func (p SimilarParams) Validate() error {
	if p.Username == "" {
		return fmt.Errorf("username is required: %w", ErrInvalidArgument)
	}
	if p.Count <= 0 || p.Count > 100 {
		return fmt.Errorf("count must be in 1..100, got %d: %w", p.Count, ErrInvalidArgument)
	}
	return p.Follows.Validate()
}

// Validate checks the search intake rules.
func (p SearchParams) Validate() error {
	if p.Query == "" {
		return fmt.Errorf("query is required: %w", ErrInvalidArgument)
	}
	if p.Count <= 0 || p.Count > 100 {
		return fmt.Errorf("count must be in 1..100, got %d: %w", p.Count, ErrInvalidArgument)
	}
	return p.Follows.Validate()
}

// ParamsMap converts a typed params struct to the opaque map stored on the
// task row and carried in the work item.
func ParamsMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("op=params.encode: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("op=params.encode: %w", err)
	}
	return m, nil
}

// DecodeParams converts the opaque params map back into a typed struct.
func DecodeParams(m map[string]any, out any) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("op=params.decode: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("op=params.decode: %w: %w", ErrSchemaInvalid, err)
	}
	return nil
}
