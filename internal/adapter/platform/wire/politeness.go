package wire

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"time"
)

// Pacing windows. Pages of one listing wait the long window; sibling calls
// of a fan-out (per-parent similar lookups, per-candidate profile fills)
// wait the short one.
const (
	pageDelayMin    = 1 * time.Second
	pageDelayMax    = 3 * time.Second
	siblingDelayMin = 500 * time.Millisecond
	siblingDelayMax = 1500 * time.Millisecond
)

// PageDelay returns a uniform random pause for page-to-page pacing.
func PageDelay() time.Duration { return randDuration(pageDelayMin, pageDelayMax) }

// SiblingDelay returns a uniform random pause for sibling-call pacing.
func SiblingDelay() time.Duration { return randDuration(siblingDelayMin, siblingDelayMax) }

func randDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min))) //nolint:gosec // Jitter, not security.
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Expand substitutes {name} slots in an endpoint template, URL-escaping
// each value.
func Expand(template string, vars map[string]string) string {
	for k, v := range vars {
		template = strings.ReplaceAll(template, "{"+k+"}", url.QueryEscape(v))
	}
	return template
}

// GraphQLQuery renders the query string of a GraphQL GET: JSON-encoded
// variables and features, URL-escaped. features may be nil.
func GraphQLQuery(variables, features map[string]any) (string, error) {
	q := url.Values{}
	rawVars, err := json.Marshal(variables)
	if err != nil {
		return "", fmt.Errorf("op=wire.GraphQLQuery: variables: %w", err)
	}
	q.Set("variables", string(rawVars))
	if features != nil {
		rawFeats, err := json.Marshal(features)
		if err != nil {
			return "", fmt.Errorf("op=wire.GraphQLQuery: features: %w", err)
		}
		q.Set("features", string(rawFeats))
	}
	return q.Encode(), nil
}
