// Package textx provides small text utilities used across the project.
package textx

import (
	"regexp"
	"sort"
	"strings"
)

var (
	emailRe   = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	hashtagRe = regexp.MustCompile(`#([\p{L}\p{N}_]+)`)
)

// SanitizeText removes control characters except tab/newline/CR and trims spaces.
func SanitizeText(s string) string {
	// strip control chars outside tab/newline/carriage return
	var b strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// ExtractEmail returns the first email-shaped substring of s, or "" when none
// matches.
func ExtractEmail(s string) string {
	return emailRe.FindString(s)
}

// ExtractTags returns the hashtags of s without the leading '#', lowercased,
// in order of first appearance.
func ExtractTags(s string) []string {
	matches := hashtagRe.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		tag := strings.ToLower(m[1])
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// DominantTags counts hashtag occurrences across texts and returns up to max
// tags ordered by frequency descending, ties broken by first appearance.
func DominantTags(texts []string, max int) []string {
	if max <= 0 {
		return nil
	}
	counts := make(map[string]int)
	order := make(map[string]int)
	next := 0
	for _, text := range texts {
		for _, m := range hashtagRe.FindAllStringSubmatch(text, -1) {
			tag := strings.ToLower(m[1])
			if _, ok := order[tag]; !ok {
				order[tag] = next
				next++
			}
			counts[tag]++
		}
	}
	if len(counts) == 0 {
		return nil
	}
	tags := make([]string, 0, len(counts))
	for tag := range counts {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool {
		if counts[tags[i]] != counts[tags[j]] {
			return counts[tags[i]] > counts[tags[j]]
		}
		return order[tags[i]] < order[tags[j]]
	})
	if len(tags) > max {
		tags = tags[:max]
	}
	return tags
}
