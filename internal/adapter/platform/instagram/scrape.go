package instagram

import (
	"encoding/json"
	"regexp"
)

// Profile pages embed their bootstrap data as data-sjs JSON script blocks;
// one of them carries the numeric profile id. Older page builds leave only
// inline markers, hence the regex fallbacks.
var (
	scriptRe      = regexp.MustCompile(`(?s)<script type="application/json"  data-content-len="\d+" data-sjs>(.*?)</script>`)
	profilePageRe = regexp.MustCompile(`"profilePage_(\d+)"`)
	quotedIDRe    = regexp.MustCompile(`"id":"(\d+)"`)
)

// profileIDFromHTML digs the profile id out of a profile page: the data-sjs
// script blocks first, then the profilePage_ marker, then the first quoted
// numeric id.
func profileIDFromHTML(page string) (string, bool) {
	for _, m := range scriptRe.FindAllStringSubmatch(page, -1) {
		var doc any
		if err := json.Unmarshal([]byte(m[1]), &doc); err != nil {
			continue
		}
		if id, ok := findProfileID(doc); ok {
			return id, true
		}
	}
	if m := profilePageRe.FindStringSubmatch(page); m != nil {
		return m[1], true
	}
	if m := quotedIDRe.FindStringSubmatch(page); m != nil {
		return m[1], true
	}
	return "", false
}

// findProfileID walks decoded JSON depth-first for a profile_id key.
func findProfileID(doc any) (string, bool) {
	switch v := doc.(type) {
	case map[string]any:
		if raw, ok := v["profile_id"]; ok {
			if id := asID(raw); id != "" {
				return id, true
			}
		}
		for _, child := range v {
			if id, ok := findProfileID(child); ok {
				return id, true
			}
		}
	case []any:
		for _, child := range v {
			if id, ok := findProfileID(child); ok {
				return id, true
			}
		}
	}
	return "", false
}
