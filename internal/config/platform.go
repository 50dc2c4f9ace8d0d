package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// defaultUserAgents is the built-in pool used when the platform file does
// not override it. One entry is picked per outbound request.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36 Edg/122.0.2365.92",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
}

// AdminServiceSettings locate the external credential service. Name is the
// registry locator kept for operator context; URL is the resolved base.
type AdminServiceSettings struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// RapidSettings configure a RapidAPI-style external channel.
type RapidSettings struct {
	BaseURL string `yaml:"base_url"`
	Host    string `yaml:"host"`
	Key     string `yaml:"key"`
}

// PlatformSettings hold the per-platform wire details: page hosts, API
// bases, GraphQL document/query identifiers and endpoint URL templates
// (templates may carry {uid}, {username}, {query}, {count}, {cursor} slots).
type PlatformSettings struct {
	BaseURL            string            `yaml:"base_url"`
	APIBaseURL         string            `yaml:"api_base_url"`
	SuspendedURLPrefix string            `yaml:"suspended_url_prefix"`
	Endpoints          map[string]string `yaml:"endpoints"`
	DocIDs             map[string]string `yaml:"doc_ids"`
	QueryIDs           map[string]string `yaml:"query_ids"`
	DefaultChannel     string            `yaml:"default_channel"`
	Rapid              RapidSettings     `yaml:"rapid"`
}

// Endpoint returns the named endpoint template or an error naming the gap.
func (s PlatformSettings) Endpoint(name string) (string, error) {
	if u, ok := s.Endpoints[name]; ok && u != "" {
		return u, nil
	}
	return "", fmt.Errorf("endpoint %q not configured", name)
}

// PlatformFile is the YAML platform document.
type PlatformFile struct {
	AdminService       AdminServiceSettings        `yaml:"admin_service"`
	ProxyURL           string                      `yaml:"proxy_url"`
	UserAgents         []string                    `yaml:"user_agents"`
	FanoutParents      int                         `yaml:"fanout_parents"`
	FollowingsPageSize int                         `yaml:"followings_page_size"`
	RateLimits         map[string]float64          `yaml:"rate_limits"`
	Platforms          map[string]PlatformSettings `yaml:"platforms"`
}

// Platform returns the settings for a platform name.
func (f *PlatformFile) Platform(name string) (PlatformSettings, bool) {
	s, ok := f.Platforms[name]
	return s, ok
}

// applyDefaults fills the knobs the file may omit.
func (f *PlatformFile) applyDefaults() {
	if len(f.UserAgents) == 0 {
		f.UserAgents = append([]string(nil), defaultUserAgents...)
	}
	if f.FanoutParents == 0 {
		f.FanoutParents = 20
	}
	if f.FollowingsPageSize == 0 {
		f.FollowingsPageSize = 70
	}
	for name, p := range f.Platforms {
		if p.DefaultChannel == "" {
			p.DefaultChannel = "graphql"
			f.Platforms[name] = p
		}
	}
}

// LoadPlatformFile reads and validates the YAML platform document at path.
func LoadPlatformFile(path string) (*PlatformFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("op=config.LoadPlatformFile: %w", err)
	}
	var f PlatformFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("op=config.LoadPlatformFile: %w", err)
	}
	if f.AdminService.URL == "" {
		return nil, fmt.Errorf("op=config.LoadPlatformFile: admin_service.url is required")
	}
	f.applyDefaults()
	return &f, nil
}
