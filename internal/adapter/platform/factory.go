// Package platform assembles per-platform wire clients and hands out
// task-scoped strategies. Clients are process-wide (transport, UA pool,
// limiter); strategies bind a client to one task's credential claims and
// are discarded with the task.
package platform

import (
	"fmt"

	"github.com/fairyhunter13/social-fetcher/internal/adapter/platform/instagram"
	"github.com/fairyhunter13/social-fetcher/internal/adapter/platform/tiktok"
	"github.com/fairyhunter13/social-fetcher/internal/adapter/platform/twitter"
	"github.com/fairyhunter13/social-fetcher/internal/adapter/platform/wire"
	"github.com/fairyhunter13/social-fetcher/internal/config"
	"github.com/fairyhunter13/social-fetcher/internal/domain"
	"github.com/fairyhunter13/social-fetcher/internal/service/ratelimiter"
)

type Factory struct {
	file    *config.PlatformFile
	clients map[domain.Platform]*wire.Client
}

// NewFactory builds one wire client per configured platform. Platforms
// absent from the file are rejected later by Strategy.
func NewFactory(file *config.PlatformFile, limiter ratelimiter.Limiter) (*Factory, error) {
	f := &Factory{file: file, clients: make(map[domain.Platform]*wire.Client)}
	for _, p := range []domain.Platform{domain.PlatformTwitter, domain.PlatformInstagram, domain.PlatformTikTok} {
		set, ok := file.Platform(string(p))
		if !ok {
			continue
		}
		client, err := wire.New(wire.Options{
			Platform:           p,
			UserAgents:         file.UserAgents,
			ProxyURL:           file.ProxyURL,
			SuspendedURLPrefix: set.SuspendedURLPrefix,
			Limiter:            limiter,
		})
		if err != nil {
			return nil, fmt.Errorf("op=platform.NewFactory: %s: %w", p, err)
		}
		f.clients[p] = client
	}
	return f, nil
}

// Strategy returns a strategy for p bound to one task's credential claims.
// TikTok runs anonymously and ignores claims.
func (f *Factory) Strategy(p domain.Platform, claims wire.Claims) (domain.Strategy, error) {
	client, ok := f.clients[p]
	if !ok {
		return nil, fmt.Errorf("op=platform.Strategy: platform %q not configured: %w", p, domain.ErrConfig)
	}
	set, _ := f.file.Platform(string(p))
	switch p {
	case domain.PlatformTwitter:
		s, err := twitter.New(client, claims, set)
		if err != nil {
			return nil, fmt.Errorf("op=platform.Strategy: %w", err)
		}
		return s, nil
	case domain.PlatformInstagram:
		return instagram.New(client, claims, set), nil
	case domain.PlatformTikTok:
		return tiktok.New(client, set), nil
	}
	return nil, fmt.Errorf("op=platform.Strategy: platform %q: %w", p, domain.ErrUnsupported)
}
