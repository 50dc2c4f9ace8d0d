// Package credpool manages credentials leased from the admin service for
// the duration of one fetch task.
//
// A Pool is built at task start and drained in the task-end epilogue; it is
// never shared across tasks. Within the pool each credential carries its
// cool-down window and consecutive-429 strike count. Selection is
// round-robin by last use, and a credential is never handed out twice
// inside its cool-down window.
package credpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fairyhunter13/social-fetcher/internal/domain"
)

// Cool-down and wait defaults. Main accounts turn around quickly and are
// reserved for quota-sensitive endpoints; normal accounts carry the bulk
// traffic with a long cool-down.
const (
	DefaultMainCooldown       = 5 * time.Second
	DefaultNormalCooldown     = 60 * time.Second
	DefaultRetryWait          = 10 * time.Second
	DefaultNormalReleaseDelay = 60 * time.Second

	// strikeLimit is the number of consecutive 429s that flags a
	// credential as suspended.
	strikeLimit = 3
)

// Options tune the pool; zero values take the defaults above.
type Options struct {
	MainCooldown       time.Duration
	NormalCooldown     time.Duration
	RetryWait          time.Duration
	NormalReleaseDelay time.Duration
}

func (o *Options) withDefaults() {
	if o.MainCooldown <= 0 {
		o.MainCooldown = DefaultMainCooldown
	}
	if o.NormalCooldown <= 0 {
		o.NormalCooldown = DefaultNormalCooldown
	}
	if o.RetryWait <= 0 {
		o.RetryWait = DefaultRetryWait
	}
	if o.NormalReleaseDelay <= 0 {
		o.NormalReleaseDelay = DefaultNormalReleaseDelay
	}
}

type entry struct {
	cred       domain.Credential
	class      string
	cooldown   time.Duration
	lastUsedAt time.Time
	strikes    int
}

// Pool holds the credentials leased for one task.
type Pool struct {
	svc      domain.AccountService
	platform domain.Platform
	opts     Options

	mu       sync.Mutex
	entries  []*entry
	released bool

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds an empty pool bound to the admin service and platform.
func New(svc domain.AccountService, platform domain.Platform, opts Options) *Pool {
	opts.withDefaults()
	return &Pool{
		svc:      svc,
		platform: platform,
		opts:     opts,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Lease acquires up to count credentials of accountType from the admin
// service and adds them to the pool. It returns the number actually leased;
// zero is not an error (the service may have nothing free).
func (p *Pool) Lease(ctx context.Context, accountType string, count int) (int, error) {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return 0, fmt.Errorf("op=credpool.lease: pool already released: %w", domain.ErrConflict)
	}
	p.mu.Unlock()

	creds, err := p.svc.Lock(ctx, p.platform, accountType, count)
	if err != nil {
		return 0, fmt.Errorf("op=credpool.lease: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range creds {
		class := c.AccountType
		if class == "" {
			class = accountType
		}
		p.entries = append(p.entries, &entry{
			cred:     c,
			class:    class,
			cooldown: p.cooldownFor(class),
		})
	}
	return len(creds), nil
}

func (p *Pool) cooldownFor(class string) time.Duration {
	if class == domain.AccountTypeMain {
		return p.opts.MainCooldown
	}
	return p.opts.NormalCooldown
}

// Size reports how many credentials of class are leased ("" counts all).
func (p *Pool) Size(class string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.entries {
		if class == domain.AccountTypeAny || e.class == class {
			n++
		}
	}
	return n
}

// IDs returns the leased credential ids.
func (p *Pool) IDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.entries))
	for _, e := range p.entries {
		ids = append(ids, e.cred.ID)
	}
	return ids
}

// Claim is one checked-out use of a credential. Callers attach the headers
// to exactly one request and then report the outcome.
type Claim struct {
	pool *Pool
	ent  *entry
}

// Credential returns the underlying leased credential.
func (l *Claim) Credential() domain.Credential { return l.ent.cred }

// Next blocks until a credential of class is outside its cool-down window
// and claims it. Claiming stamps lastUsedAt immediately, so a credential is
// never handed out twice within its window even under concurrent callers.
// Eligible credentials are served round-robin, least recently used first.
//
// When the pool holds no credentials of class at all and borrow is set, the
// search widens to every class. With nothing to widen to, ErrNotFound
// surfaces and the task degrades or fails.
func (p *Pool) Next(ctx context.Context, class string, borrow bool) (*Claim, error) {
	for {
		p.mu.Lock()
		if p.released {
			p.mu.Unlock()
			return nil, fmt.Errorf("op=credpool.next: pool already released: %w", domain.ErrConflict)
		}
		searchClass := class
		if borrow && p.countLocked(class) == 0 {
			searchClass = domain.AccountTypeAny
		}
		if p.countLocked(searchClass) == 0 {
			p.mu.Unlock()
			return nil, fmt.Errorf("op=credpool.next: no %s credentials leased: %w", classLabel(class), domain.ErrNotFound)
		}
		now := p.now()
		var best *entry
		for _, e := range p.entries {
			if searchClass != domain.AccountTypeAny && e.class != searchClass {
				continue
			}
			if now.Sub(e.lastUsedAt) < e.cooldown {
				continue
			}
			if best == nil || e.lastUsedAt.Before(best.lastUsedAt) {
				best = e
			}
		}
		if best != nil {
			best.lastUsedAt = now
			p.mu.Unlock()
			return &Claim{pool: p, ent: best}, nil
		}
		p.mu.Unlock()

		slog.Debug("all credentials cooling, waiting",
			slog.String("platform", string(p.platform)),
			slog.String("class", classLabel(class)),
			slog.Duration("wait", p.opts.RetryWait))
		if err := p.sleep(ctx, p.opts.RetryWait); err != nil {
			return nil, fmt.Errorf("op=credpool.next: %w", err)
		}
	}
}

func (p *Pool) countLocked(class string) int {
	n := 0
	for _, e := range p.entries {
		if class == domain.AccountTypeAny || e.class == class {
			n++
		}
	}
	return n
}

func classLabel(class string) string {
	if class == domain.AccountTypeAny {
		return "any"
	}
	return class
}

// MarkOK records a non-429 outcome, resetting the strike counter.
func (l *Claim) MarkOK() {
	l.pool.mu.Lock()
	defer l.pool.mu.Unlock()
	l.ent.strikes = 0
}

// MarkRateLimited records a 429. The third consecutive strike publishes a
// single suspended status update and resets the counter, so a credential
// that keeps tripping produces one update per full strike-out.
func (l *Claim) MarkRateLimited(ctx context.Context) {
	l.pool.mu.Lock()
	l.ent.strikes++
	strikeOut := l.ent.strikes >= strikeLimit
	if strikeOut {
		l.ent.strikes = 0
	}
	id := l.ent.cred.ID
	l.pool.mu.Unlock()

	if !strikeOut {
		return
	}
	if err := l.pool.svc.UpdateStatus(ctx, l.pool.platform, id, domain.AccountSuspended); err != nil {
		slog.Error("suspended status publish failed",
			slog.String("platform", string(l.pool.platform)),
			slog.String("account_id", id),
			slog.Any("error", err))
	}
}

// MarkSuspended records a redirect onto the platform's suspension page: the
// credential is reported disabled immediately, with no strike threshold.
// The rate-limit counter is left untouched; the redirect signal supersedes
// any 429 observed on the same call.
func (l *Claim) MarkSuspended(ctx context.Context) {
	if err := l.pool.svc.UpdateStatus(ctx, l.pool.platform, l.ent.cred.ID, domain.AccountDisabled); err != nil {
		slog.Error("disabled status publish failed",
			slog.String("platform", string(l.pool.platform)),
			slog.String("account_id", l.ent.cred.ID),
			slog.Any("error", err))
	}
}

// Release hands every leased credential back. Main-class credentials return
// to circulation immediately; normal-class ones are kept out of rotation for
// the configured release delay so the next task does not land on accounts
// still cooling. One unlock call goes out per distinct delay. Release is
// idempotent and meant to run deferred at task end.
func (p *Pool) Release(ctx context.Context) error {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return nil
	}
	p.released = true
	byDelay := make(map[int][]string)
	for _, e := range p.entries {
		delay := 0
		if e.class == domain.AccountTypeNormal {
			delay = int(p.opts.NormalReleaseDelay / time.Second)
		}
		byDelay[delay] = append(byDelay[delay], e.cred.ID)
	}
	p.mu.Unlock()

	var errs []error
	for delay, ids := range byDelay {
		if err := p.svc.Unlock(ctx, p.platform, ids, delay); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("op=credpool.release: %w", errors.Join(errs...))
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
