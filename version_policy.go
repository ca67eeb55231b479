package auth

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// SettingMinTokenVersion is the settings row holding the minimum accepted
// access token version.
const SettingMinTokenVersion = "min_token_version"

// VersionPolicy decides which token versions are issued and accepted.
type VersionPolicy interface {
	// CurrentVersion is the version stamped on new tokens before the
	// minimum is applied.
	CurrentVersion() int
	MinimumVersion(ctx context.Context) (int, error)
}

// StaticVersionPolicy serves fixed versions from configuration.
type StaticVersionPolicy struct {
	Current int
	Minimum int
}

// NewStaticVersionPolicy builds a policy from cfg.
func NewStaticVersionPolicy(cfg Config) StaticVersionPolicy {
	return StaticVersionPolicy{Current: cfg.CurrentTokenVersion, Minimum: cfg.MinTokenVersion}
}

func (p StaticVersionPolicy) CurrentVersion() int {
	return p.Current
}

func (p StaticVersionPolicy) MinimumVersion(context.Context) (int, error) {
	return p.Minimum, nil
}

// StoredVersionPolicy reads the minimum version from the auth_settings table
// so any process can raise it at runtime. Reads are cached for at most ttl;
// concurrent refreshes share one query.
type StoredVersionPolicy struct {
	repos    RepositoryManager
	current  int
	fallback int
	ttl      time.Duration
	clock    Clock
	logger   Logger

	group    singleflight.Group
	mu       sync.RWMutex
	cached   int
	cachedAt time.Time
	loaded   bool
}

// NewStoredVersionPolicy returns a policy backed by repos. The configured
// minimum is used until a settings row exists.
func NewStoredVersionPolicy(repos RepositoryManager, cfg Config) *StoredVersionPolicy {
	_, logger := ResolveLogger("auth.versions", nil, nil)
	return &StoredVersionPolicy{
		repos:    repos,
		current:  cfg.CurrentTokenVersion,
		fallback: cfg.MinTokenVersion,
		ttl:      cfg.VersionCacheTTL,
		clock:    systemClock{},
		logger:   logger,
	}
}

func (p *StoredVersionPolicy) WithClock(c Clock) *StoredVersionPolicy {
	p.clock = normalizeClock(c)
	return p
}

func (p *StoredVersionPolicy) WithLogger(logger Logger) *StoredVersionPolicy {
	if logger != nil {
		p.logger = logger
	}
	return p
}

func (p *StoredVersionPolicy) CurrentVersion() int {
	return p.current
}

func (p *StoredVersionPolicy) MinimumVersion(ctx context.Context) (int, error) {
	now := p.clock.Now()

	p.mu.RLock()
	if p.loaded && now.Sub(p.cachedAt) < p.ttl {
		v := p.cached
		p.mu.RUnlock()
		return v, nil
	}
	p.mu.RUnlock()

	v, err, _ := p.group.Do(SettingMinTokenVersion, func() (any, error) {
		stored, ok, err := p.repos.Settings().GetIntTx(ctx, p.repos.DB(), SettingMinTokenVersion)
		if err != nil {
			return 0, err
		}
		minimum := p.fallback
		if ok && int(stored) > minimum {
			minimum = int(stored)
		}
		p.store(minimum)
		return minimum, nil
	})
	if err != nil {
		p.logger.Error("failed to load minimum token version", "error", err)
		return 0, internalError(err, "failed to load minimum token version")
	}
	return v.(int), nil
}

// Bump raises the minimum accepted version by one and returns the new value.
// Every token issued before the bump is rejected once caches expire; this
// process sees the new value immediately.
func (p *StoredVersionPolicy) Bump(ctx context.Context) (int, error) {
	minimum, err := p.MinimumVersion(ctx)
	if err != nil {
		return 0, err
	}

	next, err := p.repos.Settings().IncrementTx(ctx, p.repos.DB(), SettingMinTokenVersion, int64(minimum+1), p.clock.Now())
	if err != nil {
		return 0, internalError(err, "failed to bump minimum token version")
	}

	// stored row lagging behind a raised configured minimum
	if int(next) <= minimum {
		next = int64(minimum + 1)
		if err := p.repos.Settings().SetIntTx(ctx, p.repos.DB(), SettingMinTokenVersion, next, p.clock.Now()); err != nil {
			return 0, internalError(err, "failed to bump minimum token version")
		}
	}

	p.store(int(next))
	p.logger.Info("minimum token version bumped", "version", strconv.FormatInt(next, 10))
	return int(next), nil
}

// Invalidate drops the cached value.
func (p *StoredVersionPolicy) Invalidate() {
	p.mu.Lock()
	p.loaded = false
	p.mu.Unlock()
}

func (p *StoredVersionPolicy) store(v int) {
	p.mu.Lock()
	p.cached = v
	p.cachedAt = p.clock.Now()
	p.loaded = true
	p.mu.Unlock()
}

// issueVersion is the version stamped on a new token.
func issueVersion(ctx context.Context, policy VersionPolicy) (int, error) {
	minimum, err := policy.MinimumVersion(ctx)
	if err != nil {
		return 0, err
	}
	if current := policy.CurrentVersion(); current > minimum {
		return current, nil
	}
	return minimum, nil
}
