package auth

import (
	"context"
	"strings"
	"time"
)

// Rate limiter scopes.
const (
	RateLimitScopeRegister = "register"
	RateLimitScopeLogin    = "login"
)

// AttemptCounter records one attempt under key and returns how many
// attempts, the new one included, fall inside the window ending at now.
// Implementations must be safe under concurrent calls for the same key.
type AttemptCounter interface {
	Attempts(ctx context.Context, key string, window time.Duration, now time.Time) (int64, error)
}

// RateLimiter rejects an IP once it made more than threshold attempts in
// window. Non positive limits disable the check, as does an empty IP.
type RateLimiter struct {
	counter   AttemptCounter
	scope     string
	threshold int
	window    time.Duration
	clock     Clock
	logger    Logger
}

// NewRateLimiter returns a limiter for scope counting with counter.
func NewRateLimiter(counter AttemptCounter, scope string, threshold int, window time.Duration) *RateLimiter {
	_, logger := ResolveLogger("auth.ratelimit", nil, nil)
	return &RateLimiter{
		counter:   counter,
		scope:     scope,
		threshold: threshold,
		window:    window,
		clock:     systemClock{},
		logger:    logger,
	}
}

func (r *RateLimiter) WithClock(c Clock) *RateLimiter {
	r.clock = normalizeClock(c)
	return r
}

func (r *RateLimiter) WithLogger(logger Logger) *RateLimiter {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// Scope returns the key prefix of the limiter.
func (r *RateLimiter) Scope() string {
	return r.scope
}

// ReachLimit counts the attempt from ip and reports whether it is over the
// threshold.
func (r *RateLimiter) ReachLimit(ctx context.Context, ip string) (bool, error) {
	if r == nil || r.counter == nil || r.threshold <= 0 || r.window <= 0 {
		return false, nil
	}

	ip = strings.TrimSpace(ip)
	if ip == "" {
		return false, nil
	}

	attempts, err := r.counter.Attempts(ctx, r.key(ip), r.window, r.clock.Now())
	if err != nil {
		r.logger.Error("rate limit counter error", "scope", r.scope, "error", err)
		return false, internalError(err, "failed to count attempts")
	}

	if attempts > int64(r.threshold) {
		r.logger.Warn("rate limit reached", "scope", r.scope, "ip", ip, "attempts", attempts)
		return true, nil
	}
	return false, nil
}

// Check is ReachLimit returning ErrRateLimitExceeded when over the threshold.
func (r *RateLimiter) Check(ctx context.Context, ip string) error {
	reached, err := r.ReachLimit(ctx, ip)
	if err != nil {
		return err
	}
	if reached {
		return ErrRateLimitExceeded
	}
	return nil
}

func (r *RateLimiter) key(ip string) string {
	if r.scope == "" {
		return ip
	}
	return r.scope + ":" + ip
}

// SQLAttemptCounter keeps one fixed window counter row per key in
// rate_limit_counters. Windows are aligned to multiples of the window length.
type SQLAttemptCounter struct {
	repos RepositoryManager
}

// NewSQLAttemptCounter returns a counter stored through repos.
func NewSQLAttemptCounter(repos RepositoryManager) *SQLAttemptCounter {
	return &SQLAttemptCounter{repos: repos}
}

func (c *SQLAttemptCounter) Attempts(ctx context.Context, key string, window time.Duration, now time.Time) (int64, error) {
	return c.repos.RateLimitCounters().IncrementTx(ctx, c.repos.DB(), key, now.UTC().Truncate(window), now)
}

// Purge removes counters whose window started before before.
func (c *SQLAttemptCounter) Purge(ctx context.Context, before time.Time) (int64, error) {
	return c.repos.RateLimitCounters().PurgeBeforeTx(ctx, c.repos.DB(), before)
}
