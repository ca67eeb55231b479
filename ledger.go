package auth

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// TokenLedger issues and tracks bearer access tokens.
type TokenLedger struct {
	repos    RepositoryManager
	versions VersionPolicy
	clock    Clock
	logger   Logger
}

// NewTokenLedger returns a ledger using repos for storage and versions to
// stamp and accept tokens.
func NewTokenLedger(repos RepositoryManager, versions VersionPolicy) *TokenLedger {
	_, logger := ResolveLogger("auth.ledger", nil, nil)
	if versions == nil {
		versions = NewStaticVersionPolicy(DefaultConfig())
	}
	return &TokenLedger{
		repos:    repos,
		versions: versions,
		clock:    systemClock{},
		logger:   logger,
	}
}

func (l *TokenLedger) WithClock(c Clock) *TokenLedger {
	l.clock = normalizeClock(c)
	return l
}

func (l *TokenLedger) WithLogger(logger Logger) *TokenLedger {
	if logger != nil {
		l.logger = logger
	}
	return l
}

// Versions returns the policy used to stamp and accept tokens.
func (l *TokenLedger) Versions() VersionPolicy {
	return l.versions
}

// Issue mints a new random token for identity.
func (l *TokenLedger) Issue(ctx context.Context, identity *Identity, source string, expiry ExpiryPolicy) (*AccessToken, error) {
	if identity == nil || identity.ID == uuid.Nil {
		return nil, internalError(ErrIdentityNotFound, "issue requires a persisted identity")
	}

	version, err := issueVersion(ctx, l.versions)
	if err != nil {
		return nil, err
	}

	value, err := randomToken(tokenBytes)
	if err != nil {
		return nil, err
	}

	now := l.clock.Now()
	record := &AccessToken{
		Token:      value,
		IdentityID: identity.ID,
		Source:     strings.TrimSpace(source),
		Version:    version,
		ValidUntil: expiry.validUntil(now),
		CreatedAt:  now,
	}

	if _, err := l.repos.AccessTokens().CreateTx(ctx, l.repos.DB(), record); err != nil {
		l.logger.Error("access token create error", "error", err)
		return nil, internalError(err, "failed to issue access token")
	}

	return record, nil
}

// Lookup resolves token for authentication and records last_used_at.
func (l *TokenLedger) Lookup(ctx context.Context, token string) (*AccessToken, error) {
	record, err := l.check(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := l.touch(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (l *TokenLedger) touch(ctx context.Context, record *AccessToken) error {
	now := l.clock.Now()
	if err := l.repos.AccessTokens().TouchTx(ctx, l.repos.DB(), record.ID, now); err != nil {
		l.logger.Error("access token touch error", "error", err)
		return internalError(err, "failed to update access token usage")
	}
	record.LastUsedAt = &now
	return nil
}

// Find is a passive existence check: same validity rules as Lookup without
// touching last_used_at.
func (l *TokenLedger) Find(ctx context.Context, token string) (*AccessToken, error) {
	return l.check(ctx, token)
}

func (l *TokenLedger) check(ctx context.Context, token string) (*AccessToken, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenNotFound
	}

	record, err := l.repos.AccessTokens().FindByTokenTx(ctx, l.repos.DB(), token)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrTokenNotFound
		}
		return nil, internalError(err, "failed to load access token")
	}

	if record.Expired(l.clock.Now()) {
		return nil, ErrTokenExpired
	}

	minimum, err := l.versions.MinimumVersion(ctx)
	if err != nil {
		return nil, err
	}
	if record.Version < minimum {
		return nil, ErrTokenVersionStale
	}

	return record, nil
}

// Revoke deletes token. Unknown tokens are ignored.
func (l *TokenLedger) Revoke(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	if _, err := l.repos.AccessTokens().DeleteByTokenTx(ctx, l.repos.DB(), token); err != nil {
		return internalError(err, "failed to revoke access token")
	}
	return nil
}

// RevokeAll deletes every token of the identity except keep and returns the
// number removed.
func (l *TokenLedger) RevokeAll(ctx context.Context, identityID uuid.UUID, keep ...string) (int64, error) {
	n, err := l.repos.AccessTokens().DeleteByIdentityTx(ctx, l.repos.DB(), identityID, keep...)
	if err != nil {
		return 0, internalError(err, "failed to revoke access tokens")
	}
	return n, nil
}

// PairWithDevice links token to device, replacing any previous link.
func (l *TokenLedger) PairWithDevice(ctx context.Context, token string, device *DeviceToken) error {
	if device == nil || device.ID == uuid.Nil {
		return ErrDeviceTokenNotFound
	}

	n, err := l.repos.AccessTokens().SetDeviceTx(ctx, l.repos.DB(), token, device.ID)
	if err != nil {
		return internalError(err, "failed to pair access token")
	}
	if n == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// AllTokensOf lists the identity tokens, most recent first.
func (l *TokenLedger) AllTokensOf(ctx context.Context, identityID uuid.UUID) ([]*AccessToken, error) {
	records, err := l.repos.AccessTokens().ListByIdentityTx(ctx, l.repos.DB(), identityID)
	if err != nil {
		return nil, internalError(err, "failed to list access tokens")
	}
	return records, nil
}
