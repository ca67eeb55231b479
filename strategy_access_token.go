package auth

import (
	"context"
	"strings"
	"time"
)

// AccessTokenStrategy authenticates bearer access tokens.
type AccessTokenStrategy struct {
	repos        RepositoryManager
	ledger       *TokenLedger
	reauthWindow time.Duration
	clock        Clock
}

// NewAccessTokenStrategy returns the strategy. Privileged identities may
// only use tokens issued less than reauthWindow ago, and only when the
// request is flagged as re-authenticated.
func NewAccessTokenStrategy(repos RepositoryManager, ledger *TokenLedger, reauthWindow time.Duration) *AccessTokenStrategy {
	return &AccessTokenStrategy{
		repos:        repos,
		ledger:       ledger,
		reauthWindow: reauthWindow,
		clock:        systemClock{},
	}
}

func (s *AccessTokenStrategy) WithClock(c Clock) *AccessTokenStrategy {
	s.clock = normalizeClock(c)
	return s
}

func (s *AccessTokenStrategy) Name() string { return StrategyAccessToken }

func (s *AccessTokenStrategy) Priority() int { return PriorityAccessToken }

func (s *AccessTokenStrategy) Accepts(creds Credentials) bool {
	return strings.TrimSpace(creds.AccessToken) != ""
}

func (s *AccessTokenStrategy) Authenticate(ctx context.Context, creds Credentials) (*Identity, error) {
	token, err := s.ledger.Find(ctx, creds.AccessToken)
	if err != nil {
		if IsExpected(err) {
			return nil, invalidToken(err)
		}
		return nil, err
	}

	identity, err := activeIdentity(ctx, s.repos, token.IdentityID.String(), ErrInvalidToken)
	if err != nil {
		return nil, err
	}

	if identity.Role.IsPrivileged() && !s.freshReauth(creds, token) {
		return identity, ErrAutologinDisabledForAdmin
	}

	if err := s.ledger.touch(ctx, token); err != nil {
		return nil, err
	}
	return identity, nil
}

func (s *AccessTokenStrategy) freshReauth(creds Credentials, token *AccessToken) bool {
	if !creds.Reauthenticated || s.reauthWindow <= 0 {
		return false
	}
	return s.clock.Now().Sub(token.CreatedAt) <= s.reauthWindow
}
