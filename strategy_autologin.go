package auth

import (
	"context"
	"strings"
)

// AutologinTokenStrategy authenticates raw one-time autologin tokens.
type AutologinTokenStrategy struct {
	repos  RepositoryManager
	issuer *AutologinIssuer
}

// NewAutologinTokenStrategy returns the strategy.
func NewAutologinTokenStrategy(repos RepositoryManager, issuer *AutologinIssuer) *AutologinTokenStrategy {
	return &AutologinTokenStrategy{repos: repos, issuer: issuer}
}

func (s *AutologinTokenStrategy) Name() string { return StrategyAutologinToken }

func (s *AutologinTokenStrategy) Priority() int { return PriorityAutologinToken }

func (s *AutologinTokenStrategy) Accepts(creds Credentials) bool {
	return strings.TrimSpace(creds.AutologinToken) != ""
}

func (s *AutologinTokenStrategy) Authenticate(ctx context.Context, creds Credentials) (*Identity, error) {
	return consumeAutologin(ctx, s.repos, s.issuer, creds.AutologinToken, "")
}

// AutologinLinkStrategy authenticates signed autologin links.
type AutologinLinkStrategy struct {
	repos  RepositoryManager
	issuer *AutologinIssuer
}

// NewAutologinLinkStrategy returns the strategy.
func NewAutologinLinkStrategy(repos RepositoryManager, issuer *AutologinIssuer) *AutologinLinkStrategy {
	return &AutologinLinkStrategy{repos: repos, issuer: issuer}
}

func (s *AutologinLinkStrategy) Name() string { return StrategyAutologinLink }

func (s *AutologinLinkStrategy) Priority() int { return PriorityAutologinLink }

func (s *AutologinLinkStrategy) Accepts(creds Credentials) bool {
	return strings.TrimSpace(creds.AutologinLink) != ""
}

func (s *AutologinLinkStrategy) Authenticate(ctx context.Context, creds Credentials) (*Identity, error) {
	claims, err := s.issuer.ParseLink(creds.AutologinLink)
	if err != nil {
		return nil, err
	}
	return consumeAutologin(ctx, s.repos, s.issuer, claims.ID, claims.Subject)
}

// consumeAutologin checks eligibility before spending a use so a rejected
// administrator does not burn the token.
func consumeAutologin(ctx context.Context, repos RepositoryManager, issuer *AutologinIssuer, value, subject string) (*Identity, error) {
	record, err := issuer.Find(ctx, value)
	if err != nil {
		return nil, err
	}

	if subject != "" && subject != record.IdentityID.String() {
		return nil, ErrInvalidToken
	}

	identity, err := activeIdentity(ctx, repos, record.IdentityID.String(), ErrInvalidToken)
	if err != nil {
		return nil, err
	}

	if identity.Role.IsPrivileged() {
		return identity, ErrAutologinDisabledForAdmin
	}

	if err := issuer.Consume(ctx, record); err != nil {
		return identity, err
	}
	return identity, nil
}
