package auth

import (
	"context"
	"strings"
)

// PasswordStrategy authenticates email and password pairs.
type PasswordStrategy struct {
	repos   RepositoryManager
	hasher  PasswordHasher
	limiter *RateLimiter
	logger  Logger
}

// NewPasswordStrategy returns the strategy. A nil limiter disables login
// rate limiting.
func NewPasswordStrategy(repos RepositoryManager, hasher PasswordHasher, limiter *RateLimiter) *PasswordStrategy {
	_, logger := ResolveLogger("auth.password", nil, nil)
	if hasher == nil {
		hasher = NewBcryptHasher(0)
	}
	return &PasswordStrategy{
		repos:   repos,
		hasher:  hasher,
		limiter: limiter,
		logger:  logger,
	}
}

func (s *PasswordStrategy) WithLogger(logger Logger) *PasswordStrategy {
	if logger != nil {
		s.logger = logger
	}
	return s
}

func (s *PasswordStrategy) Name() string { return StrategyPassword }

func (s *PasswordStrategy) Priority() int { return PriorityPassword }

func (s *PasswordStrategy) Accepts(creds Credentials) bool {
	return strings.TrimSpace(creds.Email) != "" && creds.Password != ""
}

func (s *PasswordStrategy) Authenticate(ctx context.Context, creds Credentials) (*Identity, error) {
	// before any lookup or hashing
	if err := s.limiter.Check(ctx, creds.IP); err != nil {
		return nil, err
	}

	identity, err := s.repos.Identities().FindByEmailTx(ctx, s.repos.DB(), creds.Email)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrIdentityNotFound
		}
		s.logger.Error("password strategy identity lookup error", "error", err)
		return nil, internalError(err, "failed to load identity")
	}

	if identity.Unclaimed() {
		return identity, ErrNotApproved
	}

	if !identity.Active {
		return nil, ErrIdentityNotFound
	}

	if identity.PasswordHash == "" {
		return identity, ErrInvalidCredential
	}

	if err := s.hasher.Verify(creds.Password, identity.PasswordHash); err != nil {
		if ErrorKind(err) == KindInvalidCredential {
			return identity, ErrInvalidCredential
		}
		return nil, err
	}

	return identity, nil
}
