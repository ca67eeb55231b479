package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// SSOStrategy authenticates assertions issued by external identity
// providers. Verification is delegated to the SSOVerifier registered for
// the provider.
type SSOStrategy struct {
	repos     RepositoryManager
	verifiers map[string]SSOVerifier
	timeout   time.Duration
	clock     Clock
	events    publisher
	logger    Logger
}

// NewSSOStrategy returns the strategy. Verifier calls are bounded by timeout.
func NewSSOStrategy(repos RepositoryManager, timeout time.Duration) *SSOStrategy {
	_, logger := ResolveLogger("auth.sso", nil, nil)
	return &SSOStrategy{
		repos:     repos,
		verifiers: map[string]SSOVerifier{},
		timeout:   timeout,
		clock:     systemClock{},
		events:    publisher{sink: noopEventSink{}, clock: systemClock{}, logger: logger},
		logger:    logger,
	}
}

// WithVerifier registers verifier for provider.
func (s *SSOStrategy) WithVerifier(provider string, verifier SSOVerifier) *SSOStrategy {
	if verifier != nil {
		s.verifiers[strings.ToLower(strings.TrimSpace(provider))] = verifier
	}
	return s
}

func (s *SSOStrategy) WithClock(c Clock) *SSOStrategy {
	s.clock = normalizeClock(c)
	s.events.clock = s.clock
	return s
}

func (s *SSOStrategy) WithEventSink(sink EventSink) *SSOStrategy {
	s.events.sink = normalizeEventSink(sink)
	return s
}

func (s *SSOStrategy) WithLogger(logger Logger) *SSOStrategy {
	if logger != nil {
		s.logger = logger
		s.events.logger = logger
	}
	return s
}

func (s *SSOStrategy) Name() string { return StrategySSO }

func (s *SSOStrategy) Priority() int { return PrioritySSO }

func (s *SSOStrategy) Accepts(creds Credentials) bool {
	return creds.SSO != nil
}

func (s *SSOStrategy) Authenticate(ctx context.Context, creds Credentials) (*Identity, error) {
	assertion := creds.SSO
	provider := strings.ToLower(strings.TrimSpace(assertion.Provider))

	verifier, ok := s.verifiers[provider]
	if !ok {
		return nil, invalidToken(fmt.Errorf("no verifier registered for provider %q", provider))
	}

	external, err := s.verify(ctx, verifier, assertion.Token)
	if err != nil {
		s.logger.Warn("sso assertion rejected", "provider", provider, "error", err)
		return nil, invalidToken(err)
	}
	if external.Provider == "" {
		external.Provider = provider
	}
	if strings.TrimSpace(external.ExternalID) == "" {
		return nil, invalidToken(fmt.Errorf("provider %q returned no subject", provider))
	}

	var (
		identity *Identity
		created  bool
	)
	err = s.repos.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		identity, created, err = s.resolve(ctx, tx, external, assertion.LinkIdentityID)
		return err
	})
	if err != nil {
		if IsExpected(err) {
			return nil, err
		}
		s.logger.Error("sso identity resolution error", "provider", provider, "error", err)
		return nil, internalError(err, "failed to resolve sso identity")
	}

	if created {
		s.events.publish(ctx, EventIdentityCreated, identity, StrategySSO, map[string]any{
			"provider": external.Provider,
		})
	}
	return identity, nil
}

// verify runs the verifier under the timeout. A verifier that panics or
// ignores cancellation still yields an error.
func (s *SSOStrategy) verify(ctx context.Context, verifier SSOVerifier, raw string) (ExternalIdentity, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	type result struct {
		identity ExternalIdentity
		err      error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("sso verifier panic: %v", r)}
			}
		}()
		identity, err := verifier.VerifyAssertion(ctx, raw)
		done <- result{identity: identity, err: err}
	}()

	select {
	case res := <-done:
		return res.identity, res.err
	case <-ctx.Done():
		return ExternalIdentity{}, ctx.Err()
	}
}

func (s *SSOStrategy) resolve(ctx context.Context, tx bun.IDB, external ExternalIdentity, linkIdentityID string) (*Identity, bool, error) {
	identities := s.repos.Identities()

	link, err := s.repos.ExternalAccounts().FindByProviderIDTx(ctx, tx, external.Provider, external.ExternalID)
	if err != nil && !isNotFound(err) {
		return nil, false, err
	}

	if link != nil {
		if linkIdentityID != "" && linkIdentityID != link.IdentityID.String() {
			return nil, false, ErrAlreadyLinkedToAnotherIdentity
		}
		identity, err := identities.FindByIDTx(ctx, tx, link.IdentityID)
		if err != nil {
			if isNotFound(err) {
				return nil, false, ErrIdentityNotFound
			}
			return nil, false, err
		}
		if !identity.Active {
			return nil, false, ErrIdentityNotFound
		}
		if identity.Unclaimed() {
			return nil, false, ErrNotApproved
		}
		return identity, false, nil
	}

	now := s.clock.Now()
	var (
		identity *Identity
		created  bool
	)

	switch {
	case linkIdentityID != "":
		id, err := parseUUID(linkIdentityID)
		if err != nil {
			return nil, false, ErrIdentityNotFound
		}
		if identity, err = identities.FindByIDTx(ctx, tx, id); err != nil {
			if isNotFound(err) {
				return nil, false, ErrIdentityNotFound
			}
			return nil, false, err
		}
	default:
		email := NormalizeEmail(external.Email)
		if email == "" {
			return nil, false, ErrInvalidEmail
		}

		existing, err := identities.FindByEmailTx(ctx, tx, email)
		if err != nil && !isNotFound(err) {
			return nil, false, err
		}

		switch {
		case existing != nil && !external.EmailVerified:
			// an unverified provider email must not take over a local account
			return nil, false, ErrEmailTaken
		case existing != nil:
			identity = existing
			if !identity.Active {
				return nil, false, ErrIdentityNotFound
			}
			// placeholders are claimed through registration or a merge only
			if identity.Unclaimed() {
				return nil, false, ErrNotApproved
			}
			if identity.EmailValidatedAt == nil {
				identity.EmailValidatedAt = &now
				if err := identities.SaveTx(ctx, tx, identity, "email_validated_at"); err != nil {
					return nil, false, err
				}
			}
		default:
			identity = &Identity{
				Email:  email,
				Role:   RoleUser,
				Active: true,
			}
			if external.EmailVerified {
				identity.EmailValidatedAt = &now
			}
			if identity, err = identities.CreateTx(ctx, tx, identity); err != nil {
				return nil, false, err
			}
			created = true
		}
	}

	if !identity.Active {
		return nil, false, ErrIdentityNotFound
	}
	if identity.Unclaimed() {
		return nil, false, ErrNotApproved
	}

	_, err = s.repos.ExternalAccounts().CreateTx(ctx, tx, &ExternalAccount{
		Provider:   external.Provider,
		ExternalID: external.ExternalID,
		IdentityID: identity.ID,
		Email:      external.Email,
		CreatedAt:  now,
	})
	if err != nil {
		return nil, false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to link external account")
	}

	return identity, created, nil
}
