package auth

import (
	"context"
	"time"
)

// Clock supplies the current time for expiry and window calculations.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time {
	if f == nil {
		return time.Now().UTC()
	}
	return f().UTC()
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

func normalizeClock(c Clock) Clock {
	if c == nil {
		return systemClock{}
	}
	return c
}

// PasswordHasher is the pluggable password hashing capability.
// Verify must return ErrInvalidCredential when the password does not match.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) error
}

// ExternalIdentity is the result of a successful SSO assertion verification.
type ExternalIdentity struct {
	Provider      string
	ExternalID    string
	Email         string
	EmailVerified bool
}

// SSOVerifier verifies a raw provider assertion (for example an OIDC ID token).
// Implementations usually perform network I/O and must honor ctx.
type SSOVerifier interface {
	VerifyAssertion(ctx context.Context, rawToken string) (ExternalIdentity, error)
}

// SSOVerifierFunc adapts a function to the SSOVerifier interface.
type SSOVerifierFunc func(ctx context.Context, rawToken string) (ExternalIdentity, error)

// VerifyAssertion implements SSOVerifier.
func (f SSOVerifierFunc) VerifyAssertion(ctx context.Context, rawToken string) (ExternalIdentity, error) {
	return f(ctx, rawToken)
}

// SSOAssertion carries an assertion issued by an external identity provider.
type SSOAssertion struct {
	Provider string
	Token    string
	// LinkIdentityID is set when the caller is already authenticated and
	// wants the external account bound to that identity.
	LinkIdentityID string
}

// ExpiryPolicy controls the lifetime of an issued access token.
// A zero TTL issues a non-expiring token.
type ExpiryPolicy struct {
	TTL time.Duration
}

// NonExpiring returns a policy for tokens without valid_until.
func NonExpiring() ExpiryPolicy {
	return ExpiryPolicy{}
}

// ExpiresIn returns a policy for tokens valid for ttl.
func ExpiresIn(ttl time.Duration) ExpiryPolicy {
	return ExpiryPolicy{TTL: ttl}
}

func (p ExpiryPolicy) validUntil(now time.Time) *time.Time {
	if p.TTL <= 0 {
		return nil
	}
	t := now.Add(p.TTL)
	return &t
}

// Credentials is the union of every credential shape the chain understands.
// Exactly which fields are set decides which strategy handles the request.
type Credentials struct {
	Email    string
	Password string

	AccessToken string
	// Reauthenticated marks an access token request made right after a fresh
	// interactive login. Privileged identities need it to use access tokens.
	Reauthenticated bool

	AutologinToken string
	AutologinLink  string

	SSO *SSOAssertion

	// Source labels where the request came from ("api", "web", "sso", ...).
	Source    string
	IP        string
	UserAgent string

	// DeviceToken pairs the newly issued access token with a device.
	DeviceToken string
	IssueToken  bool
	Expiry      ExpiryPolicy
}
