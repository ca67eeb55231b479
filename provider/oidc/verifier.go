package oidc

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	auth "github.com/goliatone/go-auth-chain"
	goerrors "github.com/goliatone/go-errors"
)

// Config describes one OpenID Connect provider.
type Config struct {
	// Provider is the name assertions are registered under, e.g. "google".
	Provider string
	Issuer   string
	// ClientID is the expected audience.
	ClientID string
	JWKSURL  string

	// Algorithms accepted for ID tokens, RS256 when empty.
	Algorithms []string

	RefreshInterval  time.Duration
	RefreshRateLimit time.Duration
	RefreshTimeout   time.Duration

	Logger auth.Logger
}

// Claims are the ID token claims the verifier reads.
type Claims struct {
	jwt.RegisteredClaims
	Email         string       `json:"email,omitempty"`
	EmailVerified flexibleBool `json:"email_verified,omitempty"`
}

// Verifier validates OIDC ID tokens against the provider JWKS.
type Verifier struct {
	cfg     Config
	keyfunc jwt.Keyfunc
	jwks    *keyfunc.JWKS
	logger  auth.Logger
}

var _ auth.SSOVerifier = (*Verifier)(nil)

// NewVerifier fetches the provider JWKS and keeps it refreshed in the
// background. Call Close to stop the refresh goroutine.
func NewVerifier(cfg Config) (*Verifier, error) {
	if strings.TrimSpace(cfg.JWKSURL) == "" {
		return nil, goerrors.New("oidc verifier requires a JWKS url", goerrors.CategoryBadInput)
	}

	_, logger := auth.ResolveLogger("auth.oidc", nil, cfg.Logger)

	jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{
		RefreshErrorHandler: func(err error) {
			logger.Warn("failed to refresh JWKS", "provider", cfg.Provider, "error", err)
		},
		RefreshInterval:   durationOr(cfg.RefreshInterval, time.Hour),
		RefreshRateLimit:  durationOr(cfg.RefreshRateLimit, 5*time.Minute),
		RefreshTimeout:    durationOr(cfg.RefreshTimeout, 10*time.Second),
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load provider JWKS")
	}

	v := NewVerifierWithKeyfunc(cfg, jwks.Keyfunc)
	v.jwks = jwks
	return v, nil
}

// NewVerifierWithKeyfunc uses kf to resolve signing keys.
func NewVerifierWithKeyfunc(cfg Config, kf jwt.Keyfunc) *Verifier {
	_, logger := auth.ResolveLogger("auth.oidc", nil, cfg.Logger)
	if len(cfg.Algorithms) == 0 {
		cfg.Algorithms = []string{jwt.SigningMethodRS256.Alg()}
	}
	return &Verifier{cfg: cfg, keyfunc: kf, logger: logger}
}

// Provider returns the provider name.
func (v *Verifier) Provider() string {
	return v.cfg.Provider
}

// Close stops the background JWKS refresh.
func (v *Verifier) Close() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}

// VerifyAssertion implements auth.SSOVerifier.
func (v *Verifier) VerifyAssertion(ctx context.Context, rawToken string) (auth.ExternalIdentity, error) {
	if err := ctx.Err(); err != nil {
		return auth.ExternalIdentity{}, err
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.cfg.Algorithms),
		jwt.WithExpirationRequired(),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.ClientID != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.ClientID))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(rawToken), claims, v.keyfunc, opts...)
	if err != nil {
		v.logger.Debug("oidc id token rejected", "provider", v.cfg.Provider, "error", err)
		return auth.ExternalIdentity{}, goerrors.Wrap(err, goerrors.CategoryAuth, "invalid id token")
	}
	if !token.Valid || claims.Subject == "" {
		return auth.ExternalIdentity{}, goerrors.New("id token has no subject", goerrors.CategoryAuth)
	}

	return auth.ExternalIdentity{
		Provider:      v.cfg.Provider,
		ExternalID:    claims.Subject,
		Email:         claims.Email,
		EmailVerified: bool(claims.EmailVerified),
	}, nil
}

// flexibleBool accepts providers that send email_verified as a string.
type flexibleBool bool

func (b *flexibleBool) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case bool:
		*b = flexibleBool(v)
	case string:
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*b = flexibleBool(parsed)
	default:
		*b = false
	}
	return nil
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
