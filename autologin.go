package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// AutologinClaims are carried by a signed autologin link. The token id is
// the autologin token value, the subject the identity id.
type AutologinClaims struct {
	jwt.RegisteredClaims
}

// AutologinIssuer mints one-time login tokens and the signed links that
// carry them.
type AutologinIssuer struct {
	repos      RepositoryManager
	signingKey []byte
	ttl        time.Duration
	maxUses    int
	clock      Clock
	logger     Logger
}

// NewAutologinIssuer returns an issuer using the autologin settings of cfg.
func NewAutologinIssuer(repos RepositoryManager, cfg Config) *AutologinIssuer {
	_, logger := ResolveLogger("auth.autologin", nil, nil)
	maxUses := cfg.AutologinMaxUses
	if maxUses < 1 {
		maxUses = 1
	}
	return &AutologinIssuer{
		repos:      repos,
		signingKey: []byte(cfg.SigningKey),
		ttl:        cfg.AutologinTTL,
		maxUses:    maxUses,
		clock:      systemClock{},
		logger:     logger,
	}
}

func (a *AutologinIssuer) WithClock(c Clock) *AutologinIssuer {
	a.clock = normalizeClock(c)
	return a
}

func (a *AutologinIssuer) WithLogger(logger Logger) *AutologinIssuer {
	if logger != nil {
		a.logger = logger
	}
	return a
}

// Issue creates a one-time token for identity.
func (a *AutologinIssuer) Issue(ctx context.Context, identity *Identity) (*AutologinToken, error) {
	if identity == nil || identity.ID == uuid.Nil {
		return nil, internalError(ErrIdentityNotFound, "autologin requires a persisted identity")
	}

	value, err := randomToken(tokenBytes)
	if err != nil {
		return nil, err
	}

	now := a.clock.Now()
	record := &AutologinToken{
		Token:      value,
		IdentityID: identity.ID,
		MaxUses:    a.maxUses,
		CreatedAt:  now,
	}
	if a.ttl > 0 {
		expires := now.Add(a.ttl)
		record.ExpiresAt = &expires
	}

	if _, err := a.repos.AutologinTokens().CreateTx(ctx, a.repos.DB(), record); err != nil {
		a.logger.Error("autologin token create error", "error", err)
		return nil, internalError(err, "failed to issue autologin token")
	}
	return record, nil
}

// SignLink returns the HS256 link for token.
func (a *AutologinIssuer) SignLink(token *AutologinToken) (string, error) {
	if token == nil {
		return "", goerrors.New("autologin token must not be nil", goerrors.CategoryInternal)
	}
	if len(a.signingKey) == 0 {
		return "", goerrors.New("autologin links require a signing key", goerrors.CategoryInternal)
	}

	claims := &AutologinClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       token.Token,
			Subject:  token.IdentityID.String(),
			IssuedAt: jwt.NewNumericDate(token.CreatedAt),
		},
	}
	if token.ExpiresAt != nil {
		claims.ExpiresAt = jwt.NewNumericDate(*token.ExpiresAt)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign autologin link")
	}
	return signed, nil
}

// ParseLink verifies the link signature and expiry and returns its claims.
func (a *AutologinIssuer) ParseLink(link string) (*AutologinClaims, error) {
	if len(a.signingKey) == 0 {
		return nil, ErrInvalidToken
	}

	claims := &AutologinClaims{}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(link), claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.clock.Now),
	)
	if err != nil {
		a.logger.Debug("autologin link rejected", "error", err)
		return nil, invalidToken(err)
	}
	if !token.Valid || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Find loads token without consuming it. Missing or unusable tokens are
// reported as ErrInvalidToken.
func (a *AutologinIssuer) Find(ctx context.Context, token string) (*AutologinToken, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	record, err := a.repos.AutologinTokens().FindByTokenTx(ctx, a.repos.DB(), token)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrInvalidToken
		}
		return nil, internalError(err, "failed to load autologin token")
	}

	if record.Expired(a.clock.Now()) || record.Exhausted() {
		return nil, ErrInvalidToken
	}
	return record, nil
}

// Consume spends one use of token. Of several concurrent callers holding
// the last use, exactly one succeeds; the rest get ErrInvalidToken.
func (a *AutologinIssuer) Consume(ctx context.Context, record *AutologinToken) error {
	if record == nil {
		return ErrInvalidToken
	}

	now := a.clock.Now()
	if record.Expired(now) {
		return ErrInvalidToken
	}

	ok, err := a.repos.AutologinTokens().ConsumeTx(ctx, a.repos.DB(), record.Token, now)
	if err != nil {
		return internalError(err, "failed to consume autologin token")
	}
	if !ok {
		return ErrInvalidToken
	}

	record.Uses++
	record.LastUsedAt = &now
	return nil
}
