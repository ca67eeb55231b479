package auth

import (
	"context"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// AuthResult is the outcome of a successful Authenticate call.
type AuthResult struct {
	Identity *Identity
	Strategy string
	Source   string
	// Token and Device are set when the credentials asked for a token.
	Token  *AccessToken
	Device *DeviceToken
}

// PasswordChange describes a password update.
type PasswordChange struct {
	Current string
	Next    string
	// RevokeOtherTokens signs the identity out everywhere except KeepToken.
	RevokeOtherTokens bool
	KeepToken         string
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithLogger sets the base logger.
func WithLogger(logger Logger) Option {
	return func(a *Authenticator) {
		a.logger = logger
	}
}

// WithLoggerProvider resolves one named logger per component.
func WithLoggerProvider(provider LoggerProvider) Option {
	return func(a *Authenticator) {
		a.loggerProvider = provider
	}
}

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(a *Authenticator) {
		a.clock = clock
	}
}

// WithEventSink receives every notification.
func WithEventSink(sink EventSink) Option {
	return func(a *Authenticator) {
		a.sink = sink
	}
}

// WithPasswordHasher replaces the bcrypt hasher.
func WithPasswordHasher(hasher PasswordHasher) Option {
	return func(a *Authenticator) {
		a.hasher = hasher
	}
}

// WithVersionPolicy replaces the stored version policy.
func WithVersionPolicy(policy VersionPolicy) Option {
	return func(a *Authenticator) {
		a.versions = policy
	}
}

// WithAttemptCounter replaces the SQL attempt counter, for example with the
// Redis counter.
func WithAttemptCounter(counter AttemptCounter) Option {
	return func(a *Authenticator) {
		a.counter = counter
	}
}

// WithSSOVerifier registers the verifier for provider.
func WithSSOVerifier(provider string, verifier SSOVerifier) Option {
	return func(a *Authenticator) {
		if a.verifiers == nil {
			a.verifiers = map[string]SSOVerifier{}
		}
		a.verifiers[provider] = verifier
	}
}

// Authenticator is the entry point used by request handlers.
type Authenticator struct {
	cfg   Config
	repos RepositoryManager

	logger         Logger
	loggerProvider LoggerProvider
	clock          Clock
	sink           EventSink
	hasher         PasswordHasher
	versions       VersionPolicy
	counter        AttemptCounter
	verifiers      map[string]SSOVerifier

	ledger    *TokenLedger
	devices   *DeviceRegistry
	autologin *AutologinIssuer
	limiters  map[string]*RateLimiter
	registrar *Registrar
	merger    *Merger
	chain     *Chain
	events    publisher
}

// NewAuthenticator wires every service against repos.
func NewAuthenticator(repos RepositoryManager, cfg Config, opts ...Option) (*Authenticator, error) {
	if repos == nil {
		return nil, contractViolation("authenticator requires a repository manager")
	}
	if err := repos.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "invalid repository manager")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Authenticator{cfg: cfg, repos: repos}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	a.clock = normalizeClock(a.clock)
	a.sink = normalizeEventSink(a.sink)
	if a.hasher == nil {
		a.hasher = NewBcryptHasher(cfg.BcryptCost)
	}
	if a.counter == nil {
		a.counter = NewSQLAttemptCounter(repos)
	}

	provider, logger := ResolveLogger("auth", a.loggerProvider, a.logger)
	a.loggerProvider, a.logger = provider, logger
	named := func(name string) Logger {
		_, l := ResolveLogger(name, a.loggerProvider, a.logger)
		return l
	}

	if a.versions == nil {
		a.versions = NewStoredVersionPolicy(repos, cfg).
			WithClock(a.clock).
			WithLogger(named("auth.versions"))
	}

	a.events = publisher{sink: a.sink, clock: a.clock, logger: a.logger}

	a.ledger = NewTokenLedger(repos, a.versions).
		WithClock(a.clock).
		WithLogger(named("auth.ledger"))

	a.devices = NewDeviceRegistry(repos).
		WithClock(a.clock).
		WithLogger(named("auth.devices"))

	a.autologin = NewAutologinIssuer(repos, cfg).
		WithClock(a.clock).
		WithLogger(named("auth.autologin"))

	a.limiters = map[string]*RateLimiter{
		RateLimitScopeRegister: NewRateLimiter(a.counter, RateLimitScopeRegister, cfg.RegistrationRateLimit, cfg.RateLimitWindow).
			WithClock(a.clock).
			WithLogger(named("auth.ratelimit")),
		RateLimitScopeLogin: NewRateLimiter(a.counter, RateLimitScopeLogin, cfg.LoginRateLimit, cfg.RateLimitWindow).
			WithClock(a.clock).
			WithLogger(named("auth.ratelimit")),
	}

	a.registrar = NewRegistrar(repos, cfg, a.hasher, a.limiters[RateLimitScopeRegister]).
		WithClock(a.clock).
		WithEventSink(a.sink).
		WithDeviceRegistry(a.devices).
		WithLogger(named("auth.registrar"))

	a.merger = NewMerger(repos, a.hasher).
		WithClock(a.clock).
		WithEventSink(a.sink).
		WithLogger(named("auth.merger"))

	sso := NewSSOStrategy(repos, cfg.SSOTimeout).
		WithClock(a.clock).
		WithEventSink(a.sink).
		WithLogger(named("auth.sso"))
	for name, verifier := range a.verifiers {
		sso.WithVerifier(name, verifier)
	}

	a.chain = NewChain(
		NewAccessTokenStrategy(repos, a.ledger, cfg.AdminReauthWindow).WithClock(a.clock),
		NewAutologinLinkStrategy(repos, a.autologin),
		NewAutologinTokenStrategy(repos, a.autologin),
		sso,
		NewPasswordStrategy(repos, a.hasher, a.limiters[RateLimitScopeLogin]).WithLogger(named("auth.password")),
	).
		WithClock(a.clock).
		WithEventSink(a.sink).
		WithLogger(named("auth.chain"))

	return a, nil
}

func (a *Authenticator) Ledger() *TokenLedger            { return a.ledger }
func (a *Authenticator) Devices() *DeviceRegistry        { return a.devices }
func (a *Authenticator) Autologin() *AutologinIssuer     { return a.autologin }
func (a *Authenticator) Registrar() *Registrar           { return a.registrar }
func (a *Authenticator) Merger() *Merger                 { return a.merger }
func (a *Authenticator) Chain() *Chain                   { return a.chain }
func (a *Authenticator) Repositories() RepositoryManager { return a.repos }

// Authenticate resolves creds and, when asked, issues an access token paired
// with the credential device token.
func (a *Authenticator) Authenticate(ctx context.Context, creds Credentials) (*AuthResult, error) {
	// the device is resolved first so a bad device token neither consumes
	// one-time credentials nor publishes a sign in
	var device *DeviceToken
	if strings.TrimSpace(creds.DeviceToken) != "" {
		found, err := a.devices.FindByToken(ctx, creds.DeviceToken)
		if err != nil {
			return nil, err
		}
		device = found
	}

	identity, strategy, err := a.chain.Authenticate(ctx, creds)
	if err != nil {
		return nil, err
	}

	result := &AuthResult{
		Identity: identity,
		Strategy: strategy.Name(),
		Source:   sourceLabel(creds, strategy),
		Device:   device,
	}

	if !creds.IssueToken {
		return result, nil
	}

	expiry := creds.Expiry
	if expiry.TTL == 0 && a.cfg.AccessTokenTTL > 0 {
		expiry = ExpiresIn(a.cfg.AccessTokenTTL)
	}

	token, err := a.ledger.Issue(ctx, identity, result.Source, expiry)
	if err != nil {
		return nil, err
	}

	if result.Device != nil {
		if err := a.ledger.PairWithDevice(ctx, token.Token, result.Device); err != nil {
			if revokeErr := a.ledger.Revoke(ctx, token.Token); revokeErr != nil {
				a.logger.Warn("failed to revoke unpaired access token", "error", revokeErr)
			}
			return nil, err
		}
		id := result.Device.ID
		token.DeviceTokenID = &id
	}
	result.Token = token

	return result, nil
}

// IssueToken mints an access token for identity.
func (a *Authenticator) IssueToken(ctx context.Context, identity *Identity, source string, expiry ExpiryPolicy) (*AccessToken, error) {
	return a.ledger.Issue(ctx, identity, source, expiry)
}

// RevokeToken deletes token. Unknown tokens are ignored.
func (a *Authenticator) RevokeToken(ctx context.Context, token string) error {
	return a.ledger.Revoke(ctx, token)
}

// SignOut revokes token and publishes the signed out event for its owner.
func (a *Authenticator) SignOut(ctx context.Context, token string) error {
	record, findErr := a.ledger.Find(ctx, token)
	if err := a.ledger.Revoke(ctx, token); err != nil {
		return err
	}
	if findErr != nil {
		return nil
	}

	identity, err := a.repos.Identities().FindByID(ctx, record.IdentityID)
	if err != nil {
		identity = &Identity{ID: record.IdentityID}
	}
	a.events.publish(ctx, EventSignedOut, identity, record.Source, nil)
	return nil
}

// PairDevice links an access token to a device token. Re-pairing replaces
// the previous link.
func (a *Authenticator) PairDevice(ctx context.Context, accessToken, deviceToken string) (*DeviceToken, error) {
	device, err := a.devices.FindByToken(ctx, deviceToken)
	if err != nil {
		return nil, err
	}
	if err := a.ledger.PairWithDevice(ctx, accessToken, device); err != nil {
		return nil, err
	}
	return device, nil
}

// GenerateDeviceToken registers a device.
func (a *Authenticator) GenerateDeviceToken(ctx context.Context, deviceID string) (*DeviceToken, error) {
	return a.devices.Generate(ctx, deviceID)
}

// MergeUnclaimed folds unclaimed into claimed through the device both are
// paired with.
func (a *Authenticator) MergeUnclaimed(ctx context.Context, unclaimed, claimed *Identity, deviceToken string) (*Identity, error) {
	device, err := a.devices.FindByToken(ctx, deviceToken)
	if err != nil {
		return nil, err
	}
	return a.merger.Merge(ctx, unclaimed, claimed, device)
}

// ClaimUnclaimed promotes unclaimed into a claimed identity with password.
func (a *Authenticator) ClaimUnclaimed(ctx context.Context, unclaimed *Identity, password string) (*Identity, error) {
	return a.merger.Register(ctx, unclaimed, password)
}

// RegisterIdentity creates or promotes an identity.
func (a *Authenticator) RegisterIdentity(ctx context.Context, req RegistrationRequest) (*RegistrationResult, error) {
	return a.registrar.Register(ctx, req)
}

// CheckRateLimit counts an attempt from ip under scope and returns
// ErrRateLimitExceeded once over the threshold. Unknown scopes are not
// limited.
func (a *Authenticator) CheckRateLimit(ctx context.Context, scope, ip string) error {
	limiter, ok := a.limiters[scope]
	if !ok {
		return nil
	}
	return limiter.Check(ctx, ip)
}

// IssueAutologin creates a one-time token for identity and its signed link.
// The link is empty when no signing key is configured.
func (a *Authenticator) IssueAutologin(ctx context.Context, identity *Identity) (*AutologinToken, string, error) {
	if identity != nil && identity.Role.IsPrivileged() {
		return nil, "", ErrAutologinDisabledForAdmin
	}

	token, err := a.autologin.Issue(ctx, identity)
	if err != nil {
		return nil, "", err
	}
	if a.cfg.SigningKey == "" {
		return token, "", nil
	}

	link, err := a.autologin.SignLink(token)
	if err != nil {
		return nil, "", err
	}
	return token, link, nil
}

// ChangePassword verifies the current password and stores the new one.
func (a *Authenticator) ChangePassword(ctx context.Context, identity *Identity, change PasswordChange) error {
	if identity == nil {
		return contractViolation("change password requires an identity")
	}
	if identity.PasswordHash == "" {
		return ErrInvalidCredential
	}
	if err := a.hasher.Verify(change.Current, identity.PasswordHash); err != nil {
		return err
	}

	hash, err := a.hasher.Hash(change.Next)
	if err != nil {
		return err
	}

	updated := *identity
	updated.PasswordHash = hash
	err = a.repos.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := a.repos.Identities().SaveTx(ctx, tx, &updated, "password_hash"); err != nil {
			return err
		}
		if !change.RevokeOtherTokens {
			return nil
		}
		var keep []string
		if change.KeepToken != "" {
			keep = append(keep, change.KeepToken)
		}
		_, err := a.repos.AccessTokens().DeleteByIdentityTx(ctx, tx, identity.ID, keep...)
		return err
	})
	if err != nil {
		a.logger.Error("change password error", "error", err)
		return internalError(err, "failed to change password")
	}
	identity.PasswordHash = updated.PasswordHash
	identity.UpdatedAt = updated.UpdatedAt

	a.events.publish(ctx, EventPasswordChanged, identity, "", map[string]any{
		"revoked_other_tokens": change.RevokeOtherTokens,
	})
	return nil
}

// BumpTokenVersion raises the minimum accepted token version. It needs a
// version policy that supports bumping.
func (a *Authenticator) BumpTokenVersion(ctx context.Context) (int, error) {
	bumper, ok := a.versions.(interface {
		Bump(ctx context.Context) (int, error)
	})
	if !ok {
		return 0, goerrors.New("version policy does not support bumping", goerrors.CategoryOperation)
	}
	return bumper.Bump(ctx)
}
