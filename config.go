package auth

import (
	"time"

	"github.com/caarlos0/env/v11"
	goerrors "github.com/goliatone/go-errors"
)

// Config holds the options shared by the services in this package.
//
// Values are read from the environment by LoadConfigFromEnv; DefaultConfig
// returns the same defaults without touching the environment.
type Config struct {
	// SigningKey signs one-time autologin links.
	SigningKey string `env:"AUTH_SIGNING_KEY"`

	// CurrentTokenVersion is stamped on newly issued access tokens.
	CurrentTokenVersion int `env:"AUTH_TOKEN_VERSION" envDefault:"1"`
	// MinTokenVersion is the lowest accepted version when no stored
	// override exists.
	MinTokenVersion int `env:"AUTH_MIN_TOKEN_VERSION" envDefault:"1"`
	// VersionCacheTTL bounds how long a process may serve a cached minimum.
	VersionCacheTTL time.Duration `env:"AUTH_VERSION_CACHE_TTL" envDefault:"30s"`

	AccessTokenTTL    time.Duration `env:"AUTH_ACCESS_TOKEN_TTL" envDefault:"0s"`
	AdminReauthWindow time.Duration `env:"AUTH_ADMIN_REAUTH_WINDOW" envDefault:"15m"`

	AutologinTTL     time.Duration `env:"AUTH_AUTOLOGIN_TTL" envDefault:"15m"`
	AutologinMaxUses int           `env:"AUTH_AUTOLOGIN_MAX_USES" envDefault:"1"`

	RegistrationRateLimit int           `env:"AUTH_REGISTRATION_RATE_LIMIT" envDefault:"10"`
	LoginRateLimit        int           `env:"AUTH_LOGIN_RATE_LIMIT" envDefault:"20"`
	RateLimitWindow       time.Duration `env:"AUTH_RATE_LIMIT_WINDOW" envDefault:"1h"`

	SSOTimeout time.Duration `env:"AUTH_SSO_TIMEOUT" envDefault:"5s"`

	// AllowUnclaimedPromotion lets a registration promote an existing
	// unclaimed identity with the same email instead of failing closed.
	AllowUnclaimedPromotion bool `env:"AUTH_ALLOW_UNCLAIMED_PROMOTION" envDefault:"true"`
	// HashidIdentities derives identity ids from the email address.
	HashidIdentities bool `env:"AUTH_HASHID_IDENTITIES" envDefault:"false"`

	BcryptCost int `env:"AUTH_BCRYPT_COST" envDefault:"0"`
}

// DefaultConfig returns the tag defaults.
func DefaultConfig() Config {
	var cfg Config
	_ = env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}})
	return cfg
}

// LoadConfigFromEnv loads configuration from the process environment.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse auth configuration")
	}
	return cfg, cfg.Validate()
}

// Validate checks invariants between options.
func (c Config) Validate() error {
	if c.CurrentTokenVersion < c.MinTokenVersion {
		return goerrors.New("current token version must not be below the minimum accepted version", goerrors.CategoryValidation).
			WithMetadata(map[string]any{
				"current": c.CurrentTokenVersion,
				"minimum": c.MinTokenVersion,
			})
	}
	if c.AutologinMaxUses < 1 {
		return goerrors.New("autologin tokens need at least one use", goerrors.CategoryValidation)
	}
	return nil
}
