package auth

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	DB() bun.IDB
	Identities() Identities
	AccessTokens() AccessTokens
	DeviceTokens() DeviceTokens
	RegistrationAttempts() RegistrationAttempts
	AutologinTokens() AutologinTokens
	ExternalAccounts() ExternalAccounts
	Settings() Settings
	RateLimitCounters() RateLimitCounters
}

type mngr struct {
	db                   *bun.DB
	identities           Identities
	accessTokens         AccessTokens
	deviceTokens         DeviceTokens
	registrationAttempts RegistrationAttempts
	autologinTokens      AutologinTokens
	externalAccounts     ExternalAccounts
	settings             Settings
	rateLimitCounters    RateLimitCounters
}

// NewRepositoryManager wires every repository against db.
func NewRepositoryManager(db *bun.DB, opts ...IdentitiesOption) RepositoryManager {
	return &mngr{
		db:                   db,
		identities:           NewIdentitiesRepository(db, opts...),
		accessTokens:         NewAccessTokensRepository(db),
		deviceTokens:         NewDeviceTokensRepository(db),
		registrationAttempts: NewRegistrationAttemptsRepository(db),
		autologinTokens:      NewAutologinTokensRepository(db),
		externalAccounts:     NewExternalAccountsRepository(db),
		settings:             NewSettingsRepository(db),
		rateLimitCounters:    NewRateLimitCountersRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.db == nil {
		return errors.New("repository manager requires a database")
	}

	if m.identities == nil {
		return errors.New("repository identities should be initialized")
	}

	if m.accessTokens == nil || m.deviceTokens == nil {
		return errors.New("repository tokens should be initialized")
	}

	if m.registrationAttempts == nil || m.rateLimitCounters == nil {
		return errors.New("repository attempts should be initialized")
	}

	if m.autologinTokens == nil || m.externalAccounts == nil || m.settings == nil {
		return errors.New("repository autologin, external accounts and settings should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) DB() bun.IDB {
	return m.db
}

func (m mngr) Identities() Identities {
	return m.identities
}

func (m mngr) AccessTokens() AccessTokens {
	return m.accessTokens
}

func (m mngr) DeviceTokens() DeviceTokens {
	return m.deviceTokens
}

func (m mngr) RegistrationAttempts() RegistrationAttempts {
	return m.registrationAttempts
}

func (m mngr) AutologinTokens() AutologinTokens {
	return m.autologinTokens
}

func (m mngr) ExternalAccounts() ExternalAccounts {
	return m.externalAccounts
}

func (m mngr) Settings() Settings {
	return m.settings
}

func (m mngr) RateLimitCounters() RateLimitCounters {
	return m.rateLimitCounters
}
