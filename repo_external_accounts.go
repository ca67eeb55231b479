package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ExternalAccounts persists links between SSO accounts and identities.
type ExternalAccounts interface {
	CreateTx(ctx context.Context, tx bun.IDB, record *ExternalAccount) (*ExternalAccount, error)
	FindByProviderIDTx(ctx context.Context, tx bun.IDB, provider, externalID string) (*ExternalAccount, error)
	ListByIdentityTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID) ([]*ExternalAccount, error)
}

type externalAccounts struct {
	db bun.IDB
}

// NewExternalAccountsRepository returns the bun backed SSO link storage.
func NewExternalAccountsRepository(db bun.IDB) ExternalAccounts {
	return &externalAccounts{db: db}
}

func (r *externalAccounts) CreateTx(ctx context.Context, tx bun.IDB, record *ExternalAccount) (*ExternalAccount, error) {
	if record == nil {
		return nil, errors.New("external accounts: nil record")
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	record.Email = NormalizeEmail(record.Email)
	if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
		return nil, err
	}
	return record, nil
}

func (r *externalAccounts) FindByProviderIDTx(ctx context.Context, tx bun.IDB, provider, externalID string) (*ExternalAccount, error) {
	record := &ExternalAccount{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.provider = ? AND ?TableAlias.external_id = ?", provider, externalID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, notFound("external_id", externalID)
		}
		return nil, err
	}
	return record, nil
}

func (r *externalAccounts) ListByIdentityTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID) ([]*ExternalAccount, error) {
	records := []*ExternalAccount{}
	err := tx.NewSelect().
		Model(&records).
		Where("?TableAlias.identity_id = ?", identityID).
		Scan(ctx)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	return records, nil
}
