package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AccessTokens persists bearer tokens.
type AccessTokens interface {
	CreateTx(ctx context.Context, tx bun.IDB, record *AccessToken) (*AccessToken, error)
	FindByTokenTx(ctx context.Context, tx bun.IDB, token string) (*AccessToken, error)
	TouchTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time) error
	SetDeviceTx(ctx context.Context, tx bun.IDB, token string, deviceID uuid.UUID) (int64, error)
	DeleteByTokenTx(ctx context.Context, tx bun.IDB, token string) (int64, error)
	DeleteByIdentityTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID, keep ...string) (int64, error)
	DeleteByDeviceTx(ctx context.Context, tx bun.IDB, deviceID uuid.UUID, identityID *uuid.UUID) (int64, error)
	ListByIdentityTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID) ([]*AccessToken, error)
	ListByDeviceTx(ctx context.Context, tx bun.IDB, deviceID uuid.UUID) ([]*AccessToken, error)
}

type accessTokens struct {
	db bun.IDB
}

// NewAccessTokensRepository returns the bun backed ledger storage.
func NewAccessTokensRepository(db bun.IDB) AccessTokens {
	return &accessTokens{db: db}
}

func (r *accessTokens) CreateTx(ctx context.Context, tx bun.IDB, record *AccessToken) (*AccessToken, error) {
	if record == nil {
		return nil, errors.New("access tokens: nil record")
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
		return nil, err
	}
	return record, nil
}

func (r *accessTokens) FindByTokenTx(ctx context.Context, tx bun.IDB, token string) (*AccessToken, error) {
	record := &AccessToken{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.token = ?", token).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, notFound("token", "")
		}
		return nil, err
	}
	return record, nil
}

func (r *accessTokens) TouchTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time) error {
	_, err := tx.NewUpdate().
		Model((*AccessToken)(nil)).
		Set("last_used_at = ?", at).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func (r *accessTokens) SetDeviceTx(ctx context.Context, tx bun.IDB, token string, deviceID uuid.UUID) (int64, error) {
	res, err := tx.NewUpdate().
		Model((*AccessToken)(nil)).
		Set("device_token_id = ?", deviceID).
		Where("token = ?", token).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *accessTokens) DeleteByTokenTx(ctx context.Context, tx bun.IDB, token string) (int64, error) {
	res, err := tx.NewDelete().
		Model((*AccessToken)(nil)).
		Where("token = ?", token).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteByIdentityTx removes every token of the identity except the ones in keep.
func (r *accessTokens) DeleteByIdentityTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID, keep ...string) (int64, error) {
	q := tx.NewDelete().
		Model((*AccessToken)(nil)).
		Where("identity_id = ?", identityID)
	if len(keep) > 0 {
		q = q.Where("token NOT IN (?)", bun.In(keep))
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteByDeviceTx removes the tokens paired with the device, optionally
// restricted to one identity.
func (r *accessTokens) DeleteByDeviceTx(ctx context.Context, tx bun.IDB, deviceID uuid.UUID, identityID *uuid.UUID) (int64, error) {
	q := tx.NewDelete().
		Model((*AccessToken)(nil)).
		Where("device_token_id = ?", deviceID)
	if identityID != nil {
		q = q.Where("identity_id = ?", *identityID)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *accessTokens) ListByIdentityTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID) ([]*AccessToken, error) {
	records := []*AccessToken{}
	err := tx.NewSelect().
		Model(&records).
		Where("?TableAlias.identity_id = ?", identityID).
		OrderExpr("?TableAlias.created_at DESC").
		Scan(ctx)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	return records, nil
}

func (r *accessTokens) ListByDeviceTx(ctx context.Context, tx bun.IDB, deviceID uuid.UUID) ([]*AccessToken, error) {
	records := []*AccessToken{}
	err := tx.NewSelect().
		Model(&records).
		Where("?TableAlias.device_token_id = ?", deviceID).
		OrderExpr("?TableAlias.created_at DESC").
		Scan(ctx)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	return records, nil
}
