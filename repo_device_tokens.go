package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// DeviceTokens persists device tokens.
type DeviceTokens interface {
	CreateTx(ctx context.Context, tx bun.IDB, record *DeviceToken) (*DeviceToken, error)
	FindByTokenTx(ctx context.Context, tx bun.IDB, token string) (*DeviceToken, error)
	TouchTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time) error
}

type deviceTokens struct {
	db bun.IDB
}

// NewDeviceTokensRepository returns the bun backed device storage.
func NewDeviceTokensRepository(db bun.IDB) DeviceTokens {
	return &deviceTokens{db: db}
}

func (r *deviceTokens) CreateTx(ctx context.Context, tx bun.IDB, record *DeviceToken) (*DeviceToken, error) {
	if record == nil {
		return nil, errors.New("device tokens: nil record")
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
		return nil, err
	}
	return record, nil
}

func (r *deviceTokens) FindByTokenTx(ctx context.Context, tx bun.IDB, token string) (*DeviceToken, error) {
	record := &DeviceToken{}
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

func (r *deviceTokens) TouchTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time) error {
	_, err := tx.NewUpdate().
		Model((*DeviceToken)(nil)).
		Set("last_used_at = ?", at).
		Where("id = ?", id).
		Exec(ctx)
	return err
}
