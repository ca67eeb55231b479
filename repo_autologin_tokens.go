package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AutologinTokens persists one-time login tokens.
type AutologinTokens interface {
	CreateTx(ctx context.Context, tx bun.IDB, record *AutologinToken) (*AutologinToken, error)
	FindByTokenTx(ctx context.Context, tx bun.IDB, token string) (*AutologinToken, error)
	// ConsumeTx increments the usage counter only while it is below
	// max_uses. It reports false when another caller got there first.
	ConsumeTx(ctx context.Context, tx bun.IDB, token string, at time.Time) (bool, error)
}

type autologinTokens struct {
	db bun.IDB
}

// NewAutologinTokensRepository returns the bun backed one-time token storage.
func NewAutologinTokensRepository(db bun.IDB) AutologinTokens {
	return &autologinTokens{db: db}
}

func (r *autologinTokens) CreateTx(ctx context.Context, tx bun.IDB, record *AutologinToken) (*AutologinToken, error) {
	if record == nil {
		return nil, errors.New("autologin tokens: nil record")
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.MaxUses < 1 {
		record.MaxUses = 1
	}
	if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
		return nil, err
	}
	return record, nil
}

func (r *autologinTokens) FindByTokenTx(ctx context.Context, tx bun.IDB, token string) (*AutologinToken, error) {
	record := &AutologinToken{}
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

func (r *autologinTokens) ConsumeTx(ctx context.Context, tx bun.IDB, token string, at time.Time) (bool, error) {
	res, err := tx.NewUpdate().
		Model((*AutologinToken)(nil)).
		Set("uses = uses + 1").
		Set("last_used_at = ?", at).
		Where("token = ?", token).
		Where("uses < max_uses").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
