package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RegistrationAttempts is the append-only registration audit log.
type RegistrationAttempts interface {
	CreateTx(ctx context.Context, tx bun.IDB, record *RegistrationAttempt) (*RegistrationAttempt, error)
	CountByIPSinceTx(ctx context.Context, tx bun.IDB, ip string, since time.Time) (int, error)
	ListByEmailTx(ctx context.Context, tx bun.IDB, email string) ([]*RegistrationAttempt, error)
}

type registrationAttempts struct {
	db bun.IDB
}

// NewRegistrationAttemptsRepository returns the bun backed audit log.
func NewRegistrationAttemptsRepository(db bun.IDB) RegistrationAttempts {
	return &registrationAttempts{db: db}
}

func (r *registrationAttempts) CreateTx(ctx context.Context, tx bun.IDB, record *RegistrationAttempt) (*RegistrationAttempt, error) {
	if record == nil {
		return nil, errors.New("registration attempts: nil record")
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

func (r *registrationAttempts) CountByIPSinceTx(ctx context.Context, tx bun.IDB, ip string, since time.Time) (int, error) {
	return tx.NewSelect().
		Model((*RegistrationAttempt)(nil)).
		Where("?TableAlias.ip = ?", ip).
		Where("?TableAlias.created_at > ?", since).
		Count(ctx)
}

func (r *registrationAttempts) ListByEmailTx(ctx context.Context, tx bun.IDB, email string) ([]*RegistrationAttempt, error) {
	records := []*RegistrationAttempt{}
	err := tx.NewSelect().
		Model(&records).
		Where("?TableAlias.email = ?", NormalizeEmail(email)).
		OrderExpr("?TableAlias.created_at ASC").
		Scan(ctx)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	return records, nil
}
