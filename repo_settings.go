package auth

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// IncrementSettingSQL creates the setting at initial or adds one to it.
var IncrementSettingSQL = `INSERT INTO "auth_settings" ("name", "int_value", "updated_at")
VALUES (?, ?, ?)
ON CONFLICT ("name") DO UPDATE
SET
	"int_value" = "auth_settings"."int_value" + 1,
	"updated_at" = EXCLUDED."updated_at";`

// Settings persists shared integer settings.
type Settings interface {
	GetIntTx(ctx context.Context, tx bun.IDB, name string) (int64, bool, error)
	SetIntTx(ctx context.Context, tx bun.IDB, name string, value int64, at time.Time) error
	IncrementTx(ctx context.Context, tx bun.IDB, name string, initial int64, at time.Time) (int64, error)
}

type settings struct {
	db bun.IDB
}

// NewSettingsRepository returns the bun backed settings storage.
func NewSettingsRepository(db bun.IDB) Settings {
	return &settings{db: db}
}

func (r *settings) GetIntTx(ctx context.Context, tx bun.IDB, name string) (int64, bool, error) {
	record := &Setting{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.name = ?", name).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNotFound(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return record.IntValue, true, nil
}

func (r *settings) SetIntTx(ctx context.Context, tx bun.IDB, name string, value int64, at time.Time) error {
	record := &Setting{Name: name, IntValue: value, UpdatedAt: at}
	_, err := tx.NewInsert().
		Model(record).
		On("CONFLICT (name) DO UPDATE").
		Set("int_value = EXCLUDED.int_value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

// IncrementTx returns the value after the increment.
func (r *settings) IncrementTx(ctx context.Context, tx bun.IDB, name string, initial int64, at time.Time) (int64, error) {
	if _, err := tx.NewRaw(IncrementSettingSQL, name, initial, at).Exec(ctx); err != nil {
		return 0, err
	}
	value, _, err := r.GetIntTx(ctx, tx, name)
	return value, err
}
