package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"
)

// Identities is the credential store. Soft deleted rows are invisible to
// every method: the bun soft_delete column is the only "active identities"
// predicate and call sites never filter on deleted_at themselves.
type Identities interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Identity, error)
	FindByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Identity, error)
	FindByEmail(ctx context.Context, email string) (*Identity, error)
	FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Identity, error)
	FindManyTx(ctx context.Context, tx bun.IDB, ids []uuid.UUID) ([]*Identity, error)

	Create(ctx context.Context, record *Identity, criteria ...repository.InsertCriteria) (*Identity, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *Identity, criteria ...repository.InsertCriteria) (*Identity, error)

	Save(ctx context.Context, record *Identity, columns ...string) error
	SaveTx(ctx context.Context, tx bun.IDB, record *Identity, columns ...string) error

	SoftDelete(ctx context.Context, id uuid.UUID) error
	SoftDeleteTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error

	// IDTakenTx reports whether any row, soft deleted ones included, holds id.
	IDTakenTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (bool, error)
}

type identities struct {
	base  repository.Repository[*Identity]
	db    bun.IDB
	clock Clock
}

var _ Identities = (*identities)(nil)

// IdentitiesOption customizes the identities repository.
type IdentitiesOption func(*identities)

// WithIdentitiesClock sets the clock used to stamp created_at/updated_at.
func WithIdentitiesClock(c Clock) IdentitiesOption {
	return func(r *identities) {
		r.clock = c
	}
}

// NewIdentitiesRepository returns the bun backed credential store.
func NewIdentitiesRepository(db *bun.DB, opts ...IdentitiesOption) Identities {
	repo := repository.NewRepository[*Identity](db, repository.ModelHandlers[*Identity]{
		NewRecord: func() *Identity { return &Identity{} },
		GetID: func(i *Identity) uuid.UUID {
			if i == nil {
				return uuid.Nil
			}
			return i.ID
		},
		SetID: func(i *Identity, id uuid.UUID) {
			if i != nil {
				i.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	r := &identities{
		base:  repo,
		db:    db,
		clock: systemClock{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.clock = normalizeClock(r.clock)
	return r
}

func (r *identities) FindByID(ctx context.Context, id uuid.UUID) (*Identity, error) {
	return r.FindByIDTx(ctx, r.db, id)
}

func (r *identities) FindByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Identity, error) {
	record := &Identity{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, notFound("id", id.String())
		}
		return nil, err
	}
	return record, nil
}

func (r *identities) FindByEmail(ctx context.Context, email string) (*Identity, error) {
	return r.FindByEmailTx(ctx, r.db, email)
}

func (r *identities) FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Identity, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return nil, notFound("email", email)
	}

	record := &Identity{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", normalized).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, notFound("email", normalized)
		}
		return nil, err
	}
	return record, nil
}

func (r *identities) FindManyTx(ctx context.Context, tx bun.IDB, ids []uuid.UUID) ([]*Identity, error) {
	if len(ids) == 0 {
		return []*Identity{}, nil
	}

	records := []*Identity{}
	err := tx.NewSelect().
		Model(&records).
		Where("?TableAlias.id IN (?)", bun.In(ids)).
		OrderExpr("?TableAlias.created_at ASC").
		Scan(ctx)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	return records, nil
}

func (r *identities) Create(ctx context.Context, record *Identity, criteria ...repository.InsertCriteria) (*Identity, error) {
	return r.CreateTx(ctx, r.db, record, criteria...)
}

func (r *identities) CreateTx(ctx context.Context, tx bun.IDB, record *Identity, criteria ...repository.InsertCriteria) (*Identity, error) {
	if record == nil {
		return nil, errors.New("identities: nil record")
	}
	prepareIdentityDefaults(record, r.clock.Now())
	return r.base.CreateTx(ctx, tx, record, criteria...)
}

func (r *identities) Save(ctx context.Context, record *Identity, columns ...string) error {
	return r.SaveTx(ctx, r.db, record, columns...)
}

// SaveTx writes the given columns (every mutable column when none are given)
// and bumps updated_at.
func (r *identities) SaveTx(ctx context.Context, tx bun.IDB, record *Identity, columns ...string) error {
	if record == nil || record.ID == uuid.Nil {
		return errors.New("identities: save requires a persisted record")
	}

	record.Email = NormalizeEmail(record.Email)
	record.UpdatedAt = r.clock.Now()
	if len(columns) == 0 {
		columns = identityMutableColumns
	}
	columns = appendUnique(columns, "updated_at")

	res, err := tx.NewUpdate().
		Model(record).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("id", record.ID.String())
	}
	return nil
}

func (r *identities) SoftDelete(ctx context.Context, id uuid.UUID) error {
	return r.SoftDeleteTx(ctx, r.db, id)
}

func (r *identities) SoftDeleteTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	_, err := tx.NewUpdate().
		Model((*Identity)(nil)).
		Set("deleted_at = ?", r.clock.Now()).
		Set("updated_at = ?", r.clock.Now()).
		Where("?TableAlias.id = ?", id).
		Exec(ctx)
	return err
}

func (r *identities) IDTakenTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (bool, error) {
	return tx.NewSelect().
		Model((*Identity)(nil)).
		WhereAllWithDeleted().
		Where("?TableAlias.id = ?", id).
		Exists(ctx)
}

var identityMutableColumns = []string{
	"email",
	"password_hash",
	"role",
	"active",
	"locale",
	"notes",
	"metadata",
	"confirmed_at",
	"email_validated_at",
}

func prepareIdentityDefaults(record *Identity, now time.Time) {
	record.Email = NormalizeEmail(record.Email)
	if record.Role == "" {
		record.Role = RoleUser
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.Metadata == nil {
		record.Metadata = Metadata{}
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
}

func appendUnique(values []string, extra string) []string {
	for _, v := range values {
		if v == extra {
			return values
		}
	}
	out := make([]string, 0, len(values)+1)
	out = append(out, values...)
	return append(out, extra)
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err)
}

// isDuplicateKey reports a unique constraint violation from any of the
// supported drivers.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if repository.IsDuplicatedKey(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func notFound(column, value string) error {
	return repository.NewRecordNotFound().
		WithMetadata(map[string]any{
			strings.TrimSpace(column): value,
		})
}
