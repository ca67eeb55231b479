package auth

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// IncrementRateLimitSQL bumps the counter of a key inside its current window.
// A row left over from an earlier window restarts at one. The statement is a
// single upsert so concurrent callers serialize on the row lock.
var IncrementRateLimitSQL = `INSERT INTO "rate_limit_counters" ("key", "window_start", "hits", "updated_at")
VALUES (?, ?, 1, ?)
ON CONFLICT ("key") DO UPDATE
SET
	"hits" = CASE
		WHEN "rate_limit_counters"."window_start" = EXCLUDED."window_start" THEN "rate_limit_counters"."hits" + 1
		ELSE 1
	END,
	"window_start" = EXCLUDED."window_start",
	"updated_at" = EXCLUDED."updated_at"
RETURNING "hits";`

// RateLimitCounters stores the fixed window counters of SQLAttemptCounter.
type RateLimitCounters interface {
	IncrementTx(ctx context.Context, tx bun.IDB, key string, windowStart, at time.Time) (int64, error)
	PurgeBeforeTx(ctx context.Context, tx bun.IDB, before time.Time) (int64, error)
}

type rateLimitCounters struct {
	db bun.IDB
}

// NewRateLimitCountersRepository returns the bun backed counter storage.
func NewRateLimitCountersRepository(db bun.IDB) RateLimitCounters {
	return &rateLimitCounters{db: db}
}

// IncrementTx returns the number of hits in the window after the increment.
func (r *rateLimitCounters) IncrementTx(ctx context.Context, tx bun.IDB, key string, windowStart, at time.Time) (int64, error) {
	var hits int64
	err := tx.NewRaw(IncrementRateLimitSQL, key, windowStart.UTC(), at.UTC()).Scan(ctx, &hits)
	return hits, err
}

func (r *rateLimitCounters) PurgeBeforeTx(ctx context.Context, tx bun.IDB, before time.Time) (int64, error) {
	res, err := tx.NewDelete().
		Model((*RateLimitCounter)(nil)).
		Where("window_start < ?", before.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
