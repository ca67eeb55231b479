package auth

import (
	"context"

	"github.com/uptrace/bun"
)

var schemaModels = []any{
	(*Identity)(nil),
	(*AccessToken)(nil),
	(*DeviceToken)(nil),
	(*RegistrationAttempt)(nil),
	(*AutologinToken)(nil),
	(*ExternalAccount)(nil),
	(*Setting)(nil),
	(*RateLimitCounter)(nil),
}

// Models returns the bun models owned by this package.
func Models() []any {
	out := make([]any, len(schemaModels))
	copy(out, schemaModels)
	return out
}

var schemaIndexes = []string{
	// email is unique among identities that are not soft deleted
	`CREATE UNIQUE INDEX IF NOT EXISTS identities_email_active_uidx ON identities (email) WHERE deleted_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS access_tokens_identity_idx ON access_tokens (identity_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS access_tokens_device_idx ON access_tokens (device_token_id)`,
	`CREATE INDEX IF NOT EXISTS registration_attempts_ip_idx ON registration_attempts (ip, created_at)`,
}

// CreateSchema creates the tables and indexes used by the repositories.
// It is idempotent and meant for tests, tooling and first boot; production
// deployments are expected to own their migrations.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	for _, model := range schemaModels {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return internalError(err, "failed to create auth table")
		}
	}

	for _, stmt := range schemaIndexes {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return internalError(err, "failed to create auth index")
		}
	}

	return nil
}
