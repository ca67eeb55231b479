package auth_test

import (
	"testing"
	"time"

	auth "github.com/goliatone/go-auth-chain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticVersionPolicy(t *testing.T) {
	env := setupEnv(t)
	policy := auth.NewStaticVersionPolicy(auth.Config{CurrentTokenVersion: 3, MinTokenVersion: 2})

	assert.Equal(t, 3, policy.CurrentVersion())
	minimum, err := policy.MinimumVersion(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, minimum)
}

func TestBumpTokenVersion_RejectsOlderTokens(t *testing.T) {
	env := setupEnv(t)
	identity := env.register(t, "bump@example.com", "password-1")

	old, err := env.auth.IssueToken(env.ctx, identity, "api", auth.NonExpiring())
	require.NoError(t, err)
	assert.Equal(t, 1, old.Version)

	version, err := env.auth.BumpTokenVersion(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	_, err = env.auth.Ledger().Lookup(env.ctx, old.Token)
	assert.ErrorIs(t, err, auth.ErrTokenVersionStale)

	_, err = env.auth.Authenticate(env.ctx, auth.Credentials{AccessToken: old.Token})
	require.Error(t, err)
	assert.Equal(t, auth.KindInvalidToken, auth.ErrorKind(err))

	fresh, err := env.auth.IssueToken(env.ctx, identity, "api", auth.NonExpiring())
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.Version)

	_, err = env.auth.Ledger().Lookup(env.ctx, fresh.Token)
	require.NoError(t, err)

	version, err = env.auth.BumpTokenVersion(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, version)
}

func TestStoredVersionPolicy_SharedAcrossProcesses(t *testing.T) {
	env := setupEnv(t)
	cfg := env.cfg
	cfg.VersionCacheTTL = 30 * time.Second

	writer := auth.NewStoredVersionPolicy(env.repos, cfg).WithClock(env.clock)
	reader := auth.NewStoredVersionPolicy(env.repos, cfg).WithClock(env.clock)

	minimum, err := reader.MinimumVersion(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, minimum)

	bumped, err := writer.Bump(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, bumped)

	// the reader keeps serving its cached value until the ttl elapses
	minimum, err = reader.MinimumVersion(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, minimum)

	env.clock.Advance(31 * time.Second)
	minimum, err = reader.MinimumVersion(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, minimum)

	_, err = writer.Bump(env.ctx)
	require.NoError(t, err)
	reader.Invalidate()
	minimum, err = reader.MinimumVersion(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, minimum)
}

func TestStoredVersionPolicy_ConfiguredMinimumWins(t *testing.T) {
	env := setupEnv(t)

	low := auth.NewStoredVersionPolicy(env.repos, env.cfg).WithClock(env.clock)
	_, err := low.Bump(env.ctx)
	require.NoError(t, err)

	cfg := env.cfg
	cfg.CurrentTokenVersion = 5
	cfg.MinTokenVersion = 5
	high := auth.NewStoredVersionPolicy(env.repos, cfg).WithClock(env.clock)

	minimum, err := high.MinimumVersion(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, minimum)

	bumped, err := high.Bump(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, bumped)
}

func TestBumpTokenVersion_StaticPolicyUnsupported(t *testing.T) {
	env := setupEnv(t)
	authenticator, err := auth.NewAuthenticator(env.repos, env.cfg,
		auth.WithVersionPolicy(auth.NewStaticVersionPolicy(env.cfg)),
	)
	require.NoError(t, err)

	_, err = authenticator.BumpTokenVersion(env.ctx)
	assert.Error(t, err)
}
