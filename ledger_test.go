package auth_test

import (
	"testing"
	"time"

	auth "github.com/goliatone/go-auth-chain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenLedger_IssueAndLookup(t *testing.T) {
	env := setupEnv(t)
	identity := env.register(t, "ledger@example.com", "password-1")
	ledger := env.auth.Ledger()

	token, err := ledger.Issue(env.ctx, identity, " api ", auth.NonExpiring())
	require.NoError(t, err)
	assert.NotEmpty(t, token.Token)
	assert.Equal(t, identity.ID, token.IdentityID)
	assert.Equal(t, "api", token.Source)
	assert.Equal(t, 1, token.Version)
	assert.Nil(t, token.ValidUntil)
	assert.Equal(t, testEpoch, token.CreatedAt)

	env.clock.Advance(time.Minute)

	found, err := ledger.Lookup(env.ctx, token.Token)
	require.NoError(t, err)
	assert.Equal(t, token.ID, found.ID)
	require.NotNil(t, found.LastUsedAt)
	assert.Equal(t, testEpoch.Add(time.Minute), *found.LastUsedAt)

	stored, err := ledger.Find(env.ctx, token.Token)
	require.NoError(t, err)
	require.NotNil(t, stored.LastUsedAt)
	assert.True(t, stored.LastUsedAt.Equal(testEpoch.Add(time.Minute)))
}

func TestTokenLedger_TokensAreUnique(t *testing.T) {
	env := setupEnv(t)
	identity := env.register(t, "unique@example.com", "password-1")

	seen := map[string]bool{}
	for i := 0; i < 25; i++ {
		token, err := env.auth.IssueToken(env.ctx, identity, "api", auth.NonExpiring())
		require.NoError(t, err)
		assert.False(t, seen[token.Token])
		seen[token.Token] = true
	}
}

func TestTokenLedger_Expiry(t *testing.T) {
	env := setupEnv(t)
	identity := env.register(t, "expiry@example.com", "password-1")

	token, err := env.auth.Ledger().Issue(env.ctx, identity, "api", auth.ExpiresIn(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, token.ValidUntil)
	assert.Equal(t, testEpoch.Add(time.Hour), *token.ValidUntil)

	env.clock.Advance(59 * time.Minute)
	_, err = env.auth.Ledger().Lookup(env.ctx, token.Token)
	require.NoError(t, err)

	env.clock.Advance(time.Minute)
	_, err = env.auth.Ledger().Lookup(env.ctx, token.Token)
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
	assert.Equal(t, auth.KindInvalidToken, auth.ErrorKind(err))
}

func TestTokenLedger_LookupUnknown(t *testing.T) {
	env := setupEnv(t)

	_, err := env.auth.Ledger().Lookup(env.ctx, "")
	assert.ErrorIs(t, err, auth.ErrTokenNotFound)

	_, err = env.auth.Ledger().Lookup(env.ctx, "does-not-exist")
	assert.ErrorIs(t, err, auth.ErrTokenNotFound)
}

func TestTokenLedger_IssueRequiresPersistedIdentity(t *testing.T) {
	env := setupEnv(t)

	_, err := env.auth.Ledger().Issue(env.ctx, nil, "api", auth.NonExpiring())
	require.Error(t, err)
	assert.Equal(t, auth.KindInternal, auth.ErrorKind(err))

	_, err = env.auth.Ledger().Issue(env.ctx, &auth.Identity{}, "api", auth.NonExpiring())
	require.Error(t, err)
}

func TestTokenLedger_Revoke(t *testing.T) {
	env := setupEnv(t)
	identity := env.register(t, "revoke@example.com", "password-1")
	ledger := env.auth.Ledger()

	token, err := ledger.Issue(env.ctx, identity, "api", auth.NonExpiring())
	require.NoError(t, err)

	require.NoError(t, ledger.Revoke(env.ctx, token.Token))
	_, err = ledger.Lookup(env.ctx, token.Token)
	assert.ErrorIs(t, err, auth.ErrTokenNotFound)

	// revoking twice is a no-op
	require.NoError(t, ledger.Revoke(env.ctx, token.Token))
	require.NoError(t, ledger.Revoke(env.ctx, ""))
}

func TestTokenLedger_RevokeAllKeepsListed(t *testing.T) {
	env := setupEnv(t)
	identity := env.register(t, "revoke-all@example.com", "password-1")
	other := env.register(t, "other@example.com", "password-1")
	ledger := env.auth.Ledger()

	keep, err := ledger.Issue(env.ctx, identity, "web", auth.NonExpiring())
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := ledger.Issue(env.ctx, identity, "api", auth.NonExpiring())
		require.NoError(t, err)
	}
	otherToken, err := ledger.Issue(env.ctx, other, "api", auth.NonExpiring())
	require.NoError(t, err)

	n, err := ledger.RevokeAll(env.ctx, identity.ID, keep.Token)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	remaining, err := ledger.AllTokensOf(env.ctx, identity.ID)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, keep.Token, remaining[0].Token)

	_, err = ledger.Lookup(env.ctx, otherToken.Token)
	require.NoError(t, err)
}

func TestTokenLedger_AllTokensOfNewestFirst(t *testing.T) {
	env := setupEnv(t)
	identity := env.register(t, "list@example.com", "password-1")

	first, err := env.auth.IssueToken(env.ctx, identity, "api", auth.NonExpiring())
	require.NoError(t, err)
	env.clock.Advance(time.Second)
	second, err := env.auth.IssueToken(env.ctx, identity, "api", auth.NonExpiring())
	require.NoError(t, err)

	tokens, err := env.auth.Ledger().AllTokensOf(env.ctx, identity.ID)
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, second.Token, tokens[0].Token)
	assert.Equal(t, first.Token, tokens[1].Token)

	none, err := env.auth.Ledger().AllTokensOf(env.ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestTokenLedger_PairWithDevice(t *testing.T) {
	env := setupEnv(t)
	identity := env.register(t, "pair@example.com", "password-1")

	token, err := env.auth.IssueToken(env.ctx, identity, "app", auth.NonExpiring())
	require.NoError(t, err)
	first, err := env.auth.GenerateDeviceToken(env.ctx, "phone-1")
	require.NoError(t, err)
	second, err := env.auth.GenerateDeviceToken(env.ctx, "phone-2")
	require.NoError(t, err)

	device, err := env.auth.PairDevice(env.ctx, token.Token, first.Token)
	require.NoError(t, err)
	assert.Equal(t, first.ID, device.ID)

	// re-pairing replaces the previous link
	_, err = env.auth.PairDevice(env.ctx, token.Token, second.Token)
	require.NoError(t, err)

	stored, err := env.auth.Ledger().Find(env.ctx, token.Token)
	require.NoError(t, err)
	assert.True(t, stored.PairedWith(second))
	assert.False(t, stored.PairedWith(first))

	_, err = env.auth.PairDevice(env.ctx, token.Token, "missing-device")
	assert.ErrorIs(t, err, auth.ErrDeviceTokenNotFound)

	_, err = env.auth.PairDevice(env.ctx, "missing-token", first.Token)
	assert.ErrorIs(t, err, auth.ErrTokenNotFound)
}
