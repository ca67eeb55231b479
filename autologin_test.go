package auth_test

import (
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	auth "github.com/goliatone/go-auth-chain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAutologin_TokenIsSingleUse(t *testing.T) {
	env := setupEnv(t)
	identity := env.register(t, "magic@example.com", "password-1")

	token, link, err := env.auth.IssueAutologin(env.ctx, identity)
	require.NoError(t, err)
	assert.NotEmpty(t, link)
	assert.Equal(t, 1, token.MaxUses)
	require.NotNil(t, token.ExpiresAt)
	assert.Equal(t, testEpoch.Add(env.cfg.AutologinTTL), *token.ExpiresAt)

	res, err := env.auth.Authenticate(env.ctx, auth.Credentials{AutologinToken: token.Token})
	require.NoError(t, err)
	assert.Equal(t, identity.ID, res.Identity.ID)
	assert.Equal(t, auth.StrategyAutologinToken, res.Strategy)

	_, err = env.auth.Authenticate(env.ctx, auth.Credentials{AutologinToken: token.Token})
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestAutologin_ConcurrentConsumeSucceedsOnce(t *testing.T) {
	env := setupEnv(t)
	identity := env.register(t, "race@example.com", "password-1")

	token, _, err := env.auth.IssueAutologin(env.ctx, identity)
	require.NoError(t, err)

	const callers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.auth.Authenticate(env.ctx, auth.Credentials{AutologinToken: token.Token})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			if auth.ErrorKind(err) == auth.KindInvalidToken {
				failures++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, callers-1, failures)
}

func TestAutologin_MaxUses(t *testing.T) {
	env := setupEnv(t, func(cfg *auth.Config) {
		cfg.AutologinMaxUses = 2
	})
	identity := env.register(t, "twice@example.com", "password-1")
	token, _, err := env.auth.IssueAutologin(env.ctx, identity)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := env.auth.Authenticate(env.ctx, auth.Credentials{AutologinToken: token.Token})
		require.NoError(t, err)
	}
	_, err = env.auth.Authenticate(env.ctx, auth.Credentials{AutologinToken: token.Token})
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestAutologin_Expired(t *testing.T) {
	env := setupEnv(t)
	identity := env.register(t, "late@example.com", "password-1")
	token, link, err := env.auth.IssueAutologin(env.ctx, identity)
	require.NoError(t, err)

	env.clock.Advance(env.cfg.AutologinTTL)

	_, err = env.auth.Authenticate(env.ctx, auth.Credentials{AutologinToken: token.Token})
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	_, err = env.auth.Authenticate(env.ctx, auth.Credentials{AutologinLink: link})
	assert.Equal(t, auth.KindInvalidToken, auth.ErrorKind(err))
}

func TestAutologin_Link(t *testing.T) {
	env := setupEnv(t)
	identity := env.register(t, "link@example.com", "password-1")
	token, link, err := env.auth.IssueAutologin(env.ctx, identity)
	require.NoError(t, err)

	claims, err := env.auth.Autologin().ParseLink(link)
	require.NoError(t, err)
	assert.Equal(t, token.Token, claims.ID)
	assert.Equal(t, identity.ID.String(), claims.Subject)

	res, err := env.auth.Authenticate(env.ctx, auth.Credentials{AutologinLink: link})
	require.NoError(t, err)
	assert.Equal(t, identity.ID, res.Identity.ID)
	assert.Equal(t, auth.StrategyAutologinLink, res.Strategy)

	// the link shares the usage counter of its token
	_, err = env.auth.Authenticate(env.ctx, auth.Credentials{AutologinToken: token.Token})
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestAutologin_LinkRejectsTampering(t *testing.T) {
	env := setupEnv(t)
	identity := env.register(t, "tamper@example.com", "password-1")
	other := env.register(t, "other@example.com", "password-1")
	token, _, err := env.auth.IssueAutologin(env.ctx, identity)
	require.NoError(t, err)

	foreignKey, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.AutologinClaims{
		RegisteredClaims: jwt.RegisteredClaims{ID: token.Token, Subject: identity.ID.String()},
	}).SignedString([]byte("another-key"))
	require.NoError(t, err)

	wrongSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.AutologinClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        token.Token,
			Subject:   other.ID.String(),
			ExpiresAt: jwt.NewNumericDate(testEpoch.Add(time.Hour)),
		},
	}).SignedString([]byte(env.cfg.SigningKey))
	require.NoError(t, err)

	for name, link := range map[string]string{
		"foreign key":   foreignKey,
		"wrong subject": wrongSubject,
		"garbage":       "not.a.jwt",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := env.auth.Authenticate(env.ctx, auth.Credentials{AutologinLink: link})
			assert.Equal(t, auth.KindInvalidToken, auth.ErrorKind(err))
		})
	}

	// the token is still usable after rejected links
	_, err = env.auth.Authenticate(env.ctx, auth.Credentials{AutologinToken: token.Token})
	require.NoError(t, err)
}

func TestAutologin_NoSigningKey(t *testing.T) {
	env := setupEnv(t, func(cfg *auth.Config) {
		cfg.SigningKey = ""
	})
	identity := env.register(t, "nokey@example.com", "password-1")

	token, link, err := env.auth.IssueAutologin(env.ctx, identity)
	require.NoError(t, err)
	assert.NotEmpty(t, token.Token)
	assert.Empty(t, link)

	_, err = env.auth.Autologin().ParseLink("anything")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestAutologin_DisabledForPrivileged(t *testing.T) {
	env := setupEnv(t)
	admin := env.insertIdentity(t, &auth.Identity{Email: "root@example.com", Role: auth.RoleOwner, Active: true})

	_, _, err := env.auth.IssueAutologin(env.ctx, admin)
	assert.ErrorIs(t, err, auth.ErrAutologinDisabledForAdmin)

	// tokens minted before a role change are refused and left unconsumed
	user := env.register(t, "promoted@example.com", "password-1")
	token, _, err := env.auth.IssueAutologin(env.ctx, user)
	require.NoError(t, err)

	user.Role = auth.RoleAdmin
	require.NoError(t, env.repos.Identities().Save(env.ctx, user, "role"))

	_, err = env.auth.Authenticate(env.ctx, auth.Credentials{AutologinToken: token.Token})
	assert.ErrorIs(t, err, auth.ErrAutologinDisabledForAdmin)

	record, err := env.auth.Autologin().Find(env.ctx, token.Token)
	require.NoError(t, err)
	assert.Zero(t, record.Uses)
}
