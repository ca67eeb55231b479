package auth_test

import (
	"sort"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-auth-chain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLAttemptCounter_CountsWithinWindow(t *testing.T) {
	env := setupEnv(t)
	counter := auth.NewSQLAttemptCounter(env.repos)
	now := testEpoch.Add(15 * time.Minute)

	for i := int64(1); i <= 3; i++ {
		n, err := counter.Attempts(env.ctx, "login:10.0.0.1", time.Hour, now)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	n, err := counter.Attempts(env.ctx, "login:10.0.0.2", time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "keys are counted independently")
}

func TestSQLAttemptCounter_StartsFreshInNextWindow(t *testing.T) {
	env := setupEnv(t)
	counter := auth.NewSQLAttemptCounter(env.repos)
	now := testEpoch.Add(59 * time.Minute)

	for i := 0; i < 2; i++ {
		_, err := counter.Attempts(env.ctx, "register:10.0.0.1", time.Hour, now)
		require.NoError(t, err)
	}

	n, err := counter.Attempts(env.ctx, "register:10.0.0.1", time.Hour, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSQLAttemptCounter_ConcurrentIncrements(t *testing.T) {
	env := setupEnv(t)
	counter := auth.NewSQLAttemptCounter(env.repos)

	const callers = 20
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		counts []int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := counter.Attempts(env.ctx, "login:192.0.2.1", time.Hour, testEpoch)
			assert.NoError(t, err)
			mu.Lock()
			counts = append(counts, int(n))
			mu.Unlock()
		}()
	}
	wg.Wait()

	// every caller observes a distinct count, so exactly one sees threshold+1
	sort.Ints(counts)
	expected := make([]int, callers)
	for i := range expected {
		expected[i] = i + 1
	}
	assert.Equal(t, expected, counts)
}

func TestSQLAttemptCounter_Purge(t *testing.T) {
	env := setupEnv(t)
	counter := auth.NewSQLAttemptCounter(env.repos)

	_, err := counter.Attempts(env.ctx, "login:old", time.Hour, testEpoch)
	require.NoError(t, err)
	_, err = counter.Attempts(env.ctx, "login:new", time.Hour, testEpoch.Add(2*time.Hour))
	require.NoError(t, err)

	removed, err := counter.Purge(env.ctx, testEpoch.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	n, err := counter.Attempts(env.ctx, "login:new", time.Hour, testEpoch.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRateLimiter_ThresholdWithSQLCounter(t *testing.T) {
	env := setupEnv(t)
	limiter := auth.NewRateLimiter(auth.NewSQLAttemptCounter(env.repos), auth.RateLimitScopeLogin, 2, time.Hour).
		WithClock(env.clock)

	require.NoError(t, limiter.Check(env.ctx, "192.0.2.5"))
	require.NoError(t, limiter.Check(env.ctx, "192.0.2.5"))
	assert.ErrorIs(t, limiter.Check(env.ctx, "192.0.2.5"), auth.ErrRateLimitExceeded)

	env.clock.Advance(time.Hour)
	assert.NoError(t, limiter.Check(env.ctx, "192.0.2.5"))
}
