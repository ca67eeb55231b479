package redislimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	auth "github.com/goliatone/go-auth-chain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCounter(t *testing.T, opts ...Option) (*Counter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewCounter(client, opts...), mr
}

func TestCounterCountsWithinWindow(t *testing.T) {
	counter, _ := newTestCounter(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 10, 15, 0, 0, time.UTC)

	for i := int64(1); i <= 3; i++ {
		n, err := counter.Attempts(ctx, "login:10.0.0.1", time.Hour, now)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	n, err := counter.Attempts(ctx, "login:10.0.0.2", time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "keys are counted independently")
}

func TestCounterStartsFreshInNextWindow(t *testing.T) {
	counter, _ := newTestCounter(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 10, 59, 0, 0, time.UTC)

	_, err := counter.Attempts(ctx, "register:10.0.0.1", time.Hour, now)
	require.NoError(t, err)

	n, err := counter.Attempts(ctx, "register:10.0.0.1", time.Hour, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCounterSetsExpiry(t *testing.T) {
	counter, mr := newTestCounter(t, WithPrefix("test:"))
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	_, err := counter.Attempts(ctx, "k", time.Minute, now)
	require.NoError(t, err)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, "test:k:1714557600", keys[0])
	assert.Equal(t, time.Minute, mr.TTL(keys[0]))

	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists(keys[0]))
}

func TestCounterConcurrentIncrements(t *testing.T) {
	counter, _ := newTestCounter(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	const workers = 20
	var wg sync.WaitGroup
	seen := make(chan int64, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := counter.Attempts(ctx, "login:1.1.1.1", time.Hour, now)
			assert.NoError(t, err)
			seen <- n
		}()
	}
	wg.Wait()
	close(seen)

	values := map[int64]bool{}
	for n := range seen {
		values[n] = true
	}
	assert.Len(t, values, workers, "every increment observes a distinct count")
}

func TestCounterReset(t *testing.T) {
	counter, _ := newTestCounter(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	_, err := counter.Attempts(ctx, "k", time.Hour, now)
	require.NoError(t, err)
	require.NoError(t, counter.Reset(ctx, "k", time.Hour, now))

	n, err := counter.Attempts(ctx, "k", time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCounterRejectsZeroWindow(t *testing.T) {
	counter, _ := newTestCounter(t)

	_, err := counter.Attempts(context.Background(), "k", 0, time.Now())
	assert.Error(t, err)
}

func TestRateLimiterWithRedisCounter(t *testing.T) {
	counter, _ := newTestCounter(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	limiter := auth.NewRateLimiter(counter, auth.RateLimitScopeRegister, 2, time.Hour).
		WithClock(auth.ClockFunc(func() time.Time { return now }))

	require.NoError(t, limiter.Check(ctx, "10.0.0.9"))
	require.NoError(t, limiter.Check(ctx, "10.0.0.9"))

	err := limiter.Check(ctx, "10.0.0.9")
	require.Error(t, err)
	assert.Equal(t, auth.KindRateLimitExceeded, auth.ErrorKind(err))
}
