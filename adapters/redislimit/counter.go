package redislimit

import (
	"context"
	"strconv"
	"strings"
	"time"

	auth "github.com/goliatone/go-auth-chain"
	goerrors "github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "auth:ratelimit:"

// Option customizes Counter behavior.
type Option func(*Counter)

// Counter is a fixed window auth.AttemptCounter stored in Redis. Each window
// is its own key, incremented with INCR and expired with the window, so
// concurrent increments from any number of processes are counted exactly.
type Counter struct {
	client redis.UniversalClient
	prefix string
}

var _ auth.AttemptCounter = (*Counter)(nil)

// NewCounter returns a counter using client.
func NewCounter(client redis.UniversalClient, opts ...Option) *Counter {
	counter := &Counter{
		client: client,
		prefix: defaultPrefix,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(counter)
		}
	}
	return counter
}

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) Option {
	return func(counter *Counter) {
		if counter == nil {
			return
		}
		counter.prefix = prefix
	}
}

// Attempts implements auth.AttemptCounter.
func (c *Counter) Attempts(ctx context.Context, key string, window time.Duration, now time.Time) (int64, error) {
	if window <= 0 {
		return 0, goerrors.New("rate limit window must be positive", goerrors.CategoryBadInput)
	}

	bucket := c.bucketKey(key, window, now)

	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, bucket)
	pipe.Expire(ctx, bucket, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "redis rate limit increment failed")
	}

	return incr.Val(), nil
}

// Reset drops the current window for key.
func (c *Counter) Reset(ctx context.Context, key string, window time.Duration, now time.Time) error {
	if window <= 0 {
		return nil
	}
	if err := c.client.Del(ctx, c.bucketKey(key, window, now)).Err(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "redis rate limit reset failed")
	}
	return nil
}

func (c *Counter) bucketKey(key string, window time.Duration, now time.Time) string {
	start := now.UTC().Truncate(window).Unix()

	var b strings.Builder
	b.WriteString(c.prefix)
	b.WriteString(key)
	b.WriteByte(':')
	b.WriteString(strconv.FormatInt(start, 10))
	return b.String()
}
