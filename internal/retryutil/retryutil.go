// Package retryutil provides the retry, timeout and fallback helpers named
// in the failure model: bounded attempts with jittered backoff, a hard
// per-operation deadline, and a degrade-gracefully fallback for reads.
package retryutil

import (
	"context"
	"math/rand"
	"time"

	retry "github.com/avast/retry-go"

	"github.com/iacgraph/depgraph/internal/errors"
)

// Policy configures WithRetry.
type Policy struct {
	Attempts    uint
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	JitterRatio float64 // fraction of the computed delay added as random jitter, e.g. 0.2
}

// DefaultPolicy makes up to three attempts in total, with exponential
// backoff from 100ms between them, capped at 2s, plus up to 20% jitter.
func DefaultPolicy() Policy {
	return Policy{Attempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second, JitterRatio: 0.2}
}

// WithRetry runs fn until it succeeds, retries are exhausted, or ctx is
// done. Only errors for which errors.RetryableErr reports true are retried;
// any other error returns immediately.
func WithRetry(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	return retry.Do(
		func() error { return fn(ctx) },
		retry.Context(ctx),
		retry.Attempts(p.Attempts),
		retry.DelayType(func(n uint, err error, cfg *retry.Config) time.Duration {
			delay := p.BaseDelay * time.Duration(1<<n)
			if delay > p.MaxDelay {
				delay = p.MaxDelay
			}
			jitter := time.Duration(float64(delay) * p.JitterRatio * rand.Float64())
			return delay + jitter
		}),
		retry.RetryIf(func(err error) bool {
			return errors.RetryableErr(err)
		}),
		retry.LastErrorOnly(true),
	)
}

// WithTimeout runs fn with a hard deadline, returning a
// *errors.Error{Code: CodeTimeout} if the deadline is exceeded before fn
// returns.
func WithTimeout(ctx context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return errors.Newf(errors.CodeTimeout, "operation exceeded deadline of %s", d)
	}
}

// WithFallback runs primary; if it fails, it runs fallback instead and
// returns the fallback's result. Used for read paths that can degrade to a
// stale cache entry or a slower data source rather than fail outright.
func WithFallback[T any](ctx context.Context, primary func(ctx context.Context) (T, error), fallback func(ctx context.Context, cause error) (T, error)) (T, error) {
	result, err := primary(ctx)
	if err == nil {
		return result, nil
	}
	return fallback(ctx, err)
}
