// Package retry wraps flaky calls with a bounded number of attempts.
package retry

import (
	"context"
	"time"

	"github.com/solidfund/charityfund/internal/errs"
)

// Policy bounds a retry loop. Delay doubles after errors matched by Grow.
type Policy struct {
	Attempts int
	Delay    time.Duration
	// Retryable filters errors worth another attempt; nil retries everything.
	Retryable func(error) bool
	// Grow selects errors that double the delay; nil means errs.IsRateLimit.
	Grow func(error) bool
}

// Default is the policy used for contract reads.
var Default = Policy{Attempts: 3, Delay: 200 * time.Millisecond}

// Do runs fn until it succeeds, the attempts run out, the error is not
// retryable, or ctx is done. The last error is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := Value(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Value is Do for functions returning a result.
func Value[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	grow := p.Grow
	if grow == nil {
		grow = errs.IsRateLimit
	}
	backoff := p.Delay

	var zero T
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if attempt == attempts || (p.Retryable != nil && !p.Retryable(err)) {
			break
		}
		select {
		case <-ctx.Done():
			return zero, lastErr
		case <-time.After(backoff):
		}
		if grow(err) {
			backoff *= 2
		}
	}
	return zero, lastErr
}
