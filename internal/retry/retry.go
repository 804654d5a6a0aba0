// Package retry applies a bounded fixed-delay retry policy to remote calls.
package retry

import (
	"context"
	"time"

	perrors "parkwatch/internal/errors"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy describes how a failing operation is retried.
//
// Attempts counts the first call, so Attempts 3 means at most two retries.
// Only errors accepted by Retryable are retried; any other error is returned
// immediately.
type Policy struct {
	Attempts  int
	Delay     time.Duration
	Retryable func(error) bool
	Sleep     SleepFunc
	OnRetry   func(attempt int, err error)
}

// Default is three attempts with a fixed two-second delay, retrying the
// transient remote error kinds.
func Default() Policy {
	return Policy{
		Attempts:  3,
		Delay:     2 * time.Second,
		Retryable: perrors.IsRetryable,
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted, or ctx is done. The last error is returned.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = perrors.IsRetryable
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if attempt == attempts || !retryable(err) {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if err := sleep(ctx, p.Delay); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Sleep is a context-aware time.Sleep.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
