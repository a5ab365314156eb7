// Package retry is the single retry/backoff helper shared by the query
// cache, the mutation layer and the session service. Each call site only
// differs by its Options.
package retry

import (
	"context"
	"time"
)

// Backoff selects how the inter-attempt delay grows.
type Backoff uint8

const (
	// None retries immediately using the base delay as-is (zero means no
	// sleep at all).
	None Backoff = iota
	// Exponential multiplies the base delay by 2^(attempt-1).
	Exponential
	// Linear multiplies the base delay by the attempt number.
	Linear
)

// DefaultCap bounds the exponential backoff.
const DefaultCap = 30 * time.Second

// Options parameterize a retried call.
type Options struct {
	// Total attempts, including the first one. Values below 1 mean a
	// single attempt.
	MaxAttempts int

	// Base delay between attempts.
	Delay time.Duration

	// Upper bound for the computed delay. Defaults to DefaultCap.
	Cap time.Duration

	// Backoff growth mode.
	Backoff Backoff

	// IsRetryable decides whether the returned error is worth another
	// attempt. A nil predicate retries everything.
	IsRetryable func(error) bool

	// OnRetry is invoked before sleeping, with the upcoming attempt
	// number (2..MaxAttempts) and the error that caused the retry.
	OnRetry func(attempt int, err error)

	// Sleep is the suspension primitive, injectable for tests. A nil
	// value uses a timer honoring ctx cancellation.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DelayFor returns the delay to wait before the given attempt (2-based).
func (o Options) DelayFor(attempt int) time.Duration {
	d := o.Delay
	switch o.Backoff {
	case Exponential:
		d = o.Delay << (attempt - 2)
	case Linear:
		d = o.Delay * time.Duration(attempt-1)
	}

	cap := o.Cap
	if cap <= 0 {
		cap = DefaultCap
	}
	if d > cap {
		d = cap
	}
	return d
}

// Do runs fn until it succeeds, the attempts are exhausted, the error is
// classified non-retryable, or ctx is done. The last error is returned
// unwrapped so callers can classify it.
func Do(ctx context.Context, fn func(ctx context.Context) error, opts Options) error {
	attempts := opts.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if opts.OnRetry != nil {
				opts.OnRetry(attempt, lastErr)
			}
			if d := opts.DelayFor(attempt); d > 0 {
				if err := sleep(ctx, d); err != nil {
					return err
				}
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if opts.IsRetryable != nil && !opts.IsRetryable(lastErr) {
			return lastErr
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}

	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
