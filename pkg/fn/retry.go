package fn

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryOpts configures retry behavior.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Jitter      bool
	// Retryable reports whether an error is worth another attempt. Nil
	// retries every error.
	Retryable func(error) bool
	// OnRetry, if set, runs before each wait with the failed attempt
	// number (1-based), its error and the upcoming wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// backoff returns the wait before attempt n+1, doubling from InitialWait
// and capped at MaxWait. Jitter spreads it over [0.5, 1.5) of the base.
func (o RetryOpts) backoff(n int) time.Duration {
	wait := o.InitialWait << (n - 1)
	if wait < o.InitialWait || (o.MaxWait > 0 && wait > o.MaxWait) {
		wait = o.MaxWait
	}
	if o.Jitter {
		wait = time.Duration(float64(wait) * (0.5 + rand.Float64()))
		if o.MaxWait > 0 && wait > o.MaxWait {
			wait = o.MaxWait
		}
	}
	return wait
}

// Retry calls f up to MaxAttempts times with exponential backoff. It stops
// early on a non-retryable error or when ctx is done.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	attempts := max(opts.MaxAttempts, 1)
	for n := 1; ; n++ {
		r := f(ctx)
		if r.IsOk() || n == attempts {
			return r
		}
		if opts.Retryable != nil && !opts.Retryable(r.err) {
			return r
		}

		wait := opts.backoff(n)
		if opts.OnRetry != nil {
			opts.OnRetry(n, r.err, wait)
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return Err[T](ctx.Err())
		case <-t.C:
		}
	}
}

// RetryStage wraps a Stage with retry logic.
func RetryStage[In, Out any](opts RetryOpts, stage Stage[In, Out]) Stage[In, Out] {
	return func(ctx context.Context, in In) Result[Out] {
		return Retry(ctx, opts, func(ctx context.Context) Result[Out] {
			return stage(ctx, in)
		})
	}
}
