package provider

import (
	"context"
	"time"
)

// RetryOptions configures the retry/backoff wrapper.
type RetryOptions struct {
	// MaxRetries is the number of retries after the first attempt; total
	// attempts made is MaxRetries+1. Zero means exactly one attempt.
	MaxRetries int
	// InitialBackoff is the base delay; backoff before retry k (k >= 1) is
	// InitialBackoff * 2^(k-1).
	InitialBackoff time.Duration
}

// Do runs attempt repeatedly under opts, acquiring a rate-limiter token
// immediately before each call (never before the backoff sleep). Retryable
// errors (per Error.Retryable) are retried up to opts.MaxRetries times;
// terminal errors return immediately. On exhaustion the last error is
// returned.
func Do(ctx context.Context, opts RetryOptions, limiter *RateLimiter, attempt func(ctx context.Context) (Response, error)) (Response, error) {
	var lastErr error
	totalAttempts := opts.MaxRetries + 1
	if totalAttempts < 1 {
		totalAttempts = 1
	}

	for k := 0; k < totalAttempts; k++ {
		if k > 0 {
			if err := sleepWithContext(ctx, backoffFor(opts.InitialBackoff, k, lastErr)); err != nil {
				return Response{}, err
			}
		}

		if err := limiter.Wait(ctx); err != nil {
			return Response{}, err
		}

		resp, err := attempt(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return Response{}, err
		}
	}

	return Response{}, lastErr
}

// backoffFor computes the delay before retry k (k >= 1 counted from the
// first retry). A RateLimitExceeded error with a server-supplied hint
// overrides the computed exponential delay.
func backoffFor(initial time.Duration, k int, lastErr error) time.Duration {
	if pe, ok := lastErr.(*Error); ok && pe.Kind == RateLimitExceeded && pe.RetryAfterSecs > 0 {
		return time.Duration(pe.RetryAfterSecs * float64(time.Second))
	}
	shift := k - 1
	if shift < 0 {
		shift = 0
	}
	return initial << shift
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
