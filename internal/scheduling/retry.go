package scheduling

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy controls how idempotent scheduler calls are retried.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryPolicy retries twice with a short exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     2,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     2.0,
	}
}

// withRetry runs fn until it succeeds, returns a non-retryable error or the
// policy is exhausted. The last error is returned unwrapped so callers can
// classify it.
func withRetry(ctx context.Context, policy RetryPolicy, onRetry func(attempt int, err error), fn func() error) error {
	backoff := policy.InitialBackoff
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w (retry cancelled: %v)", lastErr, err)
			}
			return err
		}

		lastErr = fn()
		if lastErr == nil || !retryable(lastErr) || attempt == policy.MaxRetries {
			return lastErr
		}
		if onRetry != nil {
			onRetry(attempt+1, lastErr)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * policy.Multiplier)
		if policy.MaxBackoff > 0 && backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}
	return lastErr
}
