package core

import (
	"context"
	"fmt"
	"time"
)

const (
	defaultRetryMaxAttempts    = 3
	defaultRetryInitialBackoff = 500 * time.Millisecond
	defaultRetryMaxBackoff     = 10 * time.Second
)

type BackoffScheduler interface {
	NextDelay(attempt int) time.Duration
}

type ExponentialBackoff struct {
	Initial time.Duration
	Max     time.Duration
}

func (s ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := s.Initial
	if initial <= 0 {
		initial = defaultRetryInitialBackoff
	}
	max := s.Max
	if max <= 0 {
		max = defaultRetryMaxBackoff
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

type RetryPolicy struct {
	MaxAttempts int
	Backoff     BackoffScheduler
	// Retryable overrides IsRetryable when set.
	Retryable func(err error) bool
	// OnRetry is called before sleeping ahead of the next attempt.
	OnRetry func(attempt int, delay time.Duration, err error)
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: defaultRetryMaxAttempts,
		Backoff: ExponentialBackoff{
			Initial: defaultRetryInitialBackoff,
			Max:     defaultRetryMaxBackoff,
		},
	}
}

// RetryExhaustedError is returned once every attempt failed. It unwraps to the
// last attempt's error.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("core: gave up after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// Retry calls fn until it succeeds, returns a non-retryable error, the
// attempt budget is spent, or ctx is done.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	if fn == nil {
		return zero, fmt.Errorf("core: retry function is required")
	}
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = defaultRetryMaxAttempts
	}
	backoff := policy.Backoff
	if backoff == nil {
		backoff = ExponentialBackoff{}
	}
	retryable := policy.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, &RetryExhaustedError{Attempts: attempt - 1, Err: lastErr}
			}
			return zero, err
		}
		value, err := fn(ctx, attempt)
		if err == nil {
			return value, nil
		}
		lastErr = err
		if !retryable(err) {
			return zero, err
		}
		if attempt == maxAttempts {
			break
		}
		delay := backoff.NextDelay(attempt)
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, delay, err)
		}
		if waitErr := WaitWithContext(ctx, delay); waitErr != nil {
			return zero, &RetryExhaustedError{Attempts: attempt, Err: lastErr}
		}
	}
	return zero, &RetryExhaustedError{Attempts: maxAttempts, Err: lastErr}
}

func WaitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
