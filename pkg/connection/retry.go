package connection

import (
	"context"
	"errors"
	"time"

	"github.com/ravendevteam/betanet-go/pkg/fault"
)

// DefaultMaxAttempts makes a single attempt.
const DefaultMaxAttempts = 1

// ErrNoAttempts is returned when a Policy allows zero attempts.
var ErrNoAttempts = errors.New("retry policy allows no attempts")

// Policy controls how many times an attempt is made.
type Policy struct {
	// MaxAttempts is the total number of attempts (default: 1, no retry).
	MaxAttempts int

	// Backoff configures the delay between attempts.
	Backoff BackoffConfig

	// Retryable classifies errors (default: Retryable).
	Retryable func(error) bool

	// OnRetry is called before sleeping ahead of attempt number next.
	OnRetry func(next int, delay time.Duration, err error)
}

// Retryable reports whether err may succeed on a fresh attempt:
// connection and transport security failures.
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch fault.KindOf(err) {
	case fault.KindConnection, fault.KindTransportSecurity:
		return true
	default:
		return false
	}
}

// Retry runs fn until it succeeds, returns a non-retryable error, the
// attempts run out or ctx is done. attempt counts from 1. The last error is
// returned.
func Retry[T any](ctx context.Context, policy Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T

	maxAttempts := policy.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if maxAttempts < 0 {
		return zero, ErrNoAttempts
	}
	retryable := policy.Retryable
	if retryable == nil {
		retryable = Retryable
	}
	backoff := NewBackoffWithConfig(policy.Backoff)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := backoff.Next()
			if policy.OnRetry != nil {
				policy.OnRetry(attempt, delay, lastErr)
			}
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, lastErr
			case <-timer.C:
			}
		}

		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, fault.New(fault.KindConnection, "retry", err)
		}

		v, err := fn(ctx, attempt)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !retryable(err) {
			return zero, err
		}
	}
	return zero, lastErr
}
