// Package retry runs an operation again when it fails with a retryable error.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// Policy bounds how often and how patiently an operation is retried.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Clock paces the backoff; the real clock when nil.
	Clock   clockwork.Clock
	OnRetry func(attempt int, err error, backoff time.Duration)
}

// Retryable decides whether err is worth another attempt.
type Retryable func(err error) bool

// Do runs op until it succeeds, fails with a non-retryable error, exhausts
// MaxAttempts, or ctx is done. Non-retryable errors are returned unwrapped.
func Do[T any](ctx context.Context, p Policy, retryable Retryable, op func() (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := p.InitialBackoff
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	var zero T
	for attempt := 1; ; attempt++ {
		val, err := op()
		if err == nil {
			return val, nil
		}
		if !retryable(err) {
			return zero, err
		}
		if attempt == attempts {
			if attempts == 1 {
				return zero, err
			}
			return zero, fmt.Errorf("failed after %d attempts: %w", attempts, err)
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err, backoff)
		}

		timer := clock.NewTimer(backoff)
		select {
		case <-timer.Chan():
			backoff *= 2
			if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
				backoff = p.MaxBackoff
			}
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}
}
