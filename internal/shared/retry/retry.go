package retry

import (
	"context"
	"errors"
	"time"

	"docchat-backend/internal/shared/telemetry"
)

// ErrInvalidAttempts is returned when a policy allows no attempts.
var ErrInvalidAttempts = errors.New("retry: max attempts must be positive")

// Policy bounds an exponential backoff loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy is used for store and queue calls on the request path.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// Backoff returns the delay before the given retry (1-based), doubling from
// BaseDelay and capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

type stopError struct{ err error }

func (s stopError) Error() string { return s.err.Error() }
func (s stopError) Unwrap() error { return s.err }

// Stop marks err as not worth retrying. Do returns the wrapped error unchanged.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return stopError{err: err}
}

// Do runs op until it succeeds, returns a Stop error, the context ends, or
// attempts run out. The error from the last attempt is returned.
func Do(ctx context.Context, p Policy, name string, op func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		return ErrInvalidAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			if attempt > 1 {
				telemetry.Debug("retry.succeeded", map[string]any{"op": name, "attempt": attempt})
			}
			return nil
		}
		var stop stopError
		if errors.As(lastErr, &stop) {
			return stop.err
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		telemetry.Debug("retry.attempt_failed", map[string]any{
			"op":           name,
			"attempt":      attempt,
			"max_attempts": p.MaxAttempts,
			"error":        lastErr.Error(),
		})

		timer := time.NewTimer(p.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
