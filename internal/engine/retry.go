package engine

import (
	"context"
	"errors"
	"time"
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error that must not be retried
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Attempt calls fn up to times times until it succeeds. Between attempts it
// waits delay*attempt. It returns the number of attempts made and, on failure,
// the last error. A Permanent error stops the loop at once.
func Attempt[T any](ctx context.Context, times int, delay time.Duration, fn func(ctx context.Context, attempt int) (T, error)) (T, int, error) {
	var zero T
	if times < 1 {
		times = 1
	}

	var lastErr error
	for attempt := 1; attempt <= times; attempt++ {
		if attempt > 1 && delay > 0 {
			select {
			case <-ctx.Done():
				return zero, attempt - 1, errors.Join(lastErr, ctx.Err())
			case <-time.After(delay * time.Duration(attempt-1)):
			}
		}

		result, err := fn(ctx, attempt)
		if err == nil {
			return result, attempt, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, attempt, perm.err
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, attempt, errors.Join(lastErr, ctx.Err())
		}
	}
	return zero, times, lastErr
}
