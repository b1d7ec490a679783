// Package retry provides a bounded retry combinator for calls whose
// responses must also pass validation.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidPayload marks a response that arrived but failed validation.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrExhausted is returned once every attempt has failed.
	ErrExhausted = errors.New("retries exhausted")
)

// Policy controls how Do retries.
type Policy struct {
	// MaxAttempts bounds the number of calls. Values below 1 mean one call.
	MaxAttempts int
	// Backoff is the pause between attempts.
	Backoff time.Duration
	// OnRetry, if set, observes each failed attempt before the pause.
	OnRetry func(attempt int, err error)
}

// Do calls op until it returns a value that validate accepts, the policy's
// attempts are spent, or ctx is done. A nil validate accepts everything.
//
// When attempts run out the error wraps ErrExhausted and the last failure.
// If that last failure was a validation rejection it also wraps
// ErrInvalidPayload, so callers can tell a bad response from a failed call.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error), validate func(T) error) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := op(ctx)
		if err == nil && validate != nil {
			if verr := validate(v); verr != nil {
				err = fmt.Errorf("%w: %w", ErrInvalidPayload, verr)
			}
		}
		if err == nil {
			return v, nil
		}
		last = err

		if attempt == attempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if p.Backoff > 0 {
			timer := time.NewTimer(p.Backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
	}

	return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, last)
}
