// Package retry provides a bounded retry combinator for units of work that
// can fail with transient conflicts. Backoff is linear (attempt x base
// delay); contention windows here are sub-second, so exponential growth
// buys nothing.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted wraps the last transient error once all attempts are spent.
// Distinct from a business rejection: match with errors.Is.
var ErrExhausted = errors.New("retry attempts exhausted")

const (
	DefaultAttempts  = 3
	DefaultBaseDelay = 100 * time.Millisecond
)

// Do runs fn up to attempts times. An error for which retryable returns
// false propagates immediately; a retryable error is swallowed and fn is
// rerun after attempt*baseDelay. When attempts are exhausted the last
// error is returned wrapped in ErrExhausted.
func Do(ctx context.Context, attempts int, baseDelay time.Duration, retryable func(error) bool, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		last = err
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * baseDelay):
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, last)
}
