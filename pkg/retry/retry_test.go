package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errConflict = errors.New("write conflict")

func isConflict(err error) bool { return errors.Is(err, errConflict) }

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, isConflict, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestDoRetriesTransientErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, isConflict, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errConflict
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDoPropagatesNonRetryableImmediately(t *testing.T) {
	boom := errors.New("business rejection")
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, isConflict, func(ctx context.Context) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, ErrExhausted)
	require.Equal(t, 1, calls)
}

func TestDoExhaustionWrapsLastError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, isConflict, func(ctx context.Context) error {
		calls++
		return errConflict
	})
	require.ErrorIs(t, err, ErrExhausted)
	require.ErrorIs(t, err, errConflict)
	require.Equal(t, 3, calls)
}

func TestDoStopsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, 5, time.Hour, isConflict, func(ctx context.Context) error {
		calls++
		cancel()
		return errConflict
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestDoTreatsZeroAttemptsAsOne(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 0, time.Millisecond, isConflict, func(ctx context.Context) error {
		calls++
		return errConflict
	})
	require.ErrorIs(t, err, ErrExhausted)
	require.Equal(t, 1, calls)
}
