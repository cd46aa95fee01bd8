package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTerminalStates(t *testing.T) {
	require.False(t, StatusReserved.Terminal())
	require.True(t, StatusConfirmed.Terminal())
	require.True(t, StatusReleased.Terminal())
}

func TestParseCancelReason(t *testing.T) {
	reason, ok := ParseCancelReason("cancelled")
	require.True(t, ok)
	require.Equal(t, ReasonCancelled, reason)

	reason, ok = ParseCancelReason("expired")
	require.True(t, ok)
	require.Equal(t, ReasonExpired, reason)

	_, ok = ParseCancelReason("whatever")
	require.False(t, ok)
}

func TestInsufficientStockErrorMatchesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("reserve: %w", &InsufficientStockError{Product: "Widget", Available: 3})

	var insufficient *InsufficientStockError
	require.True(t, errors.As(err, &insufficient))
	require.Equal(t, "Widget", insufficient.Product)
	require.Equal(t, 3, insufficient.Available)
	require.Contains(t, err.Error(), "available: 3")
}
