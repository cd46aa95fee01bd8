package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrLockContention means another actor holds the order's lock. The
	// caller should treat the order as busy, not retry within the request.
	ErrLockContention = errors.New("order is being processed by another request")

	// ErrAlreadyProcessed rejects a Reserve on an order whose stock has
	// already been reserved, confirmed or released.
	ErrAlreadyProcessed = errors.New("order stock already processed")

	// ErrInvalidTransition rejects an operation incompatible with the
	// order's terminal stock state.
	ErrInvalidTransition = errors.New("invalid stock transition")

	// ErrInvariantViolation means the ledger counters no longer cover the
	// order being confirmed. Data corruption; never retried.
	ErrInvariantViolation = errors.New("stock invariant violation")

	ErrNotFound = errors.New("not found")
)

// InsufficientStockError is a business rejection surfaced to the end user.
type InsufficientStockError struct {
	Product   string
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("not enough stock for %s, available: %d", e.Product, e.Available)
}
