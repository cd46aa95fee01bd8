package application

import (
	"context"
	"time"

	"github.com/orderflow/reservation-engine/internal/reservation/domain"
)

// Store opens a transaction around a unit of work. InTx absorbs transient
// write conflicts by rerunning fn; any other error aborts and propagates.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	FindExpired(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

// Tx is the set of reads and compare-and-increment writes available inside
// one storage transaction. Ledger counters are only ever adjusted through
// these operations, never via blind overwrite.
type Tx interface {
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	GetProduct(ctx context.Context, id string) (domain.Product, error)

	// ReserveStock moves qty from available to reserved. Returns false when
	// available_stock < qty (precondition failed, nothing written).
	ReserveStock(ctx context.Context, productID string, qty int) (bool, error)
	// CommitSale permanently sells qty reserved units. Returns false when
	// reserved_stock < qty.
	CommitSale(ctx context.Context, productID string, qty int) (bool, error)
	// UnreserveStock returns qty units to availability. No precondition.
	UnreserveStock(ctx context.Context, productID string, qty int) error

	MarkReserved(ctx context.Context, orderID string, reservedAt, expiry time.Time) error
	MarkConfirmed(ctx context.Context, orderID string) error
	MarkReleased(ctx context.Context, orderID string, reason domain.CancelReason) error

	// AppendEvent stages an outbox event in the same transaction.
	AppendEvent(ctx context.Context, orderID, eventType string, payload []byte) error
}

// Locker is the distributed mutual-exclusion primitive keyed per order.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}
