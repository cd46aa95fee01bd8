package domain

import "time"

type StockStatus string

const (
	StatusReserved  StockStatus = "reserved"
	StatusConfirmed StockStatus = "confirmed"
	StatusReleased  StockStatus = "released"
)

// Terminal reports whether no further stock transition is allowed.
func (s StockStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusReleased
}

type CancelReason string

const (
	ReasonCancelled CancelReason = "cancelled"
	ReasonExpired   CancelReason = "expired"
)

func ParseCancelReason(s string) (CancelReason, bool) {
	switch CancelReason(s) {
	case ReasonCancelled, ReasonExpired:
		return CancelReason(s), true
	}
	return "", false
}

// Order carries only the stock-lifecycle fields owned by this engine.
// Items are immutable once the order is created.
type Order struct {
	ID                     string
	Items                  []OrderItem
	StockStatus            StockStatus
	StockReservedAt        time.Time
	StockReservationExpiry time.Time
	CancelReason           CancelReason
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

type OrderItem struct {
	ProductID string
	Name      string
	Quantity  int
}
