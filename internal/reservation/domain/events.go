package domain

import "time"

// Outbox event types published on the stock topic.
const (
	EventStockReserved  = "StockReserved"
	EventStockConfirmed = "StockConfirmed"
	EventStockReleased  = "StockReleased"
)

type StockReserved struct {
	OrderID string
	Expiry  time.Time
}

type StockConfirmed struct {
	OrderID string
}

type StockReleased struct {
	OrderID string
	Reason  CancelReason
}
