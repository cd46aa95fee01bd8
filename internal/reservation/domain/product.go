package domain

import "time"

// Product ledger counters. AvailableStock + ReservedStock never exceeds
// CountInStock while a reservation is pending; a confirmed sale shrinks
// CountInStock itself.
type Product struct {
	ID             string
	Name           string
	CountInStock   int
	AvailableStock int
	ReservedStock  int
	NumSales       int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
