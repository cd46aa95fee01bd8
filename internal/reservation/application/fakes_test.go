package application

import (
	"context"
	"sync"
	"time"

	"github.com/orderflow/reservation-engine/internal/reservation/domain"
)

// memLocker mimics the SetNX-with-TTL lock: acquire fails while held, TTL
// is ignored because tests release explicitly.
type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocker() *memLocker {
	return &memLocker{held: map[string]bool{}}
}

func (l *memLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *memLocker) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

func (l *memLocker) holds(key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[key], nil
}

type memEvent struct {
	OrderID string
	Type    string
	Payload []byte
}

// memStore is an in-memory Store with transactional rollback: a failing
// unit of work leaves orders, products and events exactly as they were.
type memStore struct {
	mu       sync.Mutex
	orders   map[string]domain.Order
	products map[string]domain.Product
	events   []memEvent

	// gate, when set, blocks every InTx call until the channel closes.
	gate chan struct{}
}

func newMemStore() *memStore {
	return &memStore{
		orders:   map[string]domain.Order{},
		products: map[string]domain.Product{},
	}
}

func (s *memStore) putOrder(o domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
}

func (s *memStore) putProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *memStore) order(id string) domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[id]
}

func (s *memStore) product(id string) domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id]
}

func (s *memStore) eventTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		types = append(types, ev.Type)
	}
	return types
}

func (s *memStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapOrders := make(map[string]domain.Order, len(s.orders))
	for k, v := range s.orders {
		snapOrders[k] = v
	}
	snapProducts := make(map[string]domain.Product, len(s.products))
	for k, v := range s.products {
		snapProducts[k] = v
	}
	snapEvents := len(s.events)

	if err := fn(&memTx{s: s}); err != nil {
		s.orders = snapOrders
		s.products = snapProducts
		s.events = s.events[:snapEvents]
		return err
	}
	return nil
}

func (s *memStore) FindExpired(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, o := range s.orders {
		if o.StockStatus == domain.StatusReserved &&
			!o.StockReservationExpiry.IsZero() &&
			o.StockReservationExpiry.Before(cutoff) {
			ids = append(ids, id)
			if len(ids) == limit {
				break
			}
		}
	}
	return ids, nil
}

type memTx struct {
	s *memStore
}

func (t *memTx) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	o, ok := t.s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (t *memTx) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	p, ok := t.s.products[id]
	if !ok {
		return domain.Product{}, domain.ErrNotFound
	}
	return p, nil
}

func (t *memTx) ReserveStock(ctx context.Context, productID string, qty int) (bool, error) {
	p, ok := t.s.products[productID]
	if !ok || p.AvailableStock < qty {
		return false, nil
	}
	p.AvailableStock -= qty
	p.ReservedStock += qty
	t.s.products[productID] = p
	return true, nil
}

func (t *memTx) CommitSale(ctx context.Context, productID string, qty int) (bool, error) {
	p, ok := t.s.products[productID]
	if !ok || p.ReservedStock < qty {
		return false, nil
	}
	p.CountInStock -= qty
	p.ReservedStock -= qty
	p.NumSales += qty
	t.s.products[productID] = p
	return true, nil
}

func (t *memTx) UnreserveStock(ctx context.Context, productID string, qty int) error {
	p, ok := t.s.products[productID]
	if !ok {
		return nil
	}
	p.AvailableStock += qty
	p.ReservedStock -= qty
	t.s.products[productID] = p
	return nil
}

func (t *memTx) MarkReserved(ctx context.Context, orderID string, reservedAt, expiry time.Time) error {
	o := t.s.orders[orderID]
	o.StockStatus = domain.StatusReserved
	o.StockReservedAt = reservedAt
	o.StockReservationExpiry = expiry
	t.s.orders[orderID] = o
	return nil
}

func (t *memTx) MarkConfirmed(ctx context.Context, orderID string) error {
	o := t.s.orders[orderID]
	o.StockStatus = domain.StatusConfirmed
	t.s.orders[orderID] = o
	return nil
}

func (t *memTx) MarkReleased(ctx context.Context, orderID string, reason domain.CancelReason) error {
	o := t.s.orders[orderID]
	o.StockStatus = domain.StatusReleased
	o.CancelReason = reason
	t.s.orders[orderID] = o
	return nil
}

func (t *memTx) AppendEvent(ctx context.Context, orderID, eventType string, payload []byte) error {
	t.s.events = append(t.s.events, memEvent{OrderID: orderID, Type: eventType, Payload: payload})
	return nil
}
