package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/orderflow/reservation-engine/internal/reservation/domain"
	"github.com/orderflow/reservation-engine/pkg/redislock"
)

// ReservationTTL is how long reserved stock is held before the reaper may
// reclaim it.
const ReservationTTL = 30 * time.Minute

// Engine drives the order stock state machine: reserved -> confirmed or
// reserved -> released, both terminal. Every transition takes the order's
// distributed lock first, then runs as one retried storage transaction.
type Engine struct {
	log   *slog.Logger
	store Store
	locks Locker
	now   func() time.Time
}

func NewEngine(log *slog.Logger, store Store, locks Locker) *Engine {
	return &Engine{
		log:   log,
		store: store,
		locks: locks,
		now:   time.Now,
	}
}

// Reserve holds stock for every line item of the order, or none at all.
// Returns the reservation expiry on success.
func (e *Engine) Reserve(ctx context.Context, orderID string) (time.Time, error) {
	key := redislock.OrderKey(orderID)
	ok, err := e.locks.Acquire(ctx, key, redislock.DefaultOrderTTL)
	if err != nil {
		return time.Time{}, fmt.Errorf("acquire order lock: %w", err)
	}
	if !ok {
		return time.Time{}, domain.ErrLockContention
	}
	defer func() {
		if err := e.locks.Release(ctx, key); err != nil {
			e.log.Error("release order lock failed", "order_id", orderID, "err", err)
		}
	}()

	var expiry time.Time
	err = e.store.InTx(ctx, func(tx Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.StockStatus != domain.StatusReserved || !order.StockReservedAt.IsZero() {
			return domain.ErrAlreadyProcessed
		}

		now := e.now().UTC()
		for _, item := range order.Items {
			product, err := tx.GetProduct(ctx, item.ProductID)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return fmt.Errorf("product %s: %w", item.Name, domain.ErrNotFound)
				}
				return err
			}
			if product.AvailableStock < item.Quantity {
				return &domain.InsufficientStockError{Product: item.Name, Available: product.AvailableStock}
			}
			ok, err := tx.ReserveStock(ctx, item.ProductID, item.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				// Lost to a concurrent writer between read and write.
				return &domain.InsufficientStockError{Product: item.Name, Available: product.AvailableStock}
			}
		}

		exp := now.Add(ReservationTTL)
		if err := tx.MarkReserved(ctx, orderID, now, exp); err != nil {
			return err
		}
		payload, err := json.Marshal(domain.StockReserved{OrderID: orderID, Expiry: exp})
		if err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, orderID, domain.EventStockReserved, payload); err != nil {
			return err
		}
		expiry = exp
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	e.log.Info("stock reserved", "order_id", orderID, "expiry", expiry)
	return expiry, nil
}

// Confirm permanently commits the reservation after a successful payment.
// Idempotent: confirming an already-confirmed order succeeds without
// touching the ledger, so at-least-once payment callbacks are safe.
func (e *Engine) Confirm(ctx context.Context, orderID string) error {
	key := redislock.OrderKey(orderID)
	ok, err := e.locks.Acquire(ctx, key, redislock.DefaultOrderTTL)
	if err != nil {
		return fmt.Errorf("acquire order lock: %w", err)
	}
	if !ok {
		return domain.ErrLockContention
	}
	defer func() {
		if err := e.locks.Release(ctx, key); err != nil {
			e.log.Error("release order lock failed", "order_id", orderID, "err", err)
		}
	}()

	return e.store.InTx(ctx, func(tx Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.StockStatus == domain.StatusConfirmed {
			return nil
		}
		if order.StockStatus == domain.StatusReleased {
			return fmt.Errorf("stock already released, cannot confirm: %w", domain.ErrInvalidTransition)
		}

		for _, item := range order.Items {
			product, err := tx.GetProduct(ctx, item.ProductID)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return fmt.Errorf("product %s: %w", item.Name, domain.ErrNotFound)
				}
				return err
			}
			if product.ReservedStock < item.Quantity {
				e.log.Error("reserved stock below order quantity",
					"order_id", orderID, "product_id", item.ProductID,
					"reserved", product.ReservedStock, "quantity", item.Quantity)
				return fmt.Errorf("product %s: %w", item.Name, domain.ErrInvariantViolation)
			}
			ok, err := tx.CommitSale(ctx, item.ProductID, item.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("product %s: %w", item.Name, domain.ErrInvariantViolation)
			}
		}

		if err := tx.MarkConfirmed(ctx, orderID); err != nil {
			return err
		}
		payload, err := json.Marshal(domain.StockConfirmed{OrderID: orderID})
		if err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, orderID, domain.EventStockConfirmed, payload); err != nil {
			return err
		}
		e.log.Info("stock confirmed", "order_id", orderID)
		return nil
	})
}

// Release returns reserved stock to availability on cancellation or expiry.
// Idempotent on an already-released order; rejected once confirmed.
func (e *Engine) Release(ctx context.Context, orderID string, reason domain.CancelReason) error {
	key := redislock.OrderKey(orderID)
	ok, err := e.locks.Acquire(ctx, key, redislock.DefaultOrderTTL)
	if err != nil {
		return fmt.Errorf("acquire order lock: %w", err)
	}
	if !ok {
		return domain.ErrLockContention
	}
	defer func() {
		if err := e.locks.Release(ctx, key); err != nil {
			e.log.Error("release order lock failed", "order_id", orderID, "err", err)
		}
	}()

	return e.releaseTx(ctx, orderID, reason)
}

// releaseTx is the lock-free release body, shared with the reaper which
// manages its own lock around the call.
func (e *Engine) releaseTx(ctx context.Context, orderID string, reason domain.CancelReason) error {
	return e.store.InTx(ctx, func(tx Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.StockStatus == domain.StatusReleased {
			return nil
		}
		if order.StockStatus == domain.StatusConfirmed {
			return fmt.Errorf("cannot release confirmed stock: %w", domain.ErrInvalidTransition)
		}

		for _, item := range order.Items {
			_, err := tx.GetProduct(ctx, item.ProductID)
			if errors.Is(err, domain.ErrNotFound) {
				// Deleted catalog entries cannot be restocked.
				continue
			}
			if err != nil {
				return err
			}
			if err := tx.UnreserveStock(ctx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}

		if err := tx.MarkReleased(ctx, orderID, reason); err != nil {
			return err
		}
		payload, err := json.Marshal(domain.StockReleased{OrderID: orderID, Reason: reason})
		if err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, orderID, domain.EventStockReleased, payload); err != nil {
			return err
		}
		e.log.Info("stock released", "order_id", orderID, "reason", reason)
		return nil
	})
}
