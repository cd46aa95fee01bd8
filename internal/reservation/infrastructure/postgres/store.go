package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orderflow/reservation-engine/internal/reservation/application"
	"github.com/orderflow/reservation-engine/internal/reservation/domain"
	"github.com/orderflow/reservation-engine/pkg/retry"
	"github.com/orderflow/reservation-engine/pkg/tracing"
)

// Store runs engine transactions on Postgres. Transactions use repeatable
// read so concurrent writers to the same product row surface as
// serialization failures, which InTx absorbs with bounded retry.
type Store struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	return &Store{log: log, pool: pool}
}

func (s *Store) InTx(ctx context.Context, fn func(tx application.Tx) error) error {
	return retry.Do(ctx, retry.DefaultAttempts, retry.DefaultBaseDelay, transient, func(ctx context.Context) error {
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
		if err != nil {
			return err
		}
		defer func() {
			_ = tx.Rollback(ctx)
		}()
		if err := fn(&storeTx{tx: tx}); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

func (s *Store) FindExpired(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM orders
		WHERE stock_status = 'reserved' AND stock_reservation_expiry < $1
		ORDER BY stock_reservation_expiry
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// transient reports whether err is a storage-level conflict expected to
// succeed if the whole transaction is rerun.
func transient(err error) bool {
	if errors.Is(err, pgx.ErrTxCommitRollback) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
			return true
		}
	}
	return false
}

type storeTx struct {
	tx pgx.Tx
}

func (t *storeTx) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	var (
		o            domain.Order
		reservedAt   *time.Time
		expiry       *time.Time
		cancelReason *string
	)
	err := t.tx.QueryRow(ctx, `
		SELECT id, stock_status, stock_reserved_at, stock_reservation_expiry, cancel_reason, created_at, updated_at
		FROM orders WHERE id=$1`, id).
		Scan(&o.ID, &o.StockStatus, &reservedAt, &expiry, &cancelReason, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Order{}, err
	}
	if reservedAt != nil {
		o.StockReservedAt = *reservedAt
	}
	if expiry != nil {
		o.StockReservationExpiry = *expiry
	}
	if cancelReason != nil {
		o.CancelReason = domain.CancelReason(*cancelReason)
	}

	rows, err := t.tx.Query(ctx, `SELECT product_id, name, quantity FROM order_items WHERE order_id=$1`, id)
	if err != nil {
		return domain.Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Quantity); err != nil {
			return domain.Order{}, err
		}
		o.Items = append(o.Items, item)
	}
	return o, rows.Err()
}

func (t *storeTx) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	var p domain.Product
	err := t.tx.QueryRow(ctx, `
		SELECT id, name, count_in_stock, available_stock, reserved_stock, num_sales, created_at, updated_at
		FROM products WHERE id=$1`, id).
		Scan(&p.ID, &p.Name, &p.CountInStock, &p.AvailableStock, &p.ReservedStock, &p.NumSales, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Product{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Product{}, err
	}
	return p, nil
}

func (t *storeTx) ReserveStock(ctx context.Context, productID string, qty int) (bool, error) {
	ct, err := t.tx.Exec(ctx, `
		UPDATE products
		SET available_stock = available_stock - $2,
		    reserved_stock  = reserved_stock + $2,
		    updated_at      = now()
		WHERE id = $1 AND available_stock >= $2`, productID, qty)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (t *storeTx) CommitSale(ctx context.Context, productID string, qty int) (bool, error) {
	ct, err := t.tx.Exec(ctx, `
		UPDATE products
		SET count_in_stock = count_in_stock - $2,
		    reserved_stock = reserved_stock - $2,
		    num_sales      = num_sales + $2,
		    updated_at     = now()
		WHERE id = $1 AND reserved_stock >= $2`, productID, qty)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (t *storeTx) UnreserveStock(ctx context.Context, productID string, qty int) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE products
		SET available_stock = available_stock + $2,
		    reserved_stock  = reserved_stock - $2,
		    updated_at      = now()
		WHERE id = $1`, productID, qty)
	return err
}

func (t *storeTx) MarkReserved(ctx context.Context, orderID string, reservedAt, expiry time.Time) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE orders
		SET stock_reserved_at=$2, stock_reservation_expiry=$3, stock_status='reserved', updated_at=now()
		WHERE id=$1`, orderID, reservedAt, expiry)
	return err
}

func (t *storeTx) MarkConfirmed(ctx context.Context, orderID string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE orders SET stock_status='confirmed', updated_at=now() WHERE id=$1`, orderID)
	return err
}

func (t *storeTx) MarkReleased(ctx context.Context, orderID string, reason domain.CancelReason) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE orders SET stock_status='released', cancel_reason=$2, updated_at=now() WHERE id=$1`, orderID, reason)
	return err
}

func (t *storeTx) AppendEvent(ctx context.Context, orderID, eventType string, payload []byte) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, headers, traceparent, status)
		VALUES ($1,$2,$3,$4,$5,$6,'pending')`,
		"stock", orderID, eventType, payload, map[string]string{"source": "reservation-service"}, tracing.Traceparent(ctx))
	return err
}
