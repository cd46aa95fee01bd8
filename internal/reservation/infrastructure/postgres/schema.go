package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate applies the engine's schema. The stock fields live on the
// existing product and order records; no separate storage format.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL,
			count_in_stock  INT NOT NULL DEFAULT 0 CHECK (count_in_stock >= 0),
			available_stock INT NOT NULL DEFAULT 0 CHECK (available_stock >= 0),
			reserved_stock  INT NOT NULL DEFAULT 0 CHECK (reserved_stock >= 0),
			num_sales       INT NOT NULL DEFAULT 0,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id                       TEXT PRIMARY KEY,
			stock_status             TEXT NOT NULL DEFAULT 'reserved',
			stock_reserved_at        TIMESTAMPTZ,
			stock_reservation_expiry TIMESTAMPTZ,
			cancel_reason            TEXT,
			created_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at               TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS order_items (
			order_id   TEXT NOT NULL REFERENCES orders(id),
			product_id TEXT NOT NULL,
			name       TEXT NOT NULL,
			quantity   INT NOT NULL CHECK (quantity > 0),
			PRIMARY KEY (order_id, product_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_expiry
			ON orders (stock_reservation_expiry)
			WHERE stock_status = 'reserved'`,
		`CREATE TABLE IF NOT EXISTS outbox (
			id             BIGSERIAL PRIMARY KEY,
			aggregate_type TEXT NOT NULL,
			aggregate_id   TEXT NOT NULL,
			type           TEXT NOT NULL,
			payload        JSONB NOT NULL,
			headers        JSONB,
			traceparent    TEXT,
			status         TEXT NOT NULL DEFAULT 'pending',
			relay_id       TEXT,
			lease_until    TIMESTAMPTZ,
			retry_count    INT NOT NULL DEFAULT 0,
			last_error     TEXT,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox (id) WHERE status = 'pending'`,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
