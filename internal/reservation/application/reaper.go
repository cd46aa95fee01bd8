package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/orderflow/reservation-engine/internal/reservation/domain"
	"github.com/orderflow/reservation-engine/pkg/redislock"
)

// reaperLockTTL is deliberately short: the reaper only needs the lock for
// one release transaction, and a skipped order is retried next sweep.
const reaperLockTTL = 15 * time.Second

const DefaultReapBatchSize = 50

type ReapResult struct {
	OrderID string `json:"orderId"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type ReapSummary struct {
	Processed int          `json:"processed"`
	Results   []ReapResult `json:"results"`
}

// Reaper finds orders whose reservation expired and drives them through
// the release path. One order's failure never aborts the batch.
type Reaper struct {
	log    *slog.Logger
	store  Store
	locks  Locker
	engine *Engine
	now    func() time.Time
}

func NewReaper(log *slog.Logger, store Store, locks Locker, engine *Engine) *Reaper {
	return &Reaper{
		log:    log,
		store:  store,
		locks:  locks,
		engine: engine,
		now:    time.Now,
	}
}

// ReleaseExpired scans up to batchSize expired reservations and releases
// each one, skipping orders currently locked by a concurrent actor.
func (r *Reaper) ReleaseExpired(ctx context.Context, batchSize int) (ReapSummary, error) {
	if batchSize <= 0 {
		batchSize = DefaultReapBatchSize
	}
	ids, err := r.store.FindExpired(ctx, r.now().UTC(), batchSize)
	if err != nil {
		return ReapSummary{}, err
	}

	summary := ReapSummary{Results: make([]ReapResult, 0, len(ids))}
	for _, orderID := range ids {
		summary.Results = append(summary.Results, r.reapOne(ctx, orderID))
	}
	summary.Processed = len(summary.Results)
	return summary, nil
}

func (r *Reaper) reapOne(ctx context.Context, orderID string) ReapResult {
	key := redislock.OrderKey(orderID)
	locked, err := r.locks.Acquire(ctx, key, reaperLockTTL)
	if err != nil {
		r.log.Error("reaper lock acquire failed", "order_id", orderID, "err", err)
		return ReapResult{OrderID: orderID, Success: false, Message: err.Error()}
	}
	if !locked {
		// A Confirm or Release is in flight for this order.
		return ReapResult{OrderID: orderID, Success: false, Message: "skipped (locked)"}
	}
	defer func() {
		if err := r.locks.Release(ctx, key); err != nil {
			r.log.Error("reaper lock release failed", "order_id", orderID, "err", err)
		}
	}()

	if err := r.engine.releaseTx(ctx, orderID, domain.ReasonExpired); err != nil {
		r.log.Error("reaper release failed", "order_id", orderID, "err", err)
		return ReapResult{OrderID: orderID, Success: false, Message: err.Error()}
	}
	r.log.Info("expired reservation released", "order_id", orderID)
	return ReapResult{OrderID: orderID, Success: true}
}
