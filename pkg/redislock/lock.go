// Package redislock implements a time-bounded mutual-exclusion lock on top
// of Redis SET NX with expiry. A stale lock self-expires via its TTL, so a
// crashed holder never deadlocks the system.
package redislock

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Scope string

const (
	ScopeOrder   Scope = "order"
	ScopeUser    Scope = "user"
	ScopeProduct Scope = "product"
)

// DefaultOrderTTL bounds how long a Reserve/Confirm/Release holder may keep
// an order locked before the lock self-expires.
const DefaultOrderTTL = 20 * time.Second

func Key(scope Scope, id string) string {
	return "lock:" + string(scope) + ":" + id
}

func OrderKey(orderID string) string { return Key(ScopeOrder, orderID) }

type Lock struct {
	rdb redis.Cmdable
}

func New(rdb redis.Cmdable) *Lock {
	return &Lock{rdb: rdb}
}

// Acquire returns true iff the caller obtained exclusive ownership of key.
// A false return means another actor holds the lock; callers must abort
// without side effects rather than block and wait.
func (l *Lock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.rdb.SetNX(ctx, key, "1", ttl).Result()
}

// Release deletes the lock. Safe to call on a key that already expired.
func (l *Lock) Release(ctx context.Context, key string) error {
	return l.rdb.Del(ctx, key).Err()
}
