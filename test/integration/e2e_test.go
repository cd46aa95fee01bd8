package integration

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/orderflow/reservation-engine/internal/reservation/application"
	"github.com/orderflow/reservation-engine/internal/reservation/domain"
	respg "github.com/orderflow/reservation-engine/internal/reservation/infrastructure/postgres"
	"github.com/orderflow/reservation-engine/pkg/outbox"
	"github.com/orderflow/reservation-engine/pkg/redislock"
)

// TestReservationLifecycleEndToEnd drives the engine against real Postgres,
// Redis and Kafka: reserve then confirm an order and watch the outbox relay
// publish both transitions to the stock topic.
func TestReservationLifecycleEndToEnd(t *testing.T) {
	if os.Getenv("INTEGRATION") == "" {
		t.Skip("set INTEGRATION=1 to run container-backed tests")
	}

	ctx := context.Background()
	env, err := Setup(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { env.Teardown(ctx) })

	log := slog.New(slog.DiscardHandler)

	pool, err := pgxpool.New(ctx, env.PGURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, respg.Migrate(ctx, pool))

	_, err = pool.Exec(ctx, `
		INSERT INTO products (id, name, count_in_stock, available_stock, reserved_stock)
		VALUES ('p1', 'Widget', 10, 10, 0)`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO orders (id) VALUES ('o1')`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `
		INSERT INTO order_items (order_id, product_id, name, quantity)
		VALUES ('o1', 'p1', 'Widget', 4)`)
	require.NoError(t, err)

	rdb := goredis.NewClient(&goredis.Options{Addr: env.RedisAddr})
	t.Cleanup(func() { _ = rdb.Close() })

	store := respg.NewStore(log, pool)
	engine := application.NewEngine(log, store, redislock.New(rdb))

	const topic = "stock.events"
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(env.KAddr...),
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	t.Cleanup(func() { _ = writer.Close() })

	relayCtx, stopRelay := context.WithCancel(ctx)
	t.Cleanup(stopRelay)
	relay := outbox.NewRelay(log, respg.NewOutboxStore(log, pool), outbox.NewDispatcher(log, writer, topic), "e2e-relay")
	go func() { _ = relay.Run(relayCtx) }()

	expiry, err := engine.Reserve(ctx, "o1")
	require.NoError(t, err)
	require.True(t, expiry.After(time.Now()))

	require.NoError(t, engine.Confirm(ctx, "o1"))

	var count, available, reserved, sales int
	err = pool.QueryRow(ctx, `
		SELECT count_in_stock, available_stock, reserved_stock, num_sales
		FROM products WHERE id='p1'`).Scan(&count, &available, &reserved, &sales)
	require.NoError(t, err)
	require.Equal(t, 6, count)
	require.Equal(t, 6, available)
	require.Equal(t, 0, reserved)
	require.Equal(t, 4, sales)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     env.KAddr,
		Topic:       topic,
		GroupID:     "e2e-check",
		StartOffset: kafka.FirstOffset,
	})
	t.Cleanup(func() { _ = reader.Close() })

	var types []string
	readCtx, cancelRead := context.WithTimeout(ctx, time.Minute)
	defer cancelRead()
	for len(types) < 2 {
		msg, err := reader.ReadMessage(readCtx)
		require.NoError(t, err)
		require.Equal(t, "o1", string(msg.Key))

		var payload struct {
			OrderID string
		}
		require.NoError(t, json.Unmarshal(msg.Value, &payload))
		require.Equal(t, "o1", payload.OrderID)

		for _, h := range msg.Headers {
			if h.Key == "event_type" {
				types = append(types, string(h.Value))
			}
		}
	}
	require.Equal(t, []string{domain.EventStockReserved, domain.EventStockConfirmed}, types)
}
