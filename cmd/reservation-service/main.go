package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/orderflow/reservation-engine/internal/config"
	"github.com/orderflow/reservation-engine/internal/reservation/application"
	reshttp "github.com/orderflow/reservation-engine/internal/reservation/infrastructure/http"
	reskafka "github.com/orderflow/reservation-engine/internal/reservation/infrastructure/kafka"
	respg "github.com/orderflow/reservation-engine/internal/reservation/infrastructure/postgres"
	"github.com/orderflow/reservation-engine/pkg/idempotency"
	"github.com/orderflow/reservation-engine/pkg/logging"
	"github.com/orderflow/reservation-engine/pkg/outbox"
	"github.com/orderflow/reservation-engine/pkg/redislock"
	"github.com/orderflow/reservation-engine/pkg/shutdown"
	"github.com/orderflow/reservation-engine/pkg/tracing"
)

func main() {
	log := logging.New(slog.LevelInfo)

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", "err", err)
		os.Exit(1)
	}

	tp, err := tracing.Init(ctx, "reservation-service", cfg.OTLPEndpoint, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Error("pg connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := respg.Migrate(ctx, pool); err != nil {
		log.Error("migrate failed", "err", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	locks := redislock.New(rdb)
	idem := idempotency.NewStore(rdb, 10*time.Minute)

	store := respg.NewStore(log, pool)
	engine := application.NewEngine(log, store, locks)
	reaper := application.NewReaper(log, store, locks, engine)

	// Outbox relay publishes stock events staged by engine transactions.
	writer := reskafka.NewWriter([]string{cfg.KafkaAddr})
	defer writer.Close()
	dispatch := outbox.NewDispatcher(log, writer, cfg.StockTopic)
	relay := outbox.NewRelay(log, respg.NewOutboxStore(log, pool), dispatch, "reservation-relay-"+uuid.NewString())
	go func() {
		if err := relay.Run(ctx); err != nil {
			log.Error("relay stopped", "err", err)
		}
	}()

	// Payment events drive Confirm / Release.
	consumer := reskafka.NewConsumer(log, []string{cfg.KafkaAddr}, cfg.PaymentTopic, cfg.ConsumerGroup, engine, idem)
	go func() {
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("consumer stopped", "err", err)
			cancel()
		}
	}()

	handler := reshttp.NewHandler(log, engine, reaper, cfg.CronSecret)
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: handler.Routes(),
	}
	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info("reservation-service shutdown")
}
