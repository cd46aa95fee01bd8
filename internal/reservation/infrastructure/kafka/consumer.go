package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/orderflow/reservation-engine/internal/reservation/application"
	"github.com/orderflow/reservation-engine/internal/reservation/domain"
	"github.com/orderflow/reservation-engine/pkg/idempotency"
	"github.com/orderflow/reservation-engine/pkg/tracing"
)

// Payment event types this consumer reacts to.
const (
	eventPaymentProcessed = "PaymentProcessed"
	eventPaymentFailed    = "PaymentFailed"
)

// Consumer drives Confirm/Release from the payment service's event stream.
// Payment callbacks are at-least-once; duplicates are dropped via the
// idempotency store and the engine's own idempotent transitions.
type Consumer struct {
	log    *slog.Logger
	reader *kafka.Reader
	engine *application.Engine
	idem   *idempotency.Store
	tracer trace.Tracer
}

func NewConsumer(log *slog.Logger, brokers []string, topic, group string, engine *application.Engine, idem *idempotency.Store) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
	return &Consumer{
		log:    log,
		reader: r,
		engine: engine,
		idem:   idem,
		tracer: otel.Tracer("payment-consumer"),
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}
		c.handle(ctx, msg)
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.Error("commit failed", "err", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	key := c.idem.Key(msg.Topic, msg.Partition, msg.Offset)
	seen, err := c.idem.Seen(ctx, key)
	if err != nil {
		c.log.Error("idempotency check failed", "err", err)
		return
	}
	if seen {
		c.log.Info("duplicate message skipped", "key", key)
		return
	}

	msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
	msgCtx, span := c.tracer.Start(msgCtx, "ConsumePaymentEvent")
	defer span.End()

	var ev struct {
		OrderID string `json:"OrderID"`
	}
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.log.Error("unmarshal failed", "err", err)
		return
	}
	if ev.OrderID == "" {
		c.log.Error("payment event missing order id", "topic", msg.Topic, "offset", msg.Offset)
		return
	}

	switch eventType := headerValue(msg.Headers, "event_type"); eventType {
	case eventPaymentProcessed:
		err = c.engine.Confirm(msgCtx, ev.OrderID)
	case eventPaymentFailed:
		err = c.engine.Release(msgCtx, ev.OrderID, domain.ReasonCancelled)
	default:
		c.log.Info("ignoring payment event", "type", eventType, "order_id", ev.OrderID)
		return
	}

	switch {
	case err == nil:
		c.log.Info("payment event applied", "order_id", ev.OrderID)
	case errors.Is(err, domain.ErrLockContention):
		// Another actor owns the order right now; the payment service
		// republishes on its own schedule.
		c.log.Warn("order locked, payment event dropped", "order_id", ev.OrderID)
	default:
		c.log.Error("payment event failed", "order_id", ev.OrderID, "err", err)
	}
}

func headerValue(h []kafka.Header, key string) string {
	for _, hh := range h {
		if hh.Key == key {
			return string(hh.Value)
		}
	}
	return ""
}
