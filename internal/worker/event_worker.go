package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flicky/storefront-api/internal/events"
)

var tracer = otel.Tracer("storefront/worker")

// CacheInvalidator drops cached product reads.
type CacheInvalidator interface {
	InvalidateCache(ctx context.Context, ids ...uuid.UUID)
}

// EventWorker consumes storefront events and evicts the product cache entries
// whose stock they changed.
type EventWorker struct {
	channel     *amqp.Channel
	cache       CacheInvalidator
	idempotency IdempotencyStore
	ttl         time.Duration
	log         *slog.Logger
	done        chan struct{}
	wg          sync.WaitGroup
}

func NewEventWorker(
	ch *amqp.Channel,
	cache CacheInvalidator,
	idempotency IdempotencyStore,
	ttl time.Duration,
	log *slog.Logger,
) *EventWorker {
	return &EventWorker{
		channel:     ch,
		cache:       cache,
		idempotency: idempotency,
		ttl:         ttl,
		log:         log,
		done:        make(chan struct{}),
	}
}

func (w *EventWorker) Start(ctx context.Context) error {
	msgs, err := w.channel.Consume(cacheQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				w.processMessage(ctx, msg)
			case <-w.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	w.log.Info("event worker started", "queue", cacheQueueName)
	return nil
}

// Stop ends consumption and waits for the in-flight message.
func (w *EventWorker) Stop() {
	close(w.done)
	w.wg.Wait()
}

func (w *EventWorker) processMessage(ctx context.Context, msg amqp.Delivery) {
	ctx = otel.GetTextMapPropagator().Extract(ctx, events.TableCarrier(msg.Headers))
	ctx, span := tracer.Start(ctx, "process "+msg.RoutingKey,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("messaging.message.id", msg.MessageId)),
	)
	defer span.End()

	var event events.Event
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		w.log.Error("unmarshal event", "error", err)
		_ = msg.Nack(false, false)
		return
	}

	log := w.log.With("event_id", event.ID, "event_type", event.Type)
	if event.OrderID != uuid.Nil {
		log = log.With("order_id", event.OrderID)
	}

	key := "event_processed:" + event.ID.String()
	seen, err := w.idempotency.Seen(ctx, key)
	if err != nil {
		log.Error("check idempotency key", "error", err)
		_ = msg.Nack(false, true)
		return
	}
	if seen {
		log.Info("event already processed, skipping")
		_ = msg.Ack(false)
		return
	}

	ids := event.ProductIDs()
	w.cache.InvalidateCache(ctx, ids...)

	if err := w.idempotency.Mark(ctx, key, w.ttl); err != nil {
		log.Error("set idempotency key", "error", err)
	}

	_ = msg.Ack(false)
	log.Info("event processed", "products", len(ids))
}
