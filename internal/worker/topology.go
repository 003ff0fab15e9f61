package worker

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/flicky/storefront-api/internal/events"
)

const (
	cacheQueueName = "storefront.cache-invalidation"
	dlxExchange    = "storefront.dlx"
	dlqQueueName   = "storefront.cache-invalidation.dlq"
)

var cacheQueueBindings = []string{"order.*", "product.*"}

// SetupRabbitMQ declares the event exchange, the cache invalidation queue and
// its dead-letter exchange and queue.
func SetupRabbitMQ(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(events.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare events exchange: %w", err)
	}
	if err := ch.ExchangeDeclare(dlxExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare DLX: %w", err)
	}
	if _, err := ch.QueueDeclare(dlqQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare DLQ: %w", err)
	}
	if err := ch.QueueBind(dlqQueueName, cacheQueueName, dlxExchange, false, nil); err != nil {
		return fmt.Errorf("bind DLQ: %w", err)
	}
	if _, err := ch.QueueDeclare(cacheQueueName, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    dlxExchange,
		"x-dead-letter-routing-key": cacheQueueName,
	}); err != nil {
		return fmt.Errorf("declare cache queue: %w", err)
	}
	for _, key := range cacheQueueBindings {
		if err := ch.QueueBind(cacheQueueName, key, events.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind cache queue %s: %w", key, err)
		}
	}
	if err := ch.Qos(10, 0, false); err != nil {
		return fmt.Errorf("set QoS: %w", err)
	}
	return nil
}
