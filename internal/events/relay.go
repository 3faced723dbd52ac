package events

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

const (
	EventsExchange       = "ecommerce.events"
	DeadLetterExchange   = "ecommerce.events.dlx"
	InventoryServiceName = "inventory-service"
	OrderServiceName     = "order-service"
	PaymentServiceName   = "payment-service"
)

// HandlerFunc processes one delivery. Returning an error asks the relay to
// redeliver; deliveries that keep failing end up dead-lettered.
type HandlerFunc func(ctx context.Context, body []byte) error

// Relay is a topic-addressed, at-least-once publish/subscribe channel.
type Relay interface {
	Publish(ctx context.Context, routingKey, partitionKey string, body []byte) error
	// Subscribe binds queue to routingKey and consumes it until ctx is done.
	Subscribe(ctx context.Context, queue, routingKey string, h HandlerFunc) error
	Close() error
}

// ServiceQueue names the queue one service consumes a routing key from.
func ServiceQueue(serviceName, routingKey string) string {
	return serviceName + "." + routingKey
}

func deadLetterQueue(queue string) string {
	return queue + ".dlq"
}

// BrokerSettings selects and configures the relay backend.
type BrokerSettings struct {
	Kind         string
	RabbitURL    string
	KafkaBrokers []string
}

// Open connects the relay backend named by settings.Kind.
func Open(settings BrokerSettings, logger *zap.Logger) (Relay, error) {
	switch settings.Kind {
	case "rabbitmq", "":
		conn, err := DialRabbit(settings.RabbitURL)
		if err != nil {
			return nil, err
		}
		relay, err := NewRabbitRelay(conn, logger)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		return relay, nil
	case "kafka":
		return NewKafkaRelay(settings.KafkaBrokers, logger), nil
	case "memory":
		return NewMemoryRelay(logger), nil
	default:
		return nil, fmt.Errorf("unknown event broker %q", settings.Kind)
	}
}
