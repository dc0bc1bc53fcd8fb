package mq

import (
	"context"
	"fmt"

	"github.com/roomhub/apiserver/config"
)

// Message is a broker-agnostic payload delivered to subscribers.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes a message. Return an error to nack it for redelivery.
type Handler func(ctx context.Context, msg Message) error

// Backend is implemented by every broker the events fan out to.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// New connects to the broker named by EVENTS_BROKER. It returns nil when no
// broker is configured.
func New(ctx context.Context, cfg config.Config) (Backend, error) {
	switch cfg.Events.Broker {
	case "", "none":
		return nil, nil
	case "rabbitmq":
		return NewRabbitMQClient(cfg.RabbitMQ)
	case "pubsub":
		return NewPubSubClient(ctx, cfg.PubSub)
	default:
		return nil, fmt.Errorf("unsupported event broker %q", cfg.Events.Broker)
	}
}
