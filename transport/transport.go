// Package transport defines the core interfaces and types for taskflow transports.
// Each transport implementation (kafka, kafkago, rabbitmq, ...) lives in its own
// sub-package and registers itself with the transport registry.
package transport

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// PositionFunc reports the partition and offset a transport attached to a
// received message. ok is false when the transport has no notion of either.
type PositionFunc func(msg *message.Message) (partition int32, offset int64, ok bool)

// Transport combines a publisher and subscriber pair produced by a builder.
// Position is optional; transports without partitioned logs leave it nil.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
	Position   PositionFunc
}

// Close closes the subscriber and then the publisher. Transports sharing one
// pub/sub value are closed once.
func (t Transport) Close() error {
	var firstErr error
	if t.Subscriber != nil {
		firstErr = t.Subscriber.Close()
	}
	if t.Publisher != nil && !samePubSub(t.Publisher, t.Subscriber) {
		if err := t.Publisher.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func samePubSub(pub message.Publisher, sub message.Subscriber) bool {
	if sub == nil {
		return false
	}
	other, ok := sub.(message.Publisher)
	return ok && other == pub
}

// Builder is the function signature for creating a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the configuration values needed by transports.
// Transports access only what they need without depending on the full
// config package.
type Config interface {
	// GetPubSubSystem returns the transport type name.
	GetPubSubSystem() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string
	GetKafkaClientID() string
	GetConsumerSessionTimeout() time.Duration
	GetConsumerAutoCommit() bool

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
