package transport

// Capabilities describes the features supported by a transport backend.
type Capabilities struct {
	// SupportsNativeDLQ indicates the transport has built-in dead letter routing.
	// When false, taskflow publishes failed tasks to a dead letter topic itself.
	SupportsNativeDLQ bool

	// SupportsOrdering indicates messages within a partition/stream are delivered in order.
	SupportsOrdering bool

	// SupportsTracing indicates the transport propagates tracing headers natively.
	SupportsTracing bool

	// SupportsAck indicates the transport supports explicit message acknowledgment.
	SupportsAck bool

	// SupportsNack indicates the transport supports negative acknowledgment (redelivery).
	SupportsNack bool

	// SupportsPartitioning indicates the transport shards topics into partitions.
	SupportsPartitioning bool

	// SupportsOffsets indicates the transport exposes per-partition offsets
	// and turns an ack into an offset commit.
	SupportsOffsets bool

	// SupportsTopicAdmin indicates topics can be provisioned through a cluster admin API.
	SupportsTopicAdmin bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64

	// Name is the human-readable name of the transport.
	Name string
}

// RequiresDLQEmulation returns true if failed tasks must be routed to a dead
// letter topic by the application.
func (c Capabilities) RequiresDLQEmulation() bool {
	return !c.SupportsNativeDLQ
}

// SupportsReliableDelivery returns true if the transport supports at-least-once
// delivery semantics (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// TracksOffsets returns true if committed positions can be reported per partition.
func (c Capabilities) TracksOffsets() bool {
	return c.SupportsPartitioning && c.SupportsOffsets
}

// Predefined capability sets for the built-in transports.
var (
	// ChannelCapabilities for the in-memory Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	// KafkaCapabilities for the sarama-backed Apache Kafka transport.
	KafkaCapabilities = Capabilities{
		Name:                 "kafka",
		SupportsOrdering:     true,
		SupportsTracing:      true,
		SupportsAck:          true,
		SupportsPartitioning: true,
		SupportsOffsets:      true,
		SupportsTopicAdmin:   true,
		MaxMessageSize:       1048576, // Default 1MB
	}

	// KafkaGoCapabilities for the kafka-go backed Apache Kafka transport.
	KafkaGoCapabilities = Capabilities{
		Name:                 "kafkago",
		SupportsOrdering:     true,
		SupportsAck:          true,
		SupportsNack:         true,
		SupportsPartitioning: true,
		SupportsOffsets:      true,
		SupportsTopicAdmin:   true,
		MaxMessageSize:       1048576, // Default 1MB
	}

	// RabbitMQCapabilities for the RabbitMQ/AMQP transport.
	RabbitMQCapabilities = Capabilities{
		Name:              "rabbitmq",
		SupportsNativeDLQ: true,
		SupportsOrdering:  true,
		SupportsTracing:   true,
		SupportsAck:       true,
		SupportsNack:      true,
	}

	// NATSCapabilities for the NATS Core transport.
	NATSCapabilities = Capabilities{
		Name:            "nats",
		SupportsTracing: true,
		MaxMessageSize:  1048576, // Default 1MB
	}
)

// GetCapabilities returns the capabilities for a transport by name.
// Returns a zero Capabilities struct if the transport is unknown.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
