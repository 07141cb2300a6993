// Package kafka provides the sarama-backed Kafka transport for taskflow.
package kafka

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/taskflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "kafka"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register registers the Kafka transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.KafkaCapabilities)
}

// Build creates a new Kafka transport. The consumer group never auto-commits:
// acking a message marks and commits its offset synchronously.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	brokers := cfg.GetKafkaBrokers()

	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: PublisherSaramaConfig(cfg),
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           kafka.DefaultMarshaler{},
			ConsumerGroup:         cfg.GetKafkaConsumerGroup(),
			OverwriteSaramaConfig: SubscriberSaramaConfig(cfg),
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
		Position:   Position,
	}, nil
}

// SubscriberSaramaConfig returns the consumer group tuning derived from cfg.
func SubscriberSaramaConfig(cfg transport.Config) *sarama.Config {
	sc := kafka.DefaultSaramaSubscriberConfig()
	if id := cfg.GetKafkaClientID(); id != "" {
		sc.ClientID = id
	}
	sc.Consumer.Offsets.AutoCommit.Enable = cfg.GetConsumerAutoCommit()
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	sc.Consumer.Return.Errors = true
	if timeout := cfg.GetConsumerSessionTimeout(); timeout > 0 {
		sc.Consumer.Group.Session.Timeout = timeout
		sc.Consumer.Group.Heartbeat.Interval = heartbeatInterval(timeout)
	}
	return sc
}

// PublisherSaramaConfig returns the synchronous producer tuning derived from cfg.
func PublisherSaramaConfig(cfg transport.Config) *sarama.Config {
	pc := kafka.DefaultSaramaSyncPublisherConfig()
	if id := cfg.GetKafkaClientID(); id != "" {
		pc.ClientID = id
	}
	pc.Producer.RequiredAcks = sarama.WaitForAll
	return pc
}

// sarama rejects a heartbeat interval that is not below the session timeout.
func heartbeatInterval(session time.Duration) time.Duration {
	interval := session / 3
	if interval <= 0 {
		return session
	}
	return interval
}

// Position reads the partition and offset watermill-kafka stores in the
// message context.
func Position(msg *message.Message) (int32, int64, bool) {
	if msg == nil {
		return 0, 0, false
	}
	partition, ok := kafka.MessagePartitionFromCtx(msg.Context())
	if !ok {
		return 0, 0, false
	}
	offset, ok := kafka.MessagePartitionOffsetFromCtx(msg.Context())
	if !ok {
		return 0, 0, false
	}
	return partition, offset, true
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}
