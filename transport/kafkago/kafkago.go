// Package kafkago provides a Kafka transport for taskflow built on
// segmentio/kafka-go instead of sarama. Offsets are committed synchronously
// through the transport.Committer attached to each message, or on ack.
package kafkago

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/drblury/taskflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "kafkago"

// UUIDHeaderKey carries the watermill message UUID. It matches the header
// written by the sarama transport so both can share a topic.
const UUIDHeaderKey = "_watermill_message_uuid"

const (
	defaultDialTimeout     = 10 * time.Second
	defaultNackResendSleep = 100 * time.Millisecond
	defaultFetchRetrySleep = time.Second
)

var (
	// ErrClosed is returned when publishing or subscribing after Close.
	ErrClosed = errors.New("kafkago: transport closed")
	// ErrNoBrokers is returned when no broker address is configured.
	ErrNoBrokers = errors.New("kafkago: at least one broker is required")
)

// Reader is the subset of *kafkago.Reader used by the subscriber.
type Reader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer is the subset of *kafkago.Writer used by the publisher.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// ReaderFactory allows overriding the reader creation for testing.
var ReaderFactory = func(cfg kafkago.ReaderConfig) Reader {
	return kafkago.NewReader(cfg)
}

// WriterFactory allows overriding the writer creation for testing.
var WriterFactory = func(brokers []string, clientID string) Writer {
	return &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		Transport:    &kafkago.Transport{ClientID: clientID},
	}
}

func init() {
	Register()
}

// Register registers the kafka-go transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.KafkaGoCapabilities)
}

// Build creates a new kafka-go transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	brokers := cfg.GetKafkaBrokers()
	if len(brokers) == 0 {
		return transport.Transport{}, ErrNoBrokers
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	publisher := NewPublisher(WriterFactory(brokers, cfg.GetKafkaClientID()))
	subscriber := NewSubscriber(SubscriberConfig{
		Brokers:        brokers,
		GroupID:        cfg.GetKafkaConsumerGroup(),
		ClientID:       cfg.GetKafkaClientID(),
		SessionTimeout: cfg.GetConsumerSessionTimeout(),
	}, logger)

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
		Position:   Position,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.KafkaGoCapabilities
}

type positionKey struct{}

type position struct {
	partition int32
	offset    int64
}

// Position reads the partition and offset the subscriber stored in the
// message context.
func Position(msg *message.Message) (int32, int64, bool) {
	if msg == nil {
		return 0, 0, false
	}
	pos, ok := msg.Context().Value(positionKey{}).(position)
	if !ok {
		return 0, 0, false
	}
	return pos.partition, pos.offset, true
}

// Publisher writes watermill messages through a kafka-go Writer.
type Publisher struct {
	writer Writer

	mu     sync.RWMutex
	closed bool
}

// NewPublisher wraps w.
func NewPublisher(w Writer) *Publisher {
	return &Publisher{writer: w}
}

// Publish writes messages to topic. The message UUID is the record key, so
// redelivered publishes of one task land on the same partition.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	records := make([]kafkago.Message, 0, len(messages))
	for _, msg := range messages {
		records = append(records, toRecord(topic, msg))
	}

	ctx := context.Background()
	if len(messages) > 0 && messages[0].Context() != nil {
		ctx = messages[0].Context()
	}
	if err := p.writer.WriteMessages(ctx, records...); err != nil {
		return fmt.Errorf("kafkago: write to %s: %w", topic, err)
	}
	return nil
}

// Close closes the underlying writer.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.writer.Close()
}

func toRecord(topic string, msg *message.Message) kafkago.Message {
	headers := make([]kafkago.Header, 0, len(msg.Metadata)+1)
	headers = append(headers, kafkago.Header{Key: UUIDHeaderKey, Value: []byte(msg.UUID)})
	for key, value := range msg.Metadata {
		headers = append(headers, kafkago.Header{Key: key, Value: []byte(value)})
	}
	return kafkago.Message{
		Topic:   topic,
		Key:     []byte(msg.UUID),
		Value:   msg.Payload,
		Headers: headers,
	}
}

func fromRecord(record kafkago.Message) *message.Message {
	uuid := ""
	metadata := make(message.Metadata, len(record.Headers))
	for _, header := range record.Headers {
		if header.Key == UUIDHeaderKey {
			uuid = string(header.Value)
			continue
		}
		metadata.Set(header.Key, string(header.Value))
	}
	if uuid == "" {
		uuid = fmt.Sprintf("%s-%d-%d", record.Topic, record.Partition, record.Offset)
	}
	msg := message.NewMessage(uuid, record.Value)
	msg.Metadata = metadata
	return msg
}

// SubscriberConfig configures the consumer group reader.
type SubscriberConfig struct {
	Brokers        []string
	GroupID        string
	ClientID       string
	SessionTimeout time.Duration

	// NackResendSleep is the pause before a nacked message is redelivered.
	NackResendSleep time.Duration
	// FetchRetrySleep is the pause after a failed fetch.
	FetchRetrySleep time.Duration
}

func (c SubscriberConfig) withDefaults() SubscriberConfig {
	if c.NackResendSleep <= 0 {
		c.NackResendSleep = defaultNackResendSleep
	}
	if c.FetchRetrySleep <= 0 {
		c.FetchRetrySleep = defaultFetchRetrySleep
	}
	return c
}

// ReaderConfig returns the kafka-go reader settings for topic. CommitInterval
// stays zero so CommitMessages blocks until the broker accepted the offset.
func (c SubscriberConfig) ReaderConfig(topic string) kafkago.ReaderConfig {
	rc := kafkago.ReaderConfig{
		Brokers:        c.Brokers,
		GroupID:        c.GroupID,
		Topic:          topic,
		CommitInterval: 0,
		StartOffset:    kafkago.FirstOffset,
		Dialer: &kafkago.Dialer{
			ClientID:  c.ClientID,
			Timeout:   defaultDialTimeout,
			DualStack: true,
		},
	}
	if c.SessionTimeout > 0 {
		rc.SessionTimeout = c.SessionTimeout
		rc.HeartbeatInterval = c.SessionTimeout / 3
	}
	return rc
}

// Subscriber consumes a topic through a kafka-go consumer group reader.
type Subscriber struct {
	config SubscriberConfig
	logger watermill.LoggerAdapter

	mu       sync.Mutex
	closed   bool
	closing  chan struct{}
	closeErr []error
	wg       sync.WaitGroup
}

// NewSubscriber creates a subscriber; a reader is opened per Subscribe call.
func NewSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) *Subscriber {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Subscriber{
		config:  cfg.withDefaults(),
		logger:  logger,
		closing: make(chan struct{}),
	}
}

// Subscribe opens a reader for topic. The returned channel is closed, and the
// reader released, when ctx is cancelled or the subscriber is closed.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	reader := ReaderFactory(s.config.ReaderConfig(topic))
	output := make(chan *message.Message)
	ctx, cancel := context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(reader)
		defer close(output)
		defer cancel()
		s.consume(ctx, topic, reader, output)
	}()
	go func() {
		select {
		case <-s.closing:
			cancel()
		case <-ctx.Done():
		}
	}()
	return output, nil
}

func (s *Subscriber) release(reader Reader) {
	if err := reader.Close(); err != nil {
		s.mu.Lock()
		s.closeErr = append(s.closeErr, err)
		s.mu.Unlock()
	}
}

func (s *Subscriber) consume(ctx context.Context, topic string, reader Reader, output chan<- *message.Message) {
	fields := watermill.LogFields{"topic": topic, "group": s.config.GroupID}
	for {
		record, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			s.logger.Error("Failed to fetch message", err, fields)
			if !sleep(ctx, s.config.FetchRetrySleep) {
				return
			}
			continue
		}
		if !s.deliver(ctx, reader, record, output) {
			return
		}
	}
}

// deliver hands record to output until it is acked, redelivering on nack.
// The offset is committed through the message's transport.Committer so the
// consumer sees broker failures; an ack without a prior Commit still commits.
func (s *Subscriber) deliver(ctx context.Context, reader Reader, record kafkago.Message, output chan<- *message.Message) bool {
	fields := watermill.LogFields{
		"topic":     record.Topic,
		"partition": record.Partition,
		"offset":    record.Offset,
	}
	var committed atomic.Bool
	commit := func() error {
		committed.Store(true)
		return reader.CommitMessages(ctx, record)
	}

	for {
		msg := fromRecord(record)
		msgCtx := context.WithValue(ctx, positionKey{}, position{
			partition: int32(record.Partition),
			offset:    record.Offset,
		})
		msg.SetContext(transport.WithCommitter(msgCtx, commit))

		select {
		case output <- msg:
		case <-ctx.Done():
			return false
		}

		select {
		case <-msg.Acked():
			if !committed.Load() {
				if err := commit(); err != nil {
					s.logger.Error("Failed to commit offset", err, fields)
				}
			}
			return true
		case <-msg.Nacked():
			s.logger.Trace("Message nacked, redelivering", fields)
			if !sleep(ctx, s.config.NackResendSleep) {
				return false
			}
		case <-ctx.Done():
			return false
		}
	}
}

// Close stops every subscription and waits for their readers to close.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closing)
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.closeErr...)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
