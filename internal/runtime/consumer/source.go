package consumer

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
	metadatapkg "github.com/drblury/taskflow/internal/runtime/metadata"
	"github.com/drblury/taskflow/transport"
)

// NoOffset marks deliveries from transports without log offsets.
const NoOffset int64 = -1

// Delivery is one pulled message together with the means to commit it.
type Delivery struct {
	Topic     string
	Partition int32
	Offset    int64
	UUID      string
	Payload   []byte
	Metadata  metadatapkg.Metadata

	commit func() error
}

// NewDelivery builds a Delivery whose Commit calls commit.
func NewDelivery(topic string, partition int32, offset int64, payload []byte, commit func() error) *Delivery {
	return &Delivery{
		Topic:     topic,
		Partition: partition,
		Offset:    offset,
		Payload:   payload,
		Metadata:  metadatapkg.Metadata{},
		commit:    commit,
	}
}

// Commit records the delivery as processed for the consumer group.
func (d *Delivery) Commit() error {
	if d.commit == nil {
		return nil
	}
	return d.commit()
}

// Source yields deliveries for a single topic.
//
// Subscribe joins the consumer group; Pull blocks until a delivery is ready
// or ctx ends; Close leaves the group and releases partition ownership.
type Source interface {
	Subscribe(ctx context.Context) error
	Pull(ctx context.Context) (*Delivery, error)
	Close() error
}

// PositionFunc extracts the partition and offset a transport attached to a
// message. ok is false when the transport has no such notion.
type PositionFunc func(msg *message.Message) (partition int32, offset int64, ok bool)

// SubscriberSource adapts a watermill Subscriber to Source. Committing a
// delivery runs the transport.Committer attached to the message, when the
// transport provides one, and then acks it. Transports without a committer
// turn the ack into an offset commit and report failures only in their logs.
type SubscriberSource struct {
	sub      message.Subscriber
	topic    string
	position PositionFunc

	mu       sync.Mutex
	subCtx   context.Context
	messages <-chan *message.Message
}

// NewSubscriberSource wraps sub. position may be nil.
func NewSubscriberSource(sub message.Subscriber, topic string, position PositionFunc) *SubscriberSource {
	return &SubscriberSource{sub: sub, topic: topic, position: position}
}

func (s *SubscriberSource) Subscribe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, err := s.sub.Subscribe(ctx, s.topic)
	if err != nil {
		return err
	}
	s.subCtx = ctx
	s.messages = ch
	return nil
}

func (s *SubscriberSource) Pull(ctx context.Context) (*Delivery, error) {
	messages, err := s.channel()
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-messages:
		if !ok {
			s.mu.Lock()
			if s.messages == messages {
				s.messages = nil
			}
			s.mu.Unlock()
			return nil, errspkg.ErrSubscriptionClosed
		}
		return s.delivery(msg), nil
	}
}

// channel returns the live message channel, resubscribing when the previous
// one was closed underneath us.
func (s *SubscriberSource) channel() (<-chan *message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.messages != nil {
		return s.messages, nil
	}
	if s.subCtx == nil {
		return nil, errspkg.ErrNotSubscribed
	}
	if err := s.subCtx.Err(); err != nil {
		return nil, err
	}
	ch, err := s.sub.Subscribe(s.subCtx, s.topic)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errspkg.ErrSubscribe, err)
	}
	s.messages = ch
	return ch, nil
}

func (s *SubscriberSource) delivery(msg *message.Message) *Delivery {
	partition, offset := int32(0), NoOffset
	if s.position != nil {
		if p, o, ok := s.position(msg); ok {
			partition, offset = p, o
		}
	}
	d := NewDelivery(s.topic, partition, offset, msg.Payload, func() error {
		var err error
		if commit, ok := transport.CommitterFrom(msg); ok {
			err = commit()
		}
		// Ack regardless so the transport moves on; a failed commit is
		// covered by the next successful one on the partition.
		if !msg.Ack() && err == nil {
			return errspkg.ErrCommitRejected
		}
		return err
	})
	d.UUID = msg.UUID
	d.Metadata = metadatapkg.FromWatermill(msg.Metadata)
	return d
}

func (s *SubscriberSource) Close() error {
	return s.sub.Close()
}
