package runtime

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
	idspkg "github.com/drblury/taskflow/internal/runtime/ids"
	metadatapkg "github.com/drblury/taskflow/internal/runtime/metadata"
	"github.com/drblury/taskflow/internal/runtime/task"
)

// Producer emits task envelopes onto the configured transport.
type Producer interface {
	PublishTask(ctx context.Context, env task.Envelope, metadata metadatapkg.Metadata) (Receipt, error)
}

// Receipt identifies a published task.
type Receipt struct {
	ID            string
	Topic         string
	Kind          string
	CorrelationID string
}

// NewMessageFromEnvelope encodes env into a watermill message carrying a ULID
// id and the task_kind and correlation_id metadata. An existing correlation id
// in metadata is kept.
func NewMessageFromEnvelope(env task.Envelope, metadata metadatapkg.Metadata) (*message.Message, error) {
	if env.Kind() == "" {
		return nil, errspkg.ErrKindRequired
	}

	payload, err := task.Encode(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task payload: %w", err)
	}

	msg := message.NewMessage(idspkg.CreateULID(), payload)
	msg.Metadata = metadatapkg.ToWatermill(metadata)
	msg.Metadata.Set(metadatapkg.KeyTaskKind, env.Kind())
	if msg.Metadata.Get(metadatapkg.KeyCorrelationID) == "" {
		msg.Metadata.Set(metadatapkg.KeyCorrelationID, idspkg.NewCorrelationID())
	}
	return msg, nil
}

// PublishTask encodes env and publishes it to topic, returning the broker
// acknowledgment error if any.
func PublishTask(ctx context.Context, publisher message.Publisher, topic string, env task.Envelope, metadata metadatapkg.Metadata) (Receipt, error) {
	if publisher == nil {
		return Receipt{}, errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return Receipt{}, errspkg.ErrTopicRequired
	}

	msg, err := NewMessageFromEnvelope(env, metadata)
	if err != nil {
		return Receipt{}, err
	}

	if ctx != nil {
		msg.SetContext(ctx)
	}

	if err := publisher.Publish(topic, msg); err != nil {
		return Receipt{}, fmt.Errorf("publish %s task to %s: %w", env.Kind(), topic, err)
	}
	return Receipt{
		ID:            msg.UUID,
		Topic:         topic,
		Kind:          env.Kind(),
		CorrelationID: msg.Metadata.Get(metadatapkg.KeyCorrelationID),
	}, nil
}

// PublishTask publishes env to the configured task topic.
func (s *Service) PublishTask(ctx context.Context, env task.Envelope, metadata metadatapkg.Metadata) (Receipt, error) {
	if s == nil {
		return Receipt{}, errspkg.ErrServiceRequired
	}
	return PublishTask(ctx, s.transport.Publisher, s.Conf.KafkaTopic, env, metadata)
}

// PublishTaskTo publishes env to topic through the Service publisher.
func (s *Service) PublishTaskTo(ctx context.Context, topic string, env task.Envelope, metadata metadatapkg.Metadata) (Receipt, error) {
	if s == nil {
		return Receipt{}, errspkg.ErrServiceRequired
	}
	return PublishTask(ctx, s.transport.Publisher, topic, env, metadata)
}
