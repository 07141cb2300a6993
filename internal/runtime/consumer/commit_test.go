package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	kafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/taskflow/internal/runtime/handlers"
	"github.com/drblury/taskflow/internal/runtime/task"
	"github.com/drblury/taskflow/transport"
	"github.com/drblury/taskflow/transport/kafkago"
)

var errCoordinator = errors.New("coordinator not available")

func TestDeliveryCommitUsesTransportCommitter(t *testing.T) {
	src := NewSubscriberSource(&flakySubscriber{}, "tasks", nil)

	t.Run("returns committer error and still acks", func(t *testing.T) {
		msg := message.NewMessage("id", nil)
		msg.SetContext(transport.WithCommitter(context.Background(), func() error { return errCoordinator }))

		err := src.delivery(msg).Commit()

		assert.ErrorIs(t, err, errCoordinator)
		select {
		case <-msg.Acked():
		default:
			t.Fatal("message should be acked after a failed commit")
		}
	})

	t.Run("succeeds when committer accepts", func(t *testing.T) {
		calls := 0
		msg := message.NewMessage("id", nil)
		msg.SetContext(transport.WithCommitter(context.Background(), func() error {
			calls++
			return nil
		}))

		require.NoError(t, src.delivery(msg).Commit())
		assert.Equal(t, 1, calls)
	})
}

func TestBrokerCommitFailureIsCountedAndNotTracked(t *testing.T) {
	reader := &rejectingReader{feed: make(chan kafka.Message, 1)}
	original := kafkago.ReaderFactory
	t.Cleanup(func() { kafkago.ReaderFactory = original })
	kafkago.ReaderFactory = func(kafka.ReaderConfig) kafkago.Reader { return reader }

	sub := kafkago.NewSubscriber(kafkago.SubscriberConfig{GroupID: "task_group"}, watermill.NopLogger{})
	src := NewSubscriberSource(sub, "tasks", kafkago.Position)

	handled := make(chan struct{}, 1)
	reg := mustRegistry(t, handlers.Entry{
		Kind: "email",
		Handler: handlers.HandlerFunc(func(context.Context, task.Envelope) error {
			handled <- struct{}{}
			return nil
		}),
	})
	logger := newRecordingLogger()
	m, promReg := newTestMetrics(t)

	loop, err := New(src, reg, logger, Options{Metrics: m})
	require.NoError(t, err)
	cancel, done := startLoop(t, loop)

	reader.feed <- kafka.Message{Topic: "tasks", Partition: 0, Offset: 7, Value: []byte(`{"type":"email","payload":{"to":"a@b.com"}}`)}
	<-handled

	require.Eventually(t, func() bool {
		return metricValue(t, promReg, "taskflow_commit_errors_total", nil) == 1
	}, waitFor, tick)
	assert.Empty(t, loop.CommittedOffsets())
	assert.Len(t, logger.find("error", "Failed to commit message"), 1)

	cancel()
	require.NoError(t, waitRun(t, done))
}

type rejectingReader struct {
	feed chan kafka.Message

	mu      sync.Mutex
	commits int
}

func (r *rejectingReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case msg := <-r.feed:
		return msg, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *rejectingReader) CommitMessages(context.Context, ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commits++
	return errCoordinator
}

func (r *rejectingReader) Close() error { return nil }
