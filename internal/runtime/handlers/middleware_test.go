package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/drblury/taskflow/internal/runtime/task"
)

func TestRecovererConvertsPanic(t *testing.T) {
	h := Chain(HandlerFunc(func(context.Context, task.Envelope) error {
		panic("kaboom")
	}), Recoverer())

	err := h.Handle(context.Background(), task.MustNew("email", nil))
	require.Error(t, err)
	var pErr *PanicError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, "kaboom", pErr.Value)
	assert.NotEmpty(t, pErr.Stack)
}

func TestTimeoutBoundsHandler(t *testing.T) {
	h := Chain(HandlerFunc(func(ctx context.Context, _ task.Envelope) error {
		<-ctx.Done()
		return ctx.Err()
	}), Timeout(20*time.Millisecond))

	err := h.Handle(context.Background(), task.MustNew("email", nil))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	passthrough := HandlerFunc(noop)
	assert.NotNil(t, Timeout(0)(passthrough))
}

func TestTracingRecordsDispatchSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	boom := errors.New("boom")
	h := Chain(HandlerFunc(func(context.Context, task.Envelope) error { return boom }), Tracing(tp))

	ctx := ContextWithTaskInfo(context.Background(), TaskInfo{Topic: "tasks", Partition: 2, Offset: 17, Attempt: 1})
	require.ErrorIs(t, h.Handle(ctx, task.MustNew("sms", nil)), boom)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, DispatchSpanName, span.Name())
	assert.Equal(t, codes.Error, span.Status().Code)

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "sms", attrs["task.kind"].AsString())
	assert.Equal(t, "tasks", attrs["messaging.destination.name"].AsString())
	assert.Equal(t, int64(2), attrs["messaging.kafka.partition"].AsInt64())
	assert.Equal(t, int64(17), attrs["messaging.kafka.offset"].AsInt64())
}

func TestTaskInfoContext(t *testing.T) {
	_, ok := TaskInfoFromContext(context.Background())
	assert.False(t, ok)

	info := TaskInfo{Topic: "tasks", Metadata: map[string]string{"correlation_id": "c-1"}}
	got, ok := TaskInfoFromContext(ContextWithTaskInfo(context.Background(), info))
	require.True(t, ok)
	assert.Equal(t, "c-1", got.CorrelationID())
}

func TestHooksLifecycle(t *testing.T) {
	var started, done int
	var failed error
	hooks := TaskHooks{
		OnTaskStart: func(TaskContext) { started++ },
		OnTaskDone:  func(TaskContext) { done++ },
	}.Merge(AlertingHooks(func(_ TaskContext, err error) { failed = err }))

	ok := Chain(HandlerFunc(noop), Hooks(hooks))
	require.NoError(t, ok.Handle(context.Background(), task.MustNew("email", nil)))

	boom := errors.New("boom")
	bad := Chain(HandlerFunc(func(context.Context, task.Envelope) error { return boom }), Hooks(hooks))
	require.ErrorIs(t, bad.Handle(context.Background(), task.MustNew("email", nil)), boom)

	assert.Equal(t, 2, started)
	assert.Equal(t, 1, done)
	assert.Equal(t, boom, failed)
}

func TestHooksMergeKeepsOrder(t *testing.T) {
	var order []string
	merged := TaskHooks{OnTaskStart: func(TaskContext) { order = append(order, "a") }}.
		Merge(TaskHooks{OnTaskStart: func(TaskContext) { order = append(order, "b") }})
	merged.OnTaskStart(TaskContext{})
	assert.Equal(t, []string{"a", "b"}, order)
	assert.True(t, TaskHooks{}.IsZero())
	assert.True(t, TaskHooks{}.Merge(TaskHooks{}).IsZero())
}

func TestLoggingHooksDoNotPanic(t *testing.T) {
	hooks := LoggingHooks(discardLogger())
	h := Chain(HandlerFunc(func(context.Context, task.Envelope) error { return errors.New("x") }), Hooks(hooks))
	_ = h.Handle(context.Background(), task.MustNew("email", nil))
}
