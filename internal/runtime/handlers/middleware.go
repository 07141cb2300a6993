package handlers

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/taskflow/internal/runtime/task"
)

// DispatchSpanName is the span recorded around each handler call.
const DispatchSpanName = "taskflow.dispatch"

const tracerName = "github.com/drblury/taskflow"

// PanicError is returned by Recoverer when a handler panics.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("taskflow: handler panic: %v", e.Value)
}

// Recoverer converts handler panics into *PanicError failures.
func Recoverer() Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, env task.Envelope) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &PanicError{Value: r, Stack: string(debug.Stack())}
				}
			}()
			return next.Handle(ctx, env)
		})
	}
}

// Tracing wraps each handler call in a span. A nil provider uses the global one.
func Tracing(tp trace.TracerProvider) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, env task.Envelope) error {
			provider := tp
			if provider == nil {
				provider = otel.GetTracerProvider()
			}
			attrs := []attribute.KeyValue{attribute.String("task.kind", env.Kind())}
			if info, ok := TaskInfoFromContext(ctx); ok {
				attrs = append(attrs,
					attribute.String("messaging.destination.name", info.Topic),
					attribute.Int("messaging.kafka.partition", int(info.Partition)),
					attribute.Int64("messaging.kafka.offset", info.Offset),
					attribute.Int("task.attempt", info.Attempt),
				)
			}

			ctx, span := provider.Tracer(tracerName).Start(ctx, DispatchSpanName,
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(attrs...),
			)
			defer span.End()

			err := next.Handle(ctx, env)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return err
		})
	}
}

// Timeout bounds every handler call. Non-positive d disables it.
func Timeout(d time.Duration) Middleware {
	return func(next Handler) Handler {
		if d <= 0 {
			return next
		}
		return HandlerFunc(func(ctx context.Context, env task.Envelope) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next.Handle(ctx, env)
		})
	}
}
