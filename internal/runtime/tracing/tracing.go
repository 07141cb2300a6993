// Package tracing installs the OpenTelemetry tracer provider used by workers.
package tracing

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// ShutdownFunc flushes and stops a tracer provider.
type ShutdownFunc func(context.Context) error

// Setup builds a tracer provider exporting spans to w as JSON, installs it
// globally and returns it with its shutdown function.
func Setup(serviceName string, w io.Writer) (*sdktrace.TracerProvider, ShutdownFunc, error) {
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(w),
		stdouttrace.WithoutTimestamps(),
	)
	if err != nil {
		return nil, nil, err
	}

	tp := NewProvider(serviceName, sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return tp, tp.Shutdown, nil
}

// NewProvider returns a tracer provider tagged with serviceName.
func NewProvider(serviceName string, opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	)
	return sdktrace.NewTracerProvider(append([]sdktrace.TracerProviderOption{sdktrace.WithResource(res)}, opts...)...)
}
