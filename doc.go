// Package taskflow distributes typed tasks over Kafka and runs them on a pool
// of workers. A producer publishes JSON task envelopes ({"type": ..., "payload":
// ...}) to a topic; every worker in the consumer group pulls them, routes each
// one to the handler registered for its type and commits the offset once the
// handler returns, even when it failed.
//
// Service is the entry point. It reads the transport (kafka over sarama,
// kafkago over segmentio/kafka-go, rabbitmq, nats, or in-memory channels) from
// Config, builds the handler registry and exposes EnsureTopic, PublishTask and
// Start. The built-in registry handles email, sms and push tasks; pass your own
// Registry through ServiceDependencies to replace it.
//
// # Failure handling
//
// By default a failing handler is logged and its task committed, so a poison
// task never blocks its partition. HANDLER_MAX_RETRIES retries the handler
// locally with exponential backoff and DEAD_LETTER_TOPIC forwards tasks that
// still fail. A retry interrupted by shutdown leaves the task uncommitted so
// the next group member picks it up.
//
// # Ops
//
// With METRICS_ENABLED the worker serves /metrics, /healthz and /offsets on
// METRICS_ADDR. Handler calls are wrapped in OpenTelemetry spans; wire a tracer
// provider through ServiceDependencies or enable TRACING_ENABLED in the worker.
package taskflow
