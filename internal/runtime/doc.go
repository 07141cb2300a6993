/*
Package runtime wires the taskflow components into a running service.

# Architecture Overview

A Service owns one transport (a watermill publisher and subscriber pair), a
handler registry keyed by task kind, an optional topic provisioner and the
prometheus collectors. Start runs a consume-dispatch-commit loop over the
configured topic: every message is decoded into a task envelope, routed to
the handler registered for its kind and then committed, whether the handler
succeeded or not. Retries and a dead letter topic are opt-in through config.

# Package Structure

## Core Service (service.go)

TryNewService validates the configuration, builds the handler registry with
the default middleware chain (tracing, panic recovery, hooks), creates the
sarama cluster admin for transports that support topic administration and
builds the transport through the factory.

## Publishing (publisher.go)

PublishTask encodes an envelope, stamps a ULID message id plus the task_kind
and correlation_id metadata and publishes it synchronously.

## Ops surface (ops.go)

OpsHandler exposes /metrics, /healthz and /offsets. Start serves it on
metrics_addr when metrics are enabled.

# Sub-packages

  - admin/: idempotent topic creation through the sarama cluster admin
  - config/: viper backed configuration with validation
  - consumer/: the consume-dispatch-commit loop and offset tracking
  - errors/: sentinel errors
  - handlers/: handler registry, middleware and the built-in handlers
  - ids/: ULID and client id generation
  - jsoncodec/: JSON encoding backed by sonic
  - logging/: logger interface and adapters
  - metadata/: message metadata helpers
  - metrics/: prometheus collectors
  - task/: the task envelope and its wire format
  - tracing/: OpenTelemetry tracer provider setup
  - transport/: transport factory over the public transport registry

# Usage Example

	cfg, err := taskflow.LoadConfig()
	if err != nil {
		return err
	}

	svc, err := taskflow.TryNewService(cfg, logger, ctx, taskflow.ServiceDependencies{})
	if err != nil {
		return err
	}
	defer svc.Close()

	if _, err := svc.EnsureTopic(ctx); err != nil {
		return err
	}
	return svc.Start(ctx)
*/
package runtime
