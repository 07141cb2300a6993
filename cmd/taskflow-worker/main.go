// Command taskflow-worker joins the consumer group and runs the built-in email,
// sms and push handlers until interrupted.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/drblury/taskflow"
	"github.com/drblury/taskflow/internal/runtime/tracing"
)

func main() {
	cfg, err := taskflow.LoadConfig()
	if err != nil {
		fallback().Error("Failed to load configuration", err, nil)
		os.Exit(1)
	}
	logger, _, err := taskflow.NewLogger(os.Stdout, taskflow.LogConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		fallback().Error("Failed to create logger", err, nil)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Worker stopped", err, taskflow.LogFields{"group": cfg.KafkaConsumerGroup})
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *taskflow.Config, logger taskflow.ServiceLogger) error {
	deps := taskflow.ServiceDependencies{
		Hooks: taskflow.LoggingHooks(logger),
	}

	if cfg.TracingEnabled {
		tp, shutdown, err := tracing.Setup(cfg.ServiceName, os.Stdout)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Error("Failed to flush traces", err, nil)
			}
		}()
		deps.TracerProvider = tp
	}

	svc, err := taskflow.TryNewService(cfg, logger, ctx, deps)
	if err != nil {
		return err
	}
	defer svc.Close()

	return svc.Start(ctx)
}

func fallback() taskflow.ServiceLogger {
	logger, _, _ := taskflow.NewLogger(os.Stderr, taskflow.LogConfig{})
	return logger
}
