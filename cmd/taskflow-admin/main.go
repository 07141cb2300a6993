// Command taskflow-admin ensures the task topic, and the dead letter topic when
// configured, exist before producers and workers start.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/drblury/taskflow"
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
		logger.Error("Topic provisioning failed", err, taskflow.LogFields{"topic": cfg.KafkaTopic})
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *taskflow.Config, logger taskflow.ServiceLogger) error {
	svc, err := taskflow.TryNewService(cfg, logger, ctx, taskflow.ServiceDependencies{})
	if err != nil {
		return err
	}
	defer svc.Close()

	result, err := svc.EnsureTopic(ctx)
	if err != nil {
		return err
	}

	fields := taskflow.LogFields{"topic": result.Topic, "partitions": result.Partitions}
	if result.Created {
		logger.Info("Topic created", fields)
	} else {
		logger.Info("Topic already exists", fields)
	}
	return nil
}

func fallback() taskflow.ServiceLogger {
	logger, _, _ := taskflow.NewLogger(os.Stderr, taskflow.LogConfig{})
	return logger
}
