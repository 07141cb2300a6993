// Command taskflow-producer publishes a sample email, sms or push task every
// PRODUCER_INTERVAL until interrupted.
package main

import (
	"context"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/drblury/taskflow"
)

var kinds = []string{taskflow.KindEmail, taskflow.KindSMS, taskflow.KindPush}

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
		logger.Error("Producer stopped", err, nil)
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

	logger.Info("Producing tasks", taskflow.LogFields{"topic": cfg.KafkaTopic, "interval": cfg.ProducerInterval.String()})

	ticker := time.NewTicker(cfg.ProducerInterval)
	defer ticker.Stop()

	for {
		produce(ctx, svc, logger)

		select {
		case <-ctx.Done():
			logger.Info("Producer shutting down", nil)
			return nil
		case <-ticker.C:
		}
	}
}

// produce publishes one task of a random kind. Publish failures are logged and
// the next tick tries again.
func produce(ctx context.Context, p taskflow.Producer, logger taskflow.ServiceLogger) {
	kind := kinds[rand.IntN(len(kinds))]
	payload, _ := taskflow.SamplePayload(kind)

	env, err := taskflow.NewTask(kind, payload)
	if err != nil {
		logger.Error("Failed to build task", err, taskflow.LogFields{"kind": kind})
		return
	}

	receipt, err := p.PublishTask(ctx, env, nil)
	if err != nil {
		logger.Error("Message delivery failed", err, taskflow.LogFields{"kind": kind})
		return
	}
	logger.Info("Message delivered", taskflow.LogFields{
		"id":             receipt.ID,
		"kind":           receipt.Kind,
		"topic":          receipt.Topic,
		"correlation_id": receipt.CorrelationID,
	})
}

func fallback() taskflow.ServiceLogger {
	logger, _, _ := taskflow.NewLogger(os.Stderr, taskflow.LogConfig{})
	return logger
}
