package runtime

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/taskflow/internal/runtime/consumer"
	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
)

const opsShutdownTimeout = 5 * time.Second

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	State string `json:"state"`
}

// OffsetsResponse is the body of GET /offsets.
type OffsetsResponse struct {
	Topic   string                     `json:"topic"`
	Group   string                     `json:"group"`
	Offsets []consumer.PartitionOffset `json:"offsets"`
}

// OpsHandler returns the ops HTTP surface: /metrics, /healthz and /offsets.
func (s *Service) OpsHandler() http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	e.GET("/healthz", s.handleHealth)
	e.GET("/offsets", s.handleOffsets)
	return e
}

func (s *Service) handleHealth(c echo.Context) error {
	state := consumer.StateIdle
	if loop := s.Loop(); loop != nil {
		state = loop.State()
	}
	status := http.StatusOK
	if state != consumer.StateRunning {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, HealthResponse{State: state.String()})
}

func (s *Service) handleOffsets(c echo.Context) error {
	offsets := []consumer.PartitionOffset{}
	if loop := s.Loop(); loop != nil {
		offsets = append(offsets, loop.CommittedOffsets()...)
	}
	return c.JSON(http.StatusOK, OffsetsResponse{
		Topic:   s.Conf.KafkaTopic,
		Group:   s.Conf.KafkaConsumerGroup,
		Offsets: offsets,
	})
}

// startOpsServer serves OpsHandler on the configured metrics address and
// returns a function that shuts it down.
func (s *Service) startOpsServer() func() {
	server := &http.Server{
		Addr:              s.Conf.MetricsAddr,
		Handler:           s.OpsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	fields := loggingpkg.LogFields{"address": s.Conf.MetricsAddr}

	s.Logger.Info("Starting ops HTTP server", fields)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Error("Ops HTTP server stopped", err, fields)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), opsShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			s.Logger.Error("Failed to stop ops HTTP server", err, fields)
		}
	}
}
