package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/taskflow/internal/runtime/admin"
	configpkg "github.com/drblury/taskflow/internal/runtime/config"
	"github.com/drblury/taskflow/internal/runtime/consumer"
	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
	"github.com/drblury/taskflow/internal/runtime/handlers"
	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
	"github.com/drblury/taskflow/internal/runtime/metrics"
	transportpkg "github.com/drblury/taskflow/internal/runtime/transport"
	publictransport "github.com/drblury/taskflow/transport"
)

var loopRun = func(loop *consumer.Loop, ctx context.Context) error {
	return loop.Run(ctx)
}

// TopicProvisioner ensures a topic exists. *admin.Provisioner implements it.
type TopicProvisioner interface {
	EnsureTopic(ctx context.Context, spec admin.TopicSpec) (admin.Result, error)
}

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to get the defaults.
type ServiceDependencies struct {
	TransportFactory transportpkg.Factory
	// Provisioner defaults to a sarama cluster admin for transports that
	// support topic administration.
	Provisioner TopicProvisioner
	// Registry replaces the built-in email/sms/push handlers.
	Registry *handlers.Registry
	// Notifier receives built-in handler invocations; defaults to logging them.
	Notifier                  handlers.Notifier
	Middlewares               []handlers.Middleware // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                  // Skips the recoverer and tracing middleware when true.
	Hooks                     handlers.TaskHooks
	// MetricsRegisterer defaults to a private prometheus registry.
	MetricsRegisterer prometheus.Registerer
	// TracerProvider defaults to the global otel provider.
	TracerProvider trace.TracerProvider
}

// Service wires configuration, a transport, the topic provisioner and the
// consume-dispatch-commit loop.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	transport   transportpkg.Transport
	registry    *handlers.Registry
	provisioner TopicProvisioner

	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	mu   sync.Mutex
	loop *consumer.Loop
}

// NewService constructs a Service for the supplied configuration and panics
// when it cannot. Use TryNewService to handle the error instead.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) *Service {
	s, err := TryNewService(conf, log, ctx, deps)
	if err != nil {
		panic(err)
	}
	return s
}

// TryNewService validates conf, builds the transport and the handler registry
// and returns a Service ready to provision, publish or consume.
func TryNewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) (*Service, error) {
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := configpkg.ValidateConfig(conf); err != nil {
		return nil, err
	}

	log.Info("Creating task service",
		loggingpkg.LogFields{
			"pubsub_system": conf.PubSubSystem,
			"config":        conf.String(),
		})

	reg, gatherer := metricsRegistry(deps.MetricsRegisterer)
	m, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	registry, err := buildRegistry(log, deps)
	if err != nil {
		return nil, err
	}

	provisioner := deps.Provisioner
	if provisioner == nil && publictransport.GetCapabilities(conf.PubSubSystem).SupportsTopicAdmin {
		p, err := admin.NewProvisioner(admin.Config{
			Brokers:  conf.KafkaBrokers,
			ClientID: conf.KafkaClientID,
		}, log)
		if err != nil {
			return nil, err
		}
		provisioner = p
	}

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	tr, err := factory.Build(ctx, conf, loggingpkg.NewWatermillAdapter(log))
	if err != nil {
		return nil, fmt.Errorf("build %s transport: %w", conf.PubSubSystem, err)
	}

	return &Service{
		Conf:        conf,
		Logger:      log,
		transport:   tr,
		registry:    registry,
		provisioner: provisioner,
		metrics:     m,
		gatherer:    gatherer,
	}, nil
}

func metricsRegistry(reg prometheus.Registerer) (prometheus.Registerer, prometheus.Gatherer) {
	if reg == nil {
		own := prometheus.NewRegistry()
		return own, own
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		return reg, g
	}
	return reg, prometheus.DefaultGatherer
}

func buildRegistry(log loggingpkg.ServiceLogger, deps ServiceDependencies) (*handlers.Registry, error) {
	mws := serviceMiddlewares(deps)

	if deps.Registry != nil {
		entries := make([]handlers.Entry, 0, deps.Registry.Len())
		for _, kind := range deps.Registry.Kinds() {
			h, _ := deps.Registry.Resolve(kind)
			entries = append(entries, handlers.Entry{Kind: kind, Handler: handlers.Chain(h, mws...)})
		}
		return handlers.NewRegistry(entries...)
	}

	notifier := deps.Notifier
	if notifier == nil {
		notifier = handlers.LogNotifier{Logger: log}
	}
	b := handlers.NewBuilder().Use(mws...)
	for _, entry := range handlers.Builtins(notifier) {
		b.Handle(entry.Kind, entry.Handler)
	}
	return b.Build()
}

func serviceMiddlewares(deps ServiceDependencies) []handlers.Middleware {
	var mws []handlers.Middleware
	if !deps.DisableDefaultMiddlewares {
		tp := deps.TracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		mws = append(mws, handlers.Tracing(tp), handlers.Recoverer())
	}
	if !deps.Hooks.IsZero() {
		mws = append(mws, handlers.Hooks(deps.Hooks))
	}
	return append(mws, deps.Middlewares...)
}

// Registry returns the handler registry the loop dispatches to.
func (s *Service) Registry() *handlers.Registry {
	return s.registry
}

// Metrics returns the service collectors.
func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

// EnsureTopic creates the configured task topic, and the dead letter topic
// when one is set. Transports without topic administration skip provisioning.
func (s *Service) EnsureTopic(ctx context.Context) (admin.Result, error) {
	if s == nil {
		return admin.Result{}, errspkg.ErrServiceRequired
	}
	spec := admin.TopicSpec{
		Name:              s.Conf.KafkaTopic,
		Partitions:        s.Conf.TopicPartitions,
		ReplicationFactor: s.Conf.TopicReplicationFactor,
	}
	if s.provisioner == nil {
		s.Logger.Info("Transport has no topic administration, skipping provisioning",
			loggingpkg.LogFields{"pubsub_system": s.Conf.PubSubSystem, "topic": spec.Name})
		return admin.Result{Topic: spec.Name}, nil
	}

	result, err := s.provisioner.EnsureTopic(ctx, spec)
	if err != nil {
		return result, err
	}
	if s.Conf.DeadLetterTopic != "" {
		dlq := spec
		dlq.Name = s.Conf.DeadLetterTopic
		if _, err := s.provisioner.EnsureTopic(ctx, dlq); err != nil {
			return result, err
		}
	}
	return result, nil
}

// NewLoop builds a consume-dispatch-commit loop over the service transport.
func (s *Service) NewLoop() (*consumer.Loop, error) {
	if s == nil {
		return nil, errspkg.ErrServiceRequired
	}
	src := consumer.NewSubscriberSource(
		s.transport.Subscriber,
		s.Conf.KafkaTopic,
		consumer.PositionFunc(s.transport.Position),
	)
	opts := consumer.Options{
		Lanes: s.Conf.ConsumerLanes,
		Failure: consumer.FailurePolicy{
			MaxRetries:      s.Conf.HandlerMaxRetries,
			InitialInterval: s.Conf.HandlerRetryInitialInterval,
			MaxInterval:     s.Conf.HandlerRetryMaxInterval,
			DeadLetterTopic: s.Conf.DeadLetterTopic,
		},
		Metrics: s.metrics,
	}
	if s.Conf.DeadLetterTopic != "" {
		opts.DeadLetter = s.transport.Publisher
	}
	return consumer.New(src, s.registry, s.Logger, opts)
}

// Loop returns the loop started by Start, or nil before Start.
func (s *Service) Loop() *consumer.Loop {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loop
}

// Start runs the consume-dispatch-commit loop until ctx is cancelled. When
// metrics are enabled the ops HTTP server runs alongside it.
//
// A Service runs at most one loop in its lifetime: the loop closes the
// transport subscriber on exit, so Start after a finished run returns
// ErrServiceStopped. The finished loop stays available through Loop.
func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return errspkg.ErrServiceRequired
	}
	s.mu.Lock()
	if s.loop != nil {
		state := s.loop.State()
		s.mu.Unlock()
		if state == consumer.StateStopped {
			return errspkg.ErrServiceStopped
		}
		return errspkg.ErrLoopRunning
	}
	loop, err := s.NewLoop()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.loop = loop
	s.mu.Unlock()

	if s.Conf.MetricsEnabled {
		stop := s.startOpsServer()
		defer stop()
	}

	s.Logger.Info("Starting task consumer", loggingpkg.LogFields{
		"topic": s.Conf.KafkaTopic,
		"group": s.Conf.KafkaConsumerGroup,
		"kinds": s.registry.Kinds(),
	})
	return loopRun(loop, ctx)
}

// Close releases the transport.
func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	if err := s.transport.Close(); err != nil {
		s.Logger.Error("Failed to close transport", err, nil)
		return err
	}
	return nil
}
