package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/require"

	"github.com/drblury/taskflow/internal/runtime/admin"
	configpkg "github.com/drblury/taskflow/internal/runtime/config"
	"github.com/drblury/taskflow/internal/runtime/handlers"
	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
	transportpkg "github.com/drblury/taskflow/internal/runtime/transport"
)

func channelConfig() *configpkg.Config {
	conf := configpkg.Default()
	conf.PubSubSystem = "channel"
	conf.KafkaBrokers = nil
	return &conf
}

// gochannelFactory builds a transport over one shared in-memory pub/sub.
func gochannelFactory() (transportpkg.Factory, *gochannel.GoChannel) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{Persistent: true, OutputChannelBuffer: 16}, watermill.NopLogger{})
	return transportpkg.FactoryFunc(func(context.Context, *configpkg.Config, watermill.LoggerAdapter) (transportpkg.Transport, error) {
		return transportpkg.Transport{Publisher: pubSub, Subscriber: pubSub}, nil
	}), pubSub
}

func newTestService(t *testing.T, conf *configpkg.Config, deps ServiceDependencies) *Service {
	t.Helper()
	if conf == nil {
		conf = channelConfig()
	}
	if deps.TransportFactory == nil {
		deps.TransportFactory, _ = gochannelFactory()
	}
	svc, err := TryNewService(conf, loggingpkg.Discard(), context.Background(), deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

type testPublisher struct {
	mu       sync.Mutex
	topics   []string
	messages []*message.Message
	err      error
	closed   bool
}

func (p *testPublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	for _, msg := range messages {
		p.topics = append(p.topics, topic)
		p.messages = append(p.messages, msg)
	}
	return nil
}

func (p *testPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type fakeProvisioner struct {
	mu    sync.Mutex
	specs []admin.TopicSpec
	err   error
}

func (p *fakeProvisioner) EnsureTopic(_ context.Context, spec admin.TopicSpec) (admin.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return admin.Result{}, p.err
	}
	p.specs = append(p.specs, spec)
	return admin.Result{Topic: spec.Name, Created: true, Partitions: spec.Partitions}, nil
}

func (p *fakeProvisioner) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.specs))
	for _, spec := range p.specs {
		names = append(names, spec.Name)
	}
	return names
}

type notificationLog struct {
	mu    sync.Mutex
	calls []handlers.Notification
	err   error
}

func (l *notificationLog) Notify(_ context.Context, n handlers.Notification) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, n)
	return l.err
}

func (l *notificationLog) snapshot() []handlers.Notification {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]handlers.Notification(nil), l.calls...)
}

var errBroker = errors.New("broker unavailable")
