package consumer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/drblury/taskflow/internal/runtime/handlers"
	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
	"github.com/drblury/taskflow/internal/runtime/metrics"
)

type pullResult struct {
	d   *Delivery
	err error
}

type fakeSource struct {
	mu           sync.Mutex
	subscribeErr error
	subscribed   bool
	closed       bool
	commits      []committed
	commitErrAt  map[int64]error

	feed chan pullResult
}

type committed struct {
	partition int32
	offset    int64
}

func newFakeSource() *fakeSource {
	return &fakeSource{feed: make(chan pullResult, 128), commitErrAt: map[int64]error{}}
}

func (f *fakeSource) Subscribe(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.subscribed = true
	return nil
}

func (f *fakeSource) Pull(ctx context.Context) (*Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-f.feed:
		return r.d, r.err
	}
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSource) push(partition int32, offset int64, payload string) {
	d := NewDelivery("tasks", partition, offset, []byte(payload), func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		if err := f.commitErrAt[offset]; err != nil {
			return err
		}
		f.commits = append(f.commits, committed{partition: partition, offset: offset})
		return nil
	})
	f.feed <- pullResult{d: d}
}

func (f *fakeSource) pushErr(err error) {
	f.feed <- pullResult{err: err}
}

func (f *fakeSource) committedOffsets() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, len(f.commits))
	for i, c := range f.commits {
		out[i] = c.offset
	}
	return out
}

func (f *fakeSource) commitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.commits)
}

func (f *fakeSource) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type logEntry struct {
	level  string
	msg    string
	fields loggingpkg.LogFields
	err    error
}

type logSink struct {
	mu      sync.Mutex
	entries []logEntry
}

type recordingLogger struct {
	sink   *logSink
	fields loggingpkg.LogFields
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{sink: &logSink{}}
}

func (r *recordingLogger) With(fields loggingpkg.LogFields) loggingpkg.ServiceLogger {
	merged := loggingpkg.LogFields{}
	for k, v := range r.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &recordingLogger{sink: r.sink, fields: merged}
}

func (r *recordingLogger) record(level, msg string, err error, fields loggingpkg.LogFields) {
	merged := loggingpkg.LogFields{}
	for k, v := range r.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	r.sink.mu.Lock()
	defer r.sink.mu.Unlock()
	r.sink.entries = append(r.sink.entries, logEntry{level: level, msg: msg, fields: merged, err: err})
}

func (r *recordingLogger) Debug(msg string, fields loggingpkg.LogFields) {
	r.record("debug", msg, nil, fields)
}
func (r *recordingLogger) Info(msg string, fields loggingpkg.LogFields) {
	r.record("info", msg, nil, fields)
}
func (r *recordingLogger) Warn(msg string, fields loggingpkg.LogFields) {
	r.record("warn", msg, nil, fields)
}
func (r *recordingLogger) Trace(msg string, fields loggingpkg.LogFields) {
	r.record("trace", msg, nil, fields)
}
func (r *recordingLogger) Error(msg string, err error, fields loggingpkg.LogFields) {
	r.record("error", msg, err, fields)
}

func (r *recordingLogger) find(level, msgPrefix string) []logEntry {
	r.sink.mu.Lock()
	defer r.sink.mu.Unlock()
	var out []logEntry
	for _, e := range r.sink.entries {
		if e.level == level && strings.HasPrefix(e.msg, msgPrefix) {
			out = append(out, e)
		}
	}
	return out
}

type recordingPublisher struct {
	mu       sync.Mutex
	err      error
	topics   []string
	messages []*message.Message
}

func (p *recordingPublisher) Publish(topic string, msgs ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	for _, m := range msgs {
		p.topics = append(p.topics, topic)
		p.messages = append(p.messages, m)
	}
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) published() ([]string, []*message.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...), append([]*message.Message(nil), p.messages...)
}

func mustRegistry(t *testing.T, entries ...handlers.Entry) *handlers.Registry {
	t.Helper()
	reg, err := handlers.NewRegistry(entries...)
	require.NoError(t, err)
	return reg
}

func newTestMetrics(t *testing.T) (*metrics.Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)
	return m, reg
}

// metricValue sums the samples of a counter or gauge family whose labels
// include every pair in want.
func metricValue(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
	metrics:
		for _, m := range fam.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue metrics
				}
			}
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			}
		}
	}
	return total
}

// startLoop runs l in the background and returns a stop function that
// cancels it and waits for Run to return.
func startLoop(t *testing.T, l *Loop) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- l.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	})
	return cancel, done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop in time")
		return errors.New("timeout")
	}
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)
