// Package metrics holds the Prometheus collectors exported by task workers.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "taskflow"

// Metrics groups the worker collectors. A nil *Metrics records nothing.
type Metrics struct {
	tasks           *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
	pullErrors      prometheus.Counter
	commitErrors    prometheus.Counter
	committed       *prometheus.GaugeVec
}

// New creates the collectors and registers them on reg. Collectors already
// registered by an earlier call are reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{}
	var err error

	if m.tasks, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_total",
		Help:      "Tasks processed by the consumer loop, by kind and outcome.",
	}, []string{"kind", "outcome"})); err != nil {
		return nil, err
	}
	if m.handlerDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "handler_duration_seconds",
		Help:      "Time spent in task handlers, including retries.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})); err != nil {
		return nil, err
	}
	if m.pullErrors, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pull_errors_total",
		Help:      "Errors returned while pulling messages from the broker.",
	})); err != nil {
		return nil, err
	}
	if m.commitErrors, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commit_errors_total",
		Help:      "Offset commits rejected by the broker client.",
	})); err != nil {
		return nil, err
	}
	if m.committed, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "committed_offset",
		Help:      "Offset of the last committed message per topic partition.",
	}, []string{"topic", "partition"})); err != nil {
		return nil, err
	}

	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, err
	}
	return c, nil
}

// ObserveOutcome counts one processed task.
func (m *Metrics) ObserveOutcome(kind, outcome string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(kind, outcome).Inc()
}

// ObserveHandler records how long the handler for kind ran.
func (m *Metrics) ObserveHandler(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.handlerDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// PullError counts a failed pull.
func (m *Metrics) PullError() {
	if m == nil {
		return
	}
	m.pullErrors.Inc()
}

// CommitError counts a failed commit.
func (m *Metrics) CommitError() {
	if m == nil {
		return
	}
	m.commitErrors.Inc()
}

// SetCommitted publishes the committed offset of a partition.
func (m *Metrics) SetCommitted(topic string, partition int32, offset int64) {
	if m == nil {
		return
	}
	m.committed.WithLabelValues(topic, strconv.FormatInt(int64(partition), 10)).Set(float64(offset))
}
