package consumer

import (
	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
	"github.com/drblury/taskflow/internal/runtime/metrics"
)

// commitQueue commits deliveries on its own goroutine so the loop never
// waits on the broker. Deliveries are committed in enqueue order.
type commitQueue struct {
	ch      chan *Delivery
	done    chan struct{}
	tracker *OffsetTracker
	logger  loggingpkg.ServiceLogger
	metrics *metrics.Metrics
}

func newCommitQueue(size int, tracker *OffsetTracker, logger loggingpkg.ServiceLogger, m *metrics.Metrics) *commitQueue {
	q := &commitQueue{
		ch:      make(chan *Delivery, size),
		done:    make(chan struct{}),
		tracker: tracker,
		logger:  logger,
		metrics: m,
	}
	go q.run()
	return q
}

func (q *commitQueue) enqueue(d *Delivery) {
	q.ch <- d
}

func (q *commitQueue) run() {
	defer close(q.done)
	for d := range q.ch {
		if err := d.Commit(); err != nil {
			q.metrics.CommitError()
			q.logger.Error("Failed to commit message", err, loggingpkg.LogFields{
				"topic":     d.Topic,
				"partition": d.Partition,
				"offset":    d.Offset,
			})
			continue
		}
		if q.tracker.Advance(d.Topic, d.Partition, d.Offset) {
			q.metrics.SetCommitted(d.Topic, d.Partition, d.Offset)
		}
	}
}

// flush commits whatever is queued and stops the goroutine.
func (q *commitQueue) flush() {
	close(q.ch)
	<-q.done
}
