// Package consumer runs the consume-dispatch-commit loop: pull a message,
// decode it into a task envelope, route it to the handler registered for its
// kind and commit it, one message at a time per partition.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
	"github.com/drblury/taskflow/internal/runtime/handlers"
	idspkg "github.com/drblury/taskflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/taskflow/internal/runtime/metadata"
	"github.com/drblury/taskflow/internal/runtime/metrics"
	"github.com/drblury/taskflow/internal/runtime/task"
)

const (
	defaultCommitQueueSize = 256

	// Metric labels for tasks that never reached a handler.
	kindLabelMalformed    = "-"
	kindLabelUnregistered = "unregistered"
)

var errRetryInterrupted = errors.New("taskflow: handler retry interrupted by shutdown")

// Options tune a Loop. The zero value runs one lane, commits failed tasks
// without retrying and records no metrics.
type Options struct {
	// Lanes > 1 processes partitions concurrently; partition p is always
	// handled by lane p mod Lanes.
	Lanes           int
	Failure         FailurePolicy
	PullBackoff     PullBackoff
	CommitQueueSize int
	// DeadLetter publishes tasks whose handler failed; required when
	// Failure.DeadLetterTopic is set.
	DeadLetter message.Publisher
	Metrics    *metrics.Metrics
}

// Loop is a consume-dispatch-commit loop bound to one Source.
type Loop struct {
	src      Source
	registry *handlers.Registry
	logger   loggingpkg.ServiceLogger
	opts     Options

	tracker *OffsetTracker
	state   atomic.Int32
	running atomic.Bool
}

// New validates its inputs and returns an idle Loop.
func New(src Source, registry *handlers.Registry, logger loggingpkg.ServiceLogger, opts Options) (*Loop, error) {
	if src == nil {
		return nil, errspkg.ErrSourceRequired
	}
	if registry == nil {
		return nil, errspkg.ErrRegistryRequired
	}
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if opts.Failure.DeadLetterTopic != "" && opts.DeadLetter == nil {
		return nil, fmt.Errorf("%w: dead letter topic %q needs a publisher", errspkg.ErrPublisherRequired, opts.Failure.DeadLetterTopic)
	}
	if opts.Lanes < 1 {
		opts.Lanes = 1
	}
	if opts.CommitQueueSize <= 0 {
		opts.CommitQueueSize = defaultCommitQueueSize
	}
	opts.Failure = opts.Failure.withDefaults()
	opts.PullBackoff = opts.PullBackoff.withDefaults()

	return &Loop{
		src:      src,
		registry: registry,
		logger:   logger,
		opts:     opts,
		tracker:  NewOffsetTracker(),
	}, nil
}

// State reports the current lifecycle phase.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// CommittedOffsets returns the offsets committed so far.
func (l *Loop) CommittedOffsets() []PartitionOffset {
	return l.tracker.Snapshot()
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
	l.logger.Debug("Consumer state changed", loggingpkg.LogFields{"state": s.String()})
}

// Run subscribes and processes messages until ctx is cancelled. A failed
// subscription is returned immediately. On cancellation Run stops pulling,
// lets in-flight handlers finish, flushes pending commits and closes the
// source before returning nil.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errspkg.ErrLoopRunning
	}
	defer l.running.Store(false)

	l.setState(StateStarting)

	// The subscription outlives ctx so pending commits can still be acked.
	subCtx, cancelSub := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelSub()

	if err := l.src.Subscribe(subCtx); err != nil {
		if closeErr := l.src.Close(); closeErr != nil {
			l.logger.Error("Failed to close source", closeErr, nil)
		}
		l.setState(StateStopped)
		return fmt.Errorf("%w: %w", errspkg.ErrSubscribe, err)
	}
	l.setState(StateSubscribed)

	commits := newCommitQueue(l.opts.CommitQueueSize, l.tracker, l.logger, l.opts.Metrics)
	handlerCtx := context.WithoutCancel(ctx)

	dispatch, stopLanes := l.startLanes(ctx, handlerCtx, commits)

	l.setState(StateRunning)
	l.logger.Info("Listening for tasks", loggingpkg.LogFields{"lanes": l.opts.Lanes})

	l.pullLoop(ctx, dispatch)

	l.setState(StateStopping)
	stopLanes()
	commits.flush()
	cancelSub()
	if err := l.src.Close(); err != nil {
		l.logger.Error("Failed to close source", err, nil)
	}
	l.setState(StateStopped)
	l.logger.Info("Consumer stopped", loggingpkg.LogFields{"committed": len(l.tracker.Snapshot())})
	return nil
}

func (l *Loop) pullLoop(ctx context.Context, dispatch func(*Delivery) bool) {
	b := newBackoff(l.opts.PullBackoff.InitialInterval, l.opts.PullBackoff.MaxInterval)

	for ctx.Err() == nil {
		d, err := l.src.Pull(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := b.NextBackOff()
			l.opts.Metrics.PullError()
			l.logger.Error("Error while reading from stream", err, loggingpkg.LogFields{
				"retry_in": wait.String(),
			})
			if !sleep(ctx, wait) {
				return
			}
			continue
		}
		b.Reset()
		if d == nil {
			continue
		}
		if !dispatch(d) {
			return
		}
	}
}

// startLanes returns the dispatch function used by the pull loop and a stop
// function that waits for every lane to drain.
func (l *Loop) startLanes(ctx, handlerCtx context.Context, commits *commitQueue) (func(*Delivery) bool, func()) {
	if l.opts.Lanes == 1 {
		return func(d *Delivery) bool {
			l.process(ctx, handlerCtx, d, commits)
			return true
		}, func() {}
	}

	lanes := make([]chan *Delivery, l.opts.Lanes)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan *Delivery, 1)
		wg.Add(1)
		go func(in <-chan *Delivery) {
			defer wg.Done()
			for d := range in {
				l.process(ctx, handlerCtx, d, commits)
			}
		}(lanes[i])
	}

	dispatch := func(d *Delivery) bool {
		lane := laneFor(d.Partition, len(lanes))
		select {
		case lanes[lane] <- d:
			return true
		case <-ctx.Done():
			return false
		}
	}
	stop := func() {
		for _, ch := range lanes {
			close(ch)
		}
		wg.Wait()
	}
	return dispatch, stop
}

func laneFor(partition int32, lanes int) int {
	if partition < 0 {
		return 0
	}
	return int(partition) % lanes
}

// process handles one delivery end to end. Every path except an interrupted
// retry ends in a commit.
func (l *Loop) process(ctx, handlerCtx context.Context, d *Delivery, commits *commitQueue) {
	log := l.logger.With(loggingpkg.LogFields{
		"topic":     d.Topic,
		"partition": d.Partition,
		"offset":    d.Offset,
	})

	env, err := task.Decode(d.Payload)
	if err != nil {
		var mErr *task.MalformedError
		reason := ""
		if errors.As(err, &mErr) {
			reason = string(mErr.Reason)
		}
		log.Warn("Discarding malformed task", loggingpkg.LogFields{"reason": reason, "error": err.Error()})
		l.finish(d, kindLabelMalformed, OutcomeMalformed, commits)
		return
	}

	kind := env.Kind()
	log = log.With(loggingpkg.LogFields{"kind": kind})

	h, ok := l.registry.Resolve(kind)
	if !ok {
		log.Warn("Unknown task type", nil)
		l.finish(d, kindLabelUnregistered, OutcomeUnknownKind, commits)
		return
	}

	start := time.Now()
	attempts, err := l.invoke(ctx, handlerCtx, h, env, d)
	l.opts.Metrics.ObserveHandler(kind, time.Since(start))

	switch {
	case err == nil:
		log.Debug("Task handled", loggingpkg.LogFields{"attempts": attempts})
		l.finish(d, kind, OutcomeHandled, commits)
	case errors.Is(err, errRetryInterrupted):
		log.Warn("Handler retry interrupted by shutdown, leaving task uncommitted", loggingpkg.LogFields{"attempts": attempts})
		l.opts.Metrics.ObserveOutcome(kind, string(OutcomeHandlerFailed))
	case l.opts.Failure.DeadLetterTopic != "":
		if dlqErr := l.deadLetter(d, err); dlqErr != nil {
			log.Error("Handler failed and dead letter publish failed", errors.Join(err, dlqErr), loggingpkg.LogFields{
				"attempts":          attempts,
				"dead_letter_topic": l.opts.Failure.DeadLetterTopic,
			})
			l.finish(d, kind, OutcomeHandlerFailed, commits)
			return
		}
		log.Error("Handler failed, task dead-lettered", err, loggingpkg.LogFields{
			"attempts":          attempts,
			"dead_letter_topic": l.opts.Failure.DeadLetterTopic,
		})
		l.finish(d, kind, OutcomeDeadLettered, commits)
	default:
		log.Error("Handler failed", err, loggingpkg.LogFields{"attempts": attempts})
		l.finish(d, kind, OutcomeHandlerFailed, commits)
	}
}

func (l *Loop) finish(d *Delivery, kindLabel string, outcome Outcome, commits *commitQueue) {
	l.opts.Metrics.ObserveOutcome(kindLabel, string(outcome))
	commits.enqueue(d)
}

// invoke runs h, retrying per the failure policy. Waits between attempts
// end early when ctx is cancelled.
func (l *Loop) invoke(ctx, handlerCtx context.Context, h handlers.Handler, env task.Envelope, d *Delivery) (int, error) {
	policy := l.opts.Failure
	b := policy.backoff()
	info := handlers.TaskInfo{
		Topic:     d.Topic,
		Partition: d.Partition,
		Offset:    d.Offset,
		UUID:      d.UUID,
		Metadata:  d.Metadata,
	}

	for attempt := 1; ; attempt++ {
		info.Attempt = attempt
		err := h.Handle(handlers.ContextWithTaskInfo(handlerCtx, info), env)
		if err == nil || handlers.IsPermanent(err) || attempt > policy.MaxRetries {
			return attempt, err
		}

		wait := b.NextBackOff()
		l.logger.Debug("Retrying task handler", loggingpkg.LogFields{
			"kind":     env.Kind(),
			"attempt":  attempt,
			"retry_in": wait.String(),
			"error":    err.Error(),
		})
		if !sleep(ctx, wait) {
			return attempt, errors.Join(errRetryInterrupted, err)
		}
	}
}

func (l *Loop) deadLetter(d *Delivery, cause error) error {
	msg := message.NewMessage(idspkg.CreateULID(), d.Payload)
	msg.Metadata = metadatapkg.ToWatermill(d.Metadata.DeadLetter(d.Topic, d.Partition, d.Offset, cause))
	return l.opts.DeadLetter.Publish(l.opts.Failure.DeadLetterTopic, msg)
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
