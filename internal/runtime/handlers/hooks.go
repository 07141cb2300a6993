package handlers

import (
	"context"
	"time"

	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
	"github.com/drblury/taskflow/internal/runtime/task"
)

// TaskContext provides information about a task execution to hooks.
type TaskContext struct {
	// Kind is the task kind being handled.
	Kind string
	// Info carries topic, partition and offset when the consumer set them.
	Info TaskInfo
	// Context is the context the handler runs with.
	Context context.Context
	// StartedAt is when the handler started.
	StartedAt time.Time
	// Duration is how long the handler took (only set in OnTaskDone and OnTaskError).
	Duration time.Duration
}

// TaskHooks defines callbacks for task lifecycle events.
// All hooks are optional - nil hooks are simply not called.
type TaskHooks struct {
	OnTaskStart func(ctx TaskContext)
	OnTaskDone  func(ctx TaskContext)
	OnTaskError func(ctx TaskContext, err error)
}

// Merge combines two TaskHooks. The hooks from other run after those from h.
func (h TaskHooks) Merge(other TaskHooks) TaskHooks {
	return TaskHooks{
		OnTaskStart: chainHooks(h.OnTaskStart, other.OnTaskStart),
		OnTaskDone:  chainHooks(h.OnTaskDone, other.OnTaskDone),
		OnTaskError: chainErrorHooks(h.OnTaskError, other.OnTaskError),
	}
}

// IsZero reports whether no hook is set.
func (h TaskHooks) IsZero() bool {
	return h.OnTaskStart == nil && h.OnTaskDone == nil && h.OnTaskError == nil
}

func chainHooks(a, b func(TaskContext)) func(TaskContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx TaskContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(TaskContext, error)) func(TaskContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx TaskContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// Hooks invokes hooks around each handler call.
func Hooks(hooks TaskHooks) Middleware {
	return func(next Handler) Handler {
		if hooks.IsZero() {
			return next
		}
		return HandlerFunc(func(ctx context.Context, env task.Envelope) error {
			tc := TaskContext{Kind: env.Kind(), Context: ctx, StartedAt: time.Now()}
			tc.Info, _ = TaskInfoFromContext(ctx)

			if hooks.OnTaskStart != nil {
				hooks.OnTaskStart(tc)
			}

			err := next.Handle(ctx, env)
			tc.Duration = time.Since(tc.StartedAt)

			if err != nil {
				if hooks.OnTaskError != nil {
					hooks.OnTaskError(tc, err)
				}
			} else if hooks.OnTaskDone != nil {
				hooks.OnTaskDone(tc)
			}
			return err
		})
	}
}

// LoggingHooks returns hooks that log task lifecycle events at debug level.
func LoggingHooks(logger loggingpkg.ServiceLogger) TaskHooks {
	fields := func(tc TaskContext) loggingpkg.LogFields {
		return loggingpkg.LogFields{
			"kind":      tc.Kind,
			"topic":     tc.Info.Topic,
			"partition": tc.Info.Partition,
			"offset":    tc.Info.Offset,
			"attempt":   tc.Info.Attempt,
		}
	}
	return TaskHooks{
		OnTaskStart: func(tc TaskContext) {
			logger.Debug("Task started", fields(tc))
		},
		OnTaskDone: func(tc TaskContext) {
			f := fields(tc)
			f["duration_ms"] = tc.Duration.Milliseconds()
			logger.Debug("Task completed", f)
		},
		OnTaskError: func(tc TaskContext, err error) {
			f := fields(tc)
			f["duration_ms"] = tc.Duration.Milliseconds()
			logger.Debug("Task attempt failed", f)
		},
	}
}

// AlertingHooks returns hooks that call alertFunc on every handler error.
func AlertingHooks(alertFunc func(ctx TaskContext, err error)) TaskHooks {
	return TaskHooks{OnTaskError: alertFunc}
}
