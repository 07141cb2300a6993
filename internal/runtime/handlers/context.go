package handlers

import (
	"context"

	metadatapkg "github.com/drblury/taskflow/internal/runtime/metadata"
)

// TaskInfo describes where the task being handled came from.
type TaskInfo struct {
	Topic     string
	Partition int32
	Offset    int64
	UUID      string
	Metadata  metadatapkg.Metadata
	// Attempt counts handler invocations for this delivery, starting at 1.
	Attempt int
}

// CorrelationID returns the correlation id stamped by the publisher, if any.
func (i TaskInfo) CorrelationID() string {
	return i.Metadata[metadatapkg.KeyCorrelationID]
}

type taskInfoKey struct{}

// ContextWithTaskInfo attaches info to ctx.
func ContextWithTaskInfo(ctx context.Context, info TaskInfo) context.Context {
	return context.WithValue(ctx, taskInfoKey{}, info)
}

// TaskInfoFromContext returns the TaskInfo set by the consumer loop.
func TaskInfoFromContext(ctx context.Context) (TaskInfo, bool) {
	info, ok := ctx.Value(taskInfoKey{}).(TaskInfo)
	return info, ok
}
