package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Committer commits the offset of one received message and reports whether
// the broker accepted it.
type Committer func() error

type committerKey struct{}

// WithCommitter attaches c to ctx. Subscribers set it on a message's context
// so consumers can commit synchronously and observe failures, which an Ack
// cannot report.
func WithCommitter(ctx context.Context, c Committer) context.Context {
	return context.WithValue(ctx, committerKey{}, c)
}

// CommitterFrom returns the committer attached to msg, if any.
func CommitterFrom(msg *message.Message) (Committer, bool) {
	if msg == nil {
		return nil, false
	}
	c, ok := msg.Context().Value(committerKey{}).(Committer)
	return c, ok && c != nil
}
