// Package handlers maps task kinds to the code that executes them.
package handlers

import (
	"context"
	"errors"

	"github.com/drblury/taskflow/internal/runtime/task"
)

var (
	// ErrPayloadDecode marks a payload that could not be decoded into the
	// handler's typed input.
	ErrPayloadDecode = errors.New("taskflow: task payload decode failed")
	// ErrPayloadInvalid marks a decoded payload that failed validation.
	ErrPayloadInvalid = errors.New("taskflow: task payload invalid")
)

// Handler executes one task. A returned error marks the task as failed; the
// consumer decides what happens next.
type Handler interface {
	Handle(ctx context.Context, env task.Envelope) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, env task.Envelope) error

// Handle calls f(ctx, env).
func (f HandlerFunc) Handle(ctx context.Context, env task.Envelope) error {
	return f(ctx, env)
}

// Middleware decorates a Handler.
type Middleware func(Handler) Handler

// Chain applies middlewares so the first one is the outermost.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		h = mws[i](h)
	}
	return h
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Nil stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	var p *permanentError
	if errors.As(err, &p) {
		return err
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, was marked Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
