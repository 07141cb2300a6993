package consumer

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// FailurePolicy decides what happens after a handler returns an error.
// The zero value commits the task straight away.
type FailurePolicy struct {
	// MaxRetries bounds local re-invocations of the handler.
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// DeadLetterTopic receives the raw task once retries are exhausted.
	DeadLetterTopic string
}

func (p FailurePolicy) withDefaults() FailurePolicy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = time.Second
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 16 * time.Second
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	return p
}

func (p FailurePolicy) backoff() *backoff.ExponentialBackOff {
	return newBackoff(p.InitialInterval, p.MaxInterval)
}

// PullBackoff paces retries after pull errors.
type PullBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (p PullBackoff) withDefaults() PullBackoff {
	if p.InitialInterval <= 0 {
		p.InitialInterval = 100 * time.Millisecond
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 5 * time.Second
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	return p
}

func newBackoff(initial, max time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = max
	b.Reset()
	return b
}
