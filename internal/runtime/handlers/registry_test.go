package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
	"github.com/drblury/taskflow/internal/runtime/task"
)

func noop(context.Context, task.Envelope) error { return nil }

func TestRegistryResolve(t *testing.T) {
	reg, err := NewRegistry(
		Entry{Kind: "email", Handler: HandlerFunc(noop)},
		Entry{Kind: "sms", Handler: HandlerFunc(noop)},
	)
	require.NoError(t, err)

	h, ok := reg.Resolve("email")
	assert.True(t, ok)
	assert.NotNil(t, h)

	_, ok = reg.Resolve("fax")
	assert.False(t, ok)

	_, ok = reg.Resolve("")
	assert.False(t, ok, "empty kind must never resolve")

	assert.Equal(t, []string{"email", "sms"}, reg.Kinds())
	assert.Equal(t, 2, reg.Len())
}

func TestNilRegistryResolvesNothing(t *testing.T) {
	var reg *Registry
	_, ok := reg.Resolve("email")
	assert.False(t, ok)
	assert.Nil(t, reg.Kinds())
	assert.Zero(t, reg.Len())
}

func TestRegistryRejectsBadEntries(t *testing.T) {
	tests := []struct {
		name    string
		entries []Entry
		want    error
	}{
		{"empty kind", []Entry{{Kind: "", Handler: HandlerFunc(noop)}}, errspkg.ErrKindRequired},
		{"nil handler", []Entry{{Kind: "email"}}, errspkg.ErrHandlerRequired},
		{"duplicate", []Entry{{Kind: "email", Handler: HandlerFunc(noop)}, {Kind: "email", Handler: HandlerFunc(noop)}}, errspkg.ErrDuplicateKind},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.entries...)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestBuilderAppliesMiddlewareInOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next Handler) Handler {
			return HandlerFunc(func(ctx context.Context, env task.Envelope) error {
				order = append(order, name)
				return next.Handle(ctx, env)
			})
		}
	}

	reg, err := NewBuilder().
		Use(mark("outer"), nil, mark("inner")).
		HandleFunc("email", func(context.Context, task.Envelope) error {
			order = append(order, "handler")
			return nil
		}).
		Build()
	require.NoError(t, err)

	h, _ := reg.Resolve("email")
	require.NoError(t, h.Handle(context.Background(), task.MustNew("email", nil)))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestBuilderNilFunc(t *testing.T) {
	_, err := NewBuilder().HandleFunc("email", nil).Build()
	assert.ErrorIs(t, err, errspkg.ErrHandlerRequired)
}

func TestPermanent(t *testing.T) {
	assert.Nil(t, Permanent(nil))

	base := errors.New("bad input")
	p := Permanent(base)
	assert.True(t, IsPermanent(p))
	assert.ErrorIs(t, p, base)
	assert.Equal(t, "bad input", p.Error())
	assert.Same(t, p, Permanent(p))

	wrapped := errors.Join(errors.New("ctx"), p)
	assert.True(t, IsPermanent(wrapped))
	assert.False(t, IsPermanent(base))
}
