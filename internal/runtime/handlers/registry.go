package handlers

import (
	"fmt"
	"sort"
	"strings"

	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
)

// Entry binds a task kind to its handler.
type Entry struct {
	Kind    string
	Handler Handler
}

// Registry is an immutable kind → handler table. Build it once with
// NewRegistry or a Builder; it is safe for concurrent Resolve calls.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry builds a registry from entries, rejecting empty kinds, nil
// handlers and duplicates.
func NewRegistry(entries ...Entry) (*Registry, error) {
	b := NewBuilder()
	for _, e := range entries {
		b.Handle(e.Kind, e.Handler)
	}
	return b.Build()
}

// Resolve returns the handler registered for kind.
func (r *Registry) Resolve(kind string) (Handler, bool) {
	if r == nil {
		return nil, false
	}
	h, ok := r.handlers[kind]
	return h, ok
}

// Kinds lists registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	if r == nil {
		return nil
	}
	kinds := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Len returns the number of registered kinds.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.handlers)
}

// Builder accumulates registrations. The first error sticks and is returned
// by Build.
type Builder struct {
	entries     []Entry
	seen        map[string]struct{}
	middlewares []Middleware
	err         error
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{seen: make(map[string]struct{})}
}

// Use appends middlewares applied to every handler at Build time.
func (b *Builder) Use(mws ...Middleware) *Builder {
	b.middlewares = append(b.middlewares, mws...)
	return b
}

// Handle registers h for kind.
func (b *Builder) Handle(kind string, h Handler) *Builder {
	if b.err != nil {
		return b
	}
	switch {
	case strings.TrimSpace(kind) == "":
		b.err = errspkg.ErrKindRequired
	case h == nil:
		b.err = fmt.Errorf("%w: kind %q", errspkg.ErrHandlerRequired, kind)
	default:
		if _, dup := b.seen[kind]; dup {
			b.err = fmt.Errorf("%w: %q", errspkg.ErrDuplicateKind, kind)
			return b
		}
		b.seen[kind] = struct{}{}
		b.entries = append(b.entries, Entry{Kind: kind, Handler: h})
	}
	return b
}

// HandleFunc registers a plain function for kind.
func (b *Builder) HandleFunc(kind string, fn HandlerFunc) *Builder {
	if fn == nil {
		return b.Handle(kind, nil)
	}
	return b.Handle(kind, fn)
}

// Build freezes the registrations into a Registry.
func (b *Builder) Build() (*Registry, error) {
	if b.err != nil {
		return nil, b.err
	}
	handlers := make(map[string]Handler, len(b.entries))
	for _, e := range b.entries {
		handlers[e.Kind] = Chain(e.Handler, b.middlewares...)
	}
	return &Registry{handlers: handlers}, nil
}
