package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
)

var (
	// ErrConfigRequired is returned when Build is called without a config.
	ErrConfigRequired = errors.New("transport: config is required")
	// ErrUnknownTransport is returned when no builder is registered for the
	// configured pub/sub system.
	ErrUnknownTransport = errors.New("transport: unknown transport")
)

type entry struct {
	builder Builder
	caps    Capabilities
	hasCaps bool
}

// Registry maps pubsub_system names to transport builders and capabilities.
// Names are matched case-insensitively.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// DefaultRegistry is the global transport registry. Transport packages add
// themselves to it from init.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register adds or replaces the builder for name, keeping any capabilities
// registered earlier.
func (r *Registry) Register(name string, builder Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := normalize(name)
	e := r.entries[key]
	e.builder = builder
	r.entries[key] = e
}

// RegisterWithCapabilities adds or replaces the builder and capabilities for name.
func (r *Registry) RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[normalize(name)] = entry{builder: builder, caps: caps, hasCaps: true}
}

// GetCapabilities returns the capabilities registered for name, or a zero
// set carrying only the name.
func (r *Registry) GetCapabilities(name string) Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[normalize(name)]; ok && e.hasCaps {
		return e.caps
	}
	return Capabilities{Name: name}
}

// Build creates the transport selected by cfg.GetPubSubSystem().
func (r *Registry) Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	if cfg == nil {
		return Transport{}, ErrConfigRequired
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	name := cfg.GetPubSubSystem()
	r.mu.RLock()
	e, ok := r.entries[normalize(name)]
	r.mu.RUnlock()

	if !ok || e.builder == nil {
		return Transport{}, fmt.Errorf("%w: %q (registered: %s)", ErrUnknownTransport, name, strings.Join(r.Names(), ", "))
	}
	return e.builder(ctx, cfg, logger)
}

// Names returns the registered transport names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name, e := range r.entries {
		if e.builder != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Has reports whether a builder is registered for name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[normalize(name)]
	return ok && e.builder != nil
}

// Register adds a builder to DefaultRegistry.
func Register(name string, builder Builder) {
	DefaultRegistry.Register(name, builder)
}

// RegisterWithCapabilities adds a builder and its capabilities to DefaultRegistry.
func RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	DefaultRegistry.RegisterWithCapabilities(name, builder, caps)
}

// Build creates a transport through DefaultRegistry.
func Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return DefaultRegistry.Build(ctx, cfg, logger)
}
