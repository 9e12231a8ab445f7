package transport

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	errspkg "github.com/drblury/eventport/internal/runtime/errors"
	loggingpkg "github.com/drblury/eventport/internal/runtime/logging"
)

// Registry maps adapter kinds to their builders and capabilities. Adding a
// broker is one Register call.
type Registry struct {
	mu           sync.RWMutex
	builders     map[string]Builder
	capabilities map[string]Capabilities
}

// DefaultRegistry is the global adapter registry.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{
		builders:     make(map[string]Builder),
		capabilities: make(map[string]Capabilities),
	}
}

// Register adds a builder under name, replacing any previous one. Names are
// case-insensitive.
func (r *Registry) Register(name string, builder Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[normalizeName(name)] = builder
}

// RegisterWithCapabilities adds a builder together with its capabilities.
func (r *Registry) RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name = normalizeName(name)
	r.builders[name] = builder
	r.capabilities[name] = caps
}

// GetCapabilities returns the registered capabilities, or a zero value
// carrying only the name.
func (r *Registry) GetCapabilities(name string) Capabilities {
	name = normalizeName(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if caps, ok := r.capabilities[name]; ok {
		return caps
	}
	return Capabilities{Name: name}
}

// Build creates the Port for cfg.GetAdapter(). An unknown kind is a
// ConfigurationError listing the registered kinds.
func (r *Registry) Build(ctx context.Context, cfg Config, logger loggingpkg.ServiceLogger) (Port, error) {
	if cfg == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}

	name := normalizeName(cfg.GetAdapter())

	r.mu.RLock()
	builder, ok := r.builders[name]
	r.mu.RUnlock()

	if !ok {
		return nil, &errspkg.ConfigurationError{
			Field:  "adapter",
			Reason: fmt.Sprintf("%q is not registered (registered: %s)", name, strings.Join(r.Names(), ", ")),
		}
	}

	return builder(ctx, cfg, logger.With(loggingpkg.LogFields{"adapter": name}))
}

// Names returns the registered kinds, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[normalizeName(name)]
	return ok
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register adds a builder to the default registry.
func Register(name string, builder Builder) {
	DefaultRegistry.Register(name, builder)
}

// RegisterWithCapabilities adds a builder and its capabilities to the
// default registry.
func RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	DefaultRegistry.RegisterWithCapabilities(name, builder, caps)
}

// Build creates a Port using the default registry.
func Build(ctx context.Context, cfg Config, logger loggingpkg.ServiceLogger) (Port, error) {
	return DefaultRegistry.Build(ctx, cfg, logger)
}
