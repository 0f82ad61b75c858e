package backend

import (
	"fmt"
	"sort"
	"sync"
)

// Config carries the provider-opaque settings a factory needs to construct a
// variant. Fields not relevant to a given variant are ignored by it.
type Config struct {
	// Model is the provider-side model identifier.
	Model string
	// APIKey authenticates against hosted providers.
	APIKey string
	// OrgID is the optional OpenAI organization.
	OrgID string
	// BaseURL overrides the provider endpoint (HF inference URL, MiniMax API
	// URL, local engine host).
	BaseURL string
	// ModelVersion selects a provider model revision where applicable.
	ModelVersion string
}

// Factory constructs a backend variant from configuration. Factories
// validate their credential prerequisites and fail with a core.ErrLoad
// wrapped error before any resource acquisition.
type Factory func(cfg Config) (Backend, error)

// Registry is the lookup table binding backend identifiers to factories.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds name to factory, replacing any previous binding.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// New constructs the named variant. Unknown names are a configuration fault,
// reported as an error rather than a panic.
func (r *Registry) New(name string, cfg Config) (Backend, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown backend %q (registered: %v)", name, r.Names())
	}
	return factory(cfg)
}

// Names returns the registered backend identifiers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
