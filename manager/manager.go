// Package manager owns the single active backend instance: it selects,
// constructs, loads, health-checks and hot-swaps variants through the
// backend registry. Exactly one backend is active at a time.
package manager

import (
	"context"
	"fmt"
	"sync"

	"github.com/sema-ai/semachat/backend"
	"github.com/sema-ai/semachat/core"
	"github.com/sema-ai/semachat/logging"
)

// State is the manager lifecycle phase.
type State int

const (
	// StateUninitialized is the zero state before Initialize.
	StateUninitialized State = iota
	// StateInitializing covers construction + load of the first backend.
	StateInitializing
	// StateReady means the active backend is loaded and usable.
	StateReady
	// StateSwitching covers an in-progress hot swap.
	StateSwitching
	// StateFailed means no usable backend exists.
	StateFailed
)

// String returns the state name for logs and health payloads.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateSwitching:
		return "switching"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Options configure a Manager.
type Options struct {
	Logger logging.Logger
}

// Manager holds the active backend and its configuration. Public methods
// are safe for concurrent use; mutation happens only under the manager's
// lock while generate calls share the backend read-many.
type Manager struct {
	registry *backend.Registry
	logger   logging.Logger

	mu      sync.RWMutex
	state   State
	name    string
	cfg     backend.Config
	current backend.Backend
}

// New creates a manager over the given registry with the initial backend
// selection. Nothing is constructed until Initialize.
func New(registry *backend.Registry, name string, cfg backend.Config, optFns ...func(o *Options)) *Manager {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Manager{registry: registry, logger: opts.Logger, name: name, cfg: cfg}
}

// Initialize constructs and loads the configured backend. Factory-level
// prerequisite failures (missing credentials, unknown id) surface before any
// resource acquisition; load failures surface after. Either way the process
// survives and the manager reports failed.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateInitializing || m.state == StateSwitching {
		m.mu.Unlock()
		return fmt.Errorf("manager is busy (%s)", m.state)
	}
	m.state = StateInitializing
	name, cfg := m.name, m.cfg
	m.mu.Unlock()

	b, err := m.construct(ctx, name, cfg)
	if err != nil {
		m.setFailed()
		return err
	}

	m.mu.Lock()
	m.current = b
	m.state = StateReady
	m.mu.Unlock()
	m.logger.Info("backend initialized", "backend", name, "model", cfg.Model)
	return nil
}

// construct builds and loads one variant without touching manager state.
func (m *Manager) construct(ctx context.Context, name string, cfg backend.Config) (backend.Backend, error) {
	b, err := m.registry.New(name, cfg)
	if err != nil {
		return nil, err
	}
	if err := b.Load(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// Switch replaces the active backend. On any failure the previous
// configuration is re-initialized so the system never ends with zero usable
// backends when a working one existed; the switch itself is still reported
// as failed.
func (m *Manager) Switch(ctx context.Context, name string, cfg backend.Config) error {
	m.mu.Lock()
	if m.state == StateInitializing || m.state == StateSwitching {
		m.mu.Unlock()
		return fmt.Errorf("manager is busy (%s)", m.state)
	}
	prevName, prevCfg, prev := m.name, m.cfg, m.current
	hadWorking := m.state == StateReady && prev != nil
	m.state = StateSwitching
	m.mu.Unlock()

	m.logger.Info("switching backend", "from", prevName, "to", name)

	if prev != nil {
		if err := prev.Unload(ctx); err != nil {
			m.logger.Warn("unload of previous backend failed", "backend", prevName, "error", err)
		}
	}

	next, err := m.construct(ctx, name, cfg)
	if err == nil {
		m.mu.Lock()
		m.name, m.cfg, m.current = name, cfg, next
		m.state = StateReady
		m.mu.Unlock()
		m.logger.Info("backend switch complete", "backend", name, "model", cfg.Model)
		return nil
	}

	switchErr := fmt.Errorf("switch to %q failed: %w", name, err)
	if !hadWorking {
		m.setFailed()
		return switchErr
	}

	// Roll back to the previous working configuration.
	restored, rbErr := m.construct(ctx, prevName, prevCfg)
	if rbErr != nil {
		m.logger.Error("rollback failed, no usable backend", "backend", prevName, "error", rbErr)
		m.setFailed()
		return fmt.Errorf("%v (rollback to %q also failed: %w)", switchErr, prevName, rbErr)
	}

	m.mu.Lock()
	m.name, m.cfg, m.current = prevName, prevCfg, restored
	m.state = StateReady
	m.mu.Unlock()
	m.logger.Warn("backend switch rolled back", "failed", name, "active", prevName, "error", err)
	return switchErr
}

// IsReady reports whether the active backend is loaded and usable.
func (m *Manager) IsReady() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateReady && m.current != nil && m.current.Describe().Loaded
}

// Backend returns the active backend. Callers must treat a NotLoaded error
// as a fast failure rather than waiting for readiness.
func (m *Manager) Backend() (backend.Backend, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateReady || m.current == nil {
		return nil, fmt.Errorf("%w: manager state %s", core.ErrNotLoaded, m.state)
	}
	return m.current, nil
}

// State returns the current lifecycle phase.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// ActiveName returns the configured backend identifier.
func (m *Manager) ActiveName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.name
}

// Describe reports the active backend's descriptor, or an unloaded
// placeholder when none is active.
func (m *Manager) Describe() backend.Descriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return backend.Descriptor{Name: m.cfg.Model, Provider: m.name, Loaded: false}
	}
	return m.current.Describe()
}

// Health delegates to the active backend's trial generation, or reports
// unhealthy when the manager is not ready.
func (m *Manager) Health(ctx context.Context) backend.HealthStatus {
	b, err := m.Backend()
	if err != nil {
		return backend.HealthStatus{
			Status: backend.StatusUnhealthy,
			Reason: fmt.Sprintf("manager not ready (%s)", m.State()),
		}
	}
	return b.Health(ctx)
}

// Shutdown unloads the active backend and returns to uninitialized.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	current := m.current
	m.current = nil
	m.state = StateUninitialized
	m.mu.Unlock()
	if current == nil {
		return nil
	}
	return current.Unload(ctx)
}

func (m *Manager) setFailed() {
	m.mu.Lock()
	m.current = nil
	m.state = StateFailed
	m.mu.Unlock()
}
