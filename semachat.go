// Package semachat provides a model-agnostic chat orchestration layer: one
// uniform backend contract over local inference and hosted providers, a
// manager that hot-swaps the active backend with rollback, a TTL-bounded
// session store and an orchestrator for blocking and streaming chat turns.
// Most applications interact with this package by:
//  1. Loading configuration via config.Load() (env + optional .env)
//  2. Creating a Chat via New() and calling Initialize()
//  3. Driving turns through Process / ProcessStream
//
// The façade delegates orchestration to the chat package while keeping setup
// concise. Defaults are safe for local development: an in-memory session
// store and a local inference backend.
package semachat

import (
	"context"
	"time"

	"github.com/sema-ai/semachat/backend"
	"github.com/sema-ai/semachat/backend/anthropic"
	"github.com/sema-ai/semachat/backend/google"
	"github.com/sema-ai/semachat/backend/huggingface"
	"github.com/sema-ai/semachat/backend/local"
	"github.com/sema-ai/semachat/backend/minimax"
	"github.com/sema-ai/semachat/backend/openai"
	"github.com/sema-ai/semachat/chat"
	"github.com/sema-ai/semachat/config"
	"github.com/sema-ai/semachat/core"
	"github.com/sema-ai/semachat/logging"
	"github.com/sema-ai/semachat/manager"
	"github.com/sema-ai/semachat/session"
)

// DefaultRegistry returns a registry with all built-in backend variants
// installed under their config identifiers.
func DefaultRegistry() *backend.Registry {
	r := backend.NewRegistry()
	r.Register(config.BackendLocal, func(cfg backend.Config) (backend.Backend, error) { return local.New(cfg) })
	r.Register(config.BackendHuggingFace, func(cfg backend.Config) (backend.Backend, error) { return huggingface.New(cfg) })
	r.Register(config.BackendOpenAI, func(cfg backend.Config) (backend.Backend, error) { return openai.New(cfg) })
	r.Register(config.BackendAnthropic, func(cfg backend.Config) (backend.Backend, error) { return anthropic.New(cfg) })
	r.Register(config.BackendMiniMax, func(cfg backend.Config) (backend.Backend, error) { return minimax.New(cfg) })
	r.Register(config.BackendGoogle, func(cfg backend.Config) (backend.Backend, error) { return google.New(cfg) })
	return r
}

// Options configure a Chat instance.
type Options struct {
	// Registry defaults to DefaultRegistry(); supply a custom one to add
	// or replace variants.
	Registry *backend.Registry

	// Store defaults to an in-memory store, or a Redis store when the
	// configuration carries a REDIS_URL.
	Store session.Store

	// Logger defaults to a slog logger honoring the configured level and
	// format.
	Logger logging.Logger
}

// Chat is the high-level façade aggregating the manager, the session store
// and the orchestrator.
type Chat struct {
	cfg          *config.Config
	registry     *backend.Registry
	manager      *manager.Manager
	store        session.Store
	orchestrator *chat.Orchestrator
	logger       logging.Logger
}

// New assembles a Chat from configuration. The backend is not constructed
// until Initialize.
func New(ctx context.Context, cfg *config.Config, optFns ...func(o *Options)) (*Chat, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Registry == nil {
		opts.Registry = DefaultRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewChatLogger(&logging.Config{
			Level:  logging.ParseLevel(cfg.Log.Level),
			Format: cfg.Log.Format,
		})
	}

	store := opts.Store
	if store == nil {
		var err error
		store, err = newStore(ctx, cfg, opts.Logger)
		if err != nil {
			return nil, err
		}
	}

	mgr := manager.New(opts.Registry, cfg.Backend.Type, cfg.BackendSettings(), func(o *manager.Options) {
		o.Logger = opts.Logger
	})

	orch := chat.New(mgr, store, func(o *chat.Options) {
		o.Logger = opts.Logger
		o.SystemPrompt = cfg.Generation.SystemPrompt
		o.MaxConcurrentStreams = cfg.Stream.MaxConcurrent
		o.StreamDelay = cfg.Stream.Delay
		o.Defaults = chat.GenerationDefaults{
			Temperature: cfg.Generation.Temperature,
			MaxTokens:   cfg.Generation.MaxTokens,
			TopP:        cfg.Generation.TopP,
			TopK:        cfg.Generation.TopK,
		}
	})

	return &Chat{
		cfg:          cfg,
		registry:     opts.Registry,
		manager:      mgr,
		store:        store,
		orchestrator: orch,
		logger:       opts.Logger,
	}, nil
}

func newStore(ctx context.Context, cfg *config.Config, logger logging.Logger) (session.Store, error) {
	if cfg.Session.RedisURL != "" {
		return session.NewRedisStore(ctx, cfg.Session.RedisURL, func(o *session.RedisOptions) {
			o.TTL = cfg.Session.TTL
			o.MaxHistory = cfg.Session.MaxHistory
			o.Logger = logger
		})
	}
	return session.NewInMemoryStore(func(o *session.InMemoryOptions) {
		o.TTL = cfg.Session.TTL
		o.MaxHistory = cfg.Session.MaxHistory
		o.Logger = logger
	}), nil
}

// Initialize constructs and loads the configured backend.
func (c *Chat) Initialize(ctx context.Context) error {
	return c.manager.Initialize(ctx)
}

// Process handles one blocking chat turn.
func (c *Chat) Process(ctx context.Context, req chat.Request) (*chat.Response, error) {
	return c.orchestrator.Process(ctx, req)
}

// ProcessStream handles one streaming chat turn, subject to the concurrent
// stream cap.
func (c *Chat) ProcessStream(ctx context.Context, req chat.Request) (<-chan core.StreamChunk, <-chan error, error) {
	return c.orchestrator.ProcessStream(ctx, req)
}

// ProcessStreamSync is a synchronous helper that drains a stream, returning
// the accumulated text.
func (c *Chat) ProcessStreamSync(ctx context.Context, req chat.Request) (string, error) {
	chunks, errs, err := c.orchestrator.ProcessStream(ctx, req)
	if err != nil {
		return "", err
	}

	var text []byte
	for chunk := range chunks {
		text = append(text, chunk.Content...)
	}
	if err := <-errs; err != nil {
		return string(text), err
	}
	return string(text), nil
}

// SwitchBackend hot-swaps the active backend, rolling back to the previous
// working configuration on failure.
func (c *Chat) SwitchBackend(ctx context.Context, name string, cfg backend.Config) error {
	return c.manager.Switch(ctx, name, cfg)
}

// ActiveBackend describes the currently selected backend.
func (c *Chat) ActiveBackend() backend.Descriptor {
	return c.manager.Describe()
}

// SupportedBackends lists the registered backend identifiers.
func (c *Chat) SupportedBackends() []string {
	return c.registry.Names()
}

// History returns a session's stored messages, most recent n when limit > 0.
func (c *Chat) History(ctx context.Context, sessionID string, limit int) ([]core.Message, error) {
	return c.orchestrator.History(ctx, sessionID, limit)
}

// ClearSession removes a session, reporting whether it existed.
func (c *Chat) ClearSession(ctx context.Context, sessionID string) (bool, error) {
	return c.orchestrator.Clear(ctx, sessionID)
}

// ActiveSessions lists summaries of live sessions.
func (c *Chat) ActiveSessions(ctx context.Context) ([]core.SessionInfo, error) {
	return c.orchestrator.ActiveSessions(ctx)
}

// Health aggregates manager, backend and store health.
func (c *Chat) Health(ctx context.Context) chat.HealthReport {
	return c.orchestrator.Health(ctx)
}

// Shutdown unloads the active backend and closes the session store.
func (c *Chat) Shutdown(ctx context.Context) error {
	// Give in-flight unloads a bound even when the caller passes Background.
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	err := c.manager.Shutdown(ctx)
	if cerr := c.store.Close(); err == nil {
		err = cerr
	}
	return err
}
