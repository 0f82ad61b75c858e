// Package chat wires the backend manager and the session store into the
// conversational entry points: blocking request/response, streaming with a
// concurrency cap, and session utilities.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sema-ai/semachat/backend"
	"github.com/sema-ai/semachat/core"
	"github.com/sema-ai/semachat/logging"
	"github.com/sema-ai/semachat/manager"
	"github.com/sema-ai/semachat/session"
)

// Defaults applied when a request leaves generation parameters unset.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 512
	DefaultTopP        = 0.9
	DefaultTopK        = 50

	DefaultHistoryLimit         = 20
	DefaultMaxConcurrentStreams = 10
)

// GenerationDefaults fill in request parameters left at their zero value.
type GenerationDefaults struct {
	Temperature float64
	MaxTokens   int
	TopP        float64
	TopK        int
}

// Options configure an Orchestrator.
type Options struct {
	Logger logging.Logger

	// SystemPrompt is prepended to every generation unless the request
	// overrides it or the session already pins its own system message.
	SystemPrompt string

	// HistoryLimit bounds how many stored messages are replayed to the
	// backend per generation.
	HistoryLimit int

	// MaxConcurrentStreams caps simultaneously open streams; 0 disables
	// the cap.
	MaxConcurrentStreams int

	// StreamDelay paces emitted content chunks; 0 forwards at source rate.
	StreamDelay time.Duration

	Defaults GenerationDefaults
}

// Request is one inbound chat turn.
type Request struct {
	SessionID    string
	Message      string
	Temperature  float64
	MaxTokens    int
	TopP         float64
	TopK         int
	SystemPrompt string
}

// Response is the completed result of a blocking chat turn.
type Response struct {
	SessionID      string        `json:"session_id"`
	MessageID      string        `json:"message_id"`
	Text           string        `json:"text"`
	Model          string        `json:"model"`
	TokenCount     int           `json:"token_count,omitempty"`
	FinishReason   string        `json:"finish_reason,omitempty"`
	GenerationTime time.Duration `json:"generation_time"`
}

// HealthReport aggregates the manager, the active backend and the session
// store into one health payload.
type HealthReport struct {
	Status        string               `json:"status"`
	ManagerState  string               `json:"manager_state"`
	Backend       backend.HealthStatus `json:"backend"`
	StoreReady    bool                 `json:"store_ready"`
	StoreError    string               `json:"store_error,omitempty"`
	ActiveStreams int                  `json:"active_streams"`
}

// Orchestrator coordinates one chat turn at a time per call: session
// bookkeeping, prompt assembly, dispatch to the active backend and
// persistence of the exchange.
type Orchestrator struct {
	manager *manager.Manager
	store   session.Store
	limiter *StreamLimiter
	logger  logging.Logger

	systemPrompt string
	historyLimit int
	streamDelay  time.Duration
	defaults     GenerationDefaults
}

// New creates an orchestrator over the given manager and store.
func New(mgr *manager.Manager, store session.Store, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		Logger:               logging.NoOpLogger{},
		HistoryLimit:         DefaultHistoryLimit,
		MaxConcurrentStreams: DefaultMaxConcurrentStreams,
		Defaults: GenerationDefaults{
			Temperature: DefaultTemperature,
			MaxTokens:   DefaultMaxTokens,
			TopP:        DefaultTopP,
			TopK:        DefaultTopK,
		},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Orchestrator{
		manager:      mgr,
		store:        store,
		limiter:      NewStreamLimiter(opts.MaxConcurrentStreams),
		logger:       opts.Logger,
		systemPrompt: opts.SystemPrompt,
		historyLimit: opts.HistoryLimit,
		streamDelay:  opts.StreamDelay,
		defaults:     opts.Defaults,
	}
}

// Process handles one blocking chat turn: the user message is persisted
// first, so it survives a failed generation; the assistant message is
// persisted only on success.
func (o *Orchestrator) Process(ctx context.Context, req Request) (*Response, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	b, err := o.manager.Backend()
	if err != nil {
		return nil, err
	}

	genReq, err := o.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := b.Generate(ctx, *genReq)
	if err != nil {
		o.logger.Error("generation failed", "session", req.SessionID, "error", err)
		return nil, err
	}
	if strings.TrimSpace(result.Text) == "" {
		return nil, fmt.Errorf("%w: model returned empty text", core.ErrGeneration)
	}

	assistant := core.NewMessage(core.RoleAssistant, result.Text)
	assistant.Metadata = map[string]string{"message_id": result.MessageID, "model": result.Model}
	if err := o.store.Append(ctx, req.SessionID, assistant); err != nil {
		return nil, err
	}

	o.logger.Info("chat turn complete",
		"session", req.SessionID, "model", result.Model,
		"tokens", result.TokenCount, "duration", time.Since(start))

	return &Response{
		SessionID:      req.SessionID,
		MessageID:      result.MessageID,
		Text:           result.Text,
		Model:          result.Model,
		TokenCount:     result.TokenCount,
		FinishReason:   result.FinishReason,
		GenerationTime: result.GenerationTime,
	}, nil
}

// ProcessStream handles one streaming chat turn. The capacity slot is
// claimed before any other work and released on every exit path. Chunks are
// forwarded in source order; the accumulated assistant message is persisted
// just before the final chunk is forwarded, so consumers observing the final
// chunk can rely on the history already containing the reply. A mid-stream
// backend fault is forwarded on the error channel, no final chunk is sent
// and no assistant message is persisted.
func (o *Orchestrator) ProcessStream(ctx context.Context, req Request) (<-chan core.StreamChunk, <-chan error, error) {
	if err := validate(req); err != nil {
		return nil, nil, err
	}
	if err := o.limiter.Acquire(); err != nil {
		return nil, nil, err
	}

	b, err := o.manager.Backend()
	if err != nil {
		o.limiter.Release()
		return nil, nil, err
	}
	genReq, err := o.prepare(ctx, req)
	if err != nil {
		o.limiter.Release()
		return nil, nil, err
	}

	srcChunks, srcErrs := b.GenerateStream(ctx, *genReq)

	out := make(chan core.StreamChunk, 32)
	errCh := make(chan error, 1)

	go func() {
		defer o.limiter.Release()
		defer close(out)
		defer close(errCh)

		var sb strings.Builder
		for chunk := range srcChunks {
			if chunk.IsFinal {
				if sb.Len() > 0 {
					assistant := core.NewMessage(core.RoleAssistant, sb.String())
					assistant.Metadata = map[string]string{"message_id": chunk.MessageID, "model": o.manager.Describe().Name}
					if err := o.store.Append(ctx, req.SessionID, assistant); err != nil {
						o.logger.Error("persisting streamed reply failed", "session", req.SessionID, "error", err)
						errCh <- err
						return
					}
				}
				if !o.forward(ctx, out, chunk) {
					return
				}
				continue
			}

			sb.WriteString(chunk.Content)
			if !o.forward(ctx, out, chunk) {
				return
			}
			if o.streamDelay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(o.streamDelay):
				}
			}
		}

		if err := <-srcErrs; err != nil {
			o.logger.Error("stream failed", "session", req.SessionID, "error", err)
			errCh <- err
		}
	}()

	return out, errCh, nil
}

// forward relays one chunk, reporting false when the consumer's context was
// cancelled.
func (o *Orchestrator) forward(ctx context.Context, out chan<- core.StreamChunk, chunk core.StreamChunk) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- chunk:
		return true
	}
}

// prepare persists the user message and assembles the generation request
// from the system prompt, the bounded history and the filled-in parameters.
func (o *Orchestrator) prepare(ctx context.Context, req Request) (*backend.GenerationRequest, error) {
	if err := o.store.Ensure(ctx, req.SessionID); err != nil {
		return nil, err
	}
	if err := o.store.Append(ctx, req.SessionID, core.NewMessage(core.RoleUser, req.Message)); err != nil {
		return nil, err
	}

	history, err := o.store.Messages(ctx, req.SessionID, o.historyLimit)
	if err != nil {
		return nil, err
	}

	prompt := req.SystemPrompt
	if prompt == "" {
		prompt = o.systemPrompt
	}
	messages := history
	if prompt != "" && (len(history) == 0 || history[0].Role != core.RoleSystem) {
		messages = append([]core.Message{core.NewMessage(core.RoleSystem, prompt)}, history...)
	}

	genReq := &backend.GenerationRequest{
		SessionID:   req.SessionID,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
		TopK:        req.TopK,
	}
	o.fillDefaults(genReq)
	return genReq, nil
}

// fillDefaults substitutes configured defaults for zero-valued parameters.
func (o *Orchestrator) fillDefaults(r *backend.GenerationRequest) {
	if r.Temperature == 0 {
		r.Temperature = o.defaults.Temperature
	}
	if r.MaxTokens == 0 {
		r.MaxTokens = o.defaults.MaxTokens
	}
	if r.TopP == 0 {
		r.TopP = o.defaults.TopP
	}
	if r.TopK == 0 {
		r.TopK = o.defaults.TopK
	}
}

func validate(req Request) error {
	if strings.TrimSpace(req.SessionID) == "" {
		return fmt.Errorf("%w: session id is required", core.ErrValidation)
	}
	if strings.TrimSpace(req.Message) == "" {
		return fmt.Errorf("%w: message is required", core.ErrValidation)
	}
	return nil
}

// History returns the stored messages of a session, most recent n when
// limit > 0.
func (o *Orchestrator) History(ctx context.Context, sessionID string, limit int) ([]core.Message, error) {
	return o.store.Messages(ctx, sessionID, limit)
}

// Clear removes a session, reporting whether it existed.
func (o *Orchestrator) Clear(ctx context.Context, sessionID string) (bool, error) {
	return o.store.Delete(ctx, sessionID)
}

// ActiveSessions lists summaries of live sessions.
func (o *Orchestrator) ActiveSessions(ctx context.Context) ([]core.SessionInfo, error) {
	return o.store.ListActive(ctx)
}

// ActiveStreams returns the number of streams currently holding capacity
// slots.
func (o *Orchestrator) ActiveStreams() int {
	return o.limiter.Active()
}

// Health aggregates manager readiness, the active backend's trial
// generation and session store reachability.
func (o *Orchestrator) Health(ctx context.Context) HealthReport {
	report := HealthReport{
		ManagerState:  o.manager.State().String(),
		Backend:       o.manager.Health(ctx),
		StoreReady:    true,
		ActiveStreams: o.limiter.Active(),
	}
	if err := o.store.Ping(ctx); err != nil {
		report.StoreReady = false
		report.StoreError = err.Error()
	}

	if report.Backend.Status == backend.StatusHealthy && report.StoreReady {
		report.Status = backend.StatusHealthy
	} else {
		report.Status = backend.StatusUnhealthy
	}
	return report
}
