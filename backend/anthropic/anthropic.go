// Package anthropic implements the backend contract on top of the Anthropic
// Messages API using the official client, including event-stream streaming.
package anthropic

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/sema-ai/semachat/backend"
	"github.com/sema-ai/semachat/core"
)

// Options configure the Anthropic backend.
type Options struct {
	Model  anthropic.Model
	APIKey string
}

// Backend wraps the Anthropic Messages API behind the generic
// backend.Backend interface.
type Backend struct {
	client *anthropic.Client
	opts   Options

	mu     sync.RWMutex
	loaded bool
}

var _ backend.Backend = (*Backend)(nil)

// New constructs the variant from registry configuration. An API key is a
// hard prerequisite, checked before any client construction.
func New(cfg backend.Config) (*Backend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: anthropic api key is required", core.ErrLoad)
	}
	clientOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(clientOpts...)

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaude3_5Sonnet20241022
	}
	return &Backend{client: &client, opts: Options{Model: model, APIKey: cfg.APIKey}}, nil
}

// NewFromClient constructs the variant from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Backend {
	opts := Options{Model: anthropic.ModelClaude3_5Sonnet20241022}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Backend{client: client, opts: opts}
}

// Load verifies connectivity with one lightweight probe generation.
func (b *Backend) Load(ctx context.Context) error {
	probe := backend.GenerationRequest{
		Messages:    []core.Message{core.NewMessage(core.RoleUser, "Hello")},
		Temperature: 0.1,
		MaxTokens:   5,
	}
	b.setLoaded(true)
	if _, err := b.Generate(ctx, probe); err != nil {
		b.setLoaded(false)
		return fmt.Errorf("%w: anthropic probe: %v", core.ErrLoad, err)
	}
	return nil
}

// Unload drops the ready flag. Idempotent.
func (b *Backend) Unload(context.Context) error {
	b.setLoaded(false)
	return nil
}

// Generate implements one blocking Messages round trip.
func (b *Backend) Generate(ctx context.Context, req backend.GenerationRequest) (*backend.GenerationResult, error) {
	if !b.isLoaded() {
		return nil, fmt.Errorf("%w: anthropic backend", core.ErrNotLoaded)
	}
	req.Normalize()

	start := time.Now()
	resp, err := b.client.Messages.New(ctx, b.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("%w: anthropic api: %v", core.ErrGeneration, err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return nil, fmt.Errorf("%w: anthropic api returned empty completion", core.ErrGeneration)
	}

	finishReason := "stop"
	if resp.StopReason != "" {
		finishReason = string(resp.StopReason)
	}
	return &backend.GenerationResult{
		Text:           text,
		TokenCount:     int(resp.Usage.OutputTokens),
		FinishReason:   finishReason,
		GenerationTime: time.Since(start),
		MessageID:      core.NewID(),
		Model:          string(b.opts.Model),
	}, nil
}

// GenerateStream adapts the Messages event stream into chunk emission. Text
// deltas become content chunks; every other event type is bookkeeping.
func (b *Backend) GenerateStream(ctx context.Context, req backend.GenerationRequest) (<-chan core.StreamChunk, <-chan error) {
	out := make(chan core.StreamChunk, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		if !b.isLoaded() {
			errCh <- fmt.Errorf("%w: anthropic backend", core.ErrNotLoaded)
			return
		}
		req.Normalize()

		emitter := backend.NewChunkEmitter(out, req.SessionID, core.NewID())
		stream := b.client.Messages.NewStreaming(ctx, b.buildParams(req))
		for stream.Next() {
			event := stream.Current()
			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				switch delta := ev.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if delta.Text == "" {
						continue
					}
					if err := emitter.Emit(ctx, delta.Text); err != nil {
						errCh <- err
						return
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- fmt.Errorf("%w: anthropic streaming: %v", core.ErrGeneration, err)
			return
		}
		if err := emitter.Final(ctx); err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}

// buildParams assembles the Messages request. System messages move into the
// dedicated system field; the rest keep conversation order.
func (b *Backend) buildParams(req backend.GenerationRequest) anthropic.MessageNewParams {
	var system []anthropic.TextBlockParam
	var messages []anthropic.MessageParam
	for _, msg := range req.Messages {
		switch msg.Role {
		case core.RoleSystem:
			if msg.Content != "" {
				system = append(system, anthropic.TextBlockParam{Text: msg.Content})
			}
		case core.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       b.opts.Model,
		Messages:    messages,
		MaxTokens:   int64(req.MaxTokens),
		Temperature: anthropic.Float(req.Temperature),
		TopP:        anthropic.Float(req.TopP),
		TopK:        anthropic.Int(int64(req.TopK)),
	}
	if len(system) > 0 {
		params.System = system
	}
	return params
}

// Describe reports the variant's descriptor.
func (b *Backend) Describe() backend.Descriptor {
	return backend.Descriptor{
		Name:         string(b.opts.Model),
		Provider:     "anthropic",
		Loaded:       b.isLoaded(),
		Capabilities: []string{backend.CapabilityChat, backend.CapabilityStreaming},
	}
}

// Health runs the shared bounded-timeout trial generation.
func (b *Backend) Health(ctx context.Context) backend.HealthStatus {
	return backend.CheckHealth(ctx, b)
}

func (b *Backend) isLoaded() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.loaded
}

func (b *Backend) setLoaded(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loaded = v
}
