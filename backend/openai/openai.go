// Package openai implements the backend contract on top of the OpenAI Chat
// Completions API (streaming and non-streaming) using the official client.
// It adapts semachat's normalized request into the SDK's message format and
// back.
package openai

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/sema-ai/semachat/backend"
	"github.com/sema-ai/semachat/core"
)

// Options configure the OpenAI backend. Extend via functional options
// without breaking callers.
type Options struct {
	Model  string
	APIKey string
	OrgID  string
}

// Backend wraps the OpenAI Chat Completions API behind the generic
// backend.Backend interface.
type Backend struct {
	client *openai.Client
	opts   Options

	mu     sync.RWMutex
	loaded bool
}

var _ backend.Backend = (*Backend)(nil)

// New constructs the variant from registry configuration. An API key is a
// hard prerequisite, checked before any client construction.
func New(cfg backend.Config) (*Backend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai api key is required", core.ErrLoad)
	}
	clientOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.OrgID != "" {
		clientOpts = append(clientOpts, option.WithOrganization(cfg.OrgID))
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(clientOpts...)

	model := cfg.Model
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	return &Backend{client: &client, opts: Options{Model: model, APIKey: cfg.APIKey, OrgID: cfg.OrgID}}, nil
}

// NewFromClient constructs the variant from an existing client. Used by
// tests to point the SDK at a fake upstream.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Backend {
	opts := Options{Model: openai.ChatModelGPT4oMini}
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
		return fmt.Errorf("%w: openai probe: %v", core.ErrLoad, err)
	}
	return nil
}

// Unload drops the ready flag. Idempotent; the SDK client holds no
// resources that need explicit release.
func (b *Backend) Unload(context.Context) error {
	b.setLoaded(false)
	return nil
}

// Generate implements one blocking chat completion round trip.
func (b *Backend) Generate(ctx context.Context, req backend.GenerationRequest) (*backend.GenerationResult, error) {
	if !b.isLoaded() {
		return nil, fmt.Errorf("%w: openai backend", core.ErrNotLoaded)
	}
	req.Normalize()

	start := time.Now()
	resp, err := b.client.Chat.Completions.New(ctx, b.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("%w: openai api: %v", core.ErrGeneration, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: openai api returned no choices", core.ErrGeneration)
	}

	choice := resp.Choices[0]
	text := strings.TrimSpace(choice.Message.Content)
	if text == "" {
		return nil, fmt.Errorf("%w: openai api returned empty completion", core.ErrGeneration)
	}
	return &backend.GenerationResult{
		Text:           text,
		TokenCount:     int(resp.Usage.CompletionTokens),
		FinishReason:   string(choice.FinishReason),
		GenerationTime: time.Since(start),
		MessageID:      core.NewID(),
		Model:          b.opts.Model,
	}, nil
}

// GenerateStream implements token streaming via the SDK's SSE stream.
func (b *Backend) GenerateStream(ctx context.Context, req backend.GenerationRequest) (<-chan core.StreamChunk, <-chan error) {
	out := make(chan core.StreamChunk, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		if !b.isLoaded() {
			errCh <- fmt.Errorf("%w: openai backend", core.ErrNotLoaded)
			return
		}
		req.Normalize()

		emitter := backend.NewChunkEmitter(out, req.SessionID, core.NewID())
		stream := b.client.Chat.Completions.NewStreaming(ctx, b.buildParams(req))
		for stream.Next() {
			ck := stream.Current()
			for _, choice := range ck.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				if err := emitter.Emit(ctx, choice.Delta.Content); err != nil {
					errCh <- err
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- fmt.Errorf("%w: openai streaming: %v", core.ErrGeneration, err)
			return
		}
		if err := emitter.Final(ctx); err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}

// buildParams assembles the SDK request from a normalized generation request.
func (b *Backend) buildParams(req backend.GenerationRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case core.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case core.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}
	return openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               b.opts.Model,
		Temperature:         openai.Float(req.Temperature),
		TopP:                openai.Float(req.TopP),
		MaxCompletionTokens: openai.Int(int64(req.MaxTokens)),
	}
}

// Describe reports the variant's descriptor.
func (b *Backend) Describe() backend.Descriptor {
	return backend.Descriptor{
		Name:         b.opts.Model,
		Provider:     "openai",
		Loaded:       b.isLoaded(),
		Capabilities: []string{backend.CapabilityChat, backend.CapabilityStreaming},
		Parameters: map[string]string{
			"org_configured": fmt.Sprintf("%t", b.opts.OrgID != ""),
		},
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
