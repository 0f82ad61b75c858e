// Package minimax implements the backend contract against the MiniMax chat
// completion API over plain HTTP. The wire format is OpenAI-shaped with an
// additional reasoning_content field that this variant surfaces inline,
// which is why it advertises the reasoning capability.
package minimax

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sema-ai/semachat/backend"
	"github.com/sema-ai/semachat/core"
)

// Options configure the MiniMax backend. APIURL has no default: MiniMax
// deployments are region-scoped, so the endpoint is a hard prerequisite.
type Options struct {
	Model        string
	ModelVersion string
	APIKey       string
	APIURL       string
	HTTPClient   *http.Client
}

// Backend drives MiniMax models through their chat completion endpoint.
type Backend struct {
	opts   Options
	client *http.Client

	mu     sync.RWMutex
	loaded bool
}

var _ backend.Backend = (*Backend)(nil)

type apiMessage struct {
	Role             string `json:"role"`
	Content          string `json:"content"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

type apiRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	Stream      bool         `json:"stream"`
	MaxTokens   int          `json:"max_tokens"`
	Temperature float64      `json:"temperature"`
	TopP        float64      `json:"top_p"`
}

type apiChoice struct {
	Message      *apiMessage `json:"message,omitempty"`
	Delta        *apiMessage `json:"delta,omitempty"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

type apiResponse struct {
	Choices []apiChoice `json:"choices"`
	Usage   struct {
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// New constructs the variant from registry configuration. Both the API key
// and the endpoint URL are prerequisites.
func New(cfg backend.Config) (*Backend, error) {
	if cfg.APIKey == "" || cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: minimax api key and api url are required", core.ErrLoad)
	}
	opts := Options{
		Model:        cfg.Model,
		ModelVersion: cfg.ModelVersion,
		APIKey:       cfg.APIKey,
		APIURL:       cfg.BaseURL,
	}
	if opts.Model == "" {
		opts.Model = "MiniMax-M1"
	}
	if opts.ModelVersion == "" {
		opts.ModelVersion = opts.Model
	}
	return NewWithOptions(opts), nil
}

// NewWithOptions constructs the variant directly, bypassing the registry.
func NewWithOptions(opts Options) *Backend {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Backend{opts: opts, client: client}
}

// Load probes the endpoint with a minimal request.
func (b *Backend) Load(ctx context.Context) error {
	b.setLoaded(true)
	probe := backend.GenerationRequest{
		Messages:    []core.Message{core.NewMessage(core.RoleUser, "Hello")},
		Temperature: 0.1,
		MaxTokens:   5,
	}
	if _, err := b.Generate(ctx, probe); err != nil {
		b.setLoaded(false)
		return fmt.Errorf("%w: minimax probe: %v", core.ErrLoad, err)
	}
	return nil
}

// Unload drops the ready flag. Idempotent.
func (b *Backend) Unload(context.Context) error {
	b.setLoaded(false)
	return nil
}

// Generate implements one blocking round trip. Reasoning content, when
// present alongside the answer, is prefixed inline so callers see the full
// model output.
func (b *Backend) Generate(ctx context.Context, req backend.GenerationRequest) (*backend.GenerationResult, error) {
	if !b.isLoaded() {
		return nil, fmt.Errorf("%w: minimax backend", core.ErrNotLoaded)
	}
	req.Normalize()

	start := time.Now()
	resp, err := b.post(ctx, b.buildBody(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: minimax api: decode response: %v", core.ErrGeneration, err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message == nil {
		return nil, fmt.Errorf("%w: minimax api returned no choices", core.ErrGeneration)
	}

	msg := parsed.Choices[0].Message
	text := msg.Content
	if msg.ReasoningContent != "" && text != "" {
		text = fmt.Sprintf("[Reasoning: %s]\n\n%s", msg.ReasoningContent, text)
	} else if text == "" {
		text = msg.ReasoningContent
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: minimax api returned empty completion", core.ErrGeneration)
	}

	finishReason := parsed.Choices[0].FinishReason
	if finishReason == "" {
		finishReason = "stop"
	}
	return &backend.GenerationResult{
		Text:           text,
		TokenCount:     parsed.Usage.CompletionTokens,
		FinishReason:   finishReason,
		GenerationTime: time.Since(start),
		MessageID:      core.NewID(),
		Model:          b.opts.Model,
	}, nil
}

// GenerateStream implements SSE streaming. Reasoning deltas are emitted as
// bracketed thinking chunks ahead of answer content.
func (b *Backend) GenerateStream(ctx context.Context, req backend.GenerationRequest) (<-chan core.StreamChunk, <-chan error) {
	out := make(chan core.StreamChunk, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		if !b.isLoaded() {
			errCh <- fmt.Errorf("%w: minimax backend", core.ErrNotLoaded)
			return
		}
		req.Normalize()

		resp, err := b.post(ctx, b.buildBody(req, true))
		if err != nil {
			errCh <- err
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			errCh <- apiError(resp)
			return
		}

		emitter := backend.NewChunkEmitter(out, req.SessionID, core.NewID())
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				break
			}
			var fragment apiResponse
			if err := json.Unmarshal([]byte(payload), &fragment); err != nil {
				continue
			}
			if len(fragment.Choices) == 0 {
				continue
			}
			choice := fragment.Choices[0]
			if choice.Delta != nil {
				if choice.Delta.ReasoningContent != "" {
					if err := emitter.Emit(ctx, fmt.Sprintf("[Thinking: %s]", choice.Delta.ReasoningContent)); err != nil {
						errCh <- err
						return
					}
				}
				if choice.Delta.Content != "" {
					if err := emitter.Emit(ctx, choice.Delta.Content); err != nil {
						errCh <- err
						return
					}
				}
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- fmt.Errorf("%w: minimax streaming: %v", core.ErrGeneration, err)
			return
		}
		if err := emitter.Final(ctx); err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}

func (b *Backend) buildBody(req backend.GenerationRequest, stream bool) apiRequest {
	messages := make([]apiMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, apiMessage{Role: msg.Role, Content: msg.Content})
	}
	return apiRequest{
		Model:       b.opts.ModelVersion,
		Messages:    messages,
		Stream:      stream,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
}

func (b *Backend) post(ctx context.Context, body apiRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: minimax api: encode request: %v", core.ErrGeneration, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.opts.APIURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: minimax api: build request: %v", core.ErrGeneration, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+b.opts.APIKey)
	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: minimax api: %v", core.ErrGeneration, err)
	}
	return resp, nil
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return fmt.Errorf("%w: minimax api status %d: %s", core.ErrGeneration, resp.StatusCode, strings.TrimSpace(string(body)))
}

// Describe reports the variant's descriptor.
func (b *Backend) Describe() backend.Descriptor {
	return backend.Descriptor{
		Name:         b.opts.Model,
		Provider:     "minimax",
		Loaded:       b.isLoaded(),
		Capabilities: []string{backend.CapabilityChat, backend.CapabilityStreaming, backend.CapabilityReasoning},
		Parameters:   map[string]string{"model_version": b.opts.ModelVersion},
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
