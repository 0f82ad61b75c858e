// Package google implements the backend contract against the Google AI
// Studio (Gemini) generateContent API over plain HTTP. Streaming uses the
// streamGenerateContent endpoint with SSE framing.
package google

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

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Options configure the Google AI backend.
type Options struct {
	Model   string
	APIKey  string
	BaseURL string
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// Backend drives Gemini models through the AI Studio REST API.
type Backend struct {
	opts   Options
	client *http.Client

	mu     sync.RWMutex
	loaded bool
}

var _ backend.Backend = (*Backend)(nil)

// request/response shapes for the generateContent wire format.

type apiRequest struct {
	Contents          []apiContent   `json:"contents"`
	SystemInstruction *apiContent    `json:"systemInstruction,omitempty"`
	GenerationConfig  apiGenConfig   `json:"generationConfig"`
}

type apiContent struct {
	Role  string    `json:"role,omitempty"`
	Parts []apiPart `json:"parts"`
}

type apiPart struct {
	Text string `json:"text"`
}

type apiGenConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens"`
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	TopK            int     `json:"topK"`
}

type apiResponse struct {
	Candidates []struct {
		Content      apiContent `json:"content"`
		FinishReason string     `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// New constructs the variant from registry configuration.
func New(cfg backend.Config) (*Backend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: google api key is required", core.ErrLoad)
	}
	opts := Options{Model: cfg.Model, APIKey: cfg.APIKey, BaseURL: cfg.BaseURL}
	if opts.Model == "" {
		opts.Model = "gemini-1.5-flash"
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
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

// Load probes the generateContent endpoint with a minimal request.
func (b *Backend) Load(ctx context.Context) error {
	b.setLoaded(true)
	probe := backend.GenerationRequest{
		Messages:    []core.Message{core.NewMessage(core.RoleUser, "Hello")},
		Temperature: 0.1,
		MaxTokens:   5,
	}
	if _, err := b.Generate(ctx, probe); err != nil {
		b.setLoaded(false)
		return fmt.Errorf("%w: google probe: %v", core.ErrLoad, err)
	}
	return nil
}

// Unload drops the ready flag. Idempotent.
func (b *Backend) Unload(context.Context) error {
	b.setLoaded(false)
	return nil
}

// Generate implements one blocking generateContent round trip.
func (b *Backend) Generate(ctx context.Context, req backend.GenerationRequest) (*backend.GenerationResult, error) {
	if !b.isLoaded() {
		return nil, fmt.Errorf("%w: google backend", core.ErrNotLoaded)
	}
	req.Normalize()

	start := time.Now()
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", b.opts.BaseURL, b.opts.Model, b.opts.APIKey)
	resp, err := b.post(ctx, url, b.buildBody(req))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: google api: decode response: %v", core.ErrGeneration, err)
	}
	if len(parsed.Candidates) == 0 {
		return nil, fmt.Errorf("%w: google api returned no candidates", core.ErrGeneration)
	}

	candidate := parsed.Candidates[0]
	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		sb.WriteString(part.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return nil, fmt.Errorf("%w: google api returned empty completion", core.ErrGeneration)
	}

	finishReason := strings.ToLower(candidate.FinishReason)
	if finishReason == "" {
		finishReason = "stop"
	}
	return &backend.GenerationResult{
		Text:           text,
		TokenCount:     parsed.UsageMetadata.CandidatesTokenCount,
		FinishReason:   finishReason,
		GenerationTime: time.Since(start),
		MessageID:      core.NewID(),
		Model:          b.opts.Model,
	}, nil
}

// GenerateStream implements streaming via streamGenerateContent with SSE
// framing: each data line carries one apiResponse fragment.
func (b *Backend) GenerateStream(ctx context.Context, req backend.GenerationRequest) (<-chan core.StreamChunk, <-chan error) {
	out := make(chan core.StreamChunk, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		if !b.isLoaded() {
			errCh <- fmt.Errorf("%w: google backend", core.ErrNotLoaded)
			return
		}
		req.Normalize()

		url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", b.opts.BaseURL, b.opts.Model, b.opts.APIKey)
		resp, err := b.post(ctx, url, b.buildBody(req))
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
			var fragment apiResponse
			if err := json.Unmarshal([]byte(payload), &fragment); err != nil {
				continue
			}
			if len(fragment.Candidates) == 0 {
				continue
			}
			var sb strings.Builder
			for _, part := range fragment.Candidates[0].Content.Parts {
				sb.WriteString(part.Text)
			}
			if sb.Len() == 0 {
				continue
			}
			if err := emitter.Emit(ctx, sb.String()); err != nil {
				errCh <- err
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- fmt.Errorf("%w: google streaming: %v", core.ErrGeneration, err)
			return
		}
		if err := emitter.Final(ctx); err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}

func (b *Backend) buildBody(req backend.GenerationRequest) apiRequest {
	body := apiRequest{
		GenerationConfig: apiGenConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			TopK:            req.TopK,
		},
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case core.RoleSystem:
			body.SystemInstruction = &apiContent{Parts: []apiPart{{Text: msg.Content}}}
		case core.RoleAssistant:
			body.Contents = append(body.Contents, apiContent{Role: "model", Parts: []apiPart{{Text: msg.Content}}})
		default:
			body.Contents = append(body.Contents, apiContent{Role: "user", Parts: []apiPart{{Text: msg.Content}}})
		}
	}
	return body
}

func (b *Backend) post(ctx context.Context, url string, body apiRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: google api: encode request: %v", core.ErrGeneration, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: google api: build request: %v", core.ErrGeneration, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: google api: %v", core.ErrGeneration, err)
	}
	return resp, nil
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return fmt.Errorf("%w: google api status %d: %s", core.ErrGeneration, resp.StatusCode, strings.TrimSpace(string(body)))
}

// Describe reports the variant's descriptor.
func (b *Backend) Describe() backend.Descriptor {
	return backend.Descriptor{
		Name:         b.opts.Model,
		Provider:     "google",
		Loaded:       b.isLoaded(),
		Capabilities: []string{backend.CapabilityChat, backend.CapabilityStreaming},
		Parameters:   map[string]string{"base_url": b.opts.BaseURL},
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
