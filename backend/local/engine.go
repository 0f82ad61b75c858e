package local

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sema-ai/semachat/core"
)

// CompletionRequest is the engine-level input: already normalized generation
// parameters plus the assembled message list.
type CompletionRequest struct {
	Messages    []core.Message
	Temperature float64
	MaxTokens   int
	TopP        float64
	TopK        int
}

// Engine is the blocking compute interface the local backend schedules onto
// its worker pool. Implementations may hold model weights in memory or drive
// a local inference server; either way their calls block the worker, never
// the stream consumer.
type Engine interface {
	// Load acquires model resources. Called once before any completion.
	Load(ctx context.Context) error
	// Unload releases model resources; idempotent.
	Unload(ctx context.Context) error
	// Complete runs one full generation and returns the text.
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	// CompleteStream runs one generation, invoking emit for every produced
	// token fragment in order. A non-nil emit error aborts the generation.
	CompleteStream(ctx context.Context, req CompletionRequest, emit func(token string) error) error
	// Name identifies the loaded model.
	Name() string
}

const defaultOllamaHost = "http://localhost:11434"

// OllamaEngine runs local models through an Ollama daemon. The daemon owns
// the weights; Load verifies the daemon is reachable and the model is
// present so activation fails before the first chat request does.
type OllamaEngine struct {
	model  string
	host   string
	client *http.Client
}

// NewOllamaEngine creates an engine for the given model. Empty host selects
// the default local daemon address.
func NewOllamaEngine(model, host string) *OllamaEngine {
	if host == "" {
		host = defaultOllamaHost
	}
	return &OllamaEngine{
		model:  model,
		host:   strings.TrimSuffix(host, "/"),
		client: &http.Client{Timeout: 5 * time.Minute},
	}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
	TopP        float64 `json:"top_p"`
	TopK        int     `json:"top_k"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Load checks daemon reachability and model presence via /api/tags.
func (e *OllamaEngine) Load(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.host+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama daemon unreachable at %s: %w", e.host, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama daemon returned status %d", resp.StatusCode)
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("decode ollama tags: %w", err)
	}
	for _, m := range tags.Models {
		if m.Name == e.model || strings.TrimSuffix(m.Name, ":latest") == e.model {
			return nil
		}
	}
	return fmt.Errorf("model %q not present in ollama daemon", e.model)
}

// Unload is a no-op: the daemon owns the weights.
func (e *OllamaEngine) Unload(context.Context) error { return nil }

// Complete runs a non-streaming chat generation.
func (e *OllamaEngine) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	resp, err := e.chat(ctx, req, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	return parsed.Message.Content, nil
}

// CompleteStream runs a streaming chat generation. Ollama frames the stream
// as newline-delimited JSON objects ending with a done marker.
func (e *OllamaEngine) CompleteStream(ctx context.Context, req CompletionRequest, emit func(token string) error) error {
	resp, err := e.chat(ctx, req, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var fragment ollamaChatResponse
		if err := json.Unmarshal(line, &fragment); err != nil {
			continue
		}
		if fragment.Message.Content != "" {
			if err := emit(fragment.Message.Content); err != nil {
				return err
			}
		}
		if fragment.Done {
			break
		}
	}
	return scanner.Err()
}

func (e *OllamaEngine) chat(ctx context.Context, req CompletionRequest, stream bool) (*http.Response, error) {
	messages := make([]ollamaMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, ollamaMessage{Role: msg.Role, Content: msg.Content})
	}
	body := ollamaChatRequest{
		Model:    e.model,
		Messages: messages,
		Stream:   stream,
		Options: ollamaOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
			TopP:        req.TopP,
			TopK:        req.TopK,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		return nil, fmt.Errorf("ollama chat status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}
	return resp, nil
}

// Name identifies the loaded model.
func (e *OllamaEngine) Name() string { return e.model }
