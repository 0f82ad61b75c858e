package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sema-ai/semachat/backend"
	"github.com/sema-ai/semachat/core"
)

func completionJSON(content string, tokens int) string {
	payload := map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{"prompt_tokens": 5, "completion_tokens": tokens, "total_tokens": 5 + tokens},
	}
	out, _ := json.Marshal(payload)
	return string(out)
}

func newTestBackend(t *testing.T, handler http.HandlerFunc) *Backend {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := openai.NewClient(
		option.WithAPIKey("test-key"),
		option.WithBaseURL(server.URL),
		option.WithMaxRetries(0),
	)
	return NewFromClient(&client)
}

func TestOpenAI_GenerateParsesCompletion(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, completionJSON("Paris.", 4))
	})
	require.NoError(t, b.Load(context.Background()))

	res, err := b.Generate(context.Background(), backend.GenerationRequest{
		Messages: []core.Message{core.NewMessage(core.RoleUser, "Capital of France?")},
	})
	require.NoError(t, err)
	assert.Equal(t, "Paris.", res.Text)
	assert.Equal(t, 4, res.TokenCount)
	assert.Equal(t, "stop", res.FinishReason)
	assert.NotEmpty(t, res.MessageID)
}

func TestOpenAI_UpstreamErrorWrapsGeneration(t *testing.T) {
	calls := 0
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 { // load probe
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, completionJSON("ok", 1))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": {"message": "rate limited", "type": "rate_limit_error"}}`)
	})
	require.NoError(t, b.Load(context.Background()))

	_, err := b.Generate(context.Background(), backend.GenerationRequest{
		Messages: []core.Message{core.NewMessage(core.RoleUser, "hi")},
	})
	require.ErrorIs(t, err, core.ErrGeneration)
}

func TestOpenAI_LoadFailureLeavesUnloaded(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": {"message": "bad key"}}`)
	})

	err := b.Load(context.Background())
	require.ErrorIs(t, err, core.ErrLoad)
	assert.False(t, b.Describe().Loaded)

	_, err = b.Generate(context.Background(), backend.GenerationRequest{
		Messages: []core.Message{core.NewMessage(core.RoleUser, "hi")},
	})
	require.ErrorIs(t, err, core.ErrNotLoaded)
}

func TestOpenAI_NewRequiresAPIKey(t *testing.T) {
	_, err := New(backend.Config{Model: "gpt-4o-mini"})
	require.ErrorIs(t, err, core.ErrLoad)
}

func TestOpenAI_NewAppliesDefaultModel(t *testing.T) {
	b, err := New(backend.Config{APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, openai.ChatModelGPT4oMini, b.Describe().Name)
	assert.Equal(t, "openai", b.Describe().Provider)
}
