package huggingface

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sema-ai/semachat/backend"
	"github.com/sema-ai/semachat/core"
)

func chatResponse(content string, tokens int) string {
	payload := map[string]any{
		"choices": []map[string]any{{
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{"completion_tokens": tokens},
	}
	out, _ := json.Marshal(payload)
	return string(out)
}

func newTestBackend(t *testing.T, handler http.HandlerFunc) *Backend {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewWithOptions(Options{
		Model:        "microsoft/phi-2",
		APIToken:     "hf-token",
		InferenceURL: server.URL,
		HTTPClient:   server.Client(),
	})
}

func TestHuggingFace_EndpointIncludesModelPath(t *testing.T) {
	var gotPath, gotAuth string
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, chatResponse("hi there", 2))
	})
	require.NoError(t, b.Load(context.Background()))

	res, err := b.Generate(context.Background(), backend.GenerationRequest{
		Messages: []core.Message{core.NewMessage(core.RoleUser, "hello")},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", res.Text)
	assert.Equal(t, "/microsoft/phi-2/v1/chat/completions", gotPath)
	assert.Equal(t, "Bearer hf-token", gotAuth)
}

func TestHuggingFace_LoadFailsOnColdModel(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "Model microsoft/phi-2 is currently loading"}`, http.StatusServiceUnavailable)
	})

	err := b.Load(context.Background())
	require.ErrorIs(t, err, core.ErrLoad)
	assert.False(t, b.Describe().Loaded)
}

func TestHuggingFace_StreamConcatenatesDeltas(t *testing.T) {
	delta := func(content string) string {
		payload := map[string]any{
			"choices": []map[string]any{{"delta": map[string]string{"content": content}}},
		}
		out, _ := json.Marshal(payload)
		return string(out)
	}

	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		var body apiRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if !body.Stream {
			fmt.Fprint(w, chatResponse("ok", 1))
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, piece := range []string{"str", "eam", "ing"} {
			fmt.Fprintf(w, "data: %s\n\n", delta(piece))
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	require.NoError(t, b.Load(context.Background()))

	chunks, errs := b.GenerateStream(context.Background(), backend.GenerationRequest{
		SessionID: "s1",
		Messages:  []core.Message{core.NewMessage(core.RoleUser, "hi")},
	})

	var sb strings.Builder
	var finals int
	for chunk := range chunks {
		if chunk.IsFinal {
			finals++
			continue
		}
		sb.WriteString(chunk.Content)
	}
	require.NoError(t, <-errs)
	assert.Equal(t, "streaming", sb.String())
	assert.Equal(t, 1, finals)
}

func TestHuggingFace_NewRequiresToken(t *testing.T) {
	_, err := New(backend.Config{Model: "microsoft/phi-2"})
	require.ErrorIs(t, err, core.ErrLoad)
}

func TestHuggingFace_NewAppliesDefaults(t *testing.T) {
	b, err := New(backend.Config{APIKey: "hf-token"})
	require.NoError(t, err)
	desc := b.Describe()
	assert.Equal(t, "microsoft/phi-2", desc.Name)
	assert.Equal(t, defaultInferenceURL, desc.Parameters["inference_url"])
}
