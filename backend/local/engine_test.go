package local

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

	"github.com/sema-ai/semachat/core"
)

func newOllamaServer(t *testing.T, handler http.HandlerFunc) *OllamaEngine {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewOllamaEngine("tinyllama", server.URL)
}

func tagsJSON(names ...string) string {
	models := make([]map[string]string, 0, len(names))
	for _, n := range names {
		models = append(models, map[string]string{"name": n})
	}
	out, _ := json.Marshal(map[string]any{"models": models})
	return string(out)
}

func TestOllama_LoadFindsModelInTags(t *testing.T) {
	e := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		fmt.Fprint(w, tagsJSON("mistral:7b", "tinyllama:latest"))
	})
	require.NoError(t, e.Load(context.Background()))
}

func TestOllama_LoadFailsWhenModelMissing(t *testing.T) {
	e := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, tagsJSON("mistral:7b"))
	})
	err := e.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tinyllama")
}

func TestOllama_CompleteReturnsMessageContent(t *testing.T) {
	e := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var body ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "tinyllama", body.Model)
		assert.False(t, body.Stream)
		_ = json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: ollamaMessage{Role: "assistant", Content: "local reply"},
			Done:    true,
		})
	})

	text, err := e.Complete(context.Background(), CompletionRequest{
		Messages: []core.Message{core.NewMessage(core.RoleUser, "hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "local reply", text)
}

func TestOllama_CompleteStreamEmitsTokensUntilDone(t *testing.T) {
	e := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		for _, token := range []string{"to", "ken", "s"} {
			_ = enc.Encode(ollamaChatResponse{Message: ollamaMessage{Content: token}})
		}
		_ = enc.Encode(ollamaChatResponse{Done: true})
	})

	var sb strings.Builder
	err := e.CompleteStream(context.Background(), CompletionRequest{
		Messages: []core.Message{core.NewMessage(core.RoleUser, "hi")},
	}, func(token string) error {
		sb.WriteString(token)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "tokens", sb.String())
}

func TestOllama_ChatErrorIncludesStatus(t *testing.T) {
	e := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "model requires more memory"}`, http.StatusInternalServerError)
	})

	_, err := e.Complete(context.Background(), CompletionRequest{
		Messages: []core.Message{core.NewMessage(core.RoleUser, "hi")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
