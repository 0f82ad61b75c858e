package local

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sema-ai/semachat/backend"
	"github.com/sema-ai/semachat/core"
)

// stubEngine produces fixed tokens without any real compute.
type stubEngine struct {
	tokens  []string
	loadErr error
	genErr  error

	mu       sync.Mutex
	loaded   bool
	requests []CompletionRequest
}

func (e *stubEngine) Load(context.Context) error {
	if e.loadErr != nil {
		return e.loadErr
	}
	e.mu.Lock()
	e.loaded = true
	e.mu.Unlock()
	return nil
}

func (e *stubEngine) Unload(context.Context) error {
	e.mu.Lock()
	e.loaded = false
	e.mu.Unlock()
	return nil
}

func (e *stubEngine) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	e.record(req)
	if e.genErr != nil {
		return "", e.genErr
	}
	return strings.Join(e.tokens, ""), nil
}

func (e *stubEngine) CompleteStream(ctx context.Context, req CompletionRequest, emit func(token string) error) error {
	e.record(req)
	if e.genErr != nil {
		return e.genErr
	}
	for _, token := range e.tokens {
		if err := emit(token); err != nil {
			return err
		}
	}
	return nil
}

func (e *stubEngine) Name() string { return "stub-model" }

func (e *stubEngine) record(req CompletionRequest) {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	e.mu.Unlock()
}

func loadedBackend(t *testing.T, engine *stubEngine) *Backend {
	t.Helper()
	b := NewWithOptions(Options{Engine: engine, Workers: 2, BridgeSize: 8})
	require.NoError(t, b.Load(context.Background()))
	t.Cleanup(func() { _ = b.Unload(context.Background()) })
	return b
}

func TestLocal_GenerateRunsOnPool(t *testing.T) {
	engine := &stubEngine{tokens: []string{"hello", " ", "world"}}
	b := loadedBackend(t, engine)

	res, err := b.Generate(context.Background(), backend.GenerationRequest{
		Messages: []core.Message{core.NewMessage(core.RoleUser, "hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello world", res.Text)
	assert.Equal(t, "stub-model", res.Model)
	assert.Equal(t, "stop", res.FinishReason)
}

func TestLocal_StreamMatchesBlockingOutput(t *testing.T) {
	engine := &stubEngine{tokens: []string{"a", "b", "c", "d"}}
	b := loadedBackend(t, engine)

	chunks, errs := b.GenerateStream(context.Background(), backend.GenerationRequest{
		SessionID: "s1",
		Messages:  []core.Message{core.NewMessage(core.RoleUser, "hi")},
	})

	var sb strings.Builder
	var final int
	id := -1
	for chunk := range chunks {
		assert.Equal(t, id+1, chunk.ChunkID)
		id = chunk.ChunkID
		if chunk.IsFinal {
			final++
			assert.Empty(t, chunk.Content)
			continue
		}
		sb.WriteString(chunk.Content)
	}
	require.NoError(t, <-errs)
	assert.Equal(t, "abcd", sb.String())
	assert.Equal(t, 1, final)
}

func TestLocal_StreamEngineFaultHasNoFinalChunk(t *testing.T) {
	engine := &stubEngine{genErr: errors.New("weights corrupted")}
	b := NewWithOptions(Options{Engine: engine, Workers: 1})
	b.startPool()
	t.Cleanup(b.stopPool)

	chunks, errs := b.GenerateStream(context.Background(), backend.GenerationRequest{
		SessionID: "s1",
		Messages:  []core.Message{core.NewMessage(core.RoleUser, "hi")},
	})

	for chunk := range chunks {
		assert.False(t, chunk.IsFinal)
	}
	require.ErrorIs(t, <-errs, core.ErrGeneration)
}

func TestLocal_GenerateBeforeLoadFailsFast(t *testing.T) {
	b := NewWithOptions(Options{Engine: &stubEngine{tokens: []string{"x"}}})

	_, err := b.Generate(context.Background(), backend.GenerationRequest{
		Messages: []core.Message{core.NewMessage(core.RoleUser, "hi")},
	})
	require.ErrorIs(t, err, core.ErrNotLoaded)
}

func TestLocal_LoadFailsWhenEngineCannotLoad(t *testing.T) {
	engine := &stubEngine{loadErr: errors.New("model file missing")}
	b := NewWithOptions(Options{Engine: engine})

	err := b.Load(context.Background())
	require.ErrorIs(t, err, core.ErrLoad)
	assert.False(t, b.Describe().Loaded)
}

func TestLocal_ParametersAreClampedBeforeEngine(t *testing.T) {
	engine := &stubEngine{tokens: []string{"ok"}}
	b := loadedBackend(t, engine)

	_, err := b.Generate(context.Background(), backend.GenerationRequest{
		Messages:    []core.Message{core.NewMessage(core.RoleUser, "hi")},
		Temperature: 9.0,
		MaxTokens:   1 << 20,
	})
	require.NoError(t, err)

	engine.mu.Lock()
	last := engine.requests[len(engine.requests)-1]
	engine.mu.Unlock()
	assert.Equal(t, backend.MaxTemperature, last.Temperature)
	assert.Equal(t, backend.MaxTokens, last.MaxTokens)
}

func TestLocal_ConcurrentGenerationsShareThePool(t *testing.T) {
	engine := &stubEngine{tokens: []string{"ok"}}
	b := loadedBackend(t, engine)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Generate(context.Background(), backend.GenerationRequest{
				Messages: []core.Message{core.NewMessage(core.RoleUser, "hi")},
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}
