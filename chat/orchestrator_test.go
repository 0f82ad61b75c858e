package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sema-ai/semachat/backend"
	"github.com/sema-ai/semachat/core"
	"github.com/sema-ai/semachat/internal/testutil"
	"github.com/sema-ai/semachat/manager"
	"github.com/sema-ai/semachat/session"
)

func newTestOrchestrator(t *testing.T, b *testutil.ScriptedBackend, optFns ...func(o *Options)) (*Orchestrator, session.Store) {
	t.Helper()
	registry := backend.NewRegistry()
	registry.Register("scripted", func(backend.Config) (backend.Backend, error) { return b, nil })

	mgr := manager.New(registry, "scripted", backend.Config{Model: "scripted"})
	require.NoError(t, mgr.Initialize(context.Background()))

	store := session.NewInMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	return New(mgr, store, optFns...), store
}

func TestProcess_PersistsBothSidesOfTheTurn(t *testing.T) {
	b := testutil.NewScriptedBackend("the ", "answer")
	o, store := newTestOrchestrator(t, b)

	resp, err := o.Process(context.Background(), Request{SessionID: "s1", Message: "question?"})
	require.NoError(t, err)
	assert.Equal(t, "the answer", resp.Text)
	assert.Equal(t, "scripted", resp.Model)
	assert.NotEmpty(t, resp.MessageID)

	msgs, err := store.Messages(context.Background(), "s1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, core.RoleUser, msgs[0].Role)
	assert.Equal(t, "question?", msgs[0].Content)
	assert.Equal(t, core.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "the answer", msgs[1].Content)
}

func TestProcess_ValidationErrors(t *testing.T) {
	b := testutil.NewScriptedBackend("x")
	o, _ := newTestOrchestrator(t, b)

	_, err := o.Process(context.Background(), Request{SessionID: "", Message: "hi"})
	require.ErrorIs(t, err, core.ErrValidation)

	_, err = o.Process(context.Background(), Request{SessionID: "s1", Message: "   "})
	require.ErrorIs(t, err, core.ErrValidation)
}

func TestProcess_UserMessageSurvivesGenerationFailure(t *testing.T) {
	b := testutil.NewScriptedBackend("unused")
	b.GenerateErr = errors.New("upstream on fire")
	o, store := newTestOrchestrator(t, b)

	_, err := o.Process(context.Background(), Request{SessionID: "s1", Message: "doomed question"})
	require.ErrorIs(t, err, core.ErrGeneration)

	msgs, err := store.Messages(context.Background(), "s1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, core.RoleUser, msgs[0].Role)
}

func TestProcess_EmptyCompletionIsGenerationError(t *testing.T) {
	b := testutil.NewScriptedBackend() // no chunks: empty completion
	o, _ := newTestOrchestrator(t, b)

	_, err := o.Process(context.Background(), Request{SessionID: "s1", Message: "hi"})
	require.ErrorIs(t, err, core.ErrGeneration)
}

func TestProcess_SystemPromptAndDefaultsReachBackend(t *testing.T) {
	b := testutil.NewScriptedBackend("ok")
	o, _ := newTestOrchestrator(t, b, func(opts *Options) {
		opts.SystemPrompt = "answer in haiku"
		opts.Defaults = GenerationDefaults{Temperature: 0.3, MaxTokens: 64, TopP: 0.8, TopK: 10}
	})

	_, err := o.Process(context.Background(), Request{SessionID: "s1", Message: "hello"})
	require.NoError(t, err)

	reqs := b.Requests()
	require.NotEmpty(t, reqs)
	last := reqs[len(reqs)-1]
	require.NotEmpty(t, last.Messages)
	assert.Equal(t, core.RoleSystem, last.Messages[0].Role)
	assert.Equal(t, "answer in haiku", last.Messages[0].Content)
	assert.Equal(t, 0.3, last.Temperature)
	assert.Equal(t, 64, last.MaxTokens)
	assert.Equal(t, 0.8, last.TopP)
	assert.Equal(t, 10, last.TopK)
}

func TestProcess_RequestParametersOverrideDefaults(t *testing.T) {
	b := testutil.NewScriptedBackend("ok")
	o, _ := newTestOrchestrator(t, b)

	_, err := o.Process(context.Background(), Request{
		SessionID:   "s1",
		Message:     "hello",
		Temperature: 0.1,
		MaxTokens:   32,
	})
	require.NoError(t, err)

	reqs := b.Requests()
	last := reqs[len(reqs)-1]
	assert.Equal(t, 0.1, last.Temperature)
	assert.Equal(t, 32, last.MaxTokens)
}

func TestProcessStream_EmitsChunksAndPersistsOnFinal(t *testing.T) {
	b := testutil.NewScriptedBackend("str", "eam", "ed")
	o, store := newTestOrchestrator(t, b)

	chunks, errs, err := o.ProcessStream(context.Background(), Request{SessionID: "s1", Message: "go"})
	require.NoError(t, err)

	var sb strings.Builder
	var finals int
	id := -1
	for chunk := range chunks {
		assert.Equal(t, id+1, chunk.ChunkID)
		id = chunk.ChunkID
		if chunk.IsFinal {
			finals++
			continue
		}
		sb.WriteString(chunk.Content)
	}
	require.NoError(t, <-errs)
	assert.Equal(t, "streamed", sb.String())
	assert.Equal(t, 1, finals)

	msgs, err := store.Messages(context.Background(), "s1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "streamed", msgs[1].Content)
	assert.Equal(t, 0, o.ActiveStreams())
}

func TestProcessStream_CapacityExceededFailsFast(t *testing.T) {
	hold := make(chan struct{})
	b := testutil.NewScriptedBackend("slow")
	b.HoldBeforeFinal = hold
	o, _ := newTestOrchestrator(t, b, func(opts *Options) {
		opts.MaxConcurrentStreams = 1
	})

	first, firstErrs, err := o.ProcessStream(context.Background(), Request{SessionID: "s1", Message: "one"})
	require.NoError(t, err)

	// The second stream is rejected immediately, not queued.
	_, _, err = o.ProcessStream(context.Background(), Request{SessionID: "s2", Message: "two"})
	require.ErrorIs(t, err, core.ErrCapacity)

	close(hold)
	for range first {
	}
	require.NoError(t, <-firstErrs)

	// With the slot released a new stream is admitted.
	chunks, errs, err := o.ProcessStream(context.Background(), Request{SessionID: "s3", Message: "three"})
	require.NoError(t, err)
	for range chunks {
	}
	require.NoError(t, <-errs)
}

func TestProcessStream_MidStreamFaultSkipsFinalAndPersistence(t *testing.T) {
	b := testutil.NewScriptedBackend("one", "two", "never")
	b.GenerateErr = errors.New("connection reset")
	b.FailAfterChunk = 2
	o, store := newTestOrchestrator(t, b)

	chunks, errs, err := o.ProcessStream(context.Background(), Request{SessionID: "s1", Message: "go"})
	require.NoError(t, err)

	var received int
	for chunk := range chunks {
		require.False(t, chunk.IsFinal)
		received++
	}
	require.ErrorIs(t, <-errs, core.ErrGeneration)
	assert.Equal(t, 2, received)

	// Only the user message survives the aborted stream.
	msgs, err := store.Messages(context.Background(), "s1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, core.RoleUser, msgs[0].Role)
	assert.Equal(t, 0, o.ActiveStreams())
}

func TestProcessStream_ConsumerCancellationReleasesSlot(t *testing.T) {
	hold := make(chan struct{})
	b := testutil.NewScriptedBackend("tick")
	b.HoldBeforeFinal = hold
	o, _ := newTestOrchestrator(t, b, func(opts *Options) {
		opts.MaxConcurrentStreams = 1
	})

	ctx, cancel := context.WithCancel(context.Background())
	chunks, errs, err := o.ProcessStream(ctx, Request{SessionID: "s1", Message: "go"})
	require.NoError(t, err)

	cancel()
	for range chunks {
	}
	<-errs

	require.Eventually(t, func() bool { return o.ActiveStreams() == 0 },
		time.Second, 5*time.Millisecond)
	close(hold)
}

func TestOrchestrator_SessionUtilities(t *testing.T) {
	b := testutil.NewScriptedBackend("reply")
	o, _ := newTestOrchestrator(t, b)
	ctx := context.Background()

	_, err := o.Process(ctx, Request{SessionID: "s1", Message: "hello"})
	require.NoError(t, err)

	history, err := o.History(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	infos, err := o.ActiveSessions(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "s1", infos[0].SessionID)

	existed, err := o.Clear(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = o.Clear(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestOrchestrator_HealthAggregates(t *testing.T) {
	b := testutil.NewScriptedBackend("pong")
	o, _ := newTestOrchestrator(t, b)

	report := o.Health(context.Background())
	assert.Equal(t, backend.StatusHealthy, report.Status)
	assert.Equal(t, "ready", report.ManagerState)
	assert.True(t, report.StoreReady)
	assert.Equal(t, 0, report.ActiveStreams)
}

func TestProcess_NotReadyFailsFast(t *testing.T) {
	registry := backend.NewRegistry()
	mgr := manager.New(registry, "missing", backend.Config{})
	store := session.NewInMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	o := New(mgr, store)

	_, err := o.Process(context.Background(), Request{SessionID: "s1", Message: "hi"})
	require.ErrorIs(t, err, core.ErrNotLoaded)

	_, _, err = o.ProcessStream(context.Background(), Request{SessionID: "s1", Message: "hi"})
	require.ErrorIs(t, err, core.ErrNotLoaded)
	assert.Equal(t, 0, o.ActiveStreams())
}
