package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sema-ai/semachat/backend"
	"github.com/sema-ai/semachat/core"
)

// ScriptedBackend is a deterministic backend.Backend for tests. It replies
// with scripted chunks, optionally failing at configured points, and records
// the requests it receives.
type ScriptedBackend struct {
	// Chunks is the scripted reply, one element per stream chunk; Generate
	// returns their concatenation.
	Chunks []string

	// LoadErr, GenerateErr fail the corresponding call when set.
	LoadErr     error
	GenerateErr error

	// FailAfterChunk aborts a stream with GenerateErr after emitting that
	// many content chunks. -1 (default via NewScriptedBackend) disables it.
	FailAfterChunk int

	// ChunkDelay paces scripted stream chunks.
	ChunkDelay time.Duration

	// HoldBeforeFinal, when non-nil, blocks the stream before its final
	// chunk until the channel is closed. Lets tests keep streams open
	// deterministically.
	HoldBeforeFinal chan struct{}

	mu       sync.Mutex
	loaded   bool
	requests []backend.GenerationRequest
}

var _ backend.Backend = (*ScriptedBackend)(nil)

// NewScriptedBackend creates a loaded-on-Load backend replying with the
// given chunks.
func NewScriptedBackend(chunks ...string) *ScriptedBackend {
	return &ScriptedBackend{Chunks: chunks, FailAfterChunk: -1}
}

// Load marks the backend loaded, or fails with LoadErr.
func (s *ScriptedBackend) Load(ctx context.Context) error {
	if s.LoadErr != nil {
		return fmt.Errorf("%w: %v", core.ErrLoad, s.LoadErr)
	}
	s.mu.Lock()
	s.loaded = true
	s.mu.Unlock()
	return nil
}

// Unload marks the backend unloaded.
func (s *ScriptedBackend) Unload(ctx context.Context) error {
	s.mu.Lock()
	s.loaded = false
	s.mu.Unlock()
	return nil
}

// Generate returns the concatenated scripted chunks.
func (s *ScriptedBackend) Generate(ctx context.Context, req backend.GenerationRequest) (*backend.GenerationResult, error) {
	if !s.isLoaded() {
		return nil, fmt.Errorf("%w: scripted backend", core.ErrNotLoaded)
	}
	s.record(req)
	if s.GenerateErr != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrGeneration, s.GenerateErr)
	}
	return &backend.GenerationResult{
		Text:         strings.Join(s.Chunks, ""),
		TokenCount:   len(s.Chunks),
		FinishReason: "stop",
		MessageID:    core.NewID(),
		Model:        "scripted",
	}, nil
}

// GenerateStream emits the scripted chunks, honoring FailAfterChunk.
func (s *ScriptedBackend) GenerateStream(ctx context.Context, req backend.GenerationRequest) (<-chan core.StreamChunk, <-chan error) {
	out := make(chan core.StreamChunk, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		if !s.isLoaded() {
			errCh <- fmt.Errorf("%w: scripted backend", core.ErrNotLoaded)
			return
		}
		s.record(req)

		emitter := backend.NewChunkEmitter(out, req.SessionID, core.NewID())
		for i, content := range s.Chunks {
			if s.FailAfterChunk >= 0 && i == s.FailAfterChunk {
				errCh <- fmt.Errorf("%w: %v", core.ErrGeneration, s.GenerateErr)
				return
			}
			if err := emitter.Emit(ctx, content); err != nil {
				errCh <- err
				return
			}
			if s.ChunkDelay > 0 {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case <-time.After(s.ChunkDelay):
				}
			}
		}
		if s.HoldBeforeFinal != nil {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case <-s.HoldBeforeFinal:
			}
		}
		if err := emitter.Final(ctx); err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}

// Describe reports the scripted descriptor.
func (s *ScriptedBackend) Describe() backend.Descriptor {
	return backend.Descriptor{
		Name:         "scripted",
		Provider:     "testutil",
		Loaded:       s.isLoaded(),
		Capabilities: []string{backend.CapabilityChat, backend.CapabilityStreaming},
	}
}

// Health delegates to the shared trial-generation check.
func (s *ScriptedBackend) Health(ctx context.Context) backend.HealthStatus {
	return backend.CheckHealth(ctx, s)
}

// Requests returns a copy of the recorded generation requests.
func (s *ScriptedBackend) Requests() []backend.GenerationRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]backend.GenerationRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *ScriptedBackend) isLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

func (s *ScriptedBackend) record(req backend.GenerationRequest) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
}
