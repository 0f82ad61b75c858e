// Package local implements the backend contract for in-process or
// machine-local inference. Blocking engine compute never runs on a stream
// consumer's goroutine: a fixed worker pool executes engine calls, and a
// bounded bridge channel carries produced tokens across to the channel
// consumer.
package local

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sema-ai/semachat/backend"
	"github.com/sema-ai/semachat/core"
)

// Options configure the local backend.
type Options struct {
	// Engine supplies the blocking compute. Defaults to an Ollama engine for
	// cfg.Model when nil.
	Engine Engine
	// Workers is the worker pool size. Local inference is compute-bound, so
	// the default is deliberately small.
	Workers int
	// BridgeSize bounds the token channel between a worker and the stream
	// consumer, applying backpressure to the engine when the consumer lags.
	BridgeSize int
}

// Backend schedules engine calls onto its worker pool.
type Backend struct {
	engine     Engine
	workers    int
	bridgeSize int

	mu     sync.RWMutex
	loaded bool
	jobs   chan func()
	stop   chan struct{}
	wg     sync.WaitGroup
}

var _ backend.Backend = (*Backend)(nil)

// New constructs the variant from registry configuration with the default
// Ollama engine.
func New(cfg backend.Config) (*Backend, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: local backend requires a model name", core.ErrLoad)
	}
	return NewWithOptions(Options{Engine: NewOllamaEngine(cfg.Model, cfg.BaseURL)}), nil
}

// NewWithOptions constructs the variant with an explicit engine, e.g. a stub
// in tests.
func NewWithOptions(opts Options) *Backend {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.BridgeSize <= 0 {
		opts.BridgeSize = 64
	}
	return &Backend{engine: opts.Engine, workers: opts.Workers, bridgeSize: opts.BridgeSize}
}

// Load loads the engine, starts the worker pool and runs one probe
// generation through it. Probe failure tears everything back down.
func (b *Backend) Load(ctx context.Context) error {
	if err := b.engine.Load(ctx); err != nil {
		return fmt.Errorf("%w: local engine: %v", core.ErrLoad, err)
	}
	b.startPool()

	probe := backend.GenerationRequest{
		Messages:    []core.Message{core.NewMessage(core.RoleUser, "Hello")},
		Temperature: 0.1,
		MaxTokens:   5,
	}
	if _, err := b.Generate(ctx, probe); err != nil {
		b.stopPool()
		_ = b.engine.Unload(ctx)
		return fmt.Errorf("%w: local probe: %v", core.ErrLoad, err)
	}
	return nil
}

// Unload stops the worker pool and releases the engine. Idempotent.
func (b *Backend) Unload(ctx context.Context) error {
	b.stopPool()
	return b.engine.Unload(ctx)
}

func (b *Backend) startPool() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loaded {
		return
	}
	b.jobs = make(chan func())
	b.stop = make(chan struct{})
	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go b.worker(b.jobs, b.stop)
	}
	b.loaded = true
}

func (b *Backend) stopPool() {
	b.mu.Lock()
	if !b.loaded {
		b.mu.Unlock()
		return
	}
	b.loaded = false
	close(b.stop)
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Backend) worker(jobs <-chan func(), stop <-chan struct{}) {
	defer b.wg.Done()
	for {
		select {
		case <-stop:
			return
		case job := <-jobs:
			job()
		}
	}
}

// submit hands a job to the pool, failing fast when the pool is down or the
// caller's context ends before a worker picks it up.
func (b *Backend) submit(ctx context.Context, job func()) error {
	b.mu.RLock()
	jobs, stop, loaded := b.jobs, b.stop, b.loaded
	b.mu.RUnlock()
	if !loaded {
		return fmt.Errorf("%w: local backend", core.ErrNotLoaded)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-stop:
		return fmt.Errorf("%w: local backend", core.ErrNotLoaded)
	case jobs <- job:
		return nil
	}
}

// Generate runs one blocking completion on a pool worker.
func (b *Backend) Generate(ctx context.Context, req backend.GenerationRequest) (*backend.GenerationResult, error) {
	req.Normalize()

	type outcome struct {
		text string
		err  error
	}
	start := time.Now()
	done := make(chan outcome, 1)
	err := b.submit(ctx, func() {
		text, err := b.engine.Complete(ctx, completionRequest(req))
		done <- outcome{text: text, err: err}
	})
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("%w: local engine: %v", core.ErrGeneration, res.err)
		}
		text := strings.TrimSpace(res.text)
		if text == "" {
			return nil, fmt.Errorf("%w: local engine produced empty output", core.ErrGeneration)
		}
		return &backend.GenerationResult{
			Text:           text,
			FinishReason:   "stop",
			GenerationTime: time.Since(start),
			MessageID:      core.NewID(),
			Model:          b.engine.Name(),
		}, nil
	}
}

// GenerateStream bridges the engine's blocking token callback into chunk
// emission. The worker writes tokens into a bounded channel; this goroutine
// drains it and owns the chunk sequence.
func (b *Backend) GenerateStream(ctx context.Context, req backend.GenerationRequest) (<-chan core.StreamChunk, <-chan error) {
	out := make(chan core.StreamChunk, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		req.Normalize()

		bridge := make(chan string, b.bridgeSize)
		engineErr := make(chan error, 1)
		err := b.submit(ctx, func() {
			defer close(bridge)
			engineErr <- b.engine.CompleteStream(ctx, completionRequest(req), func(token string) error {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case bridge <- token:
					return nil
				}
			})
		})
		if err != nil {
			errCh <- err
			return
		}

		emitter := backend.NewChunkEmitter(out, req.SessionID, core.NewID())
		for token := range bridge {
			if err := emitter.Emit(ctx, token); err != nil {
				errCh <- err
				return
			}
		}
		if err := <-engineErr; err != nil {
			errCh <- fmt.Errorf("%w: local engine: %v", core.ErrGeneration, err)
			return
		}
		if err := emitter.Final(ctx); err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}

func completionRequest(req backend.GenerationRequest) CompletionRequest {
	return CompletionRequest{
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
		TopK:        req.TopK,
	}
}

// Describe reports the variant's descriptor.
func (b *Backend) Describe() backend.Descriptor {
	b.mu.RLock()
	loaded := b.loaded
	b.mu.RUnlock()
	return backend.Descriptor{
		Name:         b.engine.Name(),
		Provider:     "local",
		Loaded:       loaded,
		Capabilities: []string{backend.CapabilityChat, backend.CapabilityStreaming, backend.CapabilityOffline},
		Parameters: map[string]string{
			"workers":     fmt.Sprintf("%d", b.workers),
			"bridge_size": fmt.Sprintf("%d", b.bridgeSize),
		},
	}
}

// Health runs the shared bounded-timeout trial generation.
func (b *Backend) Health(ctx context.Context) backend.HealthStatus {
	return backend.CheckHealth(ctx, b)
}
