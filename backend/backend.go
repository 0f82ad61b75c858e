package backend

import (
	"context"
	"time"

	"github.com/sema-ai/semachat/core"
)

// Capability flags advertised by backend descriptors.
const (
	CapabilityChat      = "chat"
	CapabilityStreaming = "streaming"
	CapabilityReasoning = "reasoning"
	CapabilityOffline   = "offline"
)

// Health classification values.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusTimeout   = "timeout"
)

// GenerationRequest is the normalized model input assembled by the
// orchestrator. It is transient: constructed per call and never persisted.
type GenerationRequest struct {
	SessionID   string
	Messages    []core.Message
	Temperature float64
	MaxTokens   int
	TopP        float64
	TopK        int
}

// GenerationResult is the complete output of one non-streaming round trip.
// TokenCount is 0 when the backend cannot report usage.
type GenerationResult struct {
	Text           string
	TokenCount     int
	FinishReason   string
	GenerationTime time.Duration
	MessageID      string
	Model          string
}

// Descriptor reflects backend state and configuration. Read-only to callers.
type Descriptor struct {
	Name         string            `json:"name"`
	Provider     string            `json:"provider"`
	Loaded       bool              `json:"loaded"`
	Capabilities []string          `json:"capabilities"`
	Parameters   map[string]string `json:"parameters,omitempty"`
}

// HasCapability reports whether the descriptor advertises the capability.
func (d Descriptor) HasCapability(c string) bool {
	for _, have := range d.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// HealthStatus is the outcome of a bounded-timeout trial generation.
type HealthStatus struct {
	Status  string        `json:"status"`
	Reason  string        `json:"reason,omitempty"`
	Model   string        `json:"model"`
	Latency time.Duration `json:"latency,omitempty"`
}

// Backend is the uniform contract all generation variants implement.
//
// Load acquires resources (weights into memory, or a verified network
// client) and performs one lightweight probe before declaring success; a
// failure wraps core.ErrLoad. Unload releases resources and is idempotent.
// Generate is one blocking round trip; it wraps core.ErrGeneration on any
// upstream fault and never silently returns empty text for a hard failure.
// GenerateStream produces a lazy, finite, non-restartable chunk sequence
// terminated by exactly one final chunk; mid-stream faults surface on the
// error channel instead, with no final chunk.
type Backend interface {
	Load(ctx context.Context) error
	Unload(ctx context.Context) error
	Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error)
	GenerateStream(ctx context.Context, req GenerationRequest) (<-chan core.StreamChunk, <-chan error)
	Describe() Descriptor
	Health(ctx context.Context) HealthStatus
}

// healthProbeTimeout bounds the trial generation issued by CheckHealth.
const healthProbeTimeout = 15 * time.Second

// CheckHealth issues the standard trial generation against b and classifies
// the result. Shared by all variants so health semantics stay uniform.
func CheckHealth(ctx context.Context, b Backend) HealthStatus {
	desc := b.Describe()
	if !desc.Loaded {
		return HealthStatus{Status: StatusUnhealthy, Reason: "not loaded", Model: desc.Name}
	}

	ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	start := time.Now()
	_, err := b.Generate(ctx, GenerationRequest{
		Messages:    []core.Message{core.NewMessage(core.RoleUser, "Hello")},
		Temperature: 0.1,
		MaxTokens:   10,
	})
	latency := time.Since(start)

	switch {
	case err == nil:
		return HealthStatus{Status: StatusHealthy, Model: desc.Name, Latency: latency}
	case ctx.Err() != nil:
		return HealthStatus{Status: StatusTimeout, Reason: "probe timed out", Model: desc.Name, Latency: latency}
	default:
		return HealthStatus{Status: StatusUnhealthy, Reason: err.Error(), Model: desc.Name, Latency: latency}
	}
}
