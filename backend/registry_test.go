package backend

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sema-ai/semachat/core"
)

type nopBackend struct{ name string }

func (n nopBackend) Load(context.Context) error   { return nil }
func (n nopBackend) Unload(context.Context) error { return nil }
func (n nopBackend) Generate(context.Context, GenerationRequest) (*GenerationResult, error) {
	return &GenerationResult{Text: "ok"}, nil
}
func (n nopBackend) GenerateStream(context.Context, GenerationRequest) (<-chan core.StreamChunk, <-chan error) {
	out := make(chan core.StreamChunk)
	errCh := make(chan error)
	close(out)
	close(errCh)
	return out, errCh
}
func (n nopBackend) Describe() Descriptor           { return Descriptor{Name: n.name, Loaded: true} }
func (n nopBackend) Health(context.Context) HealthStatus {
	return HealthStatus{Status: StatusHealthy}
}

func TestRegistry_NewConstructsRegisteredBackend(t *testing.T) {
	r := NewRegistry()
	r.Register("fake", func(cfg Config) (Backend, error) {
		return nopBackend{name: cfg.Model}, nil
	})

	b, err := r.New("fake", Config{Model: "fake-model"})
	require.NoError(t, err)
	assert.Equal(t, "fake-model", b.Describe().Name)
}

func TestRegistry_UnknownNameListsRegistered(t *testing.T) {
	r := NewRegistry()
	r.Register("alpha", func(Config) (Backend, error) { return nopBackend{}, nil })
	r.Register("beta", func(Config) (Backend, error) { return nopBackend{}, nil })

	_, err := r.New("gamma", Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alpha")
	assert.Contains(t, err.Error(), "beta")
}

func TestRegistry_FactoryErrorPropagates(t *testing.T) {
	r := NewRegistry()
	r.Register("broken", func(Config) (Backend, error) {
		return nil, fmt.Errorf("%w: missing api key", core.ErrLoad)
	})

	_, err := r.New("broken", Config{})
	require.ErrorIs(t, err, core.ErrLoad)
}

func TestRegistry_NamesSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		r.Register(name, func(Config) (Backend, error) { return nopBackend{}, nil })
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.Names())
}
