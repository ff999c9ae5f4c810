// Package embedding implements EmbeddingProvider: a pluggable text-to-vector
// backend with a local accelerator-backed path and a remote HTTP path,
// sharing a single-slot "currently loaded model" cache per spec's resource
// model.
package embedding

import (
	"context"
	"sync"

	"ragengine/internal/ragerr"
)

// Provider embeds batches of text into fixed-dimension float32 vectors.
type Provider interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Name() string
	Ping(ctx context.Context) error
}

// Unloader is implemented by providers that hold a loaded model resident
// in memory (VRAM/RAM) and can release it.
type Unloader interface {
	Unload()
}

// SingleSlot enforces the "at most one model resident at a time" resource
// rule from the concurrency model: callers load through Acquire, which
// evicts whatever was previously loaded if it differs.
type SingleSlot struct {
	mu      sync.Mutex
	current Provider
	name    string
}

// Acquire returns the provider named name, constructing it via factory if
// it is not already the resident one. The previous resident, if any and if
// it differs, is unloaded first.
func (s *SingleSlot) Acquire(name string, factory func() (Provider, error)) (Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.name == name {
		return s.current, nil
	}
	if s.current != nil {
		if u, ok := s.current.(Unloader); ok {
			u.Unload()
		}
	}
	p, err := factory()
	if err != nil {
		return nil, ragerr.New(ragerr.KindDependency, "embedding.SingleSlot.Acquire", err)
	}
	s.current = p
	s.name = name
	return p, nil
}

// Release unloads the currently resident provider, if any.
func (s *SingleSlot) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return
	}
	if u, ok := s.current.(Unloader); ok {
		u.Unload()
	}
	s.current = nil
	s.name = ""
}
