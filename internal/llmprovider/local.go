package llmprovider

import (
	"context"
	"strings"
	"sync"

	"ragengine/internal/ragerr"
)

// Backend is the narrow interface a concrete accelerator runtime
// implements for Local; it mirrors embedding's local-path contract (load
// once, generate many times, explicit unload) but for text generation.
type Backend interface {
	Load(modelPath string) error
	Generate(ctx context.Context, req Request) (string, error)
	GenerateStream(ctx context.Context, req Request) (StreamFunc, error)
	Unload()
}

// Local is the in-process accelerator-backed provider. It caches at most
// one loaded model at a time — loading a different model evicts the
// current one — and loading the already-loaded model is a no-op, matching
// the spec's idempotent-load requirement.
type Local struct {
	mu          sync.Mutex
	backend     Backend
	loadedModel string
	modelPaths  map[string]string // model name -> local path
}

// NewLocal constructs a Local provider over backend, with modelPaths
// mapping model names to the paths Load expects.
func NewLocal(backend Backend, modelPaths map[string]string) *Local {
	return &Local{backend: backend, modelPaths: modelPaths}
}

func (l *Local) ensureLoaded(model string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loadedModel == model {
		return nil
	}
	path, ok := l.modelPaths[model]
	if !ok {
		return ragerr.New(ragerr.KindValidation, "llmprovider.Local.ensureLoaded",
			errUnknownModel(model))
	}
	if l.loadedModel != "" {
		l.backend.Unload()
	}
	if err := l.backend.Load(path); err != nil {
		l.loadedModel = ""
		return ragerr.New(ragerr.KindDependency, "llmprovider.Local.ensureLoaded", err)
	}
	l.loadedModel = model
	return nil
}

func (l *Local) Chat(ctx context.Context, req Request) (string, error) {
	if err := l.ensureLoaded(req.Model); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, GenerationTimeout(req.MaxTokens))
	defer cancel()
	text, err := l.backend.Generate(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return "", timeoutError("llmprovider.Local.Chat", req.MaxTokens)
		}
		return "", ragerr.New(ragerr.KindDependency, "llmprovider.Local.Chat", err)
	}
	return text, nil
}

func (l *Local) ChatStream(ctx context.Context, req Request) (StreamFunc, error) {
	if err := l.ensureLoaded(req.Model); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, GenerationTimeout(req.MaxTokens))
	next, err := l.backend.GenerateStream(ctx, req)
	if err != nil {
		cancel()
		return nil, ragerr.New(ragerr.KindDependency, "llmprovider.Local.ChatStream", err)
	}
	return func() (string, bool, error) {
		frag, ok, err := next()
		if err != nil {
			cancel()
			if ctx.Err() != nil {
				return "", false, timeoutError("llmprovider.Local.ChatStream", req.MaxTokens)
			}
			return "", false, ragerr.New(ragerr.KindDependency, "llmprovider.Local.ChatStream", err)
		}
		if !ok {
			cancel()
		}
		return frag, ok, nil
	}, nil
}

func (l *Local) ListModels(context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.modelPaths))
	for name := range l.modelPaths {
		names = append(names, name)
	}
	return names, nil
}

// Unload releases the resident model's accelerator memory; the next Chat
// or ChatStream loads its model again. It is a no-op when no model is
// resident.
func (l *Local) Unload() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loadedModel == "" {
		return
	}
	l.backend.Unload()
	l.loadedModel = ""
}

func errUnknownModel(model string) error {
	return &unknownModelErr{model: model}
}

type unknownModelErr struct{ model string }

func (e *unknownModelErr) Error() string {
	return "unknown local model: " + strings.TrimSpace(e.model)
}

var (
	_ Provider = (*Local)(nil)
	_ Unloader = (*Local)(nil)
)
