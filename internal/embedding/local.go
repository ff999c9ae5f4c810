package embedding

import (
	"context"
	"errors"
	"sync"

	"ragengine/internal/ragerr"
)

var errModelUnloaded = errors.New("embedding model has been unloaded")

// LocalFunc is the signature of an in-process embedding call, typically
// backed by a loaded accelerator model.
type LocalFunc func(ctx context.Context, texts []string) ([][]float32, error)

// Local wraps a LocalFunc as a Provider, holding the loaded-model name for
// SingleSlot bookkeeping and supporting Unload.
type Local struct {
	name      string
	dim       int
	fn        LocalFunc
	mu        sync.Mutex
	unloaded  bool
	onUnload  func()
}

// NewLocal constructs a Local provider. onUnload, if non-nil, is invoked
// exactly once when Unload is called, to release the underlying model.
func NewLocal(name string, dim int, fn LocalFunc, onUnload func()) *Local {
	return &Local{name: name, dim: dim, fn: fn, onUnload: onUnload}
}

func (l *Local) Name() string   { return l.name }
func (l *Local) Dimension() int { return l.dim }

func (l *Local) Ping(ctx context.Context) error {
	_, err := l.EmbedBatch(ctx, []string{"ping"})
	return err
}

func (l *Local) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	l.mu.Lock()
	unloaded := l.unloaded
	l.mu.Unlock()
	if unloaded {
		return nil, ragerr.New(ragerr.KindInternal, "embedding.Local.EmbedBatch", errModelUnloaded)
	}
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := l.fn(ctx, texts)
	if err != nil {
		return nil, ragerr.New(ragerr.KindDependency, "embedding.Local.EmbedBatch", err)
	}
	return vecs, nil
}

func (l *Local) Unload() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.unloaded {
		return
	}
	l.unloaded = true
	if l.onUnload != nil {
		l.onUnload()
	}
}
var _ Provider = (*Local)(nil)
var _ Unloader = (*Local)(nil)
