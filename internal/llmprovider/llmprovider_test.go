package llmprovider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerationTimeoutScalesWithFloor(t *testing.T) {
	require.Equal(t, 60*time.Second, GenerationTimeout(100))
	require.Equal(t, 100*time.Second, GenerationTimeout(1000))
}

type fakeBackend struct {
	loadedPath string
	loadCount  int
	unloaded   int
	genErr     error
	fragments  []string
}

func (f *fakeBackend) Load(path string) error {
	f.loadedPath = path
	f.loadCount++
	return nil
}

func (f *fakeBackend) Generate(ctx context.Context, req Request) (string, error) {
	if f.genErr != nil {
		return "", f.genErr
	}
	return "ok", nil
}

func (f *fakeBackend) GenerateStream(ctx context.Context, req Request) (StreamFunc, error) {
	i := 0
	return func() (string, bool, error) {
		if i >= len(f.fragments) {
			return "", false, nil
		}
		frag := f.fragments[i]
		i++
		return frag, true, nil
	}, nil
}

func (f *fakeBackend) Unload() { f.unloaded++ }

func TestLocalLoadIsIdempotent(t *testing.T) {
	backend := &fakeBackend{}
	l := NewLocal(backend, map[string]string{"model-a": "/models/a"})

	_, err := l.Chat(context.Background(), Request{Model: "model-a", MaxTokens: 10})
	require.NoError(t, err)
	_, err = l.Chat(context.Background(), Request{Model: "model-a", MaxTokens: 10})
	require.NoError(t, err)
	require.Equal(t, 1, backend.loadCount)
}

func TestLocalSwitchingModelsUnloadsPrevious(t *testing.T) {
	backend := &fakeBackend{}
	l := NewLocal(backend, map[string]string{"model-a": "/a", "model-b": "/b"})

	_, err := l.Chat(context.Background(), Request{Model: "model-a", MaxTokens: 10})
	require.NoError(t, err)
	_, err = l.Chat(context.Background(), Request{Model: "model-b", MaxTokens: 10})
	require.NoError(t, err)
	require.Equal(t, 1, backend.unloaded)
	require.Equal(t, "/b", backend.loadedPath)
}

func TestLocalUnloadReleasesResidentModel(t *testing.T) {
	backend := &fakeBackend{}
	l := NewLocal(backend, map[string]string{"model-a": "/a"})
	_, err := l.Chat(context.Background(), Request{Model: "model-a", MaxTokens: 10})
	require.NoError(t, err)

	l.Unload()
	require.Equal(t, 1, backend.unloaded)
	l.Unload()
	require.Equal(t, 1, backend.unloaded) // idempotent: no resident model to release
}

func TestLocalChatStreamConcatenatesFragmentsInOrder(t *testing.T) {
	backend := &fakeBackend{fragments: []string{"Hel", "lo ", "world"}}
	l := NewLocal(backend, map[string]string{"model-a": "/a"})

	stream, err := l.ChatStream(context.Background(), Request{Model: "model-a", MaxTokens: 10})
	require.NoError(t, err)

	var out string
	for {
		frag, ok, err := stream()
		require.NoError(t, err)
		if !ok {
			break
		}
		out += frag
	}
	require.Equal(t, "Hello world", out)
}

func TestLocalRejectsUnknownModel(t *testing.T) {
	backend := &fakeBackend{}
	l := NewLocal(backend, map[string]string{"model-a": "/a"})
	_, err := l.Chat(context.Background(), Request{Model: "nonexistent", MaxTokens: 10})
	require.Error(t, err)
}

func TestLocalGenerationErrorWrapsDependency(t *testing.T) {
	backend := &fakeBackend{genErr: errors.New("backend exploded")}
	l := NewLocal(backend, map[string]string{"model-a": "/a"})
	_, err := l.Chat(context.Background(), Request{Model: "model-a", MaxTokens: 10})
	require.Error(t, err)
}
