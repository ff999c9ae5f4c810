package testhelpers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"

	"ragengine/internal/llmprovider"
)

// FakeProvider is a simple llmprovider.Provider for tests. It can be
// configured with a fixed response or a streaming sequence.
type FakeProvider struct {
	Resp string
	Err  error

	// StreamFragments, if set, is replayed in order by ChatStream.
	StreamFragments []string
}

func (f *FakeProvider) Chat(ctx context.Context, req llmprovider.Request) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	return f.Resp, nil
}

func (f *FakeProvider) ChatStream(ctx context.Context, req llmprovider.Request) (llmprovider.StreamFunc, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	i := 0
	return func() (string, bool, error) {
		if i >= len(f.StreamFragments) {
			return "", false, nil
		}
		frag := f.StreamFragments[i]
		i++
		return frag, true, nil
	}, nil
}

func (f *FakeProvider) ListModels(ctx context.Context) ([]string, error) {
	return nil, nil
}

// NewTestServer returns an httptest.Server for the given handler func.
func NewTestServer(handler func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(handler))
}

// WaitGroupDoneOnce returns a function that will call wg.Done() only once; useful for
// tests that need to ensure a WaitGroup is decremented a single time from multiple places.
func WaitGroupDoneOnce(wg *sync.WaitGroup) func() {
	once := sync.Once{}
	return func() { once.Do(wg.Done) }
}

var _ llmprovider.Provider = (*FakeProvider)(nil)
