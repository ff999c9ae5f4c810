package llmprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestServer stands in for testhelpers.NewTestServer, which this package
// cannot import: testhelpers itself imports llmprovider.
func newTestServer(handler func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(handler))
}

func TestRemoteChatReturnsMessageContent(t *testing.T) {
	srv := newTestServer(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "test-model", req.Model)
		json.NewEncoder(w).Encode(chatResponse{
			Choices: []struct {
				Message chatMessage `json:"message"`
			}{{Message: chatMessage{Role: "assistant", Content: "hello back"}}},
		})
	})
	defer srv.Close()

	r := NewRemote(RemoteConfig{BaseURL: srv.URL})
	text, err := r.Chat(context.Background(), Request{
		Model: "test-model", MaxTokens: 100,
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, "hello back", text)
}

func TestRemoteChatStreamConcatenatesFragments(t *testing.T) {
	srv := newTestServer(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		for _, frag := range []string{"Hel", "lo"} {
			chunk := chatStreamChunk{}
			chunk.Choices = []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			}{{}}
			chunk.Choices[0].Delta.Content = frag
			data, _ := json.Marshal(chunk)
			fmt.Fprintf(w, "data: %s\n\n", data)
			if flusher != nil {
				flusher.Flush()
			}
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	defer srv.Close()

	r := NewRemote(RemoteConfig{BaseURL: srv.URL})
	stream, err := r.ChatStream(context.Background(), Request{
		Model: "test-model", MaxTokens: 100,
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
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
	require.Equal(t, "Hello", out)
}

func TestRemoteChatSurfacesNonOKStatus(t *testing.T) {
	srv := newTestServer(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "backend exploded")
	})
	defer srv.Close()

	r := NewRemote(RemoteConfig{BaseURL: srv.URL})
	_, err := r.Chat(context.Background(), Request{Model: "m", MaxTokens: 100})
	require.Error(t, err)
}
