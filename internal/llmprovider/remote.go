package llmprovider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"ragengine/internal/ragerr"
)

// RemoteConfig configures a Remote provider speaking an OpenAI-chat-style
// wire contract against a locally hosted or third-party HTTP endpoint.
type RemoteConfig struct {
	BaseURL    string
	ChatPath   string // default "/v1/chat/completions"
	ModelsPath string // default "/v1/models"
	APIKey     string
	AuthHeader string // default "Authorization"; value becomes "Bearer <key>" unless set
	HTTPClient *http.Client
}

// Remote calls a remote HTTP chat-completion endpoint, batch and
// server-sent-event streaming.
type Remote struct {
	cfg    RemoteConfig
	client *http.Client
}

// NewRemote constructs a Remote provider.
func NewRemote(cfg RemoteConfig) *Remote {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Remote{cfg: cfg, client: client}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func toWireMessages(msgs []Message) []chatMessage {
	out := make([]chatMessage, len(msgs))
	for i, m := range msgs {
		out[i] = chatMessage{Role: string(m.Role), Content: m.Content}
	}
	return out
}

func (r *Remote) authorize(req *http.Request) {
	if r.cfg.APIKey == "" {
		return
	}
	if r.cfg.AuthHeader == "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
		return
	}
	req.Header.Set(r.cfg.AuthHeader, r.cfg.APIKey)
}

func (r *Remote) chatPath() string {
	if r.cfg.ChatPath != "" {
		return r.cfg.ChatPath
	}
	return "/v1/chat/completions"
}

func (r *Remote) Chat(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, GenerationTimeout(req.MaxTokens))
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model: req.Model, Messages: toWireMessages(req.Messages),
		Temperature: req.Temperature, MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return "", ragerr.New(ragerr.KindInternal, "llmprovider.Remote.Chat", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+r.chatPath(), bytes.NewReader(body))
	if err != nil {
		return "", ragerr.New(ragerr.KindInternal, "llmprovider.Remote.Chat", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	r.authorize(httpReq)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", timeoutError("llmprovider.Remote.Chat", req.MaxTokens)
		}
		return "", ragerr.New(ragerr.KindDependency, "llmprovider.Remote.Chat", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return "", ragerr.New(ragerr.KindDependency, "llmprovider.Remote.Chat",
			fmt.Errorf("chat endpoint returned %d: %s", resp.StatusCode, string(data)))
	}
	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", ragerr.New(ragerr.KindCorruption, "llmprovider.Remote.Chat", err)
	}
	if len(out.Choices) == 0 {
		return "", ragerr.New(ragerr.KindCorruption, "llmprovider.Remote.Chat", fmt.Errorf("empty choices"))
	}
	return out.Choices[0].Message.Content, nil
}

// ChatStream consumes a server-sent-event stream of `data: {...}` lines
// terminated by `data: [DONE]`, yielding each delta's content as a
// fragment in order.
func (r *Remote) ChatStream(ctx context.Context, req Request) (StreamFunc, error) {
	ctx, cancel := context.WithTimeout(ctx, GenerationTimeout(req.MaxTokens))

	body, err := json.Marshal(chatRequest{
		Model: req.Model, Messages: toWireMessages(req.Messages),
		Temperature: req.Temperature, MaxTokens: req.MaxTokens, Stream: true,
	})
	if err != nil {
		cancel()
		return nil, ragerr.New(ragerr.KindInternal, "llmprovider.Remote.ChatStream", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+r.chatPath(), bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, ragerr.New(ragerr.KindInternal, "llmprovider.Remote.ChatStream", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	r.authorize(httpReq)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return nil, timeoutError("llmprovider.Remote.ChatStream", req.MaxTokens)
		}
		return nil, ragerr.New(ragerr.KindDependency, "llmprovider.Remote.ChatStream", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, ragerr.New(ragerr.KindDependency, "llmprovider.Remote.ChatStream",
			fmt.Errorf("chat endpoint returned %d: %s", resp.StatusCode, string(data)))
	}

	scanner := bufio.NewScanner(resp.Body)
	return func() (string, bool, error) {
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				resp.Body.Close()
				cancel()
				return "", false, nil
			}
			var chunk chatStreamChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			return chunk.Choices[0].Delta.Content, true, nil
		}
		resp.Body.Close()
		if err := scanner.Err(); err != nil {
			cancel()
			if ctx.Err() != nil {
				return "", false, timeoutError("llmprovider.Remote.ChatStream", req.MaxTokens)
			}
			return "", false, ragerr.New(ragerr.KindDependency, "llmprovider.Remote.ChatStream", err)
		}
		cancel()
		return "", false, nil
	}, nil
}

func (r *Remote) ListModels(ctx context.Context) ([]string, error) {
	path := r.cfg.ModelsPath
	if path == "" {
		path = "/v1/models"
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, ragerr.New(ragerr.KindInternal, "llmprovider.Remote.ListModels", err)
	}
	r.authorize(httpReq)
	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, ragerr.New(ragerr.KindDependency, "llmprovider.Remote.ListModels", err)
	}
	defer resp.Body.Close()
	var out struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, ragerr.New(ragerr.KindCorruption, "llmprovider.Remote.ListModels", err)
	}
	names := make([]string, len(out.Data))
	for i, d := range out.Data {
		names[i] = d.ID
	}
	return names, nil
}

var _ Provider = (*Remote)(nil)
