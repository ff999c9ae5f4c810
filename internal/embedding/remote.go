package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"ragengine/internal/ragerr"
)

// RemoteConfig configures a Remote embedding provider backed by an
// HTTP endpoint speaking the {"model","input"} / {"data":[{"embedding"}]}
// wire contract.
type RemoteConfig struct {
	BaseURL     string
	Path        string // default "/v1/embeddings"
	Model       string
	APIKey      string
	AuthHeader  string // default "Authorization"; value becomes "Bearer <key>" unless set
	Timeout     time.Duration
	RateLimit   rate.Limit // requests per second; 0 disables pacing
	RateBurst   int
	HTTPClient  *http.Client
}

// Remote calls a remote embedding HTTP endpoint, sending one request per
// text (mirroring the batch-size-1 discipline the teacher's embedder uses
// to avoid backend batching bugs) and rate-limiting outbound calls.
type Remote struct {
	cfg     RemoteConfig
	client  *http.Client
	limiter *rate.Limiter
	dim     int
}

// NewRemote constructs a Remote provider. dimension may be 0, in which case
// Dimension() probes the endpoint lazily on first call.
func NewRemote(cfg RemoteConfig, dimension int) *Remote {
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(cfg.RateLimit, burst)
	}
	return &Remote{cfg: cfg, client: client, limiter: limiter, dim: dimension}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (r *Remote) Name() string { return "remote:" + r.cfg.Model }

func (r *Remote) Dimension() int {
	if r.dim == 0 {
		// Probe once with a sentinel text; EmbedBatch records the length.
		_, _ = r.EmbedBatch(context.Background(), []string{"dimension probe"})
	}
	return r.dim
}

func (r *Remote) Ping(ctx context.Context) error {
	_, err := r.EmbedBatch(ctx, []string{"ping"})
	return err
}

func (r *Remote) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > 1 {
		vecs := make([][]float32, 0, len(texts))
		for _, t := range texts {
			v, err := r.EmbedBatch(ctx, []string{t})
			if err != nil {
				return nil, err
			}
			vecs = append(vecs, v[0])
		}
		return vecs, nil
	}
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, ragerr.New(ragerr.KindDeadline, "embedding.Remote.EmbedBatch", err)
		}
	}
	body, err := json.Marshal(embedRequest{Model: r.cfg.Model, Input: texts})
	if err != nil {
		return nil, ragerr.New(ragerr.KindInternal, "embedding.Remote.EmbedBatch", err)
	}
	path := r.cfg.Path
	if path == "" {
		path = "/v1/embeddings"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, ragerr.New(ragerr.KindInternal, "embedding.Remote.EmbedBatch", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.APIKey != "" {
		if r.cfg.AuthHeader == "" {
			req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
		} else {
			req.Header.Set(r.cfg.AuthHeader, r.cfg.APIKey)
		}
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, ragerr.New(ragerr.KindDependency, "embedding.Remote.EmbedBatch", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return nil, ragerr.New(ragerr.KindDependency, "embedding.Remote.EmbedBatch",
			fmt.Errorf("embedding endpoint returned %d: %s", resp.StatusCode, string(data)))
	}
	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, ragerr.New(ragerr.KindCorruption, "embedding.Remote.EmbedBatch", err)
	}
	if len(out.Data) != len(texts) {
		return nil, ragerr.New(ragerr.KindCorruption, "embedding.Remote.EmbedBatch",
			fmt.Errorf("expected %d embeddings, got %d", len(texts), len(out.Data)))
	}
	vecs := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		vecs[i] = d.Embedding
		if r.dim == 0 && len(d.Embedding) > 0 {
			r.dim = len(d.Embedding)
		}
	}
	return vecs, nil
}

var _ Provider = (*Remote)(nil)
