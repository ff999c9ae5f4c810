package embedding

import (
	"context"
	"hash/fnv"
	"math"
)

// Deterministic is a seeded, hash-based embedder for tests: it needs no
// model and no network, and produces the same vector for the same text
// every time, so invariant tests (dedupe, similarity ordering) are
// reproducible.
type Deterministic struct {
	dim       int
	seed      uint64
	normalize bool
}

// NewDeterministic constructs a Deterministic provider of the given
// dimension. L2-normalizes output vectors when normalize is true, matching
// the assumption VectorStore similarity conversion depends on.
func NewDeterministic(dim int, seed uint64, normalize bool) *Deterministic {
	return &Deterministic{dim: dim, seed: seed, normalize: normalize}
}

func (d *Deterministic) Name() string   { return "deterministic-test" }
func (d *Deterministic) Dimension() int { return d.dim }
func (d *Deterministic) Ping(context.Context) error { return nil }

func (d *Deterministic) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = d.embedOne(t)
	}
	return out, nil
}

func (d *Deterministic) embedOne(text string) []float32 {
	vec := make([]float32, d.dim)
	if len(text) < 3 {
		text = text + "   "
	}
	for i := 0; i+3 <= len(text); i++ {
		gram := text[i : i+3]
		h := fnv.New64a()
		h.Write([]byte(gram))
		if d.seed != 0 {
			var seedBytes [8]byte
			for j := 0; j < 8; j++ {
				seedBytes[j] = byte(d.seed >> (8 * j))
			}
			h.Write(seedBytes[:])
		}
		sum := h.Sum64()
		idx := int(sum % uint64(d.dim))
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		vec[idx] += sign
	}
	if d.normalize {
		normalizeInPlace(vec)
	}
	return vec
}

func normalizeInPlace(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range v {
		v[i] /= norm
	}
}

var _ Provider = (*Deterministic)(nil)
