// Package retrieval implements Retriever: single-KB and multi-KB vector
// search, plus hybrid vector+graph fusion.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"ragengine/internal/catalog"
	"ragengine/internal/embedding"
	"ragengine/internal/entityextract"
	"ragengine/internal/graphstore"
	"ragengine/internal/ragerr"
	"ragengine/internal/vectorstore"
)

// Hit is a single retrieved passage, whichever source produced it.
type Hit struct {
	ChunkID  string
	KBID     int64
	FileID   int64
	FileName string
	Content  string
	Score    float64
	Source   string // "vector" or "graph"
}

// HybridWeights controls the fusion arithmetic for hybrid search:
// final_score = raw_score * weight.
type HybridWeights struct {
	Vector float64
	Graph  float64
}

// DefaultWeights mirrors the spec's example configuration.
var DefaultWeights = HybridWeights{Vector: 0.7, Graph: 0.3}

// Retriever composes vector search, optional graph expansion, and entity
// extraction against one catalog of knowledge bases.
type Retriever struct {
	Catalog   catalog.Store
	Vectors   vectorstore.Manager
	Embedder  embedding.Provider
	Graph     graphstore.Store
	Extractor *entityextract.Extractor

	// QueryMinEntityLength overrides EntityExtractor's default minimum
	// text length for query-time extraction, which is typically much
	// shorter than an ingested chunk.
	QueryMinEntityLength int
	MaxHops              int
	Weights              HybridWeights

	onDegrade func(reason string)
}

// OnDegrade registers a callback invoked when hybrid search falls back to
// vector-only because the graph store is unavailable. Tests and callers
// that want to assert on the degradation use this instead of parsing logs.
func (r *Retriever) OnDegrade(fn func(reason string)) { r.onDegrade = fn }

// Search performs single-KB vector search: encode the query, search the
// KB's collection for k candidates, convert distances to similarity,
// filter by threshold, and attach each hit's source filename.
func (r *Retriever) Search(ctx context.Context, kbID int64, query string, k int, threshold float64) ([]Hit, error) {
	kb, err := r.Catalog.GetKB(ctx, kbID)
	if err != nil {
		return nil, ragerr.New(ragerr.KindNotFound, "retrieval.Search", err)
	}
	qv, err := r.encodeQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return r.searchOne(ctx, kb, qv, k, threshold)
}

// MultiSearch performs multi-KB vector search: every kbID must share the
// same (embeddingProvider, embeddingModel) pair, or the request is
// rejected with EmbeddingConfigMismatch. Per-KB searches run concurrently
// with k' = max(k, 2*|KBs|) each, then results are merged and globally
// sorted by similarity.
func (r *Retriever) MultiSearch(ctx context.Context, kbIDs []int64, query string, k int, threshold float64) ([]Hit, error) {
	if len(kbIDs) == 0 {
		return nil, nil
	}
	kbs := make([]catalog.KnowledgeBase, len(kbIDs))
	for i, id := range kbIDs {
		kb, err := r.Catalog.GetKB(ctx, id)
		if err != nil {
			return nil, ragerr.New(ragerr.KindNotFound, "retrieval.MultiSearch", err)
		}
		kbs[i] = kb
	}
	first := kbs[0]
	for _, kb := range kbs[1:] {
		if kb.EmbeddingProvider != first.EmbeddingProvider || kb.EmbeddingModel != first.EmbeddingModel {
			return nil, ragerr.New(ragerr.KindValidation, "retrieval.MultiSearch",
				fmt.Errorf("EmbeddingConfigMismatch: kb %d uses %s/%s, kb %d uses %s/%s",
					first.ID, first.EmbeddingProvider, first.EmbeddingModel,
					kb.ID, kb.EmbeddingProvider, kb.EmbeddingModel))
		}
	}

	qv, err := r.encodeQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	kPrime := k
	if min := 2 * len(kbs); kPrime < min {
		kPrime = min
	}

	results := make([][]Hit, len(kbs))
	g, gctx := errgroup.WithContext(ctx)
	for i, kb := range kbs {
		i, kb := i, kb
		g.Go(func() error {
			hits, err := r.searchOne(gctx, kb, qv, kPrime, threshold)
			if err != nil {
				return err
			}
			results[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []Hit
	for _, hits := range results {
		merged = append(merged, hits...)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged, nil
}

// HybridSearch runs vector search for 2k candidates, independently
// extracts entities from the query and expands them against the graph
// store, fuses both result sets by weighted raw score, dedupes graph
// results by the first 100 characters of their formatted content, and
// returns the top k. If the graph store is unavailable this degrades to
// vector-only rather than failing the query.
func (r *Retriever) HybridSearch(ctx context.Context, kbID int64, query string, k, maxHops int) ([]Hit, error) {
	kb, err := r.Catalog.GetKB(ctx, kbID)
	if err != nil {
		return nil, ragerr.New(ragerr.KindNotFound, "retrieval.HybridSearch", err)
	}
	qv, err := r.encodeQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	vectorHits, err := r.searchOne(ctx, kb, qv, 2*k, 0)
	if err != nil {
		return nil, err
	}
	weights := r.weights()
	for i := range vectorHits {
		vectorHits[i].Score *= weights.Vector
		vectorHits[i].Source = "vector"
	}

	graphHits, err := r.graphHits(ctx, kb, query, maxHops)
	if err != nil {
		r.degrade(fmt.Sprintf("graph store unavailable: %v", err))
		graphHits = nil
	}
	for i := range graphHits {
		graphHits[i].Score *= weights.Graph
	}

	all := append(vectorHits, dedupeGraphHits(graphHits)...)
	sort.Slice(all, func(i, j int) bool { return all[i].Score > all[j].Score })
	if len(all) > k {
		all = all[:k]
	}
	return all, nil
}

func (r *Retriever) weights() HybridWeights {
	w := r.Weights
	if w.Vector == 0 && w.Graph == 0 {
		w = DefaultWeights
	}
	return w
}

func (r *Retriever) degrade(reason string) {
	if r.onDegrade != nil {
		r.onDegrade(reason)
	}
}

func (r *Retriever) encodeQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := r.Embedder.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, ragerr.New(ragerr.KindDependency, "retrieval.encodeQuery", err)
	}
	return vecs[0], nil
}

func (r *Retriever) searchOne(ctx context.Context, kb catalog.KnowledgeBase, qv []float32, k int, threshold float64) ([]Hit, error) {
	coll, err := r.Vectors.Collection(ctx, collectionID(kb.ID), r.Embedder.Dimension())
	if err != nil {
		return nil, ragerr.New(ragerr.KindDependency, "retrieval.searchOne", err)
	}
	results, err := coll.Search(ctx, qv, k, nil)
	if err != nil {
		return nil, ragerr.New(ragerr.KindDependency, "retrieval.searchOne", err)
	}

	fileCache := make(map[int64]string)
	var hits []Hit
	for _, res := range results {
		sim := res.Score
		if sim < threshold {
			continue
		}
		fileID := parseInt64(res.Metadata["file_id"])
		name, ok := fileCache[fileID]
		if !ok {
			if f, err := r.Catalog.GetFile(ctx, fileID); err == nil {
				name = f.Name
			}
			fileCache[fileID] = name
		}
		hits = append(hits, Hit{
			ChunkID:  res.ID,
			KBID:     kb.ID,
			FileID:   fileID,
			FileName: name,
			Content:  res.Metadata["text"],
			Score:    sim,
			Source:   "vector",
		})
	}
	return hits, nil
}

// graphHits extracts entities from the query and combines direct entity
// hits (score 0.9) with related-entity expansions up to maxHops hops
// (score 0.7/hop).
func (r *Retriever) graphHits(ctx context.Context, kb catalog.KnowledgeBase, query string, maxHops int) ([]Hit, error) {
	if r.Graph == nil || r.Extractor == nil {
		return nil, fmt.Errorf("graph retrieval not configured")
	}
	if maxHops <= 0 {
		maxHops = r.MaxHops
	}
	if maxHops <= 0 {
		maxHops = 2
	}
	extracted := r.Extractor.ExtractWithMinLength(ctx, query, r.QueryMinEntityLength)

	var hits []Hit
	var seeds []string
	scopeID := collectionID(kb.ID)
	for _, e := range extracted.Entities {
		id := entityID(kb.ID, e.Name, e.Type)
		ent, ok, err := r.Graph.GetEntity(ctx, scopeID, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		seeds = append(seeds, id)
		hits = append(hits, Hit{
			KBID:    kb.ID,
			Content: formatEntity(ent),
			Score:   0.9,
			Source:  "graph",
		})
	}
	if len(seeds) == 0 {
		return hits, nil
	}

	neighbors, err := r.Graph.FindRelated(ctx, scopeID, seeds, maxHops)
	if err != nil {
		return nil, err
	}
	for _, n := range neighbors {
		hits = append(hits, Hit{
			KBID:    kb.ID,
			Content: formatEntity(n.Entity),
			Score:   0.7 / float64(n.Hops),
			Source:  "graph",
		})
	}
	return hits, nil
}

func dedupeGraphHits(hits []Hit) []Hit {
	seen := make(map[string]struct{}, len(hits))
	out := make([]Hit, 0, len(hits))
	for _, h := range hits {
		key := h.Content
		if len(key) > 100 {
			key = key[:100]
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, h)
	}
	return out
}

func formatEntity(e graphstore.Entity) string {
	return strings.TrimSpace(fmt.Sprintf("%s (%s)", e.Name, e.Type))
}

func collectionID(kbID int64) string { return fmt.Sprintf("kb_%d", kbID) }

func entityID(kbID int64, name, typ string) string {
	return fmt.Sprintf("kb_%d:%s:%s", kbID, typ, name)
}

func parseInt64(s string) int64 {
	var v int64
	for _, c := range s {
		if c < '0' || c > '9' {
			return v
		}
		v = v*10 + int64(c-'0')
	}
	return v
}
