package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"ragengine/internal/catalog"
	"ragengine/internal/entityextract"
	"ragengine/internal/graphstore"
	"ragengine/internal/vectorstore"
)

type fakeEmbedder struct{ dim int }

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, f.dim)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}
func (f *fakeEmbedder) Dimension() int                { return f.dim }
func (f *fakeEmbedder) Name() string                  { return "fake" }
func (f *fakeEmbedder) Ping(ctx context.Context) error { return nil }

type failingGraph struct{ graphstore.Store }

func (failingGraph) FindRelated(ctx context.Context, kbID string, seedIDs []string, maxHops int) ([]graphstore.Neighbor, error) {
	return nil, errors.New("graph backend down")
}
func (failingGraph) GetEntity(ctx context.Context, kbID, id string) (graphstore.Entity, bool, error) {
	return graphstore.Entity{}, false, errors.New("graph backend down")
}

func seedKB(t *testing.T, cat catalog.Store, vectors vectorstore.Manager, embedder *fakeEmbedder, name string) (catalog.KnowledgeBase, catalog.File) {
	t.Helper()
	ctx := context.Background()
	kb, err := cat.CreateKB(ctx, name, "fake", "local")
	require.NoError(t, err)
	f, err := cat.CreateFile(ctx, catalog.File{KBID: kb.ID, Name: "doc.txt", Hash: name + "-hash"})
	require.NoError(t, err)

	coll, err := vectors.Collection(ctx, collectionID(kb.ID), embedder.dim)
	require.NoError(t, err)
	v := make([]float32, embedder.dim)
	v[0] = 1
	require.NoError(t, coll.Upsert(ctx, []vectorstore.Record{{
		ID:     "file_1_chunk_0",
		Vector: v,
		Metadata: map[string]string{
			"kb_id": itoa(kb.ID), "file_id": itoa(f.ID), "chunk_index": "0", "text": "hello world",
		},
	}}))
	return kb, f
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

func TestSearchReturnsHitsAboveThreshold(t *testing.T) {
	ctx := context.Background()
	cat := catalog.NewMemory()
	vectors := vectorstore.NewMemoryManager()
	embedder := &fakeEmbedder{dim: 4}
	kb, f := seedKB(t, cat, vectors, embedder, "kb1")

	r := &Retriever{Catalog: cat, Vectors: vectors, Embedder: embedder}
	hits, err := r.Search(ctx, kb.ID, "hello", 5, 0.9)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, f.Name, hits[0].FileName)
}

func TestMultiSearchRejectsMismatchedEmbeddingConfig(t *testing.T) {
	ctx := context.Background()
	cat := catalog.NewMemory()
	vectors := vectorstore.NewMemoryManager()
	embedder := &fakeEmbedder{dim: 4}
	kb1, _ := seedKB(t, cat, vectors, embedder, "kb1")
	kb2, err := cat.CreateKB(ctx, "kb2", "other-model", "local")
	require.NoError(t, err)

	r := &Retriever{Catalog: cat, Vectors: vectors, Embedder: embedder}
	_, err = r.MultiSearch(ctx, []int64{kb1.ID, kb2.ID}, "hello", 5, 0)
	require.Error(t, err)
}

func TestMultiSearchMergesAcrossKBs(t *testing.T) {
	ctx := context.Background()
	cat := catalog.NewMemory()
	vectors := vectorstore.NewMemoryManager()
	embedder := &fakeEmbedder{dim: 4}
	kb1, _ := seedKB(t, cat, vectors, embedder, "kb1")
	kb2, _ := seedKB(t, cat, vectors, embedder, "kb2")

	r := &Retriever{Catalog: cat, Vectors: vectors, Embedder: embedder}
	hits, err := r.MultiSearch(ctx, []int64{kb1.ID, kb2.ID}, "hello", 5, 0)
	require.NoError(t, err)
	require.Len(t, hits, 2)
}

func TestHybridSearchDegradesWhenGraphUnavailable(t *testing.T) {
	ctx := context.Background()
	cat := catalog.NewMemory()
	vectors := vectorstore.NewMemoryManager()
	embedder := &fakeEmbedder{dim: 4}
	kb, _ := seedKB(t, cat, vectors, embedder, "kb1")

	extractor := entityextract.New(stubCompleter{}, 0, 1)
	r := &Retriever{
		Catalog: cat, Vectors: vectors, Embedder: embedder,
		Graph: failingGraph{}, Extractor: extractor,
	}
	var degradeReason string
	r.OnDegrade(func(reason string) { degradeReason = reason })

	hits, err := r.HybridSearch(ctx, kb.ID, "hello", 5, 2)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	require.NotEmpty(t, degradeReason)
}

type stubCompleter struct{}

func (stubCompleter) Complete(context.Context, string) (string, error) {
	return `{"entities":[{"name":"Acme","type":"Org"}],"relations":[]}`, nil
}

func TestDedupeGraphHitsByFirst100Chars(t *testing.T) {
	long := make([]byte, 150)
	for i := range long {
		long[i] = 'a'
	}
	hits := []Hit{
		{Content: string(long), Score: 0.9},
		{Content: string(long), Score: 0.5},
	}
	deduped := dedupeGraphHits(hits)
	require.Len(t, deduped, 1)
}
