package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCollectionIsolationPerKB(t *testing.T) {
	mgr := NewMemoryManager()
	ctx := context.Background()

	c1, err := mgr.Collection(ctx, "kb1", 2)
	require.NoError(t, err)
	c2, err := mgr.Collection(ctx, "kb2", 2)
	require.NoError(t, err)

	require.NoError(t, c1.Upsert(ctx, []Record{{ID: "x", Vector: []float32{1, 0}}}))
	results, err := c2.Search(ctx, []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestUpsertRejectsWrongDimension(t *testing.T) {
	mgr := NewMemoryManager()
	ctx := context.Background()
	c, err := mgr.Collection(ctx, "kb1", 3)
	require.NoError(t, err)

	err = c.Upsert(ctx, []Record{{ID: "x", Vector: []float32{1, 0}}})
	require.Error(t, err)
}

func TestSearchOrdersByDescendingSimilarity(t *testing.T) {
	mgr := NewMemoryManager()
	ctx := context.Background()
	c, err := mgr.Collection(ctx, "kb1", 2)
	require.NoError(t, err)

	require.NoError(t, c.Upsert(ctx, []Record{
		{ID: "near", Vector: []float32{1, 0}},
		{ID: "far", Vector: []float32{0, 1}},
	}))

	results, err := c.Search(ctx, []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "near", results[0].ID)
	require.Equal(t, "far", results[1].ID)
	require.InDelta(t, 1.0, results[0].Score, 1e-9)
}

func TestSearchRespectsMetadataFilter(t *testing.T) {
	mgr := NewMemoryManager()
	ctx := context.Background()
	c, err := mgr.Collection(ctx, "kb1", 2)
	require.NoError(t, err)

	require.NoError(t, c.Upsert(ctx, []Record{
		{ID: "a", Vector: []float32{1, 0}, Metadata: map[string]string{"file": "f1"}},
		{ID: "b", Vector: []float32{1, 0}, Metadata: map[string]string{"file": "f2"}},
	}))

	results, err := c.Search(ctx, []float32{1, 0}, 10, map[string]string{"file": "f2"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "b", results[0].ID)
}

func TestDeleteRemovesRecords(t *testing.T) {
	mgr := NewMemoryManager()
	ctx := context.Background()
	c, err := mgr.Collection(ctx, "kb1", 2)
	require.NoError(t, err)

	require.NoError(t, c.Upsert(ctx, []Record{{ID: "a", Vector: []float32{1, 0}}}))
	require.NoError(t, c.Delete(ctx, []string{"a"}))

	results, err := c.Search(ctx, []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestSimilarityClampsToUnitRange(t *testing.T) {
	require.InDelta(t, 1.0, Similarity(-0.5), 1e-9)
	require.InDelta(t, 0.0, Similarity(3.0), 1e-9)
	require.InDelta(t, 0.5, Similarity(1.0), 1e-9)
}

func TestDropCollectionRemovesIt(t *testing.T) {
	mgr := NewMemoryManager()
	ctx := context.Background()
	_, err := mgr.Collection(ctx, "kb1", 2)
	require.NoError(t, err)
	require.NoError(t, mgr.DropCollection(ctx, "kb1"))

	c, err := mgr.Collection(ctx, "kb1", 5)
	require.NoError(t, err)
	require.Equal(t, 5, c.Dimension())
}
