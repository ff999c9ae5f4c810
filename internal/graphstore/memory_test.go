package graphstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpsertEntitiesMergesProperties(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.UpsertEntities(ctx, []Entity{
		{ID: "e1", KBID: "kb1", Name: "Alice", Type: "Person", Properties: map[string]any{"age": 30}},
	}))
	require.NoError(t, m.UpsertEntities(ctx, []Entity{
		{ID: "e1", KBID: "kb1", Name: "Alice", Type: "Person", Properties: map[string]any{"city": "NYC"}},
	}))
	require.Equal(t, 30, m.entities["e1"].Properties["age"])
	require.Equal(t, "NYC", m.entities["e1"].Properties["city"])
}

func TestFindRelatedRespectsHopBoundAndKBScoping(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.UpsertEntities(ctx, []Entity{
		{ID: "a", KBID: "kb1", Name: "A"},
		{ID: "b", KBID: "kb1", Name: "B"},
		{ID: "c", KBID: "kb1", Name: "C"},
		{ID: "other-kb", KBID: "kb2", Name: "Other"},
	}))
	require.NoError(t, m.UpsertRelations(ctx, []Relation{
		{KBID: "kb1", SourceID: "a", TargetID: "b", Type: "KNOWS"},
		{KBID: "kb1", SourceID: "b", TargetID: "c", Type: "KNOWS"},
		{KBID: "kb1", SourceID: "a", TargetID: "other-kb", Type: "KNOWS"},
	}))

	oneHop, err := m.FindRelated(ctx, "kb1", []string{"a"}, 1)
	require.NoError(t, err)
	require.Len(t, oneHop, 1)
	require.Equal(t, "b", oneHop[0].Entity.ID)

	twoHop, err := m.FindRelated(ctx, "kb1", []string{"a"}, 2)
	require.NoError(t, err)
	require.Len(t, twoHop, 2)
}

func TestDeleteKBRemovesOnlyThatKB(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.UpsertEntities(ctx, []Entity{
		{ID: "a", KBID: "kb1"},
		{ID: "b", KBID: "kb2"},
	}))
	require.NoError(t, m.DeleteKB(ctx, "kb1"))
	_, stillThere := m.entities["b"]
	_, gone := m.entities["a"]
	require.True(t, stillThere)
	require.False(t, gone)
}
