package entityextract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubCompleter struct {
	resp string
	err  error
}

func (s stubCompleter) Complete(context.Context, string) (string, error) {
	return s.resp, s.err
}

func TestExtractDirectJSON(t *testing.T) {
	e := New(stubCompleter{resp: `{"entities":[{"name":"Alice","type":"Person"}],"relations":[]}`}, 0, 0)
	res := e.Extract(context.Background(), "Alice works at Acme.")
	require.Len(t, res.Entities, 1)
	require.Equal(t, "Alice", res.Entities[0].Name)
}

func TestExtractFencedJSON(t *testing.T) {
	resp := "Here you go:\n```json\n{\"entities\":[{\"name\":\"Bob\",\"type\":\"Person\"}],\"relations\":[]}\n```\nThanks."
	e := New(stubCompleter{resp: resp}, 0, 0)
	res := e.Extract(context.Background(), "text")
	require.Len(t, res.Entities, 1)
	require.Equal(t, "Bob", res.Entities[0].Name)
}

func TestExtractWidestSpanFallback(t *testing.T) {
	resp := `sure, the result is {"entities": [{"name": "Carol", "type": "Person"}], "relations": []} hope that helps`
	e := New(stubCompleter{resp: resp}, 0, 0)
	res := e.Extract(context.Background(), "text")
	require.Len(t, res.Entities, 1)
	require.Equal(t, "Carol", res.Entities[0].Name)
}

func TestExtractUnparsableYieldsEmptyNotError(t *testing.T) {
	e := New(stubCompleter{resp: "not json at all, sorry"}, 0, 0)
	res := e.Extract(context.Background(), "text")
	require.Empty(t, res.Entities)
	require.Empty(t, res.Relations)
}

func TestExtractLLMFailureYieldsEmptyNotError(t *testing.T) {
	e := New(stubCompleter{err: errors.New("boom")}, 0, 0)
	res := e.Extract(context.Background(), "text")
	require.Empty(t, res.Entities)
	require.Empty(t, res.Relations)
}

func TestNormalizeFiltersShortNamesAndDedups(t *testing.T) {
	e := New(stubCompleter{}, 3, 0)
	raw := rawExtraction{
		Entities: []Entity{
			{Name: "Al", Type: "Person"},    // too short, dropped
			{Name: "Alice", Type: "Person"}, // kept
			{Name: "Alice", Type: "Person"}, // duplicate, dropped
			{Name: " Bob ", Type: ""},       // trimmed, type defaulted
		},
	}
	res := e.normalize(raw)
	require.Len(t, res.Entities, 2)
	require.Equal(t, "Bob", res.Entities[1].Name)
	require.Equal(t, "Unknown", res.Entities[1].Type)
}

func TestBatchExtractReturnsOneResultPerText(t *testing.T) {
	e := New(stubCompleter{resp: `{"entities":[{"name":"Xeno","type":"Concept"}],"relations":[]}`}, 0, 2)
	texts := []string{"a", "b", "c", "d", "e"}
	results, err := e.BatchExtract(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, results, len(texts))
	for _, r := range results {
		require.Len(t, r.Entities, 1)
	}
}
