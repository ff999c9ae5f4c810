package splitter

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitRespectsMaxChunkSize(t *testing.T) {
	text := strings.Repeat("word ", 500)
	chunks := Split(text, Config{MaxChunkSize: 50})
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		require.LessOrEqual(t, runeLen(c), 50)
	}
}

func TestSplitRespectsMaxChunkSizeWithOverlapOnForcedCuts(t *testing.T) {
	text := strings.Repeat("x", 4000)
	chunks := Split(text, Config{MaxChunkSize: 800, Overlap: 100})
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		require.LessOrEqual(t, runeLen(c), 800)
	}
}

func TestSplitCarriesOverlapBetweenChunks(t *testing.T) {
	text := strings.Repeat("a", 300)
	chunks := Split(text, Config{MaxChunkSize: 100, Overlap: 20})
	require.GreaterOrEqual(t, len(chunks), 2)
	// the tail of chunk[0] should reappear at the head of chunk[1]
	tail := chunks[0][len(chunks[0])-20:]
	require.True(t, strings.HasPrefix(chunks[1], tail))
}

func TestSplitNeverProducesEmptyChunks(t *testing.T) {
	chunks := Split("\n\n\n   \n\n", Config{MaxChunkSize: 100})
	require.Empty(t, chunks)
}

func TestSplitHandlesOversizedSingleWordWithForcedCut(t *testing.T) {
	text := strings.Repeat("x", 1000)
	chunks := Split(text, Config{MaxChunkSize: 100})
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		require.LessOrEqual(t, runeLen(c), 100)
	}
}

type fakeArbiter struct {
	merge bool
	err   error
}

func (f fakeArbiter) ShouldMerge(ctx context.Context, tail, head string) (bool, error) {
	return f.merge, f.err
}

func TestSemanticMergeAlwaysMergesBelowMinSize(t *testing.T) {
	segs := []string{"short one", "short two", "short three"}
	out := SemanticMerge(context.Background(), segs, SemanticConfig{MinChunkSize: 1000, MaxChunkSize: 2000}, fakeArbiter{merge: false})
	require.Len(t, out, 1)
}

func TestSemanticMergeNeverExceedsMaxSize(t *testing.T) {
	a := strings.Repeat("a", 600)
	b := strings.Repeat("b", 600)
	out := SemanticMerge(context.Background(), []string{a, b}, SemanticConfig{MinChunkSize: 10, MaxChunkSize: 1000}, fakeArbiter{merge: true})
	require.Len(t, out, 2)
}

func TestSemanticMergeFallsBackOnArbiterError(t *testing.T) {
	a := strings.Repeat("a", 300)
	b := strings.Repeat("b", 300)
	out := SemanticMerge(context.Background(), []string{a, b}, SemanticConfig{MinChunkSize: 10, MaxChunkSize: 1000}, fakeArbiter{err: errors.New("llm down")})
	require.Len(t, out, 1)
}
