package filestore

import (
	"context"
	"testing"

	"ragengine/internal/objectstore"

	"github.com/stretchr/testify/require"
)

func TestUploadIsContentAddressedAndDeduped(t *testing.T) {
	s := New(objectstore.NewMemoryStore())
	ctx := context.Background()

	h1, k1, err := s.Upload(ctx, "kb1", "doc.txt", []byte("hello world"))
	require.NoError(t, err)
	require.NotEmpty(t, h1)

	h2, k2, err := s.Upload(ctx, "kb1", "doc.txt", []byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, h1, h2)
	require.Equal(t, k1, k2)

	h3, k3, err := s.Upload(ctx, "kb1", "doc.txt", []byte("different content"))
	require.NoError(t, err)
	require.NotEqual(t, h1, h3)
	require.NotEqual(t, k1, k3)
}

func TestExtractTextFallsBackToPlainTextForUnknownExtension(t *testing.T) {
	s := New(objectstore.NewMemoryStore())
	ctx := context.Background()
	_, key, err := s.Upload(ctx, "kb1", "notes.weird", []byte("raw content"))
	require.NoError(t, err)

	text, err := s.ExtractText(ctx, key, "notes.weird")
	require.NoError(t, err)
	require.Equal(t, "raw content", text)
}

func TestParseHTMLPreservesParagraphBoundaries(t *testing.T) {
	text, err := parseHTML([]byte("<html><body><p>First</p><p>Second</p></body></html>"))
	require.NoError(t, err)
	require.Contains(t, text, "First")
	require.Contains(t, text, "Second")
}
