// Package filestore implements content-addressed file storage and per-type
// text extraction for the ingestion pipeline.
package filestore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"ragengine/internal/objectstore"
	"ragengine/internal/ragerr"
	"ragengine/internal/validation"
)

// Parser extracts plain text, paragraph-delimited, from raw bytes of a
// given file type.
type Parser interface {
	Parse(data []byte) (string, error)
}

// ParserFunc adapts a function to Parser.
type ParserFunc func([]byte) (string, error)

func (f ParserFunc) Parse(data []byte) (string, error) { return f(data) }

// Store is the content-addressed FileStore: files live at
// kb_<kbID>/files/<hash>_<name> under the backing ObjectStore, and are
// deduplicated by content hash within a KB.
type Store struct {
	backend objectstore.ObjectStore
	parsers map[string]Parser
}

// New constructs a Store over backend with the default parser dispatch
// table (plain text, markdown, html, docx). There is no PDF parser: a .pdf
// file goes through the raw-text fallback, so its bytes come back as-is.
func New(backend objectstore.ObjectStore) *Store {
	return &Store{
		backend: backend,
		parsers: defaultParsers(),
	}
}

// RegisterParser overrides or adds a parser for ext (including the dot,
// e.g. ".pdf"), lowercased.
func (s *Store) RegisterParser(ext string, p Parser) {
	s.parsers[strings.ToLower(ext)] = p
}

// Hash returns the content-address for data: hex(SHA-256(data)).
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ObjectKey returns the content-addressed key for a file within kbID.
func ObjectKey(kbID, hash, name string) string {
	return fmt.Sprintf("kb_%s/files/%s_%s", kbID, hash, name)
}

// Upload stores data under kbID/name, returning the content hash and the
// object key. If an object already exists at the computed key (duplicate
// content + name within this KB), Upload is a no-op write and simply
// returns the existing address — idempotent re-upload, not an error.
func (s *Store) Upload(ctx context.Context, kbID, name string, data []byte) (hash, key string, err error) {
	kbID, err = validation.KBOwner(kbID)
	if err != nil {
		return "", "", ragerr.New(ragerr.KindValidation, "filestore.Upload", err)
	}
	name, err = validation.FileName(name)
	if err != nil {
		return "", "", ragerr.New(ragerr.KindValidation, "filestore.Upload", err)
	}

	hash = Hash(data)
	key = ObjectKey(kbID, hash, name)
	exists, err := s.backend.Exists(ctx, key)
	if err != nil {
		return "", "", ragerr.New(ragerr.KindDependency, "filestore.Upload", err)
	}
	if exists {
		return hash, key, nil
	}
	if _, err := s.backend.Put(ctx, key, bytes.NewReader(data), objectstore.PutOptions{}); err != nil {
		return "", "", ragerr.New(ragerr.KindDependency, "filestore.Upload", err)
	}
	return hash, key, nil
}

// Delete removes the object at key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.backend.Delete(ctx, key); err != nil {
		return ragerr.New(ragerr.KindDependency, "filestore.Delete", err)
	}
	return nil
}

// ExtractText reads the object at key and parses it to plain text using
// the parser registered for name's extension. Unknown extensions fall
// back to the raw-text parser rather than failing ingestion outright.
func (s *Store) ExtractText(ctx context.Context, key, name string) (string, error) {
	r, _, err := s.backend.Get(ctx, key)
	if err != nil {
		return "", ragerr.New(ragerr.KindDependency, "filestore.ExtractText", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return "", ragerr.New(ragerr.KindDependency, "filestore.ExtractText", err)
	}
	ext := strings.ToLower(filepath.Ext(name))
	p, ok := s.parsers[ext]
	if !ok {
		p = s.parsers[""]
	}
	text, err := p.Parse(data)
	if err != nil {
		return "", ragerr.New(ragerr.KindCorruption, "filestore.ExtractText", err)
	}
	return text, nil
}
