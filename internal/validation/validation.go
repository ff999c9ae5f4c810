// Package validation checks that identifiers and file names headed into an
// object-store key are safe single path segments. It has no dependencies on
// other internal packages to avoid import cycles.
package validation

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidKBOwner indicates a FileStore owner segment is malformed or
// attempts path traversal.
var ErrInvalidKBOwner = errors.New("invalid kb owner segment")

// ErrInvalidFileName indicates an uploaded file's name is malformed or
// attempts path traversal.
var ErrInvalidFileName = errors.New("invalid file name")

// KBOwner checks that owner (the first segment of a FileStore object key,
// normally a knowledge base ID) is safe for use as a single path segment.
func KBOwner(owner string) (string, error) {
	return pathSegment(owner, ErrInvalidKBOwner)
}

// FileName checks that name (the trailing segment of a FileStore object
// key) is safe for use as a single path segment — rejecting traversal
// attempts and names smuggling extra directory levels.
func FileName(name string) (string, error) {
	return pathSegment(name, ErrInvalidFileName)
}

func pathSegment(segment string, errInvalid error) (string, error) {
	if segment == "" {
		return "", errInvalid
	}
	if segment == "." || segment == ".." {
		return "", errInvalid
	}
	if strings.ContainsAny(segment, `/\`) {
		return "", errInvalid
	}

	cleaned := filepath.Clean(segment)
	if cleaned != segment ||
		strings.HasPrefix(cleaned, "..") ||
		strings.Contains(cleaned, string(os.PathSeparator)+"..") ||
		filepath.IsAbs(cleaned) {
		return "", errInvalid
	}

	return cleaned, nil
}
