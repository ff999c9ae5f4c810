package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKBOwner_ValidAndInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		in    string
		want  string
		errIs error
	}{
		{name: "simple", in: "kb-1", want: "kb-1", errIs: nil},
		{name: "empty", in: "", want: "", errIs: ErrInvalidKBOwner},
		{name: "dot", in: ".", want: "", errIs: ErrInvalidKBOwner},
		{name: "dotdot", in: "..", want: "", errIs: ErrInvalidKBOwner},
		{name: "slash", in: "a/b", want: "", errIs: ErrInvalidKBOwner},
		{name: "backslash", in: `a\b`, want: "", errIs: ErrInvalidKBOwner},
		{name: "traversal", in: "../escape", want: "", errIs: ErrInvalidKBOwner},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := KBOwner(tt.in)
			assert.Equal(t, tt.want, got)
			assert.ErrorIs(t, err, tt.errIs)
		})
	}
}

func TestFileName_ValidAndInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		in    string
		want  string
		errIs error
	}{
		{name: "simple", in: "notes.txt", want: "notes.txt", errIs: nil},
		{name: "empty", in: "", want: "", errIs: ErrInvalidFileName},
		{name: "dot", in: ".", want: "", errIs: ErrInvalidFileName},
		{name: "dotdot", in: "..", want: "", errIs: ErrInvalidFileName},
		{name: "nested", in: "sub/evil.txt", want: "", errIs: ErrInvalidFileName},
		{name: "backslash", in: `sub\evil.txt`, want: "", errIs: ErrInvalidFileName},
		{name: "traversal", in: "../escape.txt", want: "", errIs: ErrInvalidFileName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FileName(tt.in)
			assert.Equal(t, tt.want, got)
			assert.ErrorIs(t, err, tt.errIs)
		})
	}
}
