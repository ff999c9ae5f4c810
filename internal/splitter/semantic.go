package splitter

import (
	"context"
	"strings"
)

// MergeArbiter decides whether two adjacent segments should be merged into
// one chunk. It is implemented by an LLM-backed component; ShouldMerge
// sees only the tail of the accumulator and the head of the next segment
// (the same windowing used for the decision, not the full text) so the
// prompt stays small regardless of chunk size.
type MergeArbiter interface {
	ShouldMerge(ctx context.Context, tail, head string) (bool, error)
}

// SemanticConfig controls the semantic merge pass.
type SemanticConfig struct {
	MinChunkSize int // below this, always try to merge without asking the arbiter
	MaxChunkSize int
	WindowChars  int // size of the tail/head window shown to the arbiter; default 200
}

func (c SemanticConfig) windowChars() int {
	if c.WindowChars > 0 {
		return c.WindowChars
	}
	return 200
}

func (c SemanticConfig) minSize() int {
	if c.MinChunkSize > 0 {
		return c.MinChunkSize
	}
	return 200
}

func (c SemanticConfig) maxSize() int {
	if c.MaxChunkSize > 0 {
		return c.MaxChunkSize
	}
	return 1000
}

// SemanticMerge takes paragraph-level segments (as produced by splitting on
// blank lines) and greedily merges adjacent ones: below min size it always
// merges, below max size it consults arbiter on whether the segments are
// topically continuous, and above max size it never merges. On any arbiter
// error it falls back to the rule-based always-merge-if-it-fits behavior
// rather than failing ingestion.
func SemanticMerge(ctx context.Context, segments []string, cfg SemanticConfig, arbiter MergeArbiter) []string {
	if len(segments) == 0 {
		return nil
	}
	var out []string
	cur := segments[0]
	for i := 1; i < len(segments); i++ {
		next := segments[i]
		merged := cur + "\n\n" + next
		if runeLen(merged) > cfg.maxSize() {
			out = append(out, cur)
			cur = next
			continue
		}
		if runeLen(cur) < cfg.minSize() {
			cur = merged
			continue
		}
		should, err := askMerge(ctx, arbiter, cur, next, cfg.windowChars())
		if err != nil || should {
			cur = merged
			continue
		}
		out = append(out, cur)
		cur = next
	}
	out = append(out, cur)
	return out
}

func askMerge(ctx context.Context, arbiter MergeArbiter, cur, next string, window int) (bool, error) {
	if arbiter == nil {
		return true, nil
	}
	tail := tailRunes(cur, window)
	head := headRunes(next, window)
	return arbiter.ShouldMerge(ctx, tail, head)
}

func headRunes(s string, n int) string {
	runes := []rune(s)
	if n >= len(runes) {
		return s
	}
	return string(runes[:n])
}

// Paragraphs splits text on blank lines, the unit SemanticMerge operates
// over.
func Paragraphs(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
