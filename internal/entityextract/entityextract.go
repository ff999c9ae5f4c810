// Package entityextract implements EntityExtractor: LLM-driven entity and
// relation extraction with a robust, never-fail JSON parse policy.
package entityextract

import (
	"context"
	"encoding/json"
	"strings"

	"golang.org/x/sync/errgroup"

	"ragengine/internal/ragerr"
)

// Entity is one extracted entity candidate, not yet assigned a graph ID.
type Entity struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Relation is one extracted relation candidate between two entity names.
type Relation struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Relation string `json:"relation"`
}

// Result is the normalized, deduplicated extraction output for one chunk.
type Result struct {
	Entities  []Entity
	Relations []Relation
}

// Completer is the narrow LLM dependency this package needs: a single-turn
// text completion.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Extractor extracts entities/relations from chunk text via an LLM prompt,
// with bounded concurrency across a batch.
type Extractor struct {
	llm             Completer
	minEntityLength int
	concurrency     int
}

// New constructs an Extractor. concurrency <= 0 means unlimited (bounded
// only by errgroup's default, i.e. effectively unlimited).
func New(llm Completer, minEntityLength, concurrency int) *Extractor {
	if minEntityLength <= 0 {
		minEntityLength = 2
	}
	return &Extractor{llm: llm, minEntityLength: minEntityLength, concurrency: concurrency}
}

// Extract runs extraction for a single chunk of text. Any failure to reach
// the LLM or to parse its response degrades to an empty Result rather than
// propagating an error, since entity extraction is an optional enrichment
// step that must never fail ingestion.
func (e *Extractor) Extract(ctx context.Context, text string) Result {
	resp, err := e.llm.Complete(ctx, buildPrompt(text))
	if err != nil {
		return Result{}
	}
	return e.normalize(parseJSON(resp))
}

// ExtractWithMinLength runs extraction with minLength overriding the
// extractor's configured minimum entity-name length, for callers such as
// query-time retrieval that want a lower floor than ingestion-time chunks
// use. minLength <= 0 falls back to the extractor's own configured value.
func (e *Extractor) ExtractWithMinLength(ctx context.Context, text string, minLength int) Result {
	if minLength <= 0 {
		minLength = e.minEntityLength
	}
	override := &Extractor{llm: e.llm, minEntityLength: minLength, concurrency: e.concurrency}
	return override.Extract(ctx, text)
}

// BatchExtract runs Extract over every chunk concurrently, bounded by
// e.concurrency, preserving input order in the returned slice.
func (e *Extractor) BatchExtract(ctx context.Context, texts []string) ([]Result, error) {
	out := make([]Result, len(texts))
	g, ctx := errgroup.WithContext(ctx)
	if e.concurrency > 0 {
		g.SetLimit(e.concurrency)
	}
	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			out[i] = e.Extract(ctx, text)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, ragerr.New(ragerr.KindInternal, "entityextract.BatchExtract", err)
	}
	return out, nil
}

func buildPrompt(text string) string {
	var sb strings.Builder
	sb.WriteString("Extract entities and relations from the text below.\n\n")
	sb.WriteString("Text:\n")
	sb.WriteString(text)
	sb.WriteString("\n\nRespond with only JSON of the shape ")
	sb.WriteString(`{"entities":[{"name":"","type":""}],"relations":[{"source":"","target":"","relation":""}]}`)
	sb.WriteString(". Entity types: Person, Organization, Location, Product, Concept, Event, Date.")
	return sb.String()
}

type rawExtraction struct {
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
}

// parseJSON tries, in order: the response as-is, the contents of a fenced
// ```json or ``` code block, and finally the widest {...} span found. Any
// failure at every stage yields an empty extraction, never an error.
func parseJSON(resp string) rawExtraction {
	if data, ok := tryUnmarshal(resp); ok {
		return data
	}
	if fenced, ok := extractFenced(resp); ok {
		if data, ok := tryUnmarshal(fenced); ok {
			return data
		}
	}
	if start := strings.Index(resp, "{"); start >= 0 {
		if end := strings.LastIndex(resp, "}"); end > start {
			if data, ok := tryUnmarshal(resp[start : end+1]); ok {
				return data
			}
		}
	}
	return rawExtraction{}
}

func tryUnmarshal(s string) (rawExtraction, bool) {
	var data rawExtraction
	if err := json.Unmarshal([]byte(s), &data); err != nil {
		return rawExtraction{}, false
	}
	return data, true
}

func extractFenced(resp string) (string, bool) {
	marker := "```json"
	start := strings.Index(resp, marker)
	if start < 0 {
		marker = "```"
		start = strings.Index(resp, marker)
	}
	if start < 0 {
		return "", false
	}
	start += len(marker)
	end := strings.Index(resp[start:], "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(resp[start : start+end]), true
}

func (e *Extractor) normalize(raw rawExtraction) Result {
	seen := make(map[string]struct{})
	var entities []Entity
	for _, ent := range raw.Entities {
		name := strings.TrimSpace(ent.Name)
		typ := strings.TrimSpace(ent.Type)
		if typ == "" {
			typ = "Unknown"
		}
		if len([]rune(name)) < e.minEntityLength {
			continue
		}
		key := strings.ToLower(name) + "|" + typ
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		entities = append(entities, Entity{Name: name, Type: typ})
	}

	var relations []Relation
	relSeen := make(map[string]struct{})
	for _, r := range raw.Relations {
		src := strings.TrimSpace(r.Source)
		dst := strings.TrimSpace(r.Target)
		rel := strings.TrimSpace(r.Relation)
		if src == "" || dst == "" || rel == "" {
			continue
		}
		key := strings.ToLower(src) + "|" + strings.ToLower(dst) + "|" + strings.ToLower(rel)
		if _, dup := relSeen[key]; dup {
			continue
		}
		relSeen[key] = struct{}{}
		relations = append(relations, Relation{Source: src, Target: dst, Relation: rel})
	}

	return Result{Entities: entities, Relations: relations}
}
