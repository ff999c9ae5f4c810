// Package ingestion implements IngestionPipeline: the sequential
// parse -> chunk -> embed -> store -> persist-chunks -> update-counts ->
// optional-graph -> emit-complete phase machine.
package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ragengine/internal/catalog"
	"ragengine/internal/embedding"
	"ragengine/internal/entityextract"
	"ragengine/internal/filestore"
	"ragengine/internal/graphstore"
	"ragengine/internal/obs"
	"ragengine/internal/progressbus"
	"ragengine/internal/ragerr"
	"ragengine/internal/splitter"
	"ragengine/internal/vectorstore"
)

// Request identifies one ingestion job.
type Request struct {
	FileID            int64
	KBID              int64
	ClientID          string
	EmbeddingModel    string
	EmbeddingProvider string
	BuildGraph        bool
	// UseSemanticMerge selects the LLM-arbitrated semantic-merge splitter
	// strategy over the default recursive-separator strategy.
	UseSemanticMerge bool
}

// Result summarizes a completed job.
type Result struct {
	FileID     int64
	ChunkCount int
}

// Pipeline wires the per-phase collaborators together. Each field is the
// narrow interface this package actually calls, so callers can substitute
// fakes in tests and swap production backends interchangeably.
type Pipeline struct {
	Files     *filestore.Store
	Catalog   catalog.Store
	Vectors   vectorstore.Manager
	Embedder  embedding.Provider
	Graph     graphstore.Store
	Extractor *entityextract.Extractor
	Bus       *progressbus.Bus

	SplitConfig    splitter.Config
	SemanticConfig splitter.SemanticConfig
	Arbiter        splitter.MergeArbiter

	Log     zerolog.Logger
	Metrics obs.Metrics
}

// progress percentages per phase, monotonically increasing as §4.9 requires.
const (
	pctParse         = 10
	pctChunk         = 30
	pctEmbed         = 50
	pctStoreVectors  = 80
	pctPersistChunks = 85
	pctGraph         = 95
)

// Run executes every phase of the pipeline for one file, emitting progress
// events throughout and a terminal complete/error event.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	log := p.Log.With().Int64("kb_id", req.KBID).Int64("file_id", req.FileID).Logger()

	file, err := p.Catalog.GetFile(ctx, req.FileID)
	if err != nil {
		return Result{}, p.fail(ctx, req, err, "load file metadata")
	}

	// Phase 1: parse.
	if err := p.Catalog.SetFileStatus(ctx, req.FileID, catalog.FileStatusParsing, ""); err != nil {
		return Result{}, p.fail(ctx, req, err, "transition to parsing")
	}
	text, err := p.Files.ExtractText(ctx, file.StoragePath, file.Name)
	if err != nil {
		return Result{}, p.fail(ctx, req, err, "parse file")
	}
	if err := p.Catalog.SetFileStatus(ctx, req.FileID, catalog.FileStatusParsed, ""); err != nil {
		return Result{}, p.fail(ctx, req, err, "transition to parsed")
	}
	p.emitProgress(req, "parse", pctParse, "parsed file")

	// Phase 2: chunk.
	pieces := p.chunk(ctx, text, req.UseSemanticMerge)
	p.Metrics.ObserveHistogram("ingestion_chunk_count", float64(len(pieces)), map[string]string{"kb_id": fmt.Sprint(req.KBID)})
	p.emitProgress(req, "chunk", pctChunk, fmt.Sprintf("split into %d chunks", len(pieces)))

	// Phase 3: embed.
	if err := p.Catalog.SetFileStatus(ctx, req.FileID, catalog.FileStatusEmbedding, ""); err != nil {
		return Result{}, p.fail(ctx, req, err, "transition to embedding")
	}
	vectors, err := p.Embedder.EmbedBatch(ctx, pieces)
	if err != nil {
		return Result{}, p.fail(ctx, req, err, "embed chunks")
	}
	p.emitProgress(req, "embed", pctEmbed, "embedded chunks")

	// Phase 4: store vectors.
	coll, err := p.Vectors.Collection(ctx, collectionID(req.KBID), p.Embedder.Dimension())
	if err != nil {
		return Result{}, p.fail(ctx, req, err, "resolve vector collection")
	}
	records := make([]vectorstore.Record, len(pieces))
	vectorIDs := make([]string, len(pieces))
	for i, chunkText := range pieces {
		vid := fmt.Sprintf("file_%d_chunk_%d", req.FileID, i)
		vectorIDs[i] = vid
		records[i] = vectorstore.Record{
			ID:     vid,
			Vector: vectors[i],
			Metadata: map[string]string{
				"kb_id":       fmt.Sprint(req.KBID),
				"file_id":     fmt.Sprint(req.FileID),
				"chunk_index": fmt.Sprint(i),
				"text":        chunkText,
			},
		}
	}
	if err := coll.Upsert(ctx, records); err != nil {
		return Result{}, p.fail(ctx, req, err, "upsert vectors")
	}
	p.emitProgress(req, "store_vectors", pctStoreVectors, "stored vectors")

	// Phase 5: persist chunk rows. Compensating delete of the just-inserted
	// vector ids on failure, per the documented choice over a dangling-
	// vector sweep (see DESIGN.md Open Questions).
	chunkRows := make([]catalog.Chunk, len(pieces))
	for i, chunkText := range pieces {
		chunkRows[i] = catalog.Chunk{
			KBID: req.KBID, FileID: req.FileID, Ordinal: i,
			Content: chunkText, VectorStoreID: vectorIDs[i],
		}
	}
	if err := p.Catalog.InsertChunks(ctx, chunkRows); err != nil {
		if delErr := coll.Delete(ctx, vectorIDs); delErr != nil {
			log.Error().Err(delErr).Msg("compensating vector delete failed after chunk insert error")
		}
		return Result{}, p.fail(ctx, req, err, "persist chunk rows")
	}
	p.emitProgress(req, "persist_chunks", pctPersistChunks, "persisted chunk rows")

	// Phase 6: update counts.
	if err := p.Catalog.SetFileStatus(ctx, req.FileID, catalog.FileStatusCompleted, ""); err != nil {
		return Result{}, p.fail(ctx, req, err, "transition to completed")
	}
	if err := p.Catalog.UpdateKBStats(ctx, req.KBID); err != nil {
		return Result{}, p.fail(ctx, req, err, "refresh kb stats")
	}

	// Phase 7: optional graph build. Failure here degrades the file to
	// "completed without graph data" rather than failing the whole job,
	// since graph enrichment is an optional augmentation.
	if req.BuildGraph && p.Extractor != nil && p.Graph != nil {
		if err := p.buildGraph(ctx, req, pieces); err != nil {
			log.Error().Err(err).Msg("graph build failed, file remains completed without graph data")
		} else {
			p.emitProgress(req, "graph", pctGraph, "graph entities merged")
		}
	}

	dur := time.Since(start)
	p.Metrics.ObserveHistogram("ingestion_duration_ms", float64(dur.Milliseconds()), map[string]string{"kb_id": fmt.Sprint(req.KBID)})
	p.Bus.Publish(req.ClientID, progressbus.Event{
		Type: progressbus.EventComplete, KBID: fmt.Sprint(req.KBID),
		Message: "ingestion complete",
		Extra:   map[string]any{"file_id": req.FileID, "chunk_count": len(pieces)},
	})
	return Result{FileID: req.FileID, ChunkCount: len(pieces)}, nil
}

// chunk runs either the recursive-separator strategy or, when requested,
// paragraph segmentation followed by LLM-arbitrated semantic merge and a
// final recursive pass to enforce the hard size ceiling on any merged
// paragraph that still exceeds it.
func (p *Pipeline) chunk(ctx context.Context, text string, useSemanticMerge bool) []string {
	if !useSemanticMerge || p.Arbiter == nil {
		return splitter.Split(text, p.SplitConfig)
	}
	paragraphs := splitter.Paragraphs(text)
	merged := splitter.SemanticMerge(ctx, paragraphs, p.SemanticConfig, p.Arbiter)
	var out []string
	for _, m := range merged {
		out = append(out, splitter.Split(m, p.SplitConfig)...)
	}
	return out
}

func (p *Pipeline) buildGraph(ctx context.Context, req Request, pieces []string) error {
	results, err := p.Extractor.BatchExtract(ctx, pieces)
	if err != nil {
		return err
	}
	var entities []graphstore.Entity
	var relations []graphstore.Relation
	for _, r := range results {
		// Relation endpoints are entity names; resolve each to the typed
		// entity ID the matching entity was stored under.
		types := make(map[string]string, len(r.Entities))
		for _, e := range r.Entities {
			types[strings.ToLower(e.Name)] = e.Type
			entities = append(entities, graphstore.Entity{
				ID:   entityID(req.KBID, e.Name, e.Type),
				KBID: collectionID(req.KBID),
				Name: e.Name,
				Type: e.Type,
			})
		}
		for _, rel := range r.Relations {
			relations = append(relations, graphstore.Relation{
				KBID:     collectionID(req.KBID),
				SourceID: entityID(req.KBID, rel.Source, types[strings.ToLower(rel.Source)]),
				TargetID: entityID(req.KBID, rel.Target, types[strings.ToLower(rel.Target)]),
				Type:     rel.Relation,
			})
		}
	}
	if len(entities) > 0 {
		if err := p.Graph.UpsertEntities(ctx, entities); err != nil {
			return err
		}
	}
	if len(relations) > 0 {
		if err := p.Graph.UpsertRelations(ctx, relations); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) fail(ctx context.Context, req Request, cause error, step string) error {
	msg := fmt.Sprintf("%s: %v", step, cause)
	if err := p.Catalog.SetFileStatus(ctx, req.FileID, catalog.FileStatusError, msg); err != nil {
		p.Log.Error().Err(err).Msg("failed to record file error status")
	}
	p.Bus.Publish(req.ClientID, progressbus.Event{
		Type: progressbus.EventError, KBID: fmt.Sprint(req.KBID), Message: msg,
	})
	return ragerr.New(ragerr.KindInternal, "ingestion.Pipeline.Run", cause)
}

func (p *Pipeline) emitProgress(req Request, stage string, pct int, message string) {
	p.Bus.Publish(req.ClientID, progressbus.Event{
		Type: progressbus.EventProgress, KBID: fmt.Sprint(req.KBID), Stage: stage,
		Percent: pct, Message: message,
		Extra: map[string]any{"file_id": req.FileID},
	})
}

func collectionID(kbID int64) string { return fmt.Sprintf("kb_%d", kbID) }

func entityID(kbID int64, name, typ string) string {
	return fmt.Sprintf("kb_%d:%s:%s", kbID, typ, name)
}
