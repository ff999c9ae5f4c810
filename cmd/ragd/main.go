// Command ragd constructs the full RAG engine dependency graph explicitly
// and runs a smoke-test ingest-then-chat cycle against it. It is not an
// HTTP server: it exists to wire every component together and exercise the
// engine end to end, the way the teacher's embedctl/search tools exercised
// one subsystem at a time.
package main

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	qdrant "github.com/qdrant/go-client/qdrant"
	"golang.org/x/time/rate"

	"ragengine/internal/catalog"
	"ragengine/internal/chatengine"
	"ragengine/internal/config"
	"ragengine/internal/embedding"
	"ragengine/internal/entityextract"
	"ragengine/internal/filestore"
	"ragengine/internal/graphstore"
	"ragengine/internal/ingestion"
	"ragengine/internal/llmprovider"
	"ragengine/internal/obs"
	"ragengine/internal/objectstore"
	"ragengine/internal/progressbus"
	"ragengine/internal/retrieval"
	"ragengine/internal/vectorstore"
	"ragengine/internal/version"
)

func main() {
	ctx := context.Background()
	cfg := config.Load()
	log := obs.NewLogger(cfg.LogLevel)
	log.Info().Str("version", version.Version).Msg("ragd starting")

	cat, closeCat, err := buildCatalog(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build catalog")
	}
	defer closeCat()
	if err := cat.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("init catalog schema")
	}

	objStore, err := objectstore.NewDiskStore(cfg.UploadRoot)
	if err != nil {
		log.Fatal().Err(err).Msg("init disk store")
	}
	files := filestore.New(objStore)

	vectors, err := buildVectorManager(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build vector manager")
	}

	graph, err := buildGraphStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build graph store")
	}

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build embedder")
	}

	llm, err := buildLLM(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build llm provider")
	}

	extractor := entityextract.New(completerFromProvider{llm: llm, model: cfg.LLM.Model}, 3, 4)
	bus := progressbus.New(log)
	metrics := obs.NewOtelMetrics()

	pipeline := &ingestion.Pipeline{
		Files: files, Catalog: cat, Vectors: vectors, Embedder: embedder,
		Graph: graph, Extractor: extractor, Bus: bus, Log: log, Metrics: metrics,
	}
	retriever := &retrieval.Retriever{
		Catalog: cat, Vectors: vectors, Embedder: embedder, Graph: graph,
		Extractor: extractor, QueryMinEntityLength: 3, MaxHops: 2,
	}
	chat := &chatengine.Orchestrator{Catalog: cat, Retriever: retriever, LLM: llm, Log: log, Metrics: metrics}

	if err := runSmokeTest(ctx, cat, files, pipeline, chat); err != nil {
		log.Fatal().Err(err).Msg("smoke test failed")
	}
	log.Info().Msg("ragd smoke test complete")
}

// runSmokeTest creates a knowledge base, ingests one short document, binds
// an assistant to it, and runs one chat turn, exercising every component in
// the dependency graph constructed in main.
func runSmokeTest(ctx context.Context, cat catalog.Store, files *filestore.Store, pipeline *ingestion.Pipeline, chat *chatengine.Orchestrator) error {
	kb, err := cat.CreateKB(ctx, "smoke-test-kb", "deterministic-test", "deterministic")
	if err != nil {
		return fmt.Errorf("create kb: %w", err)
	}

	content := []byte("ragd is a retrieval-augmented generation engine. " +
		"It ingests documents, splits them into chunks, embeds the chunks, " +
		"and answers questions grounded in the ingested material.")
	hash, key, err := files.Upload(ctx, strconv.FormatInt(kb.ID, 10), "about.txt", content)
	if err != nil {
		return fmt.Errorf("upload file: %w", err)
	}
	f, err := cat.CreateFile(ctx, catalog.File{KBID: kb.ID, Name: "about.txt", Hash: hash, Type: ".txt", StoragePath: key})
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	if _, err := pipeline.Run(ctx, ingestion.Request{FileID: f.ID, KBID: kb.ID}); err != nil {
		return fmt.Errorf("run ingestion: %w", err)
	}

	assistant, err := cat.CreateAssistant(ctx, catalog.Assistant{
		Name: "smoke-test-assistant", SystemPrompt: "You are a helpful assistant.",
		KBIDs: []int64{kb.ID}, LLMModel: "smoke-test",
	})
	if err != nil {
		return fmt.Errorf("create assistant: %w", err)
	}
	conv, err := cat.CreateConversation(ctx, assistant.ID, "smoke test")
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}

	result, err := chat.Chat(ctx, chatengine.Request{ConversationID: conv.ID, Query: "What does ragd do?"})
	if err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	fmt.Println("answer:", result.Answer)
	return nil
}

func buildCatalog(ctx context.Context, cfg config.Config) (catalog.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		return catalog.NewMemory(), func() {}, nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	return catalog.NewPostgres(pool), pool.Close, nil
}

func buildVectorManager(cfg config.Config) (vectorstore.Manager, error) {
	if cfg.VectorBackend != "qdrant" {
		return vectorstore.NewMemoryManager(), nil
	}
	u, err := url.Parse(cfg.QdrantURL)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant url: %w", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		port = 6334
	}
	client, err := qdrant.NewClient(&qdrant.Config{Host: u.Hostname(), Port: port, UseTLS: u.Scheme == "https"})
	if err != nil {
		return nil, fmt.Errorf("connect qdrant: %w", err)
	}
	return vectorstore.NewQdrantManager(client), nil
}

func buildGraphStore(ctx context.Context, cfg config.Config) (graphstore.Store, error) {
	if cfg.GraphBackend != "neo4j" {
		return graphstore.NewMemory(), nil
	}
	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""))
	if err != nil {
		return nil, fmt.Errorf("connect neo4j: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	return graphstore.NewNeo4j(driver), nil
}

func buildEmbedder(cfg config.Config) (embedding.Provider, error) {
	switch cfg.Embedding.Backend {
	case "remote":
		return embedding.NewRemote(embedding.RemoteConfig{
			BaseURL: cfg.Embedding.RemoteURL, Model: cfg.Embedding.Model,
			APIKey: cfg.Embedding.RemoteAPIKey, Timeout: cfg.Embedding.Timeout,
			RateLimit: rate.Limit(cfg.Embedding.RateLimit), RateBurst: cfg.Embedding.RateBurst,
		}, cfg.Embedding.Dimension), nil
	default:
		// No in-tree accelerator runtime backs a "local" provider; the
		// deterministic, dependency-free embedder stands in for both the
		// default and explicit "local"/"deterministic" selections.
		return embedding.NewDeterministic(cfg.Embedding.Dimension, 0, true), nil
	}
}

func buildLLM(cfg config.Config) (llmprovider.Provider, error) {
	if cfg.LLM.Backend == "remote" && cfg.LLM.RemoteURL != "" {
		return llmprovider.NewRemote(llmprovider.RemoteConfig{
			BaseURL: cfg.LLM.RemoteURL, APIKey: cfg.LLM.RemoteAPIKey,
		}), nil
	}
	return nil, fmt.Errorf("no LLM backend configured: set RAG_LLM_REMOTE_URL, or supply a Local accelerator Backend in code")
}

// completerFromProvider adapts llmprovider.Provider's multi-message Chat to
// entityextract.Completer's single-prompt shape.
type completerFromProvider struct {
	llm   llmprovider.Provider
	model string
}

func (c completerFromProvider) Complete(ctx context.Context, prompt string) (string, error) {
	return c.llm.Chat(ctx, llmprovider.Request{
		Model:     c.model,
		Messages:  []llmprovider.Message{{Role: llmprovider.RoleUser, Content: prompt}},
		MaxTokens: 512,
	})
}
