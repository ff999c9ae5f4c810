// Package config loads the settings cmd/ragd needs to construct the
// engine's components: storage backends, provider endpoints, and server
// options. Values come from the environment, optionally populated from a
// .env file, with defaults filling in anything left unset.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EmbeddingConfig selects and configures the EmbeddingProvider.
type EmbeddingConfig struct {
	// Backend is "local", "remote", or "deterministic" (tests/dev).
	Backend     string
	Model       string
	Dimension   int
	RemoteURL   string
	RemoteAPIKey string
	RateLimit   float64 // requests/sec; 0 disables pacing
	RateBurst   int
	Timeout     time.Duration
}

// LLMConfig selects and configures the LLMProvider.
type LLMConfig struct {
	// Backend is "local" or "remote".
	Backend      string
	Model        string
	RemoteURL    string
	RemoteAPIKey string
}

// Config holds every setting cmd/ragd reads to wire the engine together.
type Config struct {
	Host string
	Port int

	DatabaseURL string // Postgres DSN; empty selects the in-memory catalog

	UploadRoot string // DiskStore root for FileStore

	VectorBackend string // "memory" or "qdrant"
	QdrantURL     string

	GraphBackend  string // "memory" or "neo4j"
	Neo4jURL      string
	Neo4jUser     string
	Neo4jPassword string

	Embedding EmbeddingConfig
	LLM       LLMConfig

	LogLevel string
}

// Load reads configuration from the environment, first applying any values
// found in a .env file in the working directory.
func Load() Config {
	_ = godotenv.Overload()

	cfg := Config{
		Host:          firstNonEmpty(os.Getenv("RAG_HOST"), "0.0.0.0"),
		Port:          envInt("RAG_PORT", 8080),
		DatabaseURL:   os.Getenv("RAG_DATABASE_URL"),
		UploadRoot:    firstNonEmpty(os.Getenv("RAG_UPLOAD_ROOT"), "./data/uploads"),
		VectorBackend: firstNonEmpty(os.Getenv("RAG_VECTOR_BACKEND"), "memory"),
		QdrantURL:     os.Getenv("RAG_QDRANT_URL"),
		GraphBackend:  firstNonEmpty(os.Getenv("RAG_GRAPH_BACKEND"), "memory"),
		Neo4jURL:      os.Getenv("RAG_NEO4J_URL"),
		Neo4jUser:     os.Getenv("RAG_NEO4J_USER"),
		Neo4jPassword: os.Getenv("RAG_NEO4J_PASSWORD"),
		LogLevel:      firstNonEmpty(os.Getenv("RAG_LOG_LEVEL"), "info"),

		Embedding: EmbeddingConfig{
			Backend:      firstNonEmpty(os.Getenv("RAG_EMBEDDING_BACKEND"), "deterministic"),
			Model:        firstNonEmpty(os.Getenv("RAG_EMBEDDING_MODEL"), "local-embedder"),
			Dimension:    envInt("RAG_EMBEDDING_DIMENSION", 384),
			RemoteURL:    os.Getenv("RAG_EMBEDDING_REMOTE_URL"),
			RemoteAPIKey: os.Getenv("RAG_EMBEDDING_REMOTE_API_KEY"),
			RateLimit:    envFloat("RAG_EMBEDDING_RATE_LIMIT", 5),
			RateBurst:    envInt("RAG_EMBEDDING_RATE_BURST", 5),
			Timeout:      envDuration("RAG_EMBEDDING_TIMEOUT", 30*time.Second),
		},

		LLM: LLMConfig{
			Backend:      firstNonEmpty(os.Getenv("RAG_LLM_BACKEND"), "remote"),
			Model:        firstNonEmpty(os.Getenv("RAG_LLM_MODEL"), "local-model"),
			RemoteURL:    os.Getenv("RAG_LLM_REMOTE_URL"),
			RemoteAPIKey: os.Getenv("RAG_LLM_REMOTE_API_KEY"),
		},
	}

	return cfg
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
