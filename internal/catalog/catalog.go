// Package catalog implements KBCatalog: the relational custodian of
// knowledge bases, files, chunks, assistants, conversations and messages.
package catalog

import "time"

// FileStatus is the lifecycle state of an ingested File row.
type FileStatus string

const (
	FileStatusUploaded  FileStatus = "uploaded"
	FileStatusParsing   FileStatus = "parsing"
	FileStatusParsed    FileStatus = "parsed"
	FileStatusEmbedding FileStatus = "embedding"
	FileStatusCompleted FileStatus = "completed"
	FileStatusError     FileStatus = "error"
)

// KnowledgeBase is a logical index scope. EmbeddingModel/EmbeddingProvider
// are immutable once any chunk has been indexed under it.
type KnowledgeBase struct {
	ID                int64
	Name              string
	EmbeddingModel    string
	EmbeddingProvider string
	FileCount         int
	ChunkCount        int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// File is an ingested document, content-addressed by Hash within its KB.
type File struct {
	ID           int64
	KBID         int64
	Name         string
	Type         string
	SizeBytes    int64
	Hash         string
	StoragePath  string
	ChunkCount   int
	Status       FileStatus
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Chunk is a text fragment belonging to one File.
type Chunk struct {
	ID            int64
	KBID          int64
	FileID        int64
	Ordinal       int
	Content       string
	VectorStoreID string
}

// Assistant binds a persona: prompt, bound KBs, and model selection.
type Assistant struct {
	ID                int64
	Name              string
	SystemPrompt      string
	KBIDs             []int64
	LLMModel          string
	LLMProvider       string
	EmbeddingModel    string
	EmbeddingProvider string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Conversation is an ongoing chat bound to one Assistant.
type Conversation struct {
	ID           int64
	AssistantID  int64
	Title        string
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Role is the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn within a Conversation. Sources is optional retrieval
// provenance, stored as a JSON document.
type Message struct {
	ID             int64
	ConversationID int64
	Role           Role
	Content        string
	Sources        []byte
	CreatedAt      time.Time
}
