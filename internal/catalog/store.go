package catalog

import "context"

// Store is the KBCatalog contract: the relational custodian of every
// metadata entity the ingestion and chat paths persist.
type Store interface {
	Init(ctx context.Context) error

	CreateKB(ctx context.Context, name, embeddingModel, embeddingProvider string) (KnowledgeBase, error)
	GetKB(ctx context.Context, id int64) (KnowledgeBase, error)
	GetKBByName(ctx context.Context, name string) (KnowledgeBase, error)
	ListKBs(ctx context.Context) ([]KnowledgeBase, error)
	DeleteKB(ctx context.Context, id int64) error
	UpdateKBStats(ctx context.Context, id int64) error

	CreateFile(ctx context.Context, f File) (File, error)
	GetFile(ctx context.Context, id int64) (File, error)
	GetFileByHash(ctx context.Context, kbID int64, hash string) (File, bool, error)
	ListFiles(ctx context.Context, kbID int64) ([]File, error)
	SetFileStatus(ctx context.Context, id int64, status FileStatus, errMsg string) error
	DeleteFile(ctx context.Context, id int64) error

	InsertChunks(ctx context.Context, chunks []Chunk) error
	ListChunksByFile(ctx context.Context, fileID int64) ([]Chunk, error)
	DeleteChunksByFile(ctx context.Context, fileID int64) error

	CreateAssistant(ctx context.Context, a Assistant) (Assistant, error)
	GetAssistant(ctx context.Context, id int64) (Assistant, error)
	ListAssistants(ctx context.Context) ([]Assistant, error)
	UpdateAssistant(ctx context.Context, a Assistant) (Assistant, error)
	DeleteAssistant(ctx context.Context, id int64) error

	CreateConversation(ctx context.Context, assistantID int64, title string) (Conversation, error)
	GetConversation(ctx context.Context, id int64) (Conversation, error)
	ListConversations(ctx context.Context, assistantID int64) ([]Conversation, error)
	DeleteConversation(ctx context.Context, id int64) error

	ListMessages(ctx context.Context, conversationID int64, limit int) ([]Message, error)
	// AppendMessage inserts one message and increments the owning
	// conversation's message_count by exactly one, in a single transaction.
	AppendMessage(ctx context.Context, m Message) (Message, error)
}
