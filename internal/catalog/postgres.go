package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ragengine/internal/ragerr"
)

// Postgres is a pgx-backed Store, grounded on the same schema-bootstrap-in-
// Init, CTE-get-or-create, and single-transaction-per-multi-row-operation
// idioms used throughout this repository's relational stores.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an already-constructed pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS knowledge_bases (
    id BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    embedding_model TEXT NOT NULL,
    embedding_provider TEXT NOT NULL,
    file_count INTEGER NOT NULL DEFAULT 0,
    chunk_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS files (
    id BIGSERIAL PRIMARY KEY,
    kb_id BIGINT NOT NULL REFERENCES knowledge_bases(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    type TEXT NOT NULL,
    size_bytes BIGINT NOT NULL,
    hash TEXT NOT NULL,
    storage_path TEXT NOT NULL,
    chunk_count INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'uploaded',
    error_message TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (kb_id, hash)
);

CREATE TABLE IF NOT EXISTS chunks (
    id BIGSERIAL PRIMARY KEY,
    kb_id BIGINT NOT NULL REFERENCES knowledge_bases(id) ON DELETE CASCADE,
    file_id BIGINT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
    ordinal INTEGER NOT NULL,
    content TEXT NOT NULL,
    vector_store_id TEXT NOT NULL,
    UNIQUE (file_id, ordinal)
);

CREATE TABLE IF NOT EXISTS assistants (
    id BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL,
    system_prompt TEXT NOT NULL DEFAULT '',
    kb_ids BIGINT[] NOT NULL DEFAULT '{}',
    llm_model TEXT NOT NULL DEFAULT '',
    llm_provider TEXT NOT NULL DEFAULT '',
    embedding_model TEXT NOT NULL DEFAULT '',
    embedding_provider TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS conversations (
    id BIGSERIAL PRIMARY KEY,
    assistant_id BIGINT NOT NULL REFERENCES assistants(id) ON DELETE CASCADE,
    title TEXT NOT NULL DEFAULT 'New Conversation',
    message_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS messages (
    id BIGSERIAL PRIMARY KEY,
    conversation_id BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    sources JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS files_kb_idx ON files(kb_id);
CREATE INDEX IF NOT EXISTS chunks_file_idx ON chunks(file_id);
CREATE INDEX IF NOT EXISTS conversations_assistant_idx ON conversations(assistant_id);
CREATE INDEX IF NOT EXISTS messages_conversation_created_idx ON messages(conversation_id, created_at, id);
`)
	if err != nil {
		return ragerr.New(ragerr.KindDependency, "catalog.Postgres.Init", err)
	}
	return nil
}

// -- KnowledgeBase ----------------------------------------------------------

func (s *Postgres) scanKB(row pgx.Row) (KnowledgeBase, error) {
	var kb KnowledgeBase
	if err := row.Scan(&kb.ID, &kb.Name, &kb.EmbeddingModel, &kb.EmbeddingProvider,
		&kb.FileCount, &kb.ChunkCount, &kb.CreatedAt, &kb.UpdatedAt); err != nil {
		return KnowledgeBase{}, err
	}
	return kb, nil
}

func (s *Postgres) CreateKB(ctx context.Context, name, embeddingModel, embeddingProvider string) (KnowledgeBase, error) {
	row := s.pool.QueryRow(ctx, `
INSERT INTO knowledge_bases (name, embedding_model, embedding_provider)
VALUES ($1, $2, $3)
RETURNING id, name, embedding_model, embedding_provider, file_count, chunk_count, created_at, updated_at`,
		name, embeddingModel, embeddingProvider)
	kb, err := s.scanKB(row)
	if err != nil {
		return KnowledgeBase{}, wrapErr("catalog.CreateKB", err)
	}
	return kb, nil
}

func (s *Postgres) GetKB(ctx context.Context, id int64) (KnowledgeBase, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, name, embedding_model, embedding_provider, file_count, chunk_count, created_at, updated_at
FROM knowledge_bases WHERE id = $1`, id)
	kb, err := s.scanKB(row)
	if err != nil {
		return KnowledgeBase{}, wrapErr("catalog.GetKB", err)
	}
	return kb, nil
}

func (s *Postgres) GetKBByName(ctx context.Context, name string) (KnowledgeBase, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, name, embedding_model, embedding_provider, file_count, chunk_count, created_at, updated_at
FROM knowledge_bases WHERE name = $1`, name)
	kb, err := s.scanKB(row)
	if err != nil {
		return KnowledgeBase{}, wrapErr("catalog.GetKBByName", err)
	}
	return kb, nil
}

func (s *Postgres) ListKBs(ctx context.Context) ([]KnowledgeBase, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, name, embedding_model, embedding_provider, file_count, chunk_count, created_at, updated_at
FROM knowledge_bases ORDER BY created_at DESC`)
	if err != nil {
		return nil, ragerr.New(ragerr.KindDependency, "catalog.ListKBs", err)
	}
	defer rows.Close()
	out := make([]KnowledgeBase, 0)
	for rows.Next() {
		kb, err := s.scanKB(rows)
		if err != nil {
			return nil, ragerr.New(ragerr.KindDependency, "catalog.ListKBs", err)
		}
		out = append(out, kb)
	}
	return out, rows.Err()
}

func (s *Postgres) DeleteKB(ctx context.Context, id int64) error {
	cmd, err := s.pool.Exec(ctx, `DELETE FROM knowledge_bases WHERE id = $1`, id)
	if err != nil {
		return ragerr.New(ragerr.KindDependency, "catalog.DeleteKB", err)
	}
	if cmd.RowsAffected() == 0 {
		return ragerr.New(ragerr.KindNotFound, "catalog.DeleteKB", nil)
	}
	return nil
}

// UpdateKBStats recomputes file_count and chunk_count from persisted rows;
// only completed files contribute to either count.
func (s *Postgres) UpdateKBStats(ctx context.Context, id int64) error {
	cmd, err := s.pool.Exec(ctx, `
UPDATE knowledge_bases SET
    file_count = (SELECT count(*) FROM files WHERE kb_id = $1 AND status = 'completed'),
    chunk_count = (SELECT coalesce(sum(chunk_count), 0) FROM files WHERE kb_id = $1 AND status = 'completed'),
    updated_at = NOW()
WHERE id = $1`, id)
	if err != nil {
		return ragerr.New(ragerr.KindDependency, "catalog.UpdateKBStats", err)
	}
	if cmd.RowsAffected() == 0 {
		return ragerr.New(ragerr.KindNotFound, "catalog.UpdateKBStats", nil)
	}
	return nil
}

// -- File --------------------------------------------------------------------

func (s *Postgres) scanFile(row pgx.Row) (File, error) {
	var f File
	if err := row.Scan(&f.ID, &f.KBID, &f.Name, &f.Type, &f.SizeBytes, &f.Hash, &f.StoragePath,
		&f.ChunkCount, &f.Status, &f.ErrorMessage, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return File{}, err
	}
	return f, nil
}

// CreateFile is idempotent on (kb_id, hash): a duplicate upload returns the
// existing row via the same get-or-insert CTE pattern used for chat
// sessions, rather than erroring on the unique constraint.
func (s *Postgres) CreateFile(ctx context.Context, f File) (File, error) {
	if f.Status == "" {
		f.Status = FileStatusUploaded
	}
	row := s.pool.QueryRow(ctx, `
WITH ins AS (
  INSERT INTO files (kb_id, name, type, size_bytes, hash, storage_path, status)
  VALUES ($1, $2, $3, $4, $5, $6, $7)
  ON CONFLICT (kb_id, hash) DO NOTHING
  RETURNING id, kb_id, name, type, size_bytes, hash, storage_path, chunk_count, status, error_message, created_at, updated_at
)
SELECT id, kb_id, name, type, size_bytes, hash, storage_path, chunk_count, status, error_message, created_at, updated_at FROM ins
UNION ALL
SELECT id, kb_id, name, type, size_bytes, hash, storage_path, chunk_count, status, error_message, created_at, updated_at
FROM files WHERE kb_id = $1 AND hash = $5
LIMIT 1`, f.KBID, f.Name, f.Type, f.SizeBytes, f.Hash, f.StoragePath, f.Status)
	out, err := s.scanFile(row)
	if err != nil {
		return File{}, wrapErr("catalog.CreateFile", err)
	}
	return out, nil
}

func (s *Postgres) GetFile(ctx context.Context, id int64) (File, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, kb_id, name, type, size_bytes, hash, storage_path, chunk_count, status, error_message, created_at, updated_at
FROM files WHERE id = $1`, id)
	f, err := s.scanFile(row)
	if err != nil {
		return File{}, wrapErr("catalog.GetFile", err)
	}
	return f, nil
}

func (s *Postgres) GetFileByHash(ctx context.Context, kbID int64, hash string) (File, bool, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, kb_id, name, type, size_bytes, hash, storage_path, chunk_count, status, error_message, created_at, updated_at
FROM files WHERE kb_id = $1 AND hash = $2`, kbID, hash)
	f, err := s.scanFile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return File{}, false, nil
		}
		return File{}, false, ragerr.New(ragerr.KindDependency, "catalog.GetFileByHash", err)
	}
	return f, true, nil
}

func (s *Postgres) ListFiles(ctx context.Context, kbID int64) ([]File, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, kb_id, name, type, size_bytes, hash, storage_path, chunk_count, status, error_message, created_at, updated_at
FROM files WHERE kb_id = $1 ORDER BY created_at DESC`, kbID)
	if err != nil {
		return nil, ragerr.New(ragerr.KindDependency, "catalog.ListFiles", err)
	}
	defer rows.Close()
	out := make([]File, 0)
	for rows.Next() {
		f, err := s.scanFile(rows)
		if err != nil {
			return nil, ragerr.New(ragerr.KindDependency, "catalog.ListFiles", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Postgres) SetFileStatus(ctx context.Context, id int64, status FileStatus, errMsg string) error {
	cmd, err := s.pool.Exec(ctx, `
UPDATE files SET status = $2, error_message = $3, updated_at = NOW() WHERE id = $1`,
		id, status, errMsg)
	if err != nil {
		return ragerr.New(ragerr.KindDependency, "catalog.SetFileStatus", err)
	}
	if cmd.RowsAffected() == 0 {
		return ragerr.New(ragerr.KindNotFound, "catalog.SetFileStatus", nil)
	}
	return nil
}

func (s *Postgres) DeleteFile(ctx context.Context, id int64) error {
	cmd, err := s.pool.Exec(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return ragerr.New(ragerr.KindDependency, "catalog.DeleteFile", err)
	}
	if cmd.RowsAffected() == 0 {
		return ragerr.New(ragerr.KindNotFound, "catalog.DeleteFile", nil)
	}
	return nil
}

// -- Chunk --------------------------------------------------------------------

// InsertChunks bulk-inserts chunk rows and bumps the owning file's
// chunk_count, in one transaction, grounded on the chat store's
// message-insert-plus-session-touch pattern.
func (s *Postgres) InsertChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	fileID := chunks[0].FileID
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ragerr.New(ragerr.KindDependency, "catalog.InsertChunks", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, c := range chunks {
		if _, err := tx.Exec(ctx, `
INSERT INTO chunks (kb_id, file_id, ordinal, content, vector_store_id)
VALUES ($1, $2, $3, $4, $5)`, c.KBID, c.FileID, c.Ordinal, c.Content, c.VectorStoreID); err != nil {
			return ragerr.New(ragerr.KindDependency, "catalog.InsertChunks", err)
		}
	}
	if _, err := tx.Exec(ctx, `
UPDATE files SET chunk_count = chunk_count + $2, updated_at = NOW() WHERE id = $1`,
		fileID, len(chunks)); err != nil {
		return ragerr.New(ragerr.KindDependency, "catalog.InsertChunks", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return ragerr.New(ragerr.KindDependency, "catalog.InsertChunks", err)
	}
	return nil
}

func (s *Postgres) ListChunksByFile(ctx context.Context, fileID int64) ([]Chunk, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, kb_id, file_id, ordinal, content, vector_store_id
FROM chunks WHERE file_id = $1 ORDER BY ordinal ASC`, fileID)
	if err != nil {
		return nil, ragerr.New(ragerr.KindDependency, "catalog.ListChunksByFile", err)
	}
	defer rows.Close()
	out := make([]Chunk, 0)
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.KBID, &c.FileID, &c.Ordinal, &c.Content, &c.VectorStoreID); err != nil {
			return nil, ragerr.New(ragerr.KindDependency, "catalog.ListChunksByFile", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteChunksByFile removes every chunk row owned by fileID; callers are
// responsible for purging the matching vector records first or after, per
// the pipeline's compensating-delete ordering.
func (s *Postgres) DeleteChunksByFile(ctx context.Context, fileID int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE file_id = $1`, fileID)
	if err != nil {
		return ragerr.New(ragerr.KindDependency, "catalog.DeleteChunksByFile", err)
	}
	return nil
}

// -- Assistant ----------------------------------------------------------------

func (s *Postgres) scanAssistant(row pgx.Row) (Assistant, error) {
	var a Assistant
	if err := row.Scan(&a.ID, &a.Name, &a.SystemPrompt, &a.KBIDs, &a.LLMModel, &a.LLMProvider,
		&a.EmbeddingModel, &a.EmbeddingProvider, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return Assistant{}, err
	}
	return a, nil
}

// checkKBEmbeddingConsistency ensures every bound KB shares one embedding
// model identifier, per the spec's binding invariant; it also derives the
// embedding model/provider to stamp onto the Assistant when bound KBs exist.
func (s *Postgres) checkKBEmbeddingConsistency(ctx context.Context, kbIDs []int64) (model, provider string, err error) {
	if len(kbIDs) == 0 {
		return "", "", nil
	}
	rows, err := s.pool.Query(ctx, `
SELECT DISTINCT embedding_model, embedding_provider FROM knowledge_bases WHERE id = ANY($1)`, kbIDs)
	if err != nil {
		return "", "", ragerr.New(ragerr.KindDependency, "catalog.checkKBEmbeddingConsistency", err)
	}
	defer rows.Close()
	count := 0
	for rows.Next() {
		if err := rows.Scan(&model, &provider); err != nil {
			return "", "", ragerr.New(ragerr.KindDependency, "catalog.checkKBEmbeddingConsistency", err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return "", "", ragerr.New(ragerr.KindDependency, "catalog.checkKBEmbeddingConsistency", err)
	}
	if count > 1 {
		return "", "", ragerr.New(ragerr.KindValidation, "catalog.checkKBEmbeddingConsistency",
			errors.New("bound knowledge bases do not share an embedding model"))
	}
	return model, provider, nil
}

func (s *Postgres) CreateAssistant(ctx context.Context, a Assistant) (Assistant, error) {
	model, provider, err := s.checkKBEmbeddingConsistency(ctx, a.KBIDs)
	if err != nil {
		return Assistant{}, err
	}
	if model != "" {
		a.EmbeddingModel, a.EmbeddingProvider = model, provider
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO assistants (name, system_prompt, kb_ids, llm_model, llm_provider, embedding_model, embedding_provider)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, name, system_prompt, kb_ids, llm_model, llm_provider, embedding_model, embedding_provider, created_at, updated_at`,
		a.Name, a.SystemPrompt, a.KBIDs, a.LLMModel, a.LLMProvider, a.EmbeddingModel, a.EmbeddingProvider)
	out, err := s.scanAssistant(row)
	if err != nil {
		return Assistant{}, wrapErr("catalog.CreateAssistant", err)
	}
	return out, nil
}

func (s *Postgres) GetAssistant(ctx context.Context, id int64) (Assistant, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, name, system_prompt, kb_ids, llm_model, llm_provider, embedding_model, embedding_provider, created_at, updated_at
FROM assistants WHERE id = $1`, id)
	a, err := s.scanAssistant(row)
	if err != nil {
		return Assistant{}, wrapErr("catalog.GetAssistant", err)
	}
	return a, nil
}

func (s *Postgres) ListAssistants(ctx context.Context) ([]Assistant, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, name, system_prompt, kb_ids, llm_model, llm_provider, embedding_model, embedding_provider, created_at, updated_at
FROM assistants ORDER BY created_at DESC`)
	if err != nil {
		return nil, ragerr.New(ragerr.KindDependency, "catalog.ListAssistants", err)
	}
	defer rows.Close()
	out := make([]Assistant, 0)
	for rows.Next() {
		a, err := s.scanAssistant(rows)
		if err != nil {
			return nil, ragerr.New(ragerr.KindDependency, "catalog.ListAssistants", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Postgres) UpdateAssistant(ctx context.Context, a Assistant) (Assistant, error) {
	model, provider, err := s.checkKBEmbeddingConsistency(ctx, a.KBIDs)
	if err != nil {
		return Assistant{}, err
	}
	if model != "" {
		a.EmbeddingModel, a.EmbeddingProvider = model, provider
	}
	row := s.pool.QueryRow(ctx, `
UPDATE assistants SET
    name = $2, system_prompt = $3, kb_ids = $4, llm_model = $5, llm_provider = $6,
    embedding_model = $7, embedding_provider = $8, updated_at = NOW()
WHERE id = $1
RETURNING id, name, system_prompt, kb_ids, llm_model, llm_provider, embedding_model, embedding_provider, created_at, updated_at`,
		a.ID, a.Name, a.SystemPrompt, a.KBIDs, a.LLMModel, a.LLMProvider, a.EmbeddingModel, a.EmbeddingProvider)
	out, err := s.scanAssistant(row)
	if err != nil {
		return Assistant{}, wrapErr("catalog.UpdateAssistant", err)
	}
	return out, nil
}

func (s *Postgres) DeleteAssistant(ctx context.Context, id int64) error {
	cmd, err := s.pool.Exec(ctx, `DELETE FROM assistants WHERE id = $1`, id)
	if err != nil {
		return ragerr.New(ragerr.KindDependency, "catalog.DeleteAssistant", err)
	}
	if cmd.RowsAffected() == 0 {
		return ragerr.New(ragerr.KindNotFound, "catalog.DeleteAssistant", nil)
	}
	return nil
}

// -- Conversation / Message ----------------------------------------------------

func (s *Postgres) scanConversation(row pgx.Row) (Conversation, error) {
	var c Conversation
	if err := row.Scan(&c.ID, &c.AssistantID, &c.Title, &c.MessageCount, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return Conversation{}, err
	}
	return c, nil
}

func (s *Postgres) CreateConversation(ctx context.Context, assistantID int64, title string) (Conversation, error) {
	if strings.TrimSpace(title) == "" {
		title = "New Conversation"
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO conversations (assistant_id, title)
VALUES ($1, $2)
RETURNING id, assistant_id, title, message_count, created_at, updated_at`, assistantID, title)
	c, err := s.scanConversation(row)
	if err != nil {
		return Conversation{}, wrapErr("catalog.CreateConversation", err)
	}
	return c, nil
}

func (s *Postgres) GetConversation(ctx context.Context, id int64) (Conversation, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, assistant_id, title, message_count, created_at, updated_at FROM conversations WHERE id = $1`, id)
	c, err := s.scanConversation(row)
	if err != nil {
		return Conversation{}, wrapErr("catalog.GetConversation", err)
	}
	return c, nil
}

func (s *Postgres) ListConversations(ctx context.Context, assistantID int64) ([]Conversation, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, assistant_id, title, message_count, created_at, updated_at
FROM conversations WHERE assistant_id = $1 ORDER BY updated_at DESC`, assistantID)
	if err != nil {
		return nil, ragerr.New(ragerr.KindDependency, "catalog.ListConversations", err)
	}
	defer rows.Close()
	out := make([]Conversation, 0)
	for rows.Next() {
		c, err := s.scanConversation(rows)
		if err != nil {
			return nil, ragerr.New(ragerr.KindDependency, "catalog.ListConversations", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Postgres) DeleteConversation(ctx context.Context, id int64) error {
	cmd, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return ragerr.New(ragerr.KindDependency, "catalog.DeleteConversation", err)
	}
	if cmd.RowsAffected() == 0 {
		return ragerr.New(ragerr.KindNotFound, "catalog.DeleteConversation", nil)
	}
	return nil
}

func (s *Postgres) ListMessages(ctx context.Context, conversationID int64, limit int) ([]Message, error) {
	query := `
SELECT id, conversation_id, role, content, sources, created_at
FROM messages WHERE conversation_id = $1 ORDER BY created_at ASC, id ASC`
	args := []any{conversationID}
	if limit > 0 {
		query = `
SELECT id, conversation_id, role, content, sources, created_at FROM (
    SELECT id, conversation_id, role, content, sources, created_at
    FROM messages WHERE conversation_id = $1
    ORDER BY created_at DESC, id DESC
    LIMIT $2
) sub ORDER BY created_at ASC, id ASC`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, ragerr.New(ragerr.KindDependency, "catalog.ListMessages", err)
	}
	defer rows.Close()
	out := make([]Message, 0)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Sources, &m.CreatedAt); err != nil {
			return nil, ragerr.New(ragerr.KindDependency, "catalog.ListMessages", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AppendMessage inserts exactly one message row and increments the owning
// conversation's message_count by exactly one (never two), in a single
// transaction — the unified scheme this package replaces the historical
// double-increment bug with.
func (s *Postgres) AppendMessage(ctx context.Context, m Message) (Message, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Message{}, ragerr.New(ragerr.KindDependency, "catalog.AppendMessage", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var sources any
	if len(m.Sources) > 0 {
		sources = json.RawMessage(m.Sources)
	}
	row := tx.QueryRow(ctx, `
INSERT INTO messages (conversation_id, role, content, sources)
VALUES ($1, $2, $3, $4)
RETURNING id, conversation_id, role, content, sources, created_at`,
		m.ConversationID, m.Role, m.Content, sources)
	var out Message
	if err := row.Scan(&out.ID, &out.ConversationID, &out.Role, &out.Content, &out.Sources, &out.CreatedAt); err != nil {
		return Message{}, wrapErr("catalog.AppendMessage", err)
	}

	cmd, err := tx.Exec(ctx, `
UPDATE conversations SET message_count = message_count + 1, updated_at = NOW() WHERE id = $1`,
		m.ConversationID)
	if err != nil {
		return Message{}, ragerr.New(ragerr.KindDependency, "catalog.AppendMessage", err)
	}
	if cmd.RowsAffected() == 0 {
		return Message{}, ragerr.New(ragerr.KindNotFound, "catalog.AppendMessage", nil)
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, ragerr.New(ragerr.KindDependency, "catalog.AppendMessage", err)
	}
	return out, nil
}

func wrapErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ragerr.New(ragerr.KindNotFound, op, nil)
	}
	return ragerr.New(ragerr.KindDependency, op, err)
}

var _ Store = (*Postgres)(nil)
