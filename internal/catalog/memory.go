package catalog

import (
	"context"
	"sort"
	"sync"

	"ragengine/internal/ragerr"
)

// Memory is an in-process Store, grounded on the same map-keyed-by-id shape
// used by this repository's other in-memory backends (vectorstore.Memory,
// graphstore.Memory). It keeps referential integrity by hand since there is
// no foreign-key engine to enforce it.
type Memory struct {
	mu sync.Mutex

	nextID int64

	kbs           map[int64]KnowledgeBase
	files         map[int64]File
	chunks        map[int64]Chunk
	assistants    map[int64]Assistant
	conversations map[int64]Conversation
	messages      map[int64]Message
}

// NewMemory constructs an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		kbs:           make(map[int64]KnowledgeBase),
		files:         make(map[int64]File),
		chunks:        make(map[int64]Chunk),
		assistants:    make(map[int64]Assistant),
		conversations: make(map[int64]Conversation),
		messages:      make(map[int64]Message),
	}
}

func (m *Memory) Init(context.Context) error { return nil }

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *Memory) CreateKB(_ context.Context, name, embeddingModel, embeddingProvider string) (KnowledgeBase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, kb := range m.kbs {
		if kb.Name == name {
			return KnowledgeBase{}, ragerr.New(ragerr.KindConflict, "catalog.CreateKB", nil)
		}
	}
	kb := KnowledgeBase{ID: m.id(), Name: name, EmbeddingModel: embeddingModel, EmbeddingProvider: embeddingProvider}
	m.kbs[kb.ID] = kb
	return kb, nil
}

func (m *Memory) GetKB(_ context.Context, id int64) (KnowledgeBase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kb, ok := m.kbs[id]
	if !ok {
		return KnowledgeBase{}, ragerr.New(ragerr.KindNotFound, "catalog.GetKB", nil)
	}
	return kb, nil
}

func (m *Memory) GetKBByName(_ context.Context, name string) (KnowledgeBase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, kb := range m.kbs {
		if kb.Name == name {
			return kb, nil
		}
	}
	return KnowledgeBase{}, ragerr.New(ragerr.KindNotFound, "catalog.GetKBByName", nil)
}

func (m *Memory) ListKBs(context.Context) ([]KnowledgeBase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]KnowledgeBase, 0, len(m.kbs))
	for _, kb := range m.kbs {
		out = append(out, kb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) DeleteKB(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.kbs[id]; !ok {
		return ragerr.New(ragerr.KindNotFound, "catalog.DeleteKB", nil)
	}
	delete(m.kbs, id)
	for fid, f := range m.files {
		if f.KBID == id {
			delete(m.files, fid)
		}
	}
	for cid, c := range m.chunks {
		if c.KBID == id {
			delete(m.chunks, cid)
		}
	}
	return nil
}

func (m *Memory) UpdateKBStats(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kb, ok := m.kbs[id]
	if !ok {
		return ragerr.New(ragerr.KindNotFound, "catalog.UpdateKBStats", nil)
	}
	var fileCount, chunkCount int
	for _, f := range m.files {
		if f.KBID == id && f.Status == FileStatusCompleted {
			fileCount++
			chunkCount += f.ChunkCount
		}
	}
	kb.FileCount, kb.ChunkCount = fileCount, chunkCount
	m.kbs[id] = kb
	return nil
}

func (m *Memory) CreateFile(_ context.Context, f File) (File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.files {
		if existing.KBID == f.KBID && existing.Hash == f.Hash {
			return existing, nil
		}
	}
	if f.Status == "" {
		f.Status = FileStatusUploaded
	}
	f.ID = m.id()
	m.files[f.ID] = f
	return f, nil
}

func (m *Memory) GetFile(_ context.Context, id int64) (File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return File{}, ragerr.New(ragerr.KindNotFound, "catalog.GetFile", nil)
	}
	return f, nil
}

func (m *Memory) GetFileByHash(_ context.Context, kbID int64, hash string) (File, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.files {
		if f.KBID == kbID && f.Hash == hash {
			return f, true, nil
		}
	}
	return File{}, false, nil
}

func (m *Memory) ListFiles(_ context.Context, kbID int64) ([]File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]File, 0)
	for _, f := range m.files {
		if f.KBID == kbID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SetFileStatus(_ context.Context, id int64, status FileStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return ragerr.New(ragerr.KindNotFound, "catalog.SetFileStatus", nil)
	}
	f.Status, f.ErrorMessage = status, errMsg
	m.files[id] = f
	return nil
}

func (m *Memory) DeleteFile(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[id]; !ok {
		return ragerr.New(ragerr.KindNotFound, "catalog.DeleteFile", nil)
	}
	delete(m.files, id)
	for cid, c := range m.chunks {
		if c.FileID == id {
			delete(m.chunks, cid)
		}
	}
	return nil
}

func (m *Memory) InsertChunks(_ context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	fileID := chunks[0].FileID
	for _, c := range chunks {
		c.ID = m.id()
		m.chunks[c.ID] = c
	}
	if f, ok := m.files[fileID]; ok {
		f.ChunkCount += len(chunks)
		m.files[fileID] = f
	}
	return nil
}

func (m *Memory) ListChunksByFile(_ context.Context, fileID int64) ([]Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Chunk, 0)
	for _, c := range m.chunks {
		if c.FileID == fileID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}

func (m *Memory) DeleteChunksByFile(_ context.Context, fileID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for cid, c := range m.chunks {
		if c.FileID == fileID {
			delete(m.chunks, cid)
		}
	}
	return nil
}

func (m *Memory) checkEmbeddingConsistency(kbIDs []int64) (model, provider string, err error) {
	seen := map[string]bool{}
	for _, id := range kbIDs {
		kb, ok := m.kbs[id]
		if !ok {
			continue
		}
		seen[kb.EmbeddingModel] = true
		model, provider = kb.EmbeddingModel, kb.EmbeddingProvider
	}
	if len(seen) > 1 {
		return "", "", ragerr.New(ragerr.KindValidation, "catalog.checkEmbeddingConsistency", nil)
	}
	return model, provider, nil
}

func (m *Memory) CreateAssistant(_ context.Context, a Assistant) (Assistant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	model, provider, err := m.checkEmbeddingConsistency(a.KBIDs)
	if err != nil {
		return Assistant{}, err
	}
	if model != "" {
		a.EmbeddingModel, a.EmbeddingProvider = model, provider
	}
	a.ID = m.id()
	m.assistants[a.ID] = a
	return a, nil
}

func (m *Memory) GetAssistant(_ context.Context, id int64) (Assistant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assistants[id]
	if !ok {
		return Assistant{}, ragerr.New(ragerr.KindNotFound, "catalog.GetAssistant", nil)
	}
	return a, nil
}

func (m *Memory) ListAssistants(context.Context) ([]Assistant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Assistant, 0, len(m.assistants))
	for _, a := range m.assistants {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateAssistant(_ context.Context, a Assistant) (Assistant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assistants[a.ID]; !ok {
		return Assistant{}, ragerr.New(ragerr.KindNotFound, "catalog.UpdateAssistant", nil)
	}
	model, provider, err := m.checkEmbeddingConsistency(a.KBIDs)
	if err != nil {
		return Assistant{}, err
	}
	if model != "" {
		a.EmbeddingModel, a.EmbeddingProvider = model, provider
	}
	m.assistants[a.ID] = a
	return a, nil
}

func (m *Memory) DeleteAssistant(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assistants[id]; !ok {
		return ragerr.New(ragerr.KindNotFound, "catalog.DeleteAssistant", nil)
	}
	delete(m.assistants, id)
	for cid, c := range m.conversations {
		if c.AssistantID == id {
			delete(m.conversations, cid)
			for mid, msg := range m.messages {
				if msg.ConversationID == cid {
					delete(m.messages, mid)
				}
			}
		}
	}
	return nil
}

func (m *Memory) CreateConversation(_ context.Context, assistantID int64, title string) (Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if title == "" {
		title = "New Conversation"
	}
	c := Conversation{ID: m.id(), AssistantID: assistantID, Title: title}
	m.conversations[c.ID] = c
	return c, nil
}

func (m *Memory) GetConversation(_ context.Context, id int64) (Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return Conversation{}, ragerr.New(ragerr.KindNotFound, "catalog.GetConversation", nil)
	}
	return c, nil
}

func (m *Memory) ListConversations(_ context.Context, assistantID int64) ([]Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Conversation, 0)
	for _, c := range m.conversations {
		if c.AssistantID == assistantID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) DeleteConversation(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[id]; !ok {
		return ragerr.New(ragerr.KindNotFound, "catalog.DeleteConversation", nil)
	}
	delete(m.conversations, id)
	for mid, msg := range m.messages {
		if msg.ConversationID == id {
			delete(m.messages, mid)
		}
	}
	return nil
}

func (m *Memory) ListMessages(_ context.Context, conversationID int64, limit int) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, 0)
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// AppendMessage inserts one message and increments the owning conversation's
// message_count by exactly one, matching the Postgres backend's semantics.
func (m *Memory) AppendMessage(_ context.Context, msg Message) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[msg.ConversationID]
	if !ok {
		return Message{}, ragerr.New(ragerr.KindNotFound, "catalog.AppendMessage", nil)
	}
	msg.ID = m.id()
	m.messages[msg.ID] = msg
	c.MessageCount++
	m.conversations[c.ID] = c
	return msg, nil
}

var _ Store = (*Memory)(nil)
