package chatengine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"ragengine/internal/catalog"
	"ragengine/internal/llmprovider"
	"ragengine/internal/retrieval"
	"ragengine/internal/testhelpers"
	"ragengine/internal/vectorstore"
)

type fakeEmbedder struct{ dim int }

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, f.dim)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}
func (f *fakeEmbedder) Dimension() int                { return f.dim }
func (f *fakeEmbedder) Name() string                  { return "fake" }
func (f *fakeEmbedder) Ping(ctx context.Context) error { return nil }

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

type kbMode int

const (
	kbNone      kbMode = iota // assistant has no bound KBs: pure-chat mode
	kbEmpty                   // assistant bound to a KB with no indexed chunks: triggers no-evidence
	kbWithChunk               // assistant bound to a KB with one matching chunk
)

// seedAssistant builds an Assistant/Conversation, optionally bound to a KB
// (empty or carrying one indexed chunk per mode), returning the Retriever
// and conversation id a test drives the Orchestrator against.
func seedAssistant(t *testing.T, cat catalog.Store, mode kbMode) (*retrieval.Retriever, int64) {
	t.Helper()
	ctx := context.Background()
	vectors := vectorstore.NewMemoryManager()
	embedder := &fakeEmbedder{dim: 4}

	var kbIDs []int64
	if mode != kbNone {
		kb, err := cat.CreateKB(ctx, "kb1", "fake", "local")
		require.NoError(t, err)
		coll, err := vectors.Collection(ctx, "kb_"+itoa(kb.ID), embedder.dim)
		require.NoError(t, err)

		if mode == kbWithChunk {
			f, err := cat.CreateFile(ctx, catalog.File{KBID: kb.ID, Name: "doc.txt", Hash: "h1"})
			require.NoError(t, err)
			v := make([]float32, embedder.dim)
			v[0] = 1
			require.NoError(t, coll.Upsert(ctx, []vectorstore.Record{{
				ID: "file_1_chunk_0", Vector: v,
				Metadata: map[string]string{
					"kb_id": itoa(kb.ID), "file_id": itoa(f.ID), "chunk_index": "0", "text": "hello world",
				},
			}}))
		}
		kbIDs = []int64{kb.ID}
	}

	assistant, err := cat.CreateAssistant(ctx, catalog.Assistant{
		Name: "a1", SystemPrompt: "You are Bob.", KBIDs: kbIDs, LLMModel: "test-model",
	})
	require.NoError(t, err)
	conv, err := cat.CreateConversation(ctx, assistant.ID, "conv1")
	require.NoError(t, err)

	r := &retrieval.Retriever{Catalog: cat, Vectors: vectors, Embedder: embedder}
	return r, conv.ID
}

func TestChatPersistsTurnsAndReturnsAnswer(t *testing.T) {
	ctx := context.Background()
	cat := catalog.NewMemory()
	r, convID := seedAssistant(t, cat, kbWithChunk)

	o := &Orchestrator{Catalog: cat, Retriever: r, LLM: &testhelpers.FakeProvider{Resp: "42"}, Log: zerolog.Nop()}
	result, err := o.Chat(ctx, Request{ConversationID: convID, Query: "hello"})
	require.NoError(t, err)
	require.Equal(t, "42", result.Answer)
	require.NotEmpty(t, result.Sources)
	require.Equal(t, "vector", result.RetrievalMethod)

	msgs, err := cat.ListMessages(ctx, convID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, catalog.RoleUser, msgs[0].Role)
	require.Equal(t, "hello", msgs[0].Content)
	require.Equal(t, catalog.RoleAssistant, msgs[1].Role)
	require.Equal(t, "42", msgs[1].Content)
	require.NotEmpty(t, msgs[1].Sources)

	conv, err := cat.GetConversation(ctx, convID)
	require.NoError(t, err)
	require.Equal(t, 2, conv.MessageCount)
}

func TestChatReturnsCannedAnswerWhenNoEvidence(t *testing.T) {
	ctx := context.Background()
	cat := catalog.NewMemory()
	r, convID := seedAssistant(t, cat, kbEmpty)

	o := &Orchestrator{Catalog: cat, Retriever: r, LLM: &testhelpers.FakeProvider{Resp: "should not be used"}, Log: zerolog.Nop()}
	result, err := o.Chat(ctx, Request{ConversationID: convID, Query: "xyz"})
	require.NoError(t, err)
	require.Equal(t, noEvidenceAnswer, result.Answer)
	require.Empty(t, result.Sources)
	require.Equal(t, "vector", result.RetrievalMethod)

	msgs, err := cat.ListMessages(ctx, convID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, noEvidenceAnswer, msgs[1].Content)
}

func TestChatSkipsRetrievalWhenNoKBsBound(t *testing.T) {
	ctx := context.Background()
	cat := catalog.NewMemory()
	r, convID := seedAssistant(t, cat, kbNone)

	o := &Orchestrator{Catalog: cat, Retriever: r, LLM: &testhelpers.FakeProvider{Resp: "chat only"}, Log: zerolog.Nop()}
	result, err := o.Chat(ctx, Request{ConversationID: convID, Query: "hi"})
	require.NoError(t, err)
	require.Equal(t, "chat only", result.Answer)
	require.Equal(t, "none", result.RetrievalMethod)
}

func TestChatStreamEmitsSourcesThenTextThenDone(t *testing.T) {
	ctx := context.Background()
	cat := catalog.NewMemory()
	r, convID := seedAssistant(t, cat, kbWithChunk)

	o := &Orchestrator{
		Catalog: cat, Retriever: r,
		LLM: &testhelpers.FakeProvider{StreamFragments: []string{"Hel", "lo"}}, Log: zerolog.Nop(),
	}
	stream, err := o.ChatStream(ctx, Request{ConversationID: convID, Query: "hello"})
	require.NoError(t, err)

	var events []StreamEvent
	for {
		ev, ok := stream()
		if !ok {
			break
		}
		events = append(events, ev)
	}
	require.True(t, len(events) >= 3)
	require.Equal(t, EventSources, events[0].Type)
	require.NotEmpty(t, events[0].Sources)
	require.Equal(t, EventText, events[1].Type)
	require.Equal(t, EventDone, events[len(events)-1].Type)

	var text string
	for _, ev := range events {
		if ev.Type == EventText {
			text += ev.Text
		}
	}
	require.Equal(t, "Hello", text)

	msgs, err := cat.ListMessages(ctx, convID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "Hello", msgs[1].Content)
}

func TestChatStreamSurfacesGenerationErrorWithoutPersisting(t *testing.T) {
	ctx := context.Background()
	cat := catalog.NewMemory()
	r, convID := seedAssistant(t, cat, kbWithChunk)

	o := &Orchestrator{
		Catalog: cat, Retriever: r,
		LLM: &testhelpers.FakeProvider{Err: assertErr{}}, Log: zerolog.Nop(),
	}
	stream, err := o.ChatStream(ctx, Request{ConversationID: convID, Query: "hello"})
	require.NoError(t, err)

	ev, ok := stream()
	require.True(t, ok)
	require.Equal(t, EventSources, ev.Type)

	ev, ok = stream()
	require.True(t, ok)
	require.Equal(t, EventError, ev.Type)

	_, ok = stream()
	require.False(t, ok)

	msgs, err := cat.ListMessages(ctx, convID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1) // only the user turn, no assistant turn persisted
}

type assertErr struct{}

func (assertErr) Error() string { return "generation exploded" }

func TestConcurrentChatsOnSameConversationSerialize(t *testing.T) {
	ctx := context.Background()
	cat := catalog.NewMemory()
	r, convID := seedAssistant(t, cat, kbWithChunk)

	o := &Orchestrator{
		Catalog: cat, Retriever: r,
		LLM: &slowProvider{FakeProvider: testhelpers.FakeProvider{Resp: "ok"}, delay: 2 * time.Millisecond},
		Log: zerolog.Nop(),
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 3; j++ {
				_, err := o.Chat(ctx, Request{ConversationID: convID, Query: "q"})
				require.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	msgs, err := cat.ListMessages(ctx, convID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 12) // 2 goroutines * 3 turns * (user+assistant)
	for i, m := range msgs {
		wantRole := catalog.RoleUser
		if i%2 == 1 {
			wantRole = catalog.RoleAssistant
		}
		require.Equalf(t, wantRole, m.Role, "message %d role should alternate starting with user", i)
	}
}

type slowProvider struct {
	testhelpers.FakeProvider
	delay time.Duration
}

func (s *slowProvider) Chat(ctx context.Context, req llmprovider.Request) (string, error) {
	time.Sleep(s.delay)
	return s.FakeProvider.Chat(ctx, req)
}
