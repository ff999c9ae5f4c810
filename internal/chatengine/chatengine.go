// Package chatengine implements ChatOrchestrator: the query-time
// composition engine that loads conversation history, persists turns,
// retrieves grounding context, composes the prompt, releases embedding
// memory, and drives generation (batch or streaming) against an
// LLMProvider.
package chatengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"ragengine/internal/catalog"
	"ragengine/internal/embedding"
	"ragengine/internal/llmprovider"
	"ragengine/internal/obs"
	"ragengine/internal/ragerr"
	"ragengine/internal/retrieval"
	"ragengine/internal/util"
)

const (
	maxSources            = 5
	sourceSnippetLen      = 200
	defaultSystemPrompt   = "You are a helpful assistant."
	historyReminderClause = "\n\nYou must remember our prior conversation and stay consistent with anything it already established."
	noEvidenceAnswer      = "I couldn't find relevant information in the knowledge base to answer that. Try rephrasing your question or checking the knowledge base contents."
	defaultMaxHistoryTurn = 5
	defaultK              = 5
	defaultMaxHops        = 2
	defaultScoreThreshold = 0.2
	defaultMaxTokens      = 1024
)

const historyPriorityTemplate = `Our prior conversation may contain facts or rules that take priority over the reference material below. If they conflict, follow the conversation history first.

Reference material:
%s

Question: %s

Answer:`

const groundedQATemplate = `Answer the question using only the following context. If the context doesn't contain relevant information, say you don't know.

Context:
%s

Question: %s

Answer:`

// Source is the provenance of one retrieved passage, as surfaced to the
// caller and persisted alongside the assistant turn.
type Source struct {
	ChunkID  string  `json:"chunk_id"`
	FileID   int64   `json:"file_id"`
	FileName string  `json:"file_name"`
	Content  string  `json:"content"`
	Score    float64 `json:"score"`
	Origin   string  `json:"source"`
}

// Request is one chat turn.
type Request struct {
	ConversationID  int64
	Query           string
	Hybrid          bool
	Temperature     float64
	MaxHistoryTurns int
	K               int
}

// Result is the outcome of a non-streaming turn.
type Result struct {
	Answer          string
	Sources         []Source
	RetrievalMethod string
}

// EventType distinguishes the events a streaming turn emits.
type EventType string

const (
	EventSources EventType = "sources"
	EventText    EventType = "text"
	EventDone    EventType = "done"
	EventError   EventType = "error"
)

// StreamEvent is one event of a streaming turn.
type StreamEvent struct {
	Type    EventType
	Sources []Source
	Text    string
	Err     error
}

// EventStream is a pull-style iterator mirroring llmprovider.StreamFunc:
// each call returns the next event; ok is false once a terminal done or
// error event has already been delivered.
type EventStream func() (StreamEvent, bool)

// Orchestrator is the ChatOrchestrator. Catalog, Retriever, and LLM are the
// narrow collaborators it drives; Retriever is a concrete type (rather than
// an interface) because its Embedder field is inspected directly to decide
// whether to release local embedding memory before generation.
type Orchestrator struct {
	Catalog   catalog.Store
	Retriever *retrieval.Retriever
	LLM       llmprovider.Provider
	Log       zerolog.Logger
	Metrics   obs.Metrics

	locks sync.Map // conversationID -> *sync.Mutex
}

func (o *Orchestrator) lockFor(conversationID int64) *sync.Mutex {
	v, _ := o.locks.LoadOrStore(conversationID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// turn carries everything prepare computes, shared by both Chat and
// ChatStream before they diverge at the generation step.
type turn struct {
	assistant       catalog.Assistant
	history         []catalog.Message
	hits            []retrieval.Hit
	retrievalMethod string
	systemPrompt    string
	userMessage     string
}

func (t turn) noEvidence() bool {
	return t.retrievalMethod != "none" && len(t.hits) == 0
}

// prepare runs steps 1-5 of the algorithm: load history, persist the user
// turn, retrieve, compose the prompt, and release embedding memory ahead
// of generation.
func (o *Orchestrator) prepare(ctx context.Context, req Request) (turn, error) {
	conv, err := o.Catalog.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return turn{}, ragerr.New(ragerr.KindNotFound, "chatengine.prepare: load conversation", err)
	}
	assistant, err := o.Catalog.GetAssistant(ctx, conv.AssistantID)
	if err != nil {
		return turn{}, ragerr.New(ragerr.KindNotFound, "chatengine.prepare: load assistant", err)
	}

	maxHistoryTurns := req.MaxHistoryTurns
	if maxHistoryTurns <= 0 {
		maxHistoryTurns = defaultMaxHistoryTurn
	}
	history, err := o.Catalog.ListMessages(ctx, req.ConversationID, 2*maxHistoryTurns)
	if err != nil {
		return turn{}, ragerr.New(ragerr.KindDependency, "chatengine.prepare: load history", err)
	}

	if _, err := o.Catalog.AppendMessage(ctx, catalog.Message{
		ConversationID: req.ConversationID, Role: catalog.RoleUser, Content: req.Query,
	}); err != nil {
		return turn{}, ragerr.New(ragerr.KindDependency, "chatengine.prepare: persist user turn", err)
	}

	var hits []retrieval.Hit
	retrievalMethod := "none"
	if len(assistant.KBIDs) > 0 && o.Retriever != nil {
		k := req.K
		if k <= 0 {
			k = defaultK
		}
		if req.Hybrid {
			retrievalMethod = "hybrid"
			hits, err = o.hybridAcrossKBs(ctx, assistant.KBIDs, req.Query, k)
		} else {
			retrievalMethod = "vector"
			hits, err = o.Retriever.MultiSearch(ctx, assistant.KBIDs, req.Query, k, defaultScoreThreshold)
		}
		if err != nil {
			return turn{}, err
		}
	}

	systemPrompt, userMessage := composePrompt(assistant.SystemPrompt, req.Query, hits, history)

	// Release embedding memory before generation, freeing accelerator
	// memory for the LLM, if retrieval just exercised a local provider.
	if retrievalMethod != "none" && o.Retriever != nil && o.Retriever.Embedder != nil {
		if u, ok := o.Retriever.Embedder.(embedding.Unloader); ok {
			u.Unload()
		}
	}

	return turn{
		assistant: assistant, history: history, hits: hits,
		retrievalMethod: retrievalMethod, systemPrompt: systemPrompt, userMessage: userMessage,
	}, nil
}

// Chat runs one non-streaming turn: prepare, generate, persist, return.
func (o *Orchestrator) Chat(ctx context.Context, req Request) (Result, error) {
	lock := o.lockFor(req.ConversationID)
	lock.Lock()
	defer lock.Unlock()

	t, err := o.prepare(ctx, req)
	if err != nil {
		return Result{}, err
	}

	if t.noEvidence() {
		if _, err := o.Catalog.AppendMessage(ctx, catalog.Message{
			ConversationID: req.ConversationID, Role: catalog.RoleAssistant,
			Content: noEvidenceAnswer, Sources: marshalSources(nil),
		}); err != nil {
			return Result{}, ragerr.New(ragerr.KindDependency, "chatengine.Chat: persist canned answer", err)
		}
		return Result{Answer: noEvidenceAnswer, RetrievalMethod: t.retrievalMethod}, nil
	}

	messages := buildMessages(t.systemPrompt, t.history, t.userMessage)
	o.Log.Debug().Int("prompt_tokens_est", estimateTokens(messages)).Msg("generating")
	text, err := o.LLM.Chat(ctx, llmprovider.Request{
		Model: t.assistant.LLMModel, Messages: messages,
		Temperature: req.Temperature, MaxTokens: defaultMaxTokens,
	})
	if err != nil {
		return Result{}, ragerr.New(ragerr.KindDependency, "chatengine.Chat: generation failed", err)
	}

	sources := toSources(t.hits, maxSources)
	if _, err := o.Catalog.AppendMessage(ctx, catalog.Message{
		ConversationID: req.ConversationID, Role: catalog.RoleAssistant,
		Content: text, Sources: marshalSources(sources),
	}); err != nil {
		return Result{}, ragerr.New(ragerr.KindDependency, "chatengine.Chat: persist assistant turn", err)
	}

	return Result{Answer: text, Sources: sources, RetrievalMethod: t.retrievalMethod}, nil
}

// ChatStream runs one streaming turn. The returned EventStream holds the
// per-conversation lock until a terminal done or error event is delivered,
// at which point it is released. A canceled context is noticed on the next
// pull, which then delivers a terminal error event.
func (o *Orchestrator) ChatStream(ctx context.Context, req Request) (EventStream, error) {
	lock := o.lockFor(req.ConversationID)
	lock.Lock()

	t, err := o.prepare(ctx, req)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	if t.noEvidence() {
		phase := 0
		return func() (StreamEvent, bool) {
			switch phase {
			case 0:
				phase = 1
				return StreamEvent{Type: EventSources}, true
			case 1:
				phase = 2
				return StreamEvent{Type: EventText, Text: noEvidenceAnswer}, true
			case 2:
				phase = 3
				if _, err := o.Catalog.AppendMessage(ctx, catalog.Message{
					ConversationID: req.ConversationID, Role: catalog.RoleAssistant,
					Content: noEvidenceAnswer, Sources: marshalSources(nil),
				}); err != nil {
					o.Log.Error().Err(err).Msg("failed to persist canned no-evidence answer")
				}
				lock.Unlock()
				return StreamEvent{Type: EventDone}, true
			default:
				return StreamEvent{}, false
			}
		}, nil
	}

	messages := buildMessages(t.systemPrompt, t.history, t.userMessage)
	o.Log.Debug().Int("prompt_tokens_est", estimateTokens(messages)).Msg("generating (stream)")
	// A failure to even open the provider's stream is, like a mid-stream
	// failure, part of the generate step: it surfaces as an error event
	// rather than a returned Go error, keeping the streaming contract
	// uniform for callers.
	next, streamErr := o.LLM.ChatStream(ctx, llmprovider.Request{
		Model: t.assistant.LLMModel, Messages: messages,
		Temperature: req.Temperature, MaxTokens: defaultMaxTokens,
	})

	sources := toSources(t.hits, maxSources)
	var (
		sourcesSent bool
		accumulated strings.Builder
		terminated  bool
	)
	return func() (StreamEvent, bool) {
		if terminated {
			return StreamEvent{}, false
		}
		if !sourcesSent {
			sourcesSent = true
			return StreamEvent{Type: EventSources, Sources: sources}, true
		}
		if streamErr != nil {
			terminated = true
			lock.Unlock()
			return StreamEvent{Type: EventError, Err: streamErr}, true
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			// Upstream canceled its sink; abandon subsequent fragments and
			// do not persist the partial answer.
			terminated = true
			lock.Unlock()
			return StreamEvent{Type: EventError, Err: ctxErr}, true
		}
		frag, ok, err := next()
		if err != nil {
			terminated = true
			lock.Unlock()
			return StreamEvent{Type: EventError, Err: err}, true
		}
		if !ok {
			terminated = true
			text := accumulated.String()
			if _, err := o.Catalog.AppendMessage(ctx, catalog.Message{
				ConversationID: req.ConversationID, Role: catalog.RoleAssistant,
				Content: text, Sources: marshalSources(sources),
			}); err != nil {
				o.Log.Error().Err(err).Msg("failed to persist streamed assistant turn")
			}
			lock.Unlock()
			return StreamEvent{Type: EventDone}, true
		}
		accumulated.WriteString(frag)
		return StreamEvent{Type: EventText, Text: frag}, true
	}, nil
}

// hybridAcrossKBs runs HybridSearch per KB concurrently and merges the
// globally sorted top-k, generalizing Retriever.HybridSearch (single-KB)
// to an assistant bound to several knowledge bases, the same fan-out shape
// Retriever.MultiSearch uses for vector-only search.
func (o *Orchestrator) hybridAcrossKBs(ctx context.Context, kbIDs []int64, query string, k int) ([]retrieval.Hit, error) {
	maxHops := o.Retriever.MaxHops
	if maxHops <= 0 {
		maxHops = defaultMaxHops
	}
	results := make([][]retrieval.Hit, len(kbIDs))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range kbIDs {
		i, id := i, id
		g.Go(func() error {
			hits, err := o.Retriever.HybridSearch(gctx, id, query, k, maxHops)
			if err != nil {
				return err
			}
			results[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, ragerr.New(ragerr.KindDependency, "chatengine.hybridAcrossKBs", err)
	}
	var merged []retrieval.Hit
	for _, hits := range results {
		merged = append(merged, hits...)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged, nil
}

// composePrompt implements step 4 of the algorithm: history-priority
// template when both context and history are present, grounded-QA template
// when only context is present, raw query otherwise; the system message is
// the assistant's configured prompt or a default, augmented with a
// remember-history clause when history is non-empty.
func composePrompt(assistantSystemPrompt, query string, hits []retrieval.Hit, history []catalog.Message) (systemPrompt, userMessage string) {
	systemPrompt = assistantSystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	hasHistory := len(history) > 0
	if hasHistory {
		systemPrompt += historyReminderClause
	}

	docContext := buildContext(hits)
	switch {
	case docContext != "" && hasHistory:
		userMessage = fmt.Sprintf(historyPriorityTemplate, docContext, query)
	case docContext != "":
		userMessage = fmt.Sprintf(groundedQATemplate, docContext, query)
	default:
		userMessage = query
	}
	return systemPrompt, userMessage
}

func buildContext(hits []retrieval.Hit) string {
	if len(hits) == 0 {
		return ""
	}
	var b strings.Builder
	for i, h := range hits {
		fmt.Fprintf(&b, "[Document %d] (similarity: %.0f%%)\n%s\n\n", i+1, h.Score*100, h.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

func buildMessages(systemPrompt string, history []catalog.Message, userMessage string) []llmprovider.Message {
	msgs := make([]llmprovider.Message, 0, len(history)+2)
	if systemPrompt != "" {
		msgs = append(msgs, llmprovider.Message{Role: llmprovider.RoleSystem, Content: systemPrompt})
	}
	for _, m := range history {
		msgs = append(msgs, llmprovider.Message{Role: llmprovider.Role(m.Role), Content: m.Content})
	}
	msgs = append(msgs, llmprovider.Message{Role: llmprovider.RoleUser, Content: userMessage})
	return msgs
}

func toSources(hits []retrieval.Hit, limit int) []Source {
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]Source, len(hits))
	for i, h := range hits {
		out[i] = Source{
			ChunkID: h.ChunkID, FileID: h.FileID, FileName: h.FileName,
			Content: truncate(h.Content, sourceSnippetLen), Score: h.Score, Origin: h.Source,
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// estimateTokens gives a rough prompt-size figure for the debug log line
// ahead of generation; it is not fed to any token-budget decision.
func estimateTokens(messages []llmprovider.Message) int {
	total := 0
	for _, m := range messages {
		total += util.CountTokens(m.Content)
	}
	return total
}

func marshalSources(sources []Source) []byte {
	if sources == nil {
		sources = []Source{}
	}
	data, err := json.Marshal(sources)
	if err != nil {
		return []byte("[]")
	}
	return data
}
