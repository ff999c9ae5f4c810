// Package llmprovider implements LLMProvider: pluggable chat completion
// with batch and streaming capability, model lifecycle, and
// timeout-scaled-from-max-tokens generation.
package llmprovider

import (
	"context"
	"fmt"
	"time"

	"ragengine/internal/ragerr"
)

// Role is a chat message's speaker.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    Role
	Content string
}

// Request is the shared parameter set for chat and streaming chat.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// StreamFunc yields one incremental fragment of a streamed completion per
// call, with ok false once the stream has ended; the consumer is
// responsible for concatenating fragments in order since each is a suffix
// extension of the accumulated text.
type StreamFunc func() (fragment string, ok bool, err error)

// Provider is the LLMProvider contract: chat, chatStream, listModels.
// Unloading is the separate Unloader interface.
type Provider interface {
	Chat(ctx context.Context, req Request) (string, error)
	ChatStream(ctx context.Context, req Request) (StreamFunc, error)
	ListModels(ctx context.Context) ([]string, error)
}

// Unloader is implemented by providers that hold a model resident in
// accelerator memory and can release it, mirroring embedding.Unloader.
type Unloader interface {
	Unload()
}

// minTimeout is the floor of the timeout scaling GenerationTimeout
// implements: max(60s, maxTokens/10 seconds).
const minTimeout = 60 * time.Second

// GenerationTimeout scales a context deadline from maxTokens with a floor,
// so large requests get proportionally more time without small requests
// hanging indefinitely on a slow backend.
func GenerationTimeout(maxTokens int) time.Duration {
	scaled := time.Duration(maxTokens/10) * time.Second
	if scaled < minTimeout {
		return minTimeout
	}
	return scaled
}

// timeoutError is surfaced as a user-visible message rather than a bare
// context.DeadlineExceeded, per the spec's "surfaces a user-visible
// timeout message rather than hanging" requirement.
func timeoutError(op string, maxTokens int) error {
	return ragerr.New(ragerr.KindDeadline, op,
		fmt.Errorf("generation timed out after %s (max_tokens=%d)", GenerationTimeout(maxTokens), maxTokens))
}
