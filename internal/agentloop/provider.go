// Package agentloop implements the Agent Loop described in spec §4.6:
// the chain-of-thought executor that drives an LLMProvider, reassembles
// streamed tool-call fragments, dispatches completed calls through a
// toolhost.Router, and writes results back into a memlog.Store. Its
// shape is grounded in the teacher's internal/agent/loop.go state
// machine and internal/agent/providers/openai.go's index-keyed
// streaming reassembly, narrowed to the spec's contract: no jobs
// queue, branch store, or approval policy.
package agentloop

import (
	"context"

	"github.com/contextloom/loom/pkg/models"
)

// CompletionRequest is one turn's request to an LLMProvider: the
// refined view plus the router's currently advertised tools.
type CompletionRequest struct {
	System    string
	Messages  []models.Message
	Tools     []models.ToolSpec
	MaxTokens int
}

// ToolCallDelta carries one streamed fragment of a single tool call,
// keyed by Index — the per-call slot the LLM assigns deltas to. Fields
// are set once they are known; Name/ID typically arrive in the first
// fragment for a slot, ArgumentsDelta arrives incrementally across
// many fragments.
type ToolCallDelta struct {
	Index          int
	ID             string
	Type           string
	Name           string
	ArgumentsDelta string
}

// CompletionChunk is one piece of a streamed (or the sole piece of a
// non-streamed) LLM response.
type CompletionChunk struct {
	Text          string
	ToolCallDelta *ToolCallDelta
	FinishReason  string
	Done          bool
	InputTokens   int
	OutputTokens  int
	Error         error
}

// LLMProvider is the chat-completion endpoint spec §6 describes:
// (messages, tools, stream) → response/stream. Non-streaming providers
// still reply over the channel, with the whole response in one chunk
// followed immediately by Done.
type LLMProvider interface {
	Complete(ctx context.Context, req *CompletionRequest, stream bool) (<-chan CompletionChunk, error)
	Name() string
}
