// Package generative defines the provider-agnostic contract the core holds
// an upstream AI client to: starting a streamed generation from prior
// turns, and issuing a minimal probe for credential validation.
// The concrete wire format is provider-defined; internal/upstream ships one
// HTTP-streaming implementation of this interface.
package generative

import (
	"context"

	"github.com/lumenchat/chatcore/internal/chatmodel"
)

// Chunk is one unit of a streamed generation response.
type Chunk struct {
	Text              string
	BlockReason       string   // set if promptFeedback.blockReason fired
	FinishReasonSafe  bool     // true unless finishReason == SAFETY
	ToolCalls         []ToolCall
	Done              bool
}

// ToolCall is a provider-issued function-call intent.
type ToolCall struct {
	Name string
	Args map[string]any
}

// Stream yields successive Chunks from an in-flight generation.
type Stream interface {
	// Next blocks until the next chunk is available, the stream ends
	// (io.EOF), or ctx is done.
	Next(ctx context.Context) (Chunk, error)
	// Close releases any resources tied to the in-flight request.
	Close() error
}

// Client is a single upstream AI provider connection, scoped to one
// credential (BYOK or the server's own).
type Client interface {
	// StartStream opens a streamed generation from prior turns plus the new
	// message parts.
	StartStream(ctx context.Context, history []chatmodel.NormalizedTurn, parts []chatmodel.MessagePart, tools []ToolDefinition) (Stream, error)
	// ContinueStream resumes a generation after delivering tool results.
	ContinueStream(ctx context.Context, history []chatmodel.NormalizedTurn, parts []chatmodel.MessagePart, functionResponses []chatmodel.MessagePart, tools []ToolDefinition) (Stream, error)
	// Probe issues a minimal 1-token generation used for semantic credential
	// validation.
	Probe(ctx context.Context) error
}

// ToolDefinition is an OpenAI/Gemini-compatible tool schema advertised to
// the provider so it knows what functions it may call.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ErrAuth is returned by Client methods (wrapped) when the upstream rejects
// the credential (HTTP 401/403 or an explicit API_KEY_INVALID code).
type ErrAuth struct {
	Reason string
}

func (e *ErrAuth) Error() string {
	return "generative: credential rejected: " + e.Reason
}
