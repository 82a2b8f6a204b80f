package upstream

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/lumenchat/chatcore/internal/chatmodel"
	"github.com/lumenchat/chatcore/internal/credential"
	"github.com/lumenchat/chatcore/internal/events"
	"github.com/lumenchat/chatcore/internal/generative"
	"github.com/lumenchat/chatcore/internal/logger"
	"github.com/lumenchat/chatcore/internal/tools"
)

const (
	apiTimeout             = 60 * time.Second
	maxResponseChars       = 50000
	maxToolResultChars     = 10000
	maxToolCallsPerMessage = 5
)

// ToolHandler executes one registered tool by name.
type ToolHandler interface {
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// ToolHandlers resolves a tool by name for the connector's tool-call loop.
type ToolHandlers interface {
	Get(name string) (ToolHandler, bool)
	GetDefinitions() []generative.ToolDefinition
}

// SendContext carries the per-turn collaborators the connector needs beyond
// the message content itself.
type SendContext struct {
	UserID       string
	Credential   string
	ToolHandlers ToolHandlers
}

// Outcome is the result of one sendMessage call.
type Outcome struct {
	Text         string
	Blocked      bool
	TimedOut     bool
	HadToolCalls bool
	ToolNames    []string
}

// Connector implements UpstreamConnector (C5): stream a generation turn,
// bound length and time, mediate tool calls, and classify safety blocks.
type Connector struct {
	credentials *credential.Cache
	sink        events.Sink
	log         *logger.Logger
}

// NewConnector constructs a Connector bound to a credential cache and an
// event sink shared across turns.
func NewConnector(credentials *credential.Cache, sink events.Sink, log *logger.Logger) *Connector {
	return &Connector{credentials: credentials, sink: sink, log: log.WithComponent("upstream")}
}

// SendMessage streams one generation turn to completion, handling at most
// one round of tool-call mediation per chunk batch (the upstream may issue
// further tool calls in the continuation, which is handled by re-entering
// the same chunk loop).
func (c *Connector) SendMessage(ctx context.Context, chatID string, history []chatmodel.NormalizedTurn, parts []chatmodel.MessagePart, sctx SendContext) Outcome {
	result, err := c.credentials.Get(ctx, sctx.Credential)
	if err != nil {
		c.log.Error("failed to resolve upstream client", "error", err, "userId", sctx.UserID)
		return c.timeoutOutcome(chatID)
	}

	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()

	stream, err := result.Client.StartStream(ctx, history, parts, sctx.ToolHandlers.GetDefinitions())
	if err != nil {
		c.log.Error("failed to open upstream stream", "error", err, "userId", sctx.UserID)
		return c.timeoutOutcome(chatID)
	}
	defer stream.Close()

	return c.drive(ctx, chatID, history, parts, sctx, stream, nil)
}

// drive runs the chunk-consumption loop for one stream, handling safety
// blocks, tool calls (recursing into a continuation stream), and the
// response-length cap. accumulated carries text forwarded by a prior
// continuation round so MAX_RESPONSE_CHARS is enforced across rounds.
func (c *Connector) drive(ctx context.Context, chatID string, history []chatmodel.NormalizedTurn, parts []chatmodel.MessagePart, sctx SendContext, stream generative.Stream, accumulated *strings.Builder) Outcome {
	if accumulated == nil {
		accumulated = &strings.Builder{}
	}

	var pendingCalls []generative.ToolCall

	for {
		chunk, err := stream.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return c.emitTimeout(chatID)
			}
			if errors.Is(err, context.Canceled) {
				// Graceful client disconnect: whatever was streamed stands.
				break
			}
			c.log.Warn("upstream stream read failed", "error", err, "chatId", chatID)
			break
		}

		if chunk.Done {
			break
		}

		if chunk.BlockReason != "" || !chunk.FinishReasonSafe {
			reason := chunk.BlockReason
			if reason == "" {
				reason = "SAFETY"
			}
			c.log.Warn("generation blocked by safety filter", "chatId", chatID, "reason", reason)
			c.sink.MessageResponse(events.MessageResponse{ChatID: chatID, IsComplete: true, Blocked: true})
			return Outcome{Blocked: true}
		}

		if len(chunk.ToolCalls) > 0 {
			pendingCalls = chunk.ToolCalls
			break
		}

		if chunk.Text == "" {
			continue
		}
		if accumulated.Len()+len(chunk.Text) > maxResponseChars {
			break
		}
		accumulated.WriteString(chunk.Text)
		c.sink.MessageResponse(events.MessageResponse{ChatID: chatID, Chunk: chunk.Text, IsComplete: false})
	}

	if len(pendingCalls) > 0 {
		return c.handleToolCalls(ctx, chatID, history, parts, sctx, pendingCalls, accumulated)
	}

	return c.finish(chatID, accumulated.String())
}

// handleToolCalls executes recorded tool calls in declared order, delivers
// their results back to the upstream, and resumes streaming the
// continuation.
func (c *Connector) handleToolCalls(ctx context.Context, chatID string, history []chatmodel.NormalizedTurn, parts []chatmodel.MessagePart, sctx SendContext, calls []generative.ToolCall, accumulated *strings.Builder) Outcome {
	if len(calls) > maxToolCallsPerMessage {
		c.log.Warn("truncating tool call batch", "chatId", chatID, "requested", len(calls), "max", maxToolCallsPerMessage)
		calls = calls[:maxToolCallsPerMessage]
	}

	toolNames := make([]string, 0, len(calls))
	responses := make([]chatmodel.MessagePart, 0, len(calls))

	for _, call := range calls {
		toolNames = append(toolNames, call.Name)
		responses = append(responses, chatmodel.FunctionResponsePart(call.Name, c.executeTool(ctx, sctx, call)))
	}

	result, err := c.credentials.Get(ctx, sctx.Credential)
	if err != nil {
		c.log.Error("failed to resolve upstream client for continuation", "error", err, "chatId", chatID)
		return c.emitTimeout(chatID)
	}

	continuation, err := result.Client.ContinueStream(ctx, history, parts, responses, sctx.ToolHandlers.GetDefinitions())
	if err != nil {
		c.log.Error("failed to open continuation stream", "error", err, "chatId", chatID)
		return c.emitTimeout(chatID)
	}
	defer continuation.Close()

	outcome := c.drive(ctx, chatID, history, parts, sctx, continuation, accumulated)
	outcome.HadToolCalls = true
	outcome.ToolNames = append(outcome.ToolNames, toolNames...)
	return outcome
}

// executeTool invokes one registered handler, substituting safe fallback
// text for an unregistered name or a handler panic, and truncating long
// results — never leaking handler error text to the client.
func (c *Connector) executeTool(ctx context.Context, sctx SendContext, call generative.ToolCall) (result string) {
	handler, ok := sctx.ToolHandlers.Get(call.Name)
	if !ok {
		return "the requested tool \"" + call.Name + "\" is not available"
	}

	defer func() {
		if r := recover(); r != nil {
			c.log.Error("tool handler panicked", "tool", call.Name, "panic", r)
			result = "the tool encountered an internal error and could not complete"
		}
	}()

	out, err := handler.Execute(ctx, call.Args)
	if err != nil {
		c.log.Error("tool handler returned an error", "tool", call.Name, "error", err)
		return "the tool encountered an internal error and could not complete"
	}

	text, err := tools.ResultToString(out)
	if err != nil {
		c.log.Error("tool result could not be serialized", "tool", call.Name, "error", err)
		return "the tool encountered an internal error and could not complete"
	}
	if len(text) > maxToolResultChars {
		text = text[:maxToolResultChars]
	}
	return text
}

const emptyResponseApology = "I wasn't able to come up with a response to that. Could you try rephrasing?"

// finish applies the empty-response guard and the [object Object] integrity
// check before returning the terminal Completed outcome.
func (c *Connector) finish(chatID, text string) Outcome {
	if text == "" {
		c.sink.MessageResponse(events.MessageResponse{ChatID: chatID, Chunk: emptyResponseApology, IsComplete: false})
		c.sink.MessageResponse(events.MessageResponse{ChatID: chatID, IsComplete: true})
		return Outcome{Text: ""}
	}

	if strings.Contains(text, "[object Object]") {
		c.log.Error("response text contains an unserialized object marker", "chatId", chatID)
	}

	c.sink.MessageResponse(events.MessageResponse{ChatID: chatID, IsComplete: true})
	return Outcome{Text: text}
}

func (c *Connector) emitTimeout(chatID string) Outcome {
	c.sink.MessageResponse(events.MessageResponse{ChatID: chatID, IsComplete: true, TimedOut: true})
	return Outcome{TimedOut: true}
}

func (c *Connector) timeoutOutcome(chatID string) Outcome {
	return c.emitTimeout(chatID)
}
