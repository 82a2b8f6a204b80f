// Package tools implements the pluggable tool/function-call registry (A5)
// consulted by the upstream connector (C5) when a provider issues a
// mid-stream tool call.
package tools

import (
	"context"
	"encoding/json"

	"github.com/lumenchat/chatcore/internal/generative"
)

// Tool is a single named, callable handler an upstream provider may invoke
// mid-stream. Execute must be pure with respect to the provided context and
// args and return a serializable value; tool calls are a message-passing
// contract, so a handler should not assume its panics are ever seen by
// the caller.
type Tool interface {
	Name() string
	Definition() generative.ToolDefinition
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// ParseArguments decodes a tool call's arguments map into target.
func ParseArguments(args map[string]any, target any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}

// ResultToString renders a tool's return value for delivery to the
// upstream as a functionResponse part: strings pass through unchanged,
// everything else is JSON-serialized.
func ResultToString(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
