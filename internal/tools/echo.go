package tools

import (
	"context"

	"github.com/lumenchat/chatcore/internal/generative"
)

// EchoTool is a reference tool that returns its single argument verbatim.
// Used by integration tests and as a worked example of the Tool contract.
type EchoTool struct{}

func (EchoTool) Name() string { return "echo" }

func (EchoTool) Definition() generative.ToolDefinition {
	return generative.ToolDefinition{
		Name:        "echo",
		Description: "Echoes the provided text back unchanged. Useful for testing the tool-call path.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{
					"type":        "string",
					"description": "Text to echo back",
				},
			},
			"required": []string{"text"},
		},
	}
}

func (EchoTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	var parsed struct {
		Text string `json:"text"`
	}
	if err := ParseArguments(args, &parsed); err != nil {
		return "", err
	}
	return parsed.Text, nil
}
