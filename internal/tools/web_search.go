package tools

import (
	"context"
	"fmt"

	"github.com/lumenchat/chatcore/internal/generative"
)

// WebSearcher is the injected collaborator that actually performs a web
// search; the core only owns the tool-call contract, not a search provider.
type WebSearcher interface {
	Search(ctx context.Context, query string, numResults int) ([]SearchResult, error)
}

// SearchResult is one hit returned by a WebSearcher.
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

// WebSearchTool adapts a WebSearcher to the Tool contract, following the
// OpenAI-compatible function-definition shape the upstream connector
// advertises to providers.
type WebSearchTool struct {
	searcher WebSearcher
}

// NewWebSearchTool constructs a WebSearchTool backed by searcher.
func NewWebSearchTool(searcher WebSearcher) *WebSearchTool {
	return &WebSearchTool{searcher: searcher}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Definition() generative.ToolDefinition {
	return generative.ToolDefinition{
		Name:        "web_search",
		Description: "Search the web for current information, facts, or articles.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query",
				},
				"num_results": map[string]any{
					"type":        "integer",
					"description": "Number of results to return (1-10, default 5)",
					"minimum":     1,
					"maximum":     10,
					"default":     5,
				},
			},
			"required": []string{"query"},
		},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	var parsed struct {
		Query      string `json:"query"`
		NumResults int    `json:"num_results"`
	}
	if err := ParseArguments(args, &parsed); err != nil {
		return nil, err
	}
	if parsed.NumResults <= 0 {
		parsed.NumResults = 5
	}

	results, err := t.searcher.Search(ctx, parsed.Query, parsed.NumResults)
	if err != nil {
		return nil, err
	}

	summary := make([]string, 0, len(results))
	for _, r := range results {
		summary = append(summary, fmt.Sprintf("%s (%s): %s", r.Title, r.URL, r.Snippet))
	}
	return summary, nil
}
