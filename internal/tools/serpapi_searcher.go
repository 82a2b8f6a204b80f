package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultSerpAPIBaseURL = "https://serpapi.com"

// SerpAPISearcher is the reference WebSearcher backing WebSearchTool: it
// proxies through SerpAPI's DuckDuckGo engine, asking for US English,
// moderate safe search, and no server-side caching of the query.
type SerpAPISearcher struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewSerpAPISearcher constructs a SerpAPISearcher. An empty apiKey is
// valid at construction time; Search reports the missing-key error lazily,
// the same way the rest of the tool roster defers configuration errors to
// call time rather than startup.
func NewSerpAPISearcher(apiKey string) *SerpAPISearcher {
	return &SerpAPISearcher{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    defaultSerpAPIBaseURL,
		apiKey:     apiKey,
	}
}

type serpAPIResponse struct {
	OrganicResults []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic_results"`
	Error string `json:"error,omitempty"`
}

// Search implements WebSearcher.
func (s *SerpAPISearcher) Search(ctx context.Context, query string, numResults int) ([]SearchResult, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("serpapi key not configured")
	}

	params := url.Values{}
	params.Set("api_key", s.apiKey)
	params.Set("engine", "duckduckgo")
	params.Set("q", query)
	params.Set("kl", "us-en")
	params.Set("safe", "-1")
	params.Set("no_cache", "true")

	apiURL := s.baseURL + "/search.json?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("serpapi returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed serpAPIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("serpapi error: %s", parsed.Error)
	}

	if numResults <= 0 || numResults > len(parsed.OrganicResults) {
		numResults = len(parsed.OrganicResults)
	}

	results := make([]SearchResult, 0, numResults)
	for _, r := range parsed.OrganicResults[:numResults] {
		results = append(results, SearchResult{Title: r.Title, URL: r.Link, Snippet: r.Snippet})
	}
	return results, nil
}
