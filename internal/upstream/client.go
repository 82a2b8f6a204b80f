// Package upstream implements the generation-streaming side of
// UpstreamConnector (C5): an HTTP-streaming generative.Client built on raw
// net/http and bufio.Scanner SSE reading, plus the connector that drives
// sendMessage against it.
package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lumenchat/chatcore/internal/chatmodel"
	"github.com/lumenchat/chatcore/internal/generative"
)

const (
	maxSSELineBuffer = 1024 * 1024 // 1 MiB scanner buffer cap
)

// HTTPClient is an OpenAI/Gemini-compatible chat-completions streaming
// client speaking raw HTTP + SSE to an upstream provider.
type HTTPClient struct {
	baseURL    string
	credential string
	http       *http.Client
}

// NewHTTPClient constructs a client bound to one credential.
func NewHTTPClient(baseURL, credential string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		credential: credential,
		http:       &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *HTTPClient) endpoint() string {
	return c.baseURL + "/chat/completions"
}

type wireMessage struct {
	Role             string `json:"role"`
	Content          string `json:"content,omitempty"`
	ToolCallID       string `json:"tool_call_id,omitempty"`
	Name             string `json:"name,omitempty"`
}

func normalizedTurnsToMessages(history []chatmodel.NormalizedTurn) []wireMessage {
	messages := make([]wireMessage, 0, len(history))
	for _, turn := range history {
		role := "assistant"
		if turn.Role == chatmodel.RoleUser {
			role = "user"
		}
		var text strings.Builder
		for _, part := range turn.Parts {
			if part.Kind == chatmodel.PartText {
				text.WriteString(part.Text)
			}
		}
		messages = append(messages, wireMessage{Role: role, Content: text.String()})
	}
	return messages
}

func partsToUserMessage(parts []chatmodel.MessagePart) wireMessage {
	var text strings.Builder
	for _, part := range parts {
		if part.Kind == chatmodel.PartText {
			text.WriteString(part.Text)
		}
	}
	return wireMessage{Role: "user", Content: text.String()}
}

func toolDefsToWire(tools []generative.ToolDefinition) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return out
}

func (c *HTTPClient) doStream(ctx context.Context, messages []wireMessage, tools []generative.ToolDefinition) (*httpStream, error) {
	payload := map[string]any{
		"model":    "default",
		"messages": messages,
		"stream":   true,
	}
	if len(tools) > 0 {
		payload["tools"] = toolDefsToWire(tools)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("upstream: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("upstream: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.credential)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden || strings.Contains(string(respBody), "API_KEY_INVALID") {
			return nil, &generative.ErrAuth{Reason: fmt.Sprintf("status %d: %s", resp.StatusCode, string(respBody))}
		}
		return nil, fmt.Errorf("upstream: status %d: %s", resp.StatusCode, string(respBody))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxSSELineBuffer)

	return &httpStream{body: resp.Body, scanner: scanner}, nil
}

// StartStream opens a streamed generation from prior turns plus new parts.
func (c *HTTPClient) StartStream(ctx context.Context, history []chatmodel.NormalizedTurn, parts []chatmodel.MessagePart, tools []generative.ToolDefinition) (generative.Stream, error) {
	messages := append(normalizedTurnsToMessages(history), partsToUserMessage(parts))
	return c.doStream(ctx, messages, tools)
}

// ContinueStream resumes a generation after delivering tool results.
func (c *HTTPClient) ContinueStream(ctx context.Context, history []chatmodel.NormalizedTurn, parts []chatmodel.MessagePart, functionResponses []chatmodel.MessagePart, tools []generative.ToolDefinition) (generative.Stream, error) {
	messages := append(normalizedTurnsToMessages(history), partsToUserMessage(parts))
	for _, fr := range functionResponses {
		if fr.Kind != chatmodel.PartFunctionResponse {
			continue
		}
		messages = append(messages, wireMessage{
			Role:       "tool",
			Content:    fr.FunctionResponse.Result,
			Name:       fr.FunctionResponse.Name,
			ToolCallID: fr.FunctionResponse.Name,
		})
	}
	return c.doStream(ctx, messages, tools)
}

// Probe issues a minimal 1-token generation for semantic credential
// validation.
func (c *HTTPClient) Probe(ctx context.Context) error {
	payload := map[string]any{
		"model":      "default",
		"messages":   []wireMessage{{Role: "user", Content: "ping"}},
		"stream":     false,
		"max_tokens": 1,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.credential)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden || strings.Contains(string(respBody), "API_KEY_INVALID") {
			return &generative.ErrAuth{Reason: fmt.Sprintf("status %d: %s", resp.StatusCode, string(respBody))}
		}
		return fmt.Errorf("upstream: probe failed with status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// sseChunk is the wire shape of one streamed delta.
type sseChunk struct {
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type httpStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

// Next implements generative.Stream, turning one SSE "data: ..." line into
// a Chunk. Returns a Chunk with Done set on "[DONE]", and io.EOF when the
// body ends without one.
func (s *httpStream) Next(ctx context.Context) (generative.Chunk, error) {
	for {
		select {
		case <-ctx.Done():
			return generative.Chunk{}, ctx.Err()
		default:
		}

		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return generative.Chunk{}, err
			}
			return generative.Chunk{}, io.EOF
		}

		line := s.scanner.Text()
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			return generative.Chunk{Done: true}, nil
		}

		var parsed sseChunk
		if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
			continue // tolerate malformed intermediate frames
		}

		chunk := generative.Chunk{FinishReasonSafe: true}
		if parsed.PromptFeedback != nil && parsed.PromptFeedback.BlockReason != "" {
			chunk.BlockReason = parsed.PromptFeedback.BlockReason
			return chunk, nil
		}
		if len(parsed.Choices) > 0 {
			choice := parsed.Choices[0]
			if choice.FinishReason == "SAFETY" || choice.FinishReason == "safety" {
				chunk.FinishReasonSafe = false
				return chunk, nil
			}
			if len(choice.Delta.ToolCalls) > 0 {
				for _, tc := range choice.Delta.ToolCalls {
					var args map[string]any
					_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
					chunk.ToolCalls = append(chunk.ToolCalls, generative.ToolCall{Name: tc.Function.Name, Args: args})
				}
				return chunk, nil
			}
			chunk.Text = choice.Delta.Content
		}
		return chunk, nil
	}
}

func (s *httpStream) Close() error {
	return s.body.Close()
}
