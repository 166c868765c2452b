// Package llm provides the completion provider used by the research engine.
// It speaks the OpenAI-compatible chat completions protocol over plain HTTP,
// including function tool calling.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/skylarkhq/delver/internal/research"
)

const defaultBaseURL = "https://api.openai.com/v1"

type OpenAIProvider struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	client      *http.Client
}

type Option func(*OpenAIProvider)

func WithBaseURL(u string) Option {
	return func(p *OpenAIProvider) {
		if u != "" {
			p.baseURL = u
		}
	}
}

func WithTemperature(t float64) Option {
	return func(p *OpenAIProvider) { p.temperature = t }
}

func WithMaxTokens(n int) Option {
	return func(p *OpenAIProvider) { p.maxTokens = n }
}

func WithHTTPClient(c *http.Client) Option {
	return func(p *OpenAIProvider) {
		if c != nil {
			p.client = c
		}
	}
}

func NewOpenAIProvider(apiKey, model string, opts ...Option) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key not configured")
	}
	if model == "" {
		return nil, fmt.Errorf("model not configured")
	}
	p := &OpenAIProvider{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   model,
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Wire types for the chat completions endpoint.
type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

// Complete sends the transcript plus tool schema and maps the response back to
// the engine's model-response shape: either assistant text or tool calls.
func (p *OpenAIProvider) Complete(ctx context.Context, messages []research.Message, tools []research.ToolSchema) (research.ModelResponse, error) {
	wireMsgs := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		wm := chatMessage{Role: m.Role, Content: m.Content, Name: m.Name, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: wireFunction{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		wireMsgs = append(wireMsgs, wm)
	}

	wireTools := make([]wireTool, 0, len(tools))
	for _, t := range tools {
		var wt wireTool
		wt.Type = "function"
		wt.Function.Name = t.Name
		wt.Function.Description = t.Description
		wt.Function.Parameters = t.Parameters
		wireTools = append(wireTools, wt)
	}

	payload := map[string]any{
		"model":    p.model,
		"messages": wireMsgs,
	}
	if len(wireTools) > 0 {
		payload["tools"] = wireTools
		payload["tool_choice"] = "auto"
	}
	if p.temperature != 0 {
		payload["temperature"] = p.temperature
	}
	if p.maxTokens > 0 {
		payload["max_tokens"] = p.maxTokens
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return research.ModelResponse{}, fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return research.ModelResponse{}, fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return research.ModelResponse{}, fmt.Errorf("%w: %v", research.ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return research.ModelResponse{}, fmt.Errorf("%w: status %d: %s", research.ErrModelUnavailable, resp.StatusCode, snippet)
		}
		return research.ModelResponse{}, fmt.Errorf("completion status %d: %s", resp.StatusCode, snippet)
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content   string         `json:"content"`
				ToolCalls []wireToolCall `json:"tool_calls"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return research.ModelResponse{}, fmt.Errorf("decode: %w", err)
	}
	if len(out.Choices) == 0 {
		return research.ModelResponse{}, fmt.Errorf("completion returned no choices")
	}

	msg := out.Choices[0].Message
	mr := research.ModelResponse{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		args := tc.Function.Arguments
		if args == "" {
			args = "{}"
		}
		mr.ToolCalls = append(mr.ToolCalls, research.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(args),
		})
	}
	return mr, nil
}
