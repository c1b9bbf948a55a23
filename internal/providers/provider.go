package providers

import (
	"context"
	"encoding/json"
	"fmt"
)

// Provider is the LLM provider interface
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

type ChatRequest struct {
	Model        string    `json:"model"`
	Messages     []Message `json:"messages"`
	Tools        []ToolDef `json:"tools,omitempty"`
	MaxTokens    int       `json:"max_tokens,omitempty"`
	Temperature  float64   `json:"temperature,omitempty"`
	SystemPrompt string    `json:"-"` // handled separately by some providers
}

type ChatResponse struct {
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	Usage      Usage      `json:"usage"`
	StopReason string     `json:"stop_reason"`
}

type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string
}

type ToolDef struct {
	Type     string      `json:"type"` // "function"
	Function FunctionDef `json:"function"`
}

type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// New constructs a provider by name. "anthropic" uses the native Anthropic
// API; everything else goes through the OpenAI-compatible client.
func New(name, apiKey, baseURL, defaultModel string) (Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("provider %q: api key is required", name)
	}
	switch name {
	case "anthropic":
		return NewAnthropicProvider(apiKey), nil
	case "openai", "":
		return NewOpenAICompatProvider(apiKey, baseURL, defaultModel), nil
	default:
		if baseURL == "" {
			return nil, fmt.Errorf("provider %q: base url is required", name)
		}
		return NewOpenAICompatProvider(apiKey, baseURL, defaultModel), nil
	}
}
