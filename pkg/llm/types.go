// Package llm provides the chat-completion client used by every model-backed
// stage. The wire protocol is the OpenAI-compatible chat API; credentials come
// from the environment (API key, or an OAuth client-credentials triple).
package llm

import (
	"context"
	"encoding/json"
)

// Role constants for chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolDef declares a function tool the model may call. Parameters is a JSON
// schema object.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is a function invocation emitted by the model.
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Request is one chat completion.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int

	// JSONMode asks the provider for a JSON-object response.
	JSONMode bool

	// Tools, when set, are offered to the model; ToolChoice may force one.
	Tools      []ToolDef
	ToolChoice string
}

// Usage is the provider-reported token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the completed message.
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
	Model     string
}

// Client is the chat interface every stage depends on. Tests substitute a
// scripted implementation.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
