// Package gateway is the language-model boundary: an opaque request/response
// endpoint yielding text and optional tool-call proposals. Two production
// adapters (Anthropic, OpenAI) and a scripted in-memory gateway for tests
// implement the same interface; the loop never sees provider details.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"time"
)

// Role values carried on messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one conversation entry as the gateway sees it.
type Message struct {
	// Role is system, user, assistant, or tool.
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content"`

	// ToolCallID back-references the proposal a tool message answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolCalls are the assistant's proposals, present on assistant
	// messages that requested tools.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a proposal produced by the model. Never mutated after
// creation.
type ToolCall struct {
	// ID is the stable id the model assigned.
	ID string `json:"id"`

	// Name is the tool to invoke.
	Name string `json:"name"`

	// Arguments is the parsed argument mapping.
	Arguments map[string]any `json:"arguments"`
}

// ToolDefinition is one tool surfaced to the model, rendered as
// {type:"function", function:{name, description, parameters}} on the wire.
type ToolDefinition struct {
	// Name is the unique tool name.
	Name string `json:"name"`

	// Description tells the model what the tool does.
	Description string `json:"description"`

	// Parameters is a JSON schema whose root type is "object".
	Parameters json.RawMessage `json:"parameters"`
}

// Request is one completion request.
type Request struct {
	// Model overrides the adapter's configured model when set.
	Model string

	// System is the system prompt.
	System string

	// Messages is the full conversation history in FIFO order.
	Messages []Message

	// Tools are the definitions the model may propose calls against.
	Tools []ToolDefinition

	// MaxTokens caps the generated completion.
	MaxTokens int
}

// Usage reports token consumption for one request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Response is one completion.
type Response struct {
	// Text is the model's prose output.
	Text string

	// ToolCalls are the proposed tool calls, if any.
	ToolCalls []ToolCall

	// StopReason is the provider's stop reason, normalized to lowercase.
	StopReason string

	// Usage is token accounting when the provider reports it.
	Usage Usage
}

// Gateway is the opaque completion endpoint the loop drives.
type Gateway interface {
	// Complete sends the conversation and returns the model's response.
	// It honors ctx cancellation.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Provider returns the adapter name for logging and metrics.
	Provider() string

	// Model returns the configured default model.
	Model() string
}

// ErrNoProvider indicates the configuration names no usable provider.
var ErrNoProvider = errors.New("no gateway provider configured")

// backoff sleeps with jittered exponential delay, honoring ctx. attempt is
// zero-based.
func backoff(ctx context.Context, attempt int) error {
	base := time.Duration(1<<attempt) * 500 * time.Millisecond
	if base > 8*time.Second {
		base = 8 * time.Second
	}
	jitter := time.Duration(rand.Int63n(int64(base) / 2))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(base + jitter):
		return nil
	}
}
