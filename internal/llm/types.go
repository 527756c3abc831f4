// Package llm provides the chat-completion clients the review agent
// drives: Anthropic Messages, Ollama, and a router that picks between
// them by model name.
package llm

import (
	"log/slog"
	"time"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a chat message for the LLM.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
}

// ToolCall is one function invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id,omitempty"` // Provider-assigned, echoed back on the tool result
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool and carries its decoded arguments.
type FunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// NewToolCall builds a ToolCall. Used when the agent synthesizes a call
// the model did not make.
func NewToolCall(id, name string, args map[string]any) ToolCall {
	return ToolCall{ID: id, Function: FunctionCall{Name: name, Arguments: args}}
}

// Tool choice modes understood by every provider.
const (
	ToolChoiceAuto = "auto" // model decides (default)
	ToolChoiceNone = "none" // tools are withheld for this call
	ToolChoiceAny  = "any"  // model must call at least one tool
)

// Options tunes a single completion request. Zero values select the
// provider defaults.
type Options struct {
	Temperature float64
	MaxTokens   int
	ToolChoice  string
}

// ChatResponse is the unified response from any LLM provider.
// Wire format conversion happens at provider boundaries.
type ChatResponse struct {
	Model     string
	CreatedAt time.Time
	Message   Message
	Done      bool

	// StopReason is the provider's reason for ending the turn, when it
	// reports one (end_turn, tool_use, max_tokens, stop).
	StopReason string

	InputTokens  int
	OutputTokens int

	TotalDuration time.Duration
}

// HasToolCalls reports whether the model asked for any tool invocation.
func (r *ChatResponse) HasToolCalls() bool {
	return r != nil && len(r.Message.ToolCalls) > 0
}
