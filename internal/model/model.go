// Package model defines the turn-based tool-use protocol spoken with the
// language model, and its Anthropic implementation.
package model

import "context"

// Stop reasons a Response may carry.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// Roles a Message may carry.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResult is the outcome of one tool call, fed back on the next turn.
type ToolResult struct {
	ID      string
	Content any
	IsError bool
}

// Message is one entry of the conversation history.
type Message struct {
	Role        string
	Text        string
	ToolCalls   []ToolCall   // assistant messages only
	ToolResults []ToolResult // user messages only
}

// ToolSpec declares one tool to the model: name, description, and the
// JSON-schema shape of its arguments.
type ToolSpec struct {
	Name        string
	Description string
	Properties  map[string]any
	Required    []string
}

// Request carries the full conversation state for one model turn.
type Request struct {
	System      string
	Messages    []Message
	Tools       []ToolSpec
	MaxTokens   int
	Temperature float64
}

// Response is the model's answer for one turn: either requested tool calls,
// or final text, never a committed mixture (the caller enforces that).
type Response struct {
	Text         string
	ToolCalls    []ToolCall
	StopReason   string
	InputTokens  int
	OutputTokens int
}

// LLM is the language-model interface the orchestration loop depends on.
type LLM interface {
	Generate(ctx context.Context, req *Request) (*Response, error)
}
