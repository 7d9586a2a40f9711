// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (OpenAI, or any vendor
// reachable through any-llm-go) and exposes a uniform streaming completion
// interface, so the cascade pipeline can run its tool loop without coupling to
// a specific SDK.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends
// or when the supplied context is cancelled.
package llm

import "context"

// Roles used in [Message.Role].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Finish reasons reported on the last [Chunk] of a stream.
const (
	FinishStop      = "stop"
	FinishLength    = "length"
	FinishToolCalls = "tool_calls"
)

// Message is a single message in a conversation history.
type Message struct {
	// Role is one of [RoleSystem], [RoleUser], [RoleAssistant] or [RoleTool].
	Role string

	Content string

	// ToolCalls lists the tool invocations an assistant message requested.
	ToolCalls []ToolCall

	// ToolCallID is set when Role is [RoleTool] and names the call answered.
	ToolCallID string
}

// ToolCall is a tool/function invocation requested by the model.
type ToolCall struct {
	ID   string
	Name string

	// Arguments is the JSON-encoded argument object.
	Arguments string
}

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	Name        string
	Description string

	// Parameters is the JSON Schema of the tool input.
	Parameters map[string]any
}

// CompletionRequest carries everything the model needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	Messages []Message
	Tools    []ToolDefinition

	// SystemPrompt is sent ahead of Messages using the provider's native
	// system slot.
	SystemPrompt string

	// Temperature in [0, 2]. Zero leaves the provider default.
	Temperature float64

	// MaxTokens caps the completion. Zero leaves the provider default.
	MaxTokens int
}

// Chunk is a fragment of a streaming completion. A single chunk may carry
// text, tool calls, a finish reason, or an error.
type Chunk struct {
	Text string

	// FinishReason is set on the final chunk (see the Finish* constants).
	FinishReason string

	// ToolCalls holds the fully assembled tool calls. Providers deliver them
	// on the final chunk only.
	ToolCalls []ToolCall

	// Usage is the token accounting of the whole completion, set on the final
	// chunk by providers that report it.
	Usage *Usage

	// Err is set when the stream failed after it was opened. It is always the
	// last chunk.
	Err error
}

// Usage counts the tokens a completion consumed.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Capabilities describes what a model supports.
type Capabilities struct {
	ContextWindow       int
	MaxOutputTokens     int
	SupportsToolCalling bool
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// StreamCompletion sends req to the model and returns a channel of chunks.
	// The returned channel is never nil when err is nil and is closed when
	// generation ends or ctx is cancelled. Callers must drain it.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Capabilities returns static metadata about the configured model.
	Capabilities() Capabilities
}
