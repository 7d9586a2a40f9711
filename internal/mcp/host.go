// Package mcp is the tool-calling contract of the assistant.
//
// A [Host] gathers tools from Model Context Protocol servers (and any local
// functions an implementation offers) into one catalogue keyed by tool name.
// The batch pipeline offers that catalogue to the LLM and the realtime
// session registers it with the speech-to-speech model; both route the
// model's tool calls back through [Host.ExecuteTool].
package mcp

import (
	"context"

	"github.com/MrWong99/talkie/pkg/provider/llm"
)

// ToolResult is what one tool call produced.
type ToolResult struct {
	// Content is the text handed back to the model. For a failed call it is
	// the failure message.
	Content string

	// IsError marks a call the tool itself rejected. Transport failures are
	// reported through the error return of ExecuteTool instead.
	IsError bool

	// DurationMs is the time the call took.
	DurationMs int64
}

// Host owns the tool servers and dispatches calls to them. Safe for
// concurrent use.
type Host interface {
	// RegisterServer connects cfg and adds its tools to the catalogue. A
	// server registered again under the same name replaces the old one.
	RegisterServer(ctx context.Context, cfg ServerConfig) error

	// AvailableTools lists the catalogue, sorted by name.
	AvailableTools() []llm.ToolDefinition

	// ExecuteTool runs name with the JSON object args. Unknown tools and
	// transport failures are errors; a tool-level failure is a result with
	// IsError set.
	ExecuteTool(ctx context.Context, name string, args string) (*ToolResult, error)

	// Close disconnects every server. The Host is unusable afterwards.
	Close() error
}
