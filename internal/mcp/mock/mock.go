// Package mock provides an in-memory [mcp.Host] for tests.
//
//	h := &mock.Host{
//		Tools:  []llm.ToolDefinition{{Name: "weather"}},
//		Result: &mcp.ToolResult{Content: "sunny"},
//	}
//	// ... hand h to the code under test ...
//	if got := h.Executions(); len(got) != 1 || got[0].Name != "weather" { ... }
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/talkie/internal/mcp"
	"github.com/MrWong99/talkie/pkg/provider/llm"
)

// Execution records one ExecuteTool call.
type Execution struct {
	Name string
	Args string
}

// Host is a mock [mcp.Host]. Configure the exported fields before handing it
// out; read what happened through the accessor methods.
type Host struct {
	mu sync.Mutex

	// Tools is returned by AvailableTools.
	Tools []llm.ToolDefinition

	// Result and Err are returned by ExecuteTool. A nil Result with a nil Err
	// yields an empty result.
	Result *mcp.ToolResult
	Err    error

	// Execute, when set, replaces Result and Err.
	Execute func(ctx context.Context, name, args string) (*mcp.ToolResult, error)

	// RegisterErr and CloseErr are returned by RegisterServer and Close.
	RegisterErr error
	CloseErr    error

	registered []mcp.ServerConfig
	executions []Execution
	closes     int
}

var _ mcp.Host = (*Host)(nil)

// RegisterServer records cfg.
func (h *Host) RegisterServer(_ context.Context, cfg mcp.ServerConfig) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.registered = append(h.registered, cfg)
	return h.RegisterErr
}

// AvailableTools returns a copy of Tools.
func (h *Host) AvailableTools() []llm.ToolDefinition {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]llm.ToolDefinition{}, h.Tools...)
}

// ExecuteTool records the call and answers with Execute, or Result and Err.
func (h *Host) ExecuteTool(ctx context.Context, name, args string) (*mcp.ToolResult, error) {
	h.mu.Lock()
	h.executions = append(h.executions, Execution{Name: name, Args: args})
	fn, res, err := h.Execute, h.Result, h.Err
	h.mu.Unlock()

	switch {
	case fn != nil:
		return fn(ctx, name, args)
	case err != nil:
		return nil, err
	case res == nil:
		return &mcp.ToolResult{}, nil
	}
	cp := *res
	return &cp, nil
}

// Close counts the call.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closes++
	return h.CloseErr
}

// Registered returns the configs passed to RegisterServer.
func (h *Host) Registered() []mcp.ServerConfig {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]mcp.ServerConfig(nil), h.registered...)
}

// Executions returns the ExecuteTool calls in order.
func (h *Host) Executions() []Execution {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Execution(nil), h.executions...)
}

// CloseCount returns the number of Close calls.
func (h *Host) CloseCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closes
}
