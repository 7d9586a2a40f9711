// Package bridge wires MCP tools into the voice pipelines.
//
// A [Bridge] turns the MCP Host's catalogue into tool definitions for the
// model and executes the calls the model makes, bounded by a per-call
// timeout and recorded in the tool metrics. The same Bridge serves the
// realtime session (via [Bridge.Attach]) and the cascaded LLM tool loop
// (via [Bridge.Execute]).
//
// [Open] connects a private Host to a list of servers and returns a Bridge
// that owns it; [Bridge.Close] then disconnects them. [New] wraps a Host the
// caller manages.
//
// Typical usage:
//
//	b, err := bridge.Open(ctx, servers, bridge.WithToolTimeout(10*time.Second))
//	if err != nil { ... }
//	defer b.Close()
//	cfg.Tools = b.Tools()
//	sess, _ := provider.Connect(ctx, cfg)
//	b.Attach(sess)
//	defer b.Detach(sess)
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/talkie/internal/mcp"
	"github.com/MrWong99/talkie/internal/mcp/mcphost"
	"github.com/MrWong99/talkie/internal/observe"
	"github.com/MrWong99/talkie/pkg/provider/llm"
	"github.com/MrWong99/talkie/pkg/provider/s2s"
)

// defaultToolTimeout bounds each tool execution unless overridden with
// [WithToolTimeout].
const defaultToolTimeout = 30 * time.Second

// Option is a functional option for configuring a [Bridge].
type Option func(*Bridge)

// WithToolTimeout sets the deadline applied to each individual tool
// execution. Non-positive values keep the default of 30 seconds.
func WithToolTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.toolTimeout = d
		}
	}
}

// WithMetrics records tool calls on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bridge) {
		if m != nil {
			b.metrics = m
		}
	}
}

// WithLocalTools adds in-process tools to the host created by [Open]. It has
// no effect on bridges from [New].
func WithLocalTools(tools ...mcphost.LocalTool) Option {
	return func(b *Bridge) { b.local = append(b.local, tools...) }
}

// Bridge routes model tool calls to an MCP Host. Bridge is safe for
// concurrent use.
type Bridge struct {
	host        mcp.Host
	toolTimeout time.Duration
	metrics     *observe.Metrics
	local       []mcphost.LocalTool

	// owned is set by Open: Close then closes host.
	owned bool
}

// New creates a Bridge over host.
func New(host mcp.Host, opts ...Option) (*Bridge, error) {
	if host == nil {
		return nil, errors.New("bridge: host must not be nil")
	}
	b := &Bridge{host: host, toolTimeout: defaultToolTimeout}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	return b, nil
}

// Open connects a new [mcphost.Host] to every server in servers, registers
// the [WithLocalTools] tools and returns a Bridge that owns the host. On any
// failure everything connected so far is closed again.
func Open(ctx context.Context, servers []mcp.ServerConfig, opts ...Option) (*Bridge, error) {
	host := mcphost.New()
	b, err := New(host, opts...)
	if err != nil {
		return nil, errors.Join(err, host.Close())
	}
	b.owned = true

	for _, t := range b.local {
		if err := host.RegisterLocal(t); err != nil {
			return nil, errors.Join(fmt.Errorf("bridge: %w", err), host.Close())
		}
	}
	for _, cfg := range servers {
		if err := host.RegisterServer(ctx, cfg); err != nil {
			return nil, errors.Join(fmt.Errorf("bridge: %w", err), host.Close())
		}
		slog.Info("bridge: mcp server connected", "server", cfg.Name, "transport", string(cfg.Transport))
	}
	return b, nil
}

// Tools returns the definitions to offer the model.
func (b *Bridge) Tools() []llm.ToolDefinition {
	return b.host.AvailableTools()
}

// Execute runs the named tool and returns its content. It satisfies
// [s2s.ToolCallHandler]. An application-level tool error is returned as a Go
// error carrying the tool's message.
func (b *Bridge) Execute(ctx context.Context, name, args string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.toolTimeout)
	defer cancel()

	start := time.Now()
	result, err := b.host.ExecuteTool(ctx, name, args)
	b.metrics.ToolExecutionDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("tool", name)))

	switch {
	case err != nil:
		b.metrics.RecordToolCall(ctx, name, "error")
		slog.Warn("bridge: tool execution failed", "tool", name, "err", err)
		return "", fmt.Errorf("bridge: tool %q: %w", name, err)
	case result.IsError:
		b.metrics.RecordToolCall(ctx, name, "tool_error")
		slog.Debug("bridge: tool reported an error", "tool", name, "content", result.Content)
		return "", fmt.Errorf("bridge: tool %q: %s", name, result.Content)
	default:
		b.metrics.RecordToolCall(ctx, name, "ok")
		slog.Debug("bridge: tool executed", "tool", name, "duration_ms", result.DurationMs)
		return result.Content, nil
	}
}

// Attach registers the bridge as the tool handler of session.
func (b *Bridge) Attach(session s2s.SessionHandle) {
	session.OnToolCall(b.Execute)
}

// Detach removes the tool handler from session. It does not close the
// session or the host.
func (b *Bridge) Detach(session s2s.SessionHandle) {
	session.OnToolCall(nil)
}

// Close releases the host if the Bridge was created by [Open]. Bridges from
// [New] leave the host to the caller.
func (b *Bridge) Close() error {
	if !b.owned {
		return nil
	}
	return b.host.Close()
}
