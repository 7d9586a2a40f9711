// Package mcphost implements [mcp.Host] on top of the official MCP Go SDK.
//
// A Host keeps one client session per server, reached over stdio or
// streamable HTTP, and a single tool catalogue shared by all of them. Local
// tools written in Go can sit next to the servers (see [Host.RegisterLocal]).
// A tool name belongs to whoever registered it first; a later server offering
// the same name has that tool skipped.
//
//	h := mcphost.New()
//	defer h.Close()
//	err := h.RegisterServer(ctx, mcp.ServerConfig{
//	    Name:      "search",
//	    Transport: mcp.TransportStdio,
//	    Command:   "uv run server_google_search.py",
//	})
//	res, err := h.ExecuteTool(ctx, "google_search", `{"query":"taipei weather"}`)
package mcphost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/talkie/internal/mcp"
	"github.com/MrWong99/talkie/internal/observe"
	"github.com/MrWong99/talkie/pkg/provider/llm"
)

// localOwner is reported as the server of local tools.
const localOwner = "local"

// server is one connected MCP server and the tool names it contributed.
type server struct {
	name    string
	session *mcpsdk.ClientSession
	tools   []string
}

// tool is a catalogue entry. Exactly one of srv and run is set.
type tool struct {
	def llm.ToolDefinition
	srv *server
	run LocalFunc
}

func (t *tool) owner() string {
	if t.srv != nil {
		return t.srv.name
	}
	return localOwner
}

// Host is the SDK-backed [mcp.Host]. Create it with [New].
type Host struct {
	client *mcpsdk.Client

	mu      sync.RWMutex
	servers map[string]*server
	tools   map[string]*tool
}

var _ mcp.Host = (*Host)(nil)

// New returns an empty Host.
func New() *Host {
	return &Host{
		client:  mcpsdk.NewClient(&mcpsdk.Implementation{Name: "talkie", Version: "1.0.0"}, nil),
		servers: make(map[string]*server),
		tools:   make(map[string]*tool),
	}
}

// ── Servers ──────────────────────────────────────────────────────────────────

// RegisterServer validates cfg, connects to the server and adds its tools to
// the catalogue. A server already registered under cfg.Name is disconnected
// and its tools are dropped first.
func (h *Host) RegisterServer(ctx context.Context, cfg mcp.ServerConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("mcp host: server %q: %w", cfg.Name, err)
	}
	return h.connect(ctx, cfg.Name, transportFor(cfg))
}

// transportFor builds the SDK transport for a validated cfg. Stdio commands
// are split on whitespace and inherit the parent environment plus cfg.Env.
func transportFor(cfg mcp.ServerConfig) mcpsdk.Transport {
	if cfg.Transport == mcp.TransportStreamableHTTP {
		return &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	}
	fields := strings.Fields(cfg.Command)
	// The subprocess lives as long as the session, not the registering ctx.
	cmd := exec.Command(fields[0], fields[1:]...)
	if len(cfg.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	return &mcpsdk.CommandTransport{Command: cmd}
}

func (h *Host) connect(ctx context.Context, name string, transport mcpsdk.Transport) error {
	session, err := h.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("mcp host: connect %q: %w", name, err)
	}
	var offered []*mcpsdk.Tool
	for t, err := range session.Tools(ctx, nil) {
		if err != nil {
			return fmt.Errorf("mcp host: list tools of %q: %w", name, errors.Join(err, session.Close()))
		}
		offered = append(offered, t)
	}

	srv := &server{name: name, session: session}

	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.servers[name]; ok {
		h.dropLocked(old)
	}
	h.servers[name] = srv
	for _, t := range offered {
		if taken, ok := h.tools[t.Name]; ok {
			slog.Warn("mcp host: tool name already taken, skipping",
				"tool", t.Name, "server", name, "owner", taken.owner())
			continue
		}
		h.tools[t.Name] = &tool{
			def: llm.ToolDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schemaMap(t.InputSchema),
			},
			srv: srv,
		}
		srv.tools = append(srv.tools, t.Name)
	}
	slog.Debug("mcp host: server registered", "server", name, "tools", len(srv.tools))
	return nil
}

// dropLocked closes srv and removes its tools. h.mu must be held.
func (h *Host) dropLocked(srv *server) {
	if err := srv.session.Close(); err != nil {
		slog.Warn("mcp host: closing replaced server", "server", srv.name, "err", err)
	}
	for _, n := range srv.tools {
		delete(h.tools, n)
	}
	delete(h.servers, srv.name)
}

// schemaMap turns the SDK's input schema into the plain map the model
// adapters expect. Anything unusable becomes an empty object schema.
func schemaMap(schema any) map[string]any {
	if m, ok := schema.(map[string]any); ok && m != nil {
		return m
	}
	out := map[string]any{"type": "object"}
	if schema == nil {
		return out
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return out
	}
	var m map[string]any
	if json.Unmarshal(raw, &m) != nil || m == nil {
		return out
	}
	return m
}

// ── Catalogue ────────────────────────────────────────────────────────────────

// AvailableTools returns the catalogue sorted by tool name.
func (h *Host) AvailableTools() []llm.ToolDefinition {
	h.mu.RLock()
	defs := make([]llm.ToolDefinition, 0, len(h.tools))
	for _, t := range h.tools {
		defs = append(defs, t.def)
	}
	h.mu.RUnlock()

	slices.SortFunc(defs, func(a, b llm.ToolDefinition) int { return strings.Compare(a.Name, b.Name) })
	return defs
}

// ExecuteTool runs the named tool. Blank args mean no arguments. Errors
// reported by the tool itself come back as a result with IsError set.
func (h *Host) ExecuteTool(ctx context.Context, name string, args string) (*mcp.ToolResult, error) {
	h.mu.RLock()
	t, ok := h.tools[name]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("mcp host: unknown tool %q", name)
	}

	ctx, span := observe.StartSpan(ctx, "mcp.tool "+name, trace.WithAttributes(
		attribute.String("mcp.tool", name),
		attribute.String("mcp.server", t.owner()),
	))
	defer span.End()

	start := time.Now()
	var (
		res *mcp.ToolResult
		err error
	)
	if t.run != nil {
		res = runLocal(ctx, t.run, args)
	} else {
		res, err = callRemote(ctx, t, args)
	}
	if err != nil {
		observe.Fail(span, err)
		return nil, err
	}
	res.DurationMs = time.Since(start).Milliseconds()
	span.SetAttributes(attribute.Bool("mcp.tool_error", res.IsError))
	return res, nil
}

func callRemote(ctx context.Context, t *tool, args string) (*mcp.ToolResult, error) {
	var params map[string]any
	if s := strings.TrimSpace(args); s != "" {
		if err := json.Unmarshal([]byte(s), &params); err != nil {
			return nil, fmt.Errorf("mcp host: tool %q: arguments are not a JSON object: %w", t.def.Name, err)
		}
	}
	res, err := t.srv.session.CallTool(ctx, &mcpsdk.CallToolParams{Name: t.def.Name, Arguments: params})
	if err != nil {
		return nil, fmt.Errorf("mcp host: tool %q on %q: %w", t.def.Name, t.srv.name, err)
	}

	var parts []string
	for _, c := range res.Content {
		if text, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	return &mcp.ToolResult{Content: strings.Join(parts, "\n"), IsError: res.IsError}, nil
}

// Close disconnects every server and empties the catalogue, local tools
// included.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	for name, srv := range h.servers {
		if err := srv.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mcp host: close %q: %w", name, err))
		}
	}
	h.servers = make(map[string]*server)
	h.tools = make(map[string]*tool)
	return errors.Join(errs...)
}
