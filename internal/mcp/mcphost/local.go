package mcphost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/talkie/internal/mcp"
	"github.com/MrWong99/talkie/pkg/provider/llm"
)

// LocalFunc implements a local tool. args is the raw JSON object the model
// produced, possibly blank. A returned error is shown to the model as the
// tool's output.
type LocalFunc func(ctx context.Context, args string) (string, error)

// LocalTool is a tool served in-process instead of by an MCP server.
type LocalTool struct {
	Definition llm.ToolDefinition
	Run        LocalFunc
}

// RegisterLocal adds t to the catalogue. It fails if t is incomplete or its
// name is already taken.
func (h *Host) RegisterLocal(t LocalTool) error {
	name := t.Definition.Name
	switch {
	case name == "":
		return errors.New("mcp host: local tool needs a name")
	case t.Run == nil:
		return fmt.Errorf("mcp host: local tool %q has no function", name)
	}
	if t.Definition.Parameters == nil {
		t.Definition.Parameters = map[string]any{"type": "object"}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if taken, ok := h.tools[name]; ok {
		return fmt.Errorf("mcp host: tool %q already registered by %s", name, taken.owner())
	}
	h.tools[name] = &tool{def: t.Definition, run: t.Run}
	return nil
}

func runLocal(ctx context.Context, fn LocalFunc, args string) *mcp.ToolResult {
	out, err := fn(ctx, args)
	if err != nil {
		return &mcp.ToolResult{Content: err.Error(), IsError: true}
	}
	return &mcp.ToolResult{Content: out}
}

// ── Clock ────────────────────────────────────────────────────────────────────

// ClockToolName is the name of the tool returned by [Clock].
const ClockToolName = "current_time"

// Clock returns a local tool telling the model the current date and time,
// read from now. The model may ask for an IANA time zone; otherwise the
// local zone is used.
func Clock(now func() time.Time) LocalTool {
	return LocalTool{
		Definition: llm.ToolDefinition{
			Name:        ClockToolName,
			Description: "Returns the current date and time. Use it whenever the user asks about the time, the date or the weekday.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"timezone": map[string]any{
						"type":        "string",
						"description": "IANA time zone such as Asia/Taipei. Omit for the user's local time.",
					},
				},
			},
		},
		Run: func(_ context.Context, args string) (string, error) {
			var in struct {
				Timezone string `json:"timezone"`
			}
			if s := strings.TrimSpace(args); s != "" {
				if err := json.Unmarshal([]byte(s), &in); err != nil {
					return "", fmt.Errorf("invalid arguments: %w", err)
				}
			}
			t := now()
			if in.Timezone != "" {
				loc, err := time.LoadLocation(in.Timezone)
				if err != nil {
					return "", fmt.Errorf("unknown time zone %q", in.Timezone)
				}
				t = t.In(loc)
			}
			return t.Format("Monday, 2 January 2006, 15:04 MST"), nil
		},
	}
}
