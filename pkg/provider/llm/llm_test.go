package llm_test

import (
	"testing"

	"github.com/MrWong99/talkie/pkg/provider/llm"
)

func TestToolCallAccumulator(t *testing.T) {
	t.Parallel()

	var acc llm.ToolCallAccumulator
	if acc.Calls() != nil {
		t.Fatal("empty accumulator should return nil")
	}
	acc.Add(1, "call_b", "lookup", `{"q":`)
	acc.Add(0, "call_a", "time", `{}`)
	acc.Add(1, "", "", `"moon"}`)

	got := acc.Calls()
	if len(got) != 2 || acc.Len() != 2 {
		t.Fatalf("calls = %d, want 2", len(got))
	}
	if got[0].ID != "call_a" || got[0].Name != "time" {
		t.Errorf("calls[0] = %+v, want call_a/time", got[0])
	}
	if got[1].Arguments != `{"q":"moon"}` {
		t.Errorf("calls[1].Arguments = %q", got[1].Arguments)
	}
}

func TestCapabilitiesFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model     string
		window    int
		toolCalls bool
	}{
		{"gpt-4.1-mini", 1_047_576, true},
		{"GPT-4o-mini", 128_000, true},
		{"gpt-3.5-turbo", 16_385, true},
		{"o1-mini", 128_000, false},
		{"o3", 200_000, true},
		{"claude-sonnet-4", 200_000, true},
		{"gemini-2.0-flash", 1_048_576, true},
		{"my-local-model", 128_000, true},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			t.Parallel()
			caps := llm.CapabilitiesFor(tt.model)
			if caps.ContextWindow != tt.window {
				t.Errorf("ContextWindow = %d, want %d", caps.ContextWindow, tt.window)
			}
			if caps.SupportsToolCalling != tt.toolCalls {
				t.Errorf("SupportsToolCalling = %v, want %v", caps.SupportsToolCalling, tt.toolCalls)
			}
			if caps.MaxOutputTokens <= 0 {
				t.Error("MaxOutputTokens must be positive")
			}
		})
	}
}
