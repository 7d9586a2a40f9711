package llm

import (
	"slices"
	"strings"
)

// ToolCallAccumulator assembles tool calls from streamed fragments. Streaming
// APIs send the id and name once and the JSON arguments in pieces, keyed by
// the call's index within the response.
type ToolCallAccumulator struct {
	calls map[int]*ToolCall
}

// Add merges one fragment into the call at index.
func (a *ToolCallAccumulator) Add(index int, id, name, args string) {
	if a.calls == nil {
		a.calls = make(map[int]*ToolCall)
	}
	tc, ok := a.calls[index]
	if !ok {
		tc = &ToolCall{}
		a.calls[index] = tc
	}
	if id != "" {
		tc.ID = id
	}
	if name != "" {
		tc.Name = name
	}
	tc.Arguments += args
}

// Len returns the number of calls seen so far.
func (a *ToolCallAccumulator) Len() int { return len(a.calls) }

// Calls returns the assembled calls ordered by index.
func (a *ToolCallAccumulator) Calls() []ToolCall {
	if len(a.calls) == 0 {
		return nil
	}
	idx := make([]int, 0, len(a.calls))
	for i := range a.calls {
		idx = append(idx, i)
	}
	slices.Sort(idx)
	out := make([]ToolCall, 0, len(idx))
	for _, i := range idx {
		out = append(out, *a.calls[i])
	}
	return out
}

// CapabilitiesFor returns capabilities for well-known model families.
// Unknown models get a conservative default with tool calling enabled.
func CapabilitiesFor(model string) Capabilities {
	caps := Capabilities{
		ContextWindow:       128_000,
		MaxOutputTokens:     4_096,
		SupportsToolCalling: true,
	}
	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "gpt-4.1"):
		caps.ContextWindow = 1_047_576
		caps.MaxOutputTokens = 32_768
	case strings.HasPrefix(lower, "gpt-4o"):
		caps.MaxOutputTokens = 16_384
	case strings.HasPrefix(lower, "gpt-3.5-turbo"):
		caps.ContextWindow = 16_385
	case strings.HasPrefix(lower, "o1-mini"):
		caps.MaxOutputTokens = 65_536
		caps.SupportsToolCalling = false
	case strings.HasPrefix(lower, "o1"), strings.HasPrefix(lower, "o3"), strings.HasPrefix(lower, "o4"):
		caps.ContextWindow = 200_000
		caps.MaxOutputTokens = 100_000
	case strings.HasPrefix(lower, "claude"):
		caps.ContextWindow = 200_000
		caps.MaxOutputTokens = 8_192
	case strings.HasPrefix(lower, "gemini"):
		caps.ContextWindow = 1_048_576
		caps.MaxOutputTokens = 8_192
	}
	return caps
}
