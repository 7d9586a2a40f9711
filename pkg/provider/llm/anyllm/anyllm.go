// Package anyllm serves the LLM slot through
// github.com/mozilla-ai/any-llm-go, which puts Anthropic, Gemini, Ollama,
// DeepSeek, Mistral, Groq, llama.cpp and llamafile behind one client.
//
//	p, err := anyllm.New("ollama", "llama3.2", anyllmlib.WithBaseURL("http://localhost:11434"))
package anyllm

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/talkie/pkg/provider/llm"
)

type constructor func(...anyllmlib.Option) (anyllmlib.Provider, error)

var backends = map[string]constructor{
	"anthropic": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anthropic.New(o...) },
	"deepseek":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return deepseek.New(o...) },
	"gemini":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return gemini.New(o...) },
	"groq":      func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return groq.New(o...) },
	"llamacpp":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamacpp.New(o...) },
	"llamafile": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamafile.New(o...) },
	"mistral":   func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return mistral.New(o...) },
	"ollama":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return ollama.New(o...) },
	"openai":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anyllmoai.New(o...) },
}

// Backends returns the vendor names [New] accepts, sorted.
func Backends() []string {
	return slices.Sorted(maps.Keys(backends))
}

var _ llm.Provider = (*Provider)(nil)

// Provider adapts one any-llm-go backend to [llm.Provider].
type Provider struct {
	backend anyllmlib.Provider
	name    string
	model   string
}

// New builds the named backend for model. Without [anyllmlib.WithAPIKey]
// the backend reads the vendor's usual environment variable.
func New(backend, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}
	name := strings.ToLower(strings.TrimSpace(backend))
	ctor, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("anyllm: unknown backend %q (have %s)", backend, strings.Join(Backends(), ", "))
	}
	b, err := ctor(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s: %w", name, err)
	}
	return &Provider{backend: b, name: name, model: model}, nil
}

// StreamCompletion implements [llm.Provider]. Text is forwarded as it
// arrives; tool calls come with the finish reason on the last chunk.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	events, errs := p.backend.CompletionStream(ctx, p.params(req))

	out := make(chan llm.Chunk, 32)
	go func() {
		defer close(out)
		send := func(c llm.Chunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var (
			calls  llm.ToolCallAccumulator
			finish string
		)
		for ev := range events {
			if len(ev.Choices) == 0 {
				continue
			}
			c := ev.Choices[0]
			for i, tc := range c.Delta.ToolCalls {
				calls.Add(i, tc.ID, tc.Function.Name, tc.Function.Arguments)
			}
			if c.FinishReason != "" {
				finish = c.FinishReason
			}
			if c.Delta.Content != "" && !send(llm.Chunk{Text: c.Delta.Content}) {
				return
			}
		}
		if err := <-errs; err != nil {
			send(llm.Chunk{Err: fmt.Errorf("anyllm: %s stream: %w", p.name, err)})
			return
		}
		if finish == "" {
			finish = llm.FinishStop
		}
		send(llm.Chunk{FinishReason: finish, ToolCalls: calls.Calls()})
	}()
	return out, nil
}

// Capabilities implements [llm.Provider].
func (p *Provider) Capabilities() llm.Capabilities {
	return llm.CapabilitiesFor(p.model)
}

func (p *Provider) params(req llm.CompletionRequest) anyllmlib.CompletionParams {
	out := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: make([]anyllmlib.Message, 0, len(req.Messages)+1),
	}
	if req.SystemPrompt != "" {
		out.Messages = append(out.Messages, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, message(m))
	}
	if t := req.Temperature; t != 0 {
		out.Temperature = &t
	}
	if n := req.MaxTokens; n > 0 {
		out.MaxTokens = &n
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, anyllmlib.Tool{
			Type: "function",
			Function: anyllmlib.Function{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// message maps m one to one; the role names are shared with any-llm-go.
func message(m llm.Message) anyllmlib.Message {
	out := anyllmlib.Message{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
	for _, c := range m.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, anyllmlib.ToolCall{
			ID:       c.ID,
			Type:     "function",
			Function: anyllmlib.FunctionCall{Name: c.Name, Arguments: c.Arguments},
		})
	}
	return out
}
