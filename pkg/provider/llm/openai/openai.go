// Package openai is the LLM provider for the OpenAI Chat Completions API and
// anything that speaks it (vLLM, LM Studio, llama.cpp server) via
// [WithBaseURL].
//
// Replies stream as text chunks. Tool calls and token usage are held back and
// delivered together with the finish reason on one final chunk.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/talkie/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Provider implements [llm.Provider] on the Chat Completions API.
type Provider struct {
	client oai.Client
	model  string
	user   string
}

type settings struct {
	baseURL    string
	org        string
	user       string
	timeout    time.Duration
	maxRetries int
}

// Option configures a [Provider].
type Option func(*settings)

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.baseURL = url }
}

// WithOrganization sends the OpenAI organization header.
func WithOrganization(org string) Option {
	return func(s *settings) { s.org = org }
}

// WithUser tags every request with an end-user identifier.
func WithUser(user string) Option {
	return func(s *settings) { s.user = user }
}

// WithTimeout bounds each HTTP request, stream included.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// WithMaxRetries sets how often the SDK retries failed requests before the
// stream opens. Negative values keep the SDK default.
func WithMaxRetries(n int) Option {
	return func(s *settings) { s.maxRetries = n }
}

// New returns a Provider for model. apiKey may only be empty together with
// a custom base URL, since local servers rarely check it.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	s := settings{maxRetries: -1}
	for _, o := range opts {
		o(&s)
	}
	switch {
	case model == "":
		return nil, errors.New("openai: model must not be empty")
	case apiKey == "" && s.baseURL == "":
		return nil, errors.New("openai: api key required for the default endpoint")
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if s.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(s.baseURL))
	}
	if s.org != "" {
		reqOpts = append(reqOpts, option.WithOrganization(s.org))
	}
	if s.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: s.timeout}))
	}
	if s.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(s.maxRetries))
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model, user: s.user}, nil
}

// StreamCompletion implements [llm.Provider].
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	params, err := p.params(req)
	if err != nil {
		return nil, err
	}
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai: open stream: %w", err)
	}

	out := make(chan llm.Chunk, 32)
	go func() {
		defer close(out)
		defer stream.Close()

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
			usage  *llm.Usage
		)
		for stream.Next() {
			ev := stream.Current()
			// With include_usage the usage arrives on a trailing event with
			// no choices.
			if ev.Usage.TotalTokens > 0 {
				usage = &llm.Usage{
					PromptTokens:     int(ev.Usage.PromptTokens),
					CompletionTokens: int(ev.Usage.CompletionTokens),
				}
			}
			for _, choice := range ev.Choices {
				if choice.Index != 0 {
					continue
				}
				for _, tc := range choice.Delta.ToolCalls {
					calls.Add(int(tc.Index), tc.ID, tc.Function.Name, tc.Function.Arguments)
				}
				if choice.FinishReason != "" {
					finish = choice.FinishReason
				}
				if choice.Delta.Content != "" && !send(llm.Chunk{Text: choice.Delta.Content}) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			send(llm.Chunk{Err: fmt.Errorf("openai: stream: %w", err)})
			return
		}
		if finish == "" {
			finish = llm.FinishStop
		}
		send(llm.Chunk{FinishReason: finish, ToolCalls: calls.Calls(), Usage: usage})
	}()
	return out, nil
}

// Capabilities implements [llm.Provider].
func (p *Provider) Capabilities() llm.Capabilities {
	return llm.CapabilitiesFor(p.model)
}
