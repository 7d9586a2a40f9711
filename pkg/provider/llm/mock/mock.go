// Package mock provides a test double for the llm.Provider interface.
//
// Provider replays scripted responses: each StreamCompletion call consumes the
// next entry of Responses (the last entry repeats), which lets tests drive a
// tool loop round by round.
//
//	p := &mock.Provider{Responses: [][]llm.Chunk{
//	    {{FinishReason: llm.FinishToolCalls, ToolCalls: []llm.ToolCall{{ID: "1", Name: "roll"}}}},
//	    {{Text: "You rolled a 4."}, {FinishReason: llm.FinishStop}},
//	}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/talkie/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Responses holds one chunk script per StreamCompletion call.
	Responses [][]llm.Chunk

	// StreamErr, if non-nil, is returned from StreamCompletion.
	StreamErr error

	// Block makes the stream wait for ctx cancellation after sending its
	// chunks instead of closing.
	Block bool

	// Caps is returned by Capabilities.
	Caps llm.Capabilities

	// Requests records every StreamCompletion request in order.
	Requests []llm.CompletionRequest
}

// StreamCompletion records the request and replays the next script.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	req.Messages = append([]llm.Message(nil), req.Messages...)
	p.Requests = append(p.Requests, req)
	if p.StreamErr != nil {
		p.mu.Unlock()
		return nil, p.StreamErr
	}
	var script []llm.Chunk
	if n := len(p.Responses); n > 0 {
		script = p.Responses[min(len(p.Requests)-1, n-1)]
	}
	block := p.Block
	p.mu.Unlock()

	ch := make(chan llm.Chunk, len(script))
	go func() {
		defer close(ch)
		for _, c := range script {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
		if block {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

// Capabilities returns Caps.
func (p *Provider) Capabilities() llm.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Caps
}

// CallCount returns the number of StreamCompletion calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}

// Request returns the i-th recorded request.
func (p *Provider) Request(i int) llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Requests[i]
}
