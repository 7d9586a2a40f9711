package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/talkie/pkg/audio"
	"github.com/MrWong99/talkie/pkg/provider/llm"
)

var _ llm.Provider = (*LLM)(nil)

// errEmptyStream marks a stream that closed without producing anything.
var errEmptyStream = errors.New("resilience: stream closed without output")

// LLM is an [llm.Provider] that fails over across a [Chain] of providers.
//
// A stream counts as established once its first chunk arrives without an
// error, so backends that report connection failures in-band are failed over
// too. Errors after the first chunk are passed to the caller unchanged.
type LLM struct {
	chain *Chain[llm.Provider]
}

// NewLLM wraps chain.
func NewLLM(chain *Chain[llm.Provider]) *LLM {
	return &LLM{chain: chain}
}

// StreamCompletion opens a stream on the first healthy provider.
func (f *LLM) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return Try(ctx, f.chain, func(p llm.Provider) (<-chan llm.Chunk, error) {
		ch, err := p.StreamCompletion(ctx, req)
		if err != nil {
			return nil, err
		}
		var first llm.Chunk
		var ok bool
		select {
		case first, ok = <-ch:
		case <-ctx.Done():
			go audio.Drain(ch)
			return nil, ctx.Err()
		}
		if !ok {
			return nil, errEmptyStream
		}
		if first.Err != nil {
			go audio.Drain(ch)
			return nil, first.Err
		}
		return prepend(first, ch), nil
	})
}

// Capabilities reports the primary's capabilities.
func (f *LLM) Capabilities() llm.Capabilities {
	return f.chain.Primary().Capabilities()
}

func prepend(first llm.Chunk, rest <-chan llm.Chunk) <-chan llm.Chunk {
	out := make(chan llm.Chunk, 1)
	out <- first
	go func() {
		defer close(out)
		for c := range rest {
			out <- c
		}
	}()
	return out
}
