// Package mock provides a test double for the tts.Provider interface.
//
// Provider consumes every text fragment it is given and answers each one with
// the configured audio chunks, so tests can assert both what was spoken and
// what reached the speaker.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/talkie/pkg/audio"
	"github.com/MrWong99/talkie/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// ChunksPerFragment are emitted once for every non-empty fragment.
	ChunksPerFragment [][]byte

	// SynthesizeErr, if non-nil, is returned from SynthesizeStream.
	SynthesizeErr error

	// Format is returned by OutputFormat.
	Format audio.Format

	// Fragments records every text fragment received, across calls.
	Fragments []string

	// Voices records the voice of every SynthesizeStream call.
	Voices []tts.Voice
}

// SynthesizeStream records the call and echoes ChunksPerFragment for each
// fragment until text is closed or ctx is cancelled.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (<-chan []byte, error) {
	p.mu.Lock()
	p.Voices = append(p.Voices, voice)
	err := p.SynthesizeErr
	chunks := p.ChunksPerFragment
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		for {
			select {
			case frag, ok := <-text:
				if !ok {
					return
				}
				p.mu.Lock()
				p.Fragments = append(p.Fragments, frag)
				p.mu.Unlock()
				for _, c := range chunks {
					select {
					case out <- append([]byte(nil), c...):
					case <-ctx.Done():
						go audio.Drain(text)
						return
					}
				}
			case <-ctx.Done():
				go audio.Drain(text)
				return
			}
		}
	}()
	return out, nil
}

// OutputFormat returns Format.
func (p *Provider) OutputFormat() audio.Format {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Format
}

// Spoken returns a copy of all received fragments.
func (p *Provider) Spoken() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Fragments...)
}

// CallCount returns the number of SynthesizeStream calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Voices)
}
