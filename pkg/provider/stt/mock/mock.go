// Package mock provides a test double for the stt.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/talkie/pkg/audio"
	"github.com/MrWong99/talkie/pkg/provider/stt"
)

var _ stt.Provider = (*Provider)(nil)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// PCM is a copy of the uploaded audio.
	PCM    []byte
	Format audio.Format
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Text is returned by every Transcribe call.
	Text string

	// Err, if non-nil, is returned by Transcribe.
	Err error

	// Calls records every Transcribe invocation.
	Calls []TranscribeCall
}

// Transcribe records the call and returns Text, Err.
func (p *Provider) Transcribe(_ context.Context, pcm []byte, f audio.Format) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, TranscribeCall{PCM: append([]byte(nil), pcm...), Format: f})
	if p.Err != nil {
		return "", p.Err
	}
	return p.Text, nil
}

// CallCount returns the number of Transcribe calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastCall returns the most recent call. It panics when there is none.
func (p *Provider) LastCall() TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Calls[len(p.Calls)-1]
}
