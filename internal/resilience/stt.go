package resilience

import (
	"context"

	"github.com/MrWong99/talkie/pkg/audio"
	"github.com/MrWong99/talkie/pkg/provider/stt"
)

var _ stt.Provider = (*STT)(nil)

// STT is an [stt.Provider] that fails over across a [Chain] of providers.
type STT struct {
	chain *Chain[stt.Provider]
}

// NewSTT wraps chain.
func NewSTT(chain *Chain[stt.Provider]) *STT {
	return &STT{chain: chain}
}

// Transcribe uploads pcm to the first healthy provider.
func (f *STT) Transcribe(ctx context.Context, pcm []byte, format audio.Format) (string, error) {
	return Try(ctx, f.chain, func(p stt.Provider) (string, error) {
		return p.Transcribe(ctx, pcm, format)
	})
}
