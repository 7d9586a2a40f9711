// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (OpenAI speech, ElevenLabs,
// a local Coqui server) behind a streaming interface: SynthesizeStream
// consumes text fragments, usually whole sentences, and emits raw PCM as it
// is produced, so playback of the first sentence can begin while the model is
// still writing the rest.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/talkie/pkg/audio"
)

// Voice selects and shapes the synthesised voice.
type Voice struct {
	// ID is the provider-specific voice identifier (e.g., "alloy").
	ID string

	// Speed scales the speaking rate. Zero means the provider default.
	Speed float64

	// Instructions steers tone and delivery on models that accept it.
	Instructions string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes text fragments until text is closed and
	// returns a channel of 16-bit PCM chunks in [Provider.OutputFormat].
	//
	// The audio channel is closed when all text has been spoken or ctx is
	// cancelled; callers must drain it. Errors during synthesis end the
	// stream early and are logged by the implementation. A non-nil error is
	// returned only when the stream cannot be started.
	SynthesizeStream(ctx context.Context, text <-chan string, voice Voice) (<-chan []byte, error)

	// OutputFormat reports the PCM format of the emitted audio.
	OutputFormat() audio.Format
}
