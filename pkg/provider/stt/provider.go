// Package stt defines the Provider interface for Speech-to-Text backends.
//
// talkie transcribes whole utterances: the push-to-talk gate already marks
// where speech starts and ends, so a provider receives the finished PCM
// buffer once and returns the recognised text. Implementations upload the
// audio to a hosted API (OpenAI, Deepgram) or to a local whisper.cpp server.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"

	"github.com/MrWong99/talkie/pkg/audio"
)

// Options carries per-request recognition hints.
type Options struct {
	// Language is the BCP-47 language tag (e.g., "en", "de"). Empty lets the
	// provider auto-detect.
	Language string

	// Prompt biases recognition towards expected vocabulary.
	Prompt string
}

// Provider is the abstraction over any batch STT backend.
type Provider interface {
	// Transcribe returns the text spoken in pcm, which holds 16-bit
	// little-endian samples in format f. An empty result with a nil error
	// means nothing intelligible was said.
	Transcribe(ctx context.Context, pcm []byte, f audio.Format) (string, error)
}
