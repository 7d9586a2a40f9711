// Package openai provides a TTS provider backed by the OpenAI speech
// endpoint. Each text fragment becomes one request with response_format
// "pcm", whose body is raw 24 kHz mono 16-bit audio streamed as it renders.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/talkie/pkg/audio"
	"github.com/MrWong99/talkie/pkg/provider/tts"
)

const (
	defaultModel = "gpt-4o-mini-tts"
	defaultVoice = "alloy"

	// 100 ms at 24 kHz mono.
	readChunk = 4800
)

// pcmFormat is fixed by the API for response_format=pcm.
var pcmFormat = audio.Format{SampleRate: 24000, Channels: 1}

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithModel selects the speech model (e.g., "tts-1", "gpt-4o-mini-tts").
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = url
	}
}

// Provider implements tts.Provider using the OpenAI API.
type Provider struct {
	client  oai.Client
	model   string
	baseURL string
}

// New creates a Provider authenticated with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	p := &Provider{model: defaultModel}
	for _, o := range opts {
		o(p)
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if p.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(p.baseURL))
	}
	p.client = oai.NewClient(reqOpts...)
	return p, nil
}

// OutputFormat implements tts.Provider.
func (p *Provider) OutputFormat() audio.Format { return pcmFormat }

// SynthesizeStream implements tts.Provider. Fragments are synthesised one at
// a time in arrival order.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (<-chan []byte, error) {
	if voice.ID == "" {
		voice.ID = defaultVoice
	}
	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		for {
			select {
			case fragment, ok := <-text:
				if !ok {
					return
				}
				fragment = strings.TrimSpace(fragment)
				if fragment == "" {
					continue
				}
				if err := p.speak(ctx, fragment, voice, out); err != nil {
					if ctx.Err() == nil {
						slog.Warn("openai tts: synthesis failed", "err", err)
					}
					go audio.Drain(text)
					return
				}
			case <-ctx.Done():
				go audio.Drain(text)
				return
			}
		}
	}()
	return out, nil
}

func (p *Provider) speak(ctx context.Context, input string, voice tts.Voice, out chan<- []byte) error {
	params := oai.AudioSpeechNewParams{
		Input:          input,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(voice.ID),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if voice.Speed != 0 {
		params.Speed = oai.Float(voice.Speed)
	}
	if voice.Instructions != "" {
		params.Instructions = oai.String(voice.Instructions)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return fmt.Errorf("openai tts: speech: %w", err)
	}
	defer resp.Body.Close()

	for {
		buf := make([]byte, readChunk)
		n, err := io.ReadFull(resp.Body, buf)
		if n > 0 {
			select {
			case out <- buf[:n]:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("openai tts: read audio: %w", err)
		}
	}
}
