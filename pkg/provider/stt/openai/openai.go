// Package openai provides an STT provider backed by the OpenAI audio
// transcription endpoint (whisper-1, gpt-4o-transcribe and compatible
// servers).
package openai

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/talkie/pkg/audio"
	"github.com/MrWong99/talkie/pkg/provider/stt"
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithModel selects the transcription model. Defaults to whisper-1.
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

// WithOptions sets recognition hints sent with every request.
func WithOptions(o stt.Options) Option {
	return func(p *Provider) {
		p.opts = o
	}
}

// Provider implements stt.Provider using the OpenAI API.
type Provider struct {
	client  oai.Client
	model   string
	baseURL string
	opts    stt.Options
}

// New creates a Provider authenticated with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}
	p := &Provider{model: string(oai.AudioModelWhisper1)}
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

// Transcribe implements stt.Provider. The utterance is uploaded as a WAV
// file in its native format.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, f audio.Format) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}
	if err := f.Validate(); err != nil {
		return "", fmt.Errorf("openai stt: %w", err)
	}

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(audio.EncodeWAV(pcm, f)), "utterance.wav", "audio/wav"),
		Model: oai.AudioModel(p.model),
	}
	if p.opts.Language != "" {
		params.Language = oai.String(p.opts.Language)
	}
	if p.opts.Prompt != "" {
		params.Prompt = oai.String(p.opts.Prompt)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai stt: transcribe: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
