// Package openai connects speech-to-speech sessions to the OpenAI Realtime
// API.
//
// A session is one WebSocket of JSON events with base64 PCM16 audio at
// 24 kHz mono in both directions. Server-side turn detection is off unless
// the session asks for it: push-to-talk appends audio while the key is held
// and sends input_audio_buffer.commit plus response.create on release.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/coder/websocket"

	"github.com/MrWong99/talkie/pkg/audio"
	"github.com/MrWong99/talkie/pkg/provider/s2s"
)

const (
	defaultModel    = "gpt-4o-realtime-preview"
	defaultEndpoint = "wss://api.openai.com/v1/realtime"

	// Audio deltas exceed the library's 32 KiB default frame limit.
	readLimit = 4 << 20
)

// ErrSessionClosed is returned by session methods after Close.
var ErrSessionClosed = errors.New("openai realtime: session closed")

// wireFormat is the only format the pcm16 audio type allows.
var wireFormat = audio.Format{SampleRate: 24000, Channels: 1}

var _ s2s.Provider = (*Provider)(nil)

// Provider opens realtime sessions.
type Provider struct {
	apiKey   string
	model    string
	endpoint string
}

// Option configures a [Provider].
type Option func(*Provider)

// WithModel selects the realtime model. Empty keeps the default.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL replaces the WebSocket endpoint. Empty keeps the default.
func WithBaseURL(endpoint string) Option {
	return func(p *Provider) {
		if endpoint != "" {
			p.endpoint = endpoint
		}
	}
}

// New returns a Provider authenticating with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai realtime: api key must not be empty")
	}
	p := &Provider{apiKey: apiKey, model: defaultModel, endpoint: defaultEndpoint}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// AudioFormat implements [s2s.Provider].
func (p *Provider) AudioFormat() audio.Format { return wireFormat }

// Connect dials the endpoint and sends the session configuration. ctx only
// bounds the handshake; the session lives until Close.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	conn, _, err := websocket.Dial(ctx, p.endpoint+"?"+url.Values{"model": {p.model}}.Encode(), &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": {"Bearer " + p.apiKey},
			"OpenAI-Beta":   {"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai realtime: dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	s := newSession(conn)
	if err := s.write(ctx, configure(cfg)); err != nil {
		s.cancel()
		conn.CloseNow()
		return nil, fmt.Errorf("openai realtime: configure session: %w", err)
	}
	go s.receive()
	return s, nil
}
