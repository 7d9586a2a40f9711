// Package coqui synthesises speech with a self-hosted Coqui TTS server.
//
// Two server flavours are supported. The standard server (tts-server,
// ghcr.io/coqui-ai/tts) answers GET /api/tts; the XTTS v2 API server answers
// POST /tts_to_audio/. Both return a whole WAV file per request, so each text
// fragment is fetched, decoded and converted to the configured output format
// before its audio is emitted.
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/talkie/pkg/audio"
	"github.com/MrWong99/talkie/pkg/provider/tts"
)

// Mode selects the server API.
type Mode string

const (
	ModeStandard Mode = "standard"
	ModeXTTS     Mode = "xtts"
)

const (
	// 100 ms at 24 kHz mono.
	chunkBytes = 4800

	// maxWAV bounds a single response.
	maxWAV = 32 << 20
)

var defaultFormat = audio.Format{SampleRate: 24000, Channels: 1}

var _ tts.Provider = (*Provider)(nil)

// Provider is a [tts.Provider] for a Coqui server.
type Provider struct {
	baseURL  string
	mode     Mode
	language string
	format   audio.Format
	client   *http.Client
}

// Option configures a [Provider].
type Option func(*Provider)

// WithMode selects the server API. Unknown modes are rejected by [New].
func WithMode(m Mode) Option {
	return func(p *Provider) {
		if m != "" {
			p.mode = m
		}
	}
}

// WithLanguage sets the language of multilingual models, e.g. "de".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithOutputFormat sets the format the audio is converted to.
func WithOutputFormat(f audio.Format) Option {
	return func(p *Provider) { p.format = f }
}

// WithHTTPClient replaces the default client, which times out after 60s.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// New returns a Provider for the server at baseURL.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("coqui: server URL must not be empty")
	}
	p := &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		mode:    ModeStandard,
		format:  defaultFormat,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	if p.mode != ModeStandard && p.mode != ModeXTTS {
		return nil, fmt.Errorf("coqui: unknown mode %q", p.mode)
	}
	if err := p.format.Validate(); err != nil {
		return nil, fmt.Errorf("coqui: %w", err)
	}
	return p, nil
}

// OutputFormat implements [tts.Provider].
func (p *Provider) OutputFormat() audio.Format { return p.format }

// SynthesizeStream implements [tts.Provider]. voice.ID is the speaker name
// in standard mode and the reference speaker file in XTTS mode; speed and
// instructions are not supported by either server.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (<-chan []byte, error) {
	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		for {
			var fragment string
			select {
			case s, ok := <-text:
				if !ok {
					return
				}
				fragment = strings.TrimSpace(s)
			case <-ctx.Done():
				go audio.Drain(text)
				return
			}
			if fragment == "" {
				continue
			}
			if err := p.speak(ctx, fragment, voice.ID, out); err != nil {
				if ctx.Err() == nil {
					slog.Warn("coqui: synthesis failed", "err", err)
				}
				go audio.Drain(text)
				return
			}
		}
	}()
	return out, nil
}

func (p *Provider) speak(ctx context.Context, fragment, speaker string, out chan<- []byte) error {
	req, err := p.request(ctx, fragment, speaker)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("coqui: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("coqui: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	wav, err := io.ReadAll(io.LimitReader(resp.Body, maxWAV))
	if err != nil {
		return fmt.Errorf("coqui: read audio: %w", err)
	}
	pcm, f, err := audio.DecodeWAV(wav)
	if err != nil {
		return fmt.Errorf("coqui: %w", err)
	}
	pcm = audio.NewConverter(f, p.format).Convert(pcm)

	for len(pcm) > 0 {
		n := min(len(pcm), chunkBytes)
		select {
		case out <- pcm[:n]:
		case <-ctx.Done():
			return ctx.Err()
		}
		pcm = pcm[n:]
	}
	return nil
}

func (p *Provider) request(ctx context.Context, fragment, speaker string) (*http.Request, error) {
	if p.mode == ModeXTTS {
		body, err := json.Marshal(map[string]string{
			"text":        fragment,
			"speaker_wav": speaker,
			"language":    p.language,
		})
		if err != nil {
			return nil, fmt.Errorf("coqui: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/tts_to_audio/", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("coqui: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	q := url.Values{"text": {fragment}}
	if speaker != "" {
		q.Set("speaker_id", speaker)
	}
	if p.language != "" {
		q.Set("language_id", p.language)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tts?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: %w", err)
	}
	return req, nil
}
