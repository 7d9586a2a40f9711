// Package elevenlabs synthesises speech over the ElevenLabs stream-input
// WebSocket. Sentences are written to the socket as the model produces them
// while PCM frames are read back on a second goroutine, so the first
// sentence plays before the reply is complete.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/talkie/pkg/audio"
	"github.com/MrWong99/talkie/pkg/provider/tts"
)

const (
	defaultEndpoint = "wss://api.elevenlabs.io"
	defaultModel    = "eleven_flash_v2_5"
	defaultFormat   = "pcm_24000"

	// Frames carry base64 audio and exceed the library's 32 KiB default.
	readLimit = 1 << 20
)

// errFinished ends the receive side once the server marked the stream final
// or closed it normally.
var errFinished = errors.New("elevenlabs: stream finished")

var _ tts.Provider = (*Provider)(nil)

// Provider is a [tts.Provider] for ElevenLabs.
type Provider struct {
	apiKey     string
	model      string
	format     string
	endpoint   string
	stability  float64
	similarity float64
	pcm        audio.Format
}

// Option configures a [Provider].
type Option func(*Provider)

// WithModel selects the ElevenLabs model. Empty keeps eleven_flash_v2_5.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithOutputFormat selects a raw PCM output such as "pcm_16000".
func WithOutputFormat(format string) Option {
	return func(p *Provider) { p.format = format }
}

// WithEndpoint replaces the WebSocket origin, e.g. for a proxy.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = strings.TrimRight(endpoint, "/") }
}

// WithVoiceSettings overrides stability and similarity boost, both in [0, 1].
func WithVoiceSettings(stability, similarity float64) Option {
	return func(p *Provider) { p.stability, p.similarity = stability, similarity }
}

// New returns a Provider authenticating with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: api key must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		format:     defaultFormat,
		endpoint:   defaultEndpoint,
		stability:  0.5,
		similarity: 0.75,
	}
	for _, o := range opts {
		o(p)
	}
	pcm, err := pcmFormat(p.format)
	if err != nil {
		return nil, err
	}
	p.pcm = pcm
	return p, nil
}

// OutputFormat implements [tts.Provider].
func (p *Provider) OutputFormat() audio.Format { return p.pcm }

// ── wire messages ────────────────────────────────────────────────────────────

type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	Flush         bool           `json:"flush,omitempty"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

type audioResponse struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ── synthesis ────────────────────────────────────────────────────────────────

// SynthesizeStream implements [tts.Provider].
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (<-chan []byte, error) {
	if voice.ID == "" {
		return nil, errors.New("elevenlabs: voice ID must not be empty")
	}
	conn, _, err := websocket.Dial(ctx, p.streamURL(voice.ID), &websocket.DialOptions{
		HTTPHeader: http.Header{"xi-api-key": []string{p.apiKey}},
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	// The opening message carries the settings and a single space of text.
	begin := textMessage{Text: " ", VoiceSettings: &voiceSettings{
		Stability:       p.stability,
		SimilarityBoost: p.similarity,
		Speed:           voice.Speed,
	}}
	if err := send(ctx, conn, begin); err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("elevenlabs: begin stream: %w", err)
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		defer conn.Close(websocket.StatusNormalClosure, "")

		var textDone bool
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			err := forward(gctx, conn, text)
			textDone = err == nil
			return err
		})
		g.Go(func() error { return receive(gctx, conn, out) })

		err := g.Wait()
		if !textDone {
			// Writers block on text until somebody reads it.
			go audio.Drain(text)
		}
		if err != nil && !errors.Is(err, errFinished) && ctx.Err() == nil {
			slog.Warn("elevenlabs: synthesis stopped", "voice", voice.ID, "err", err)
		}
	}()
	return out, nil
}

// forward writes each non-blank fragment and the closing empty text once
// the fragments run out. It returns nil only after text was closed.
func forward(ctx context.Context, conn *websocket.Conn, text <-chan string) error {
	for {
		select {
		case frag, ok := <-text:
			if !ok {
				return send(ctx, conn, textMessage{Text: ""})
			}
			frag = strings.TrimSpace(frag)
			if frag == "" {
				continue
			}
			// The trailing space marks a word boundary; flush starts
			// generation without waiting for more text.
			if err := send(ctx, conn, textMessage{Text: frag + " ", Flush: true}); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// receive decodes audio frames into out until the server finishes.
func receive(ctx context.Context, conn *websocket.Conn, out chan<- []byte) error {
	for {
		_, data, err := conn.Read(ctx)
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			return errFinished
		}
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		var resp audioResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			slog.Debug("elevenlabs: skipping malformed frame", "err", err)
			continue
		}
		if resp.Error != "" {
			return fmt.Errorf("server: %s: %s", resp.Error, resp.Message)
		}
		if resp.Audio != "" {
			pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				slog.Debug("elevenlabs: skipping undecodable audio", "err", err)
				continue
			}
			select {
			case out <- pcm:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if resp.IsFinal {
			return errFinished
		}
	}
}

func send(ctx context.Context, conn *websocket.Conn, msg textMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (p *Provider) streamURL(voiceID string) string {
	q := url.Values{"model_id": {p.model}, "output_format": {p.format}}
	return p.endpoint + "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream-input?" + q.Encode()
}

// pcmFormat maps "pcm_<rate>" to mono 16-bit PCM at that rate.
func pcmFormat(s string) (audio.Format, error) {
	rate, ok := strings.CutPrefix(s, "pcm_")
	if !ok {
		return audio.Format{}, fmt.Errorf("elevenlabs: output format %q is not raw PCM", s)
	}
	n, err := strconv.Atoi(rate)
	if err != nil || n <= 0 {
		return audio.Format{}, fmt.Errorf("elevenlabs: bad sample rate in output format %q", s)
	}
	return audio.Format{SampleRate: n, Channels: 1}, nil
}
