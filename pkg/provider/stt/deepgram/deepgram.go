// Package deepgram transcribes utterances with Deepgram's live
// transcription WebSocket.
//
// The finished utterance is streamed to the socket as raw linear16 audio in
// the device format, followed by a CloseStream message. Deepgram answers
// with Results messages and closes the socket once everything was flushed;
// the final results are joined into the transcript.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/talkie/pkg/audio"
	"github.com/MrWong99/talkie/pkg/provider/stt"
)

const (
	defaultEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel    = "nova-3"

	// chunkBytes is how much audio goes into one binary message.
	chunkBytes = 16 << 10
)

var _ stt.Provider = (*Provider)(nil)

// Provider is an [stt.Provider] backed by Deepgram.
type Provider struct {
	apiKey   string
	model    string
	endpoint string
	opts     stt.Options
}

// Option configures a [Provider].
type Option func(*Provider)

// WithModel selects the model. Empty keeps nova-3.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithEndpoint replaces the listen endpoint. Empty keeps the default.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		if endpoint != "" {
			p.endpoint = endpoint
		}
	}
}

// WithOptions sets the recognition hints. Deepgram has no free-text prompt,
// so Prompt is read as a comma-separated list of key terms.
func WithOptions(o stt.Options) Option {
	return func(p *Provider) { p.opts = o }
}

// New returns a Provider authenticating with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: api key must not be empty")
	}
	p := &Provider{apiKey: apiKey, model: defaultModel, endpoint: defaultEndpoint}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements [stt.Provider].
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, f audio.Format) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}
	if err := f.Validate(); err != nil {
		return "", fmt.Errorf("deepgram: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, p.listenURL(f), &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Token " + p.apiKey}},
	})
	if err != nil {
		return "", fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	var finals []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return upload(gctx, conn, pcm) })
	g.Go(func() error {
		for {
			_, data, err := conn.Read(gctx)
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read: %w", err)
			}
			if text, ok := finalText(data); ok {
				finals = append(finals, text)
			}
		}
	})
	if err := g.Wait(); err != nil {
		return "", fmt.Errorf("deepgram: %w", err)
	}
	return strings.Join(finals, " "), nil
}

func upload(ctx context.Context, conn *websocket.Conn, pcm []byte) error {
	for len(pcm) > 0 {
		n := min(len(pcm), chunkBytes)
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[:n]); err != nil {
			return fmt.Errorf("send audio: %w", err)
		}
		pcm = pcm[n:]
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("close stream: %w", err)
	}
	return nil
}

func (p *Provider) listenURL(f audio.Format) string {
	q := url.Values{
		"model":        {p.model},
		"encoding":     {"linear16"},
		"sample_rate":  {strconv.Itoa(f.SampleRate)},
		"channels":     {strconv.Itoa(f.Channels)},
		"punctuate":    {"true"},
		"smart_format": {"true"},
	}
	if p.opts.Language != "" {
		q.Set("language", p.opts.Language)
	}
	for term := range strings.SplitSeq(p.opts.Prompt, ",") {
		if term = strings.TrimSpace(term); term != "" {
			q.Add("keyterm", term)
		}
	}
	return p.endpoint + "?" + q.Encode()
}

// results is the part of a Results message a batch transcript needs.
type results struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// finalText returns the best alternative of a final Results message.
// Interim results, metadata and empty finals are skipped.
func finalText(data []byte) (string, bool) {
	var r results
	if json.Unmarshal(data, &r) != nil || r.Type != "Results" || !r.IsFinal {
		return "", false
	}
	if len(r.Channel.Alternatives) == 0 {
		return "", false
	}
	text := strings.TrimSpace(r.Channel.Alternatives[0].Transcript)
	return text, text != ""
}
