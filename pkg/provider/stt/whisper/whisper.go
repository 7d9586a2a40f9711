// Package whisper transcribes utterances with a local whisper.cpp server.
//
// whisper-server exposes POST /inference. Each utterance is resampled to
// 16 kHz mono, wrapped in a WAV container and uploaded as multipart form
// data; the server answers {"text": "..."}. Non-speech markers the model
// emits for silence or noise, such as [BLANK_AUDIO], are removed so that an
// empty push-to-talk press yields an empty transcript.
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithOptions(stt.Options{Language: "de"}))
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/MrWong99/talkie/pkg/audio"
	"github.com/MrWong99/talkie/pkg/provider/stt"
)

// uploadFormat is what whisper models are trained on. The server would
// resample anything else itself, but smaller uploads are faster.
var uploadFormat = audio.Format{SampleRate: 16000, Channels: 1}

// markers matches annotations like [BLANK_AUDIO] or [MUSIC PLAYING].
var markers = regexp.MustCompile(`\[[A-Z_ ]+\]`)

var _ stt.Provider = (*Provider)(nil)

// Provider is an [stt.Provider] for a whisper.cpp server.
type Provider struct {
	endpoint string
	model    string
	opts     stt.Options
	client   *http.Client
}

// Option configures a [Provider].
type Option func(*Provider)

// WithModel names the model the server should use. Empty keeps the model
// the server was started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithOptions sets the language and prompt hints. Without a language the
// server auto-detects it.
func WithOptions(o stt.Options) Option {
	return func(p *Provider) { p.opts = o }
}

// WithHTTPClient replaces the default client, which times out after 30s.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// New returns a Provider for the server at baseURL, e.g.
// "http://localhost:8080".
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("whisper: server URL must not be empty")
	}
	p := &Provider{
		endpoint: strings.TrimRight(baseURL, "/") + "/inference",
		client:   &http.Client{Timeout: 30 * time.Second},
	}
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
		return "", fmt.Errorf("whisper: %w", err)
	}
	body, contentType, err := p.form(audio.NewConverter(f, uploadFormat).Convert(pcm))
	if err != nil {
		return "", fmt.Errorf("whisper: build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, body)
	if err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: HTTP %d: %s", resp.StatusCode, serverError(resp.Body))
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("whisper: decode response: %w", err)
	}
	return strings.Join(strings.Fields(markers.ReplaceAllString(out.Text, " ")), " "), nil
}

// form encodes the upload: the WAV file plus the request fields.
func (p *Provider) form(pcm []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	file, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return nil, "", err
	}
	if _, err := file.Write(audio.EncodeWAV(pcm, uploadFormat)); err != nil {
		return nil, "", err
	}

	lang := p.opts.Language
	if lang == "" {
		lang = "auto"
	}
	fields := [][2]string{
		{"response_format", "json"},
		{"language", lang},
		{"model", p.model},
		{"prompt", p.opts.Prompt},
	}
	for _, kv := range fields {
		if kv[1] == "" {
			continue
		}
		if err := mw.WriteField(kv[0], kv[1]); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

// serverError extracts the message of a failed response. whisper-server
// answers errors as {"error": "..."}; anything else is returned verbatim.
func serverError(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 512))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(raw))
}
