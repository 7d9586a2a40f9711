package coqui_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/MrWong99/talkie/pkg/audio"
	"github.com/MrWong99/talkie/pkg/provider/tts"
	"github.com/MrWong99/talkie/pkg/provider/tts/coqui"
)

// coquiServer answers both APIs with one second of silence at rate, or with
// status when it is not 200.
type coquiServer struct {
	*httptest.Server

	mu      sync.Mutex
	queries []url.Values
	bodies  []map[string]string
}

func newCoquiServer(t *testing.T, rate, status int) *coquiServer {
	t.Helper()
	s := &coquiServer{}
	wav := audio.EncodeWAV(make([]byte, 2*rate), audio.Format{SampleRate: rate, Channels: 1})
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/tts":
			s.queries = append(s.queries, r.URL.Query())
		case r.Method == http.MethodPost && r.URL.Path == "/tts_to_audio/":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			s.bodies = append(s.bodies, body)
		default:
			s.mu.Unlock()
			http.NotFound(w, r)
			return
		}
		s.mu.Unlock()
		if status != http.StatusOK {
			http.Error(w, "model not loaded", status)
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wav)
	}))
	t.Cleanup(s.Close)
	return s
}

func feed(fragments ...string) <-chan string {
	ch := make(chan string, len(fragments))
	for _, f := range fragments {
		ch <- f
	}
	close(ch)
	return ch
}

func collect(ch <-chan []byte) int {
	n := 0
	for c := range ch {
		n += len(c)
	}
	return n
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		baseURL string
		opts    []coqui.Option
	}{
		{name: "empty url"},
		{name: "unknown mode", baseURL: "http://x", opts: []coqui.Option{coqui.WithMode("vits")}},
		{name: "bad format", baseURL: "http://x", opts: []coqui.Option{coqui.WithOutputFormat(audio.Format{SampleRate: 16000})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := coqui.New(tt.baseURL, tt.opts...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSynthesizeStream_Standard(t *testing.T) {
	t.Parallel()
	srv := newCoquiServer(t, 22050, http.StatusOK)
	p, err := coqui.New(srv.URL+"/", coqui.WithLanguage("de"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if f := p.OutputFormat(); f != (audio.Format{SampleRate: 24000, Channels: 1}) {
		t.Errorf("OutputFormat = %v", f)
	}

	ch, err := p.SynthesizeStream(context.Background(), feed("Hallo.", "  ", "Wie geht's?"), tts.Voice{ID: "p225"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	// Two fragments of one second each, resampled from 22.05 kHz to 24 kHz.
	got := collect(ch)
	if want := 2 * 2 * 24000; got < want-8 || got > want+8 {
		t.Errorf("audio bytes = %d, want about %d", got, want)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.queries) != 2 {
		t.Fatalf("requests = %d, want 2 (blank fragment skipped)", len(srv.queries))
	}
	q := srv.queries[1]
	if q.Get("text") != "Wie geht's?" || q.Get("speaker_id") != "p225" || q.Get("language_id") != "de" {
		t.Errorf("query = %v", q)
	}
}

func TestSynthesizeStream_XTTS(t *testing.T) {
	t.Parallel()
	srv := newCoquiServer(t, 24000, http.StatusOK)
	p, _ := coqui.New(srv.URL, coqui.WithMode(coqui.ModeXTTS), coqui.WithLanguage("en"))

	ch, _ := p.SynthesizeStream(context.Background(), feed("Hello."), tts.Voice{ID: "calm_female"})
	if got := collect(ch); got != 2*24000 {
		t.Errorf("audio bytes = %d, want %d", got, 2*24000)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.bodies) != 1 {
		t.Fatalf("requests = %d, want 1", len(srv.bodies))
	}
	want := map[string]string{"text": "Hello.", "speaker_wav": "calm_female", "language": "en"}
	for k, v := range want {
		if srv.bodies[0][k] != v {
			t.Errorf("%s = %q, want %q", k, srv.bodies[0][k], v)
		}
	}
}

func TestSynthesizeStream_ServerErrorEndsStream(t *testing.T) {
	t.Parallel()
	srv := newCoquiServer(t, 24000, http.StatusInternalServerError)
	p, _ := coqui.New(srv.URL)

	text := make(chan string, 1)
	text <- "First."
	ch, _ := p.SynthesizeStream(context.Background(), text, tts.Voice{})
	if got := collect(ch); got != 0 {
		t.Errorf("audio bytes = %d, want 0", got)
	}
	// The producer must not block on a stream that ended early.
	text <- "Second."
	close(text)
}

func TestSynthesizeStream_CancelledContext(t *testing.T) {
	t.Parallel()
	srv := newCoquiServer(t, 24000, http.StatusOK)
	p, _ := coqui.New(srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ch, _ := p.SynthesizeStream(ctx, make(chan string), tts.Voice{})
	if got := collect(ch); got != 0 {
		t.Errorf("audio bytes = %d, want 0", got)
	}
}
