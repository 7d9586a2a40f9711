package deepgram_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coder/websocket"

	"github.com/MrWong99/talkie/pkg/audio"
	"github.com/MrWong99/talkie/pkg/provider/stt"
	"github.com/MrWong99/talkie/pkg/provider/stt/deepgram"
)

var mono24k = audio.Format{SampleRate: 24000, Channels: 1}

// listener is a fake listen endpoint. It collects the uploaded audio until
// CloseStream, reports it on upload, then plays replies and closes with
// status.
type listener struct {
	replies []any
	status  websocket.StatusCode
	upload  chan received
}

type received struct {
	request *http.Request
	audio   []byte
}

func (l *listener) serve(t *testing.T) string {
	t.Helper()
	l.upload = make(chan received, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		var audio bytes.Buffer
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				audio.Write(data)
				continue
			}
			if strings.Contains(string(data), "CloseStream") {
				break
			}
		}
		l.upload <- received{request: r, audio: audio.Bytes()}
		for _, v := range l.replies {
			data, _ := json.Marshal(v)
			if conn.Write(ctx, websocket.MessageText, data) != nil {
				return
			}
		}
		conn.Close(l.status, "done")
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func result(text string, final bool) map[string]any {
	return map[string]any{
		"type":     "Results",
		"is_final": final,
		"channel": map[string]any{
			"alternatives": []map[string]any{{"transcript": text, "confidence": 0.9}},
		},
	}
}

func TestNew_EmptyKey(t *testing.T) {
	t.Parallel()
	if _, err := deepgram.New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestTranscribe_JoinsFinalResults(t *testing.T) {
	t.Parallel()
	l := &listener{
		replies: []any{
			result("hello", false),
			result("Hello there.", true),
			result("", true),
			result("How are you?", true),
			map[string]any{"type": "Metadata", "duration": 1.5},
		},
		status: websocket.StatusNormalClosure,
	}
	endpoint := l.serve(t)

	p, err := deepgram.New("dg-key",
		deepgram.WithEndpoint(endpoint),
		deepgram.WithModel("nova-2"),
		deepgram.WithOptions(stt.Options{Language: "en-US", Prompt: "Talkie, MCP "}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pcm := bytes.Repeat([]byte{1, 0}, 24000) // 1 s, spans several messages
	got, err := p.Transcribe(context.Background(), pcm, mono24k)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "Hello there. How are you?" {
		t.Errorf("transcript = %q", got)
	}
	up := <-l.upload
	if !bytes.Equal(up.audio, pcm) {
		t.Errorf("server received %d bytes, want %d", len(up.audio), len(pcm))
	}

	r := up.request
	if got := r.Header.Get("Authorization"); got != "Token dg-key" {
		t.Errorf("Authorization = %q", got)
	}
	q := r.URL.Query()
	want := map[string]string{
		"model":       "nova-2",
		"encoding":    "linear16",
		"sample_rate": "24000",
		"channels":    "1",
		"language":    "en-US",
	}
	for k, v := range want {
		if q.Get(k) != v {
			t.Errorf("%s = %q, want %q", k, q.Get(k), v)
		}
	}
	if terms := q["keyterm"]; len(terms) != 2 || terms[0] != "Talkie" || terms[1] != "MCP" {
		t.Errorf("keyterm = %v", terms)
	}
}

func TestTranscribe_DefaultsOmitLanguage(t *testing.T) {
	t.Parallel()
	l := &listener{status: websocket.StatusNormalClosure}
	endpoint := l.serve(t)

	p, _ := deepgram.New("k", deepgram.WithEndpoint(endpoint))
	got, err := p.Transcribe(context.Background(), []byte{0, 0, 0, 0}, mono24k)
	if err != nil || got != "" {
		t.Fatalf("Transcribe = %q, %v; want empty, nil", got, err)
	}
	q := (<-l.upload).request.URL.Query()
	if q.Get("model") != "nova-3" {
		t.Errorf("model = %q, want nova-3", q.Get("model"))
	}
	if q.Has("language") || q.Has("keyterm") {
		t.Errorf("query = %v, want no language or keyterm", q)
	}
}

func TestTranscribe_EmptyAudioSkipsNetwork(t *testing.T) {
	t.Parallel()
	p, _ := deepgram.New("k", deepgram.WithEndpoint("ws://127.0.0.1:1/unreachable"))
	got, err := p.Transcribe(context.Background(), nil, mono24k)
	if err != nil || got != "" {
		t.Errorf("Transcribe(nil) = %q, %v", got, err)
	}
}

func TestTranscribe_ServerRejects(t *testing.T) {
	t.Parallel()
	l := &listener{status: websocket.StatusPolicyViolation}
	endpoint := l.serve(t)

	p, _ := deepgram.New("k", deepgram.WithEndpoint(endpoint))
	if _, err := p.Transcribe(context.Background(), []byte{0, 0}, mono24k); err == nil {
		t.Fatal("expected error when the server closes abnormally")
	}
}

func TestTranscribe_InvalidFormat(t *testing.T) {
	t.Parallel()
	p, _ := deepgram.New("k")
	if _, err := p.Transcribe(context.Background(), []byte{0, 0}, audio.Format{}); err == nil {
		t.Fatal("expected error for a zero format")
	}
}
