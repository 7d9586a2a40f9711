package openai_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/talkie/pkg/provider/llm"
	"github.com/MrWong99/talkie/pkg/provider/s2s"
	"github.com/MrWong99/talkie/pkg/provider/s2s/openai"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// fakeRealtime is a scripted realtime endpoint. Every client message is
// decoded onto recv; values pushed to send are written to the client; closing
// hangup makes the server drop the connection abnormally.
type fakeRealtime struct {
	srv     *httptest.Server
	recv    chan map[string]any
	send    chan any
	hangup  chan struct{}
	request chan *http.Request
}

func newFakeRealtime(t *testing.T) *fakeRealtime {
	t.Helper()
	f := &fakeRealtime{
		recv:    make(chan map[string]any, 64),
		send:    make(chan any, 64),
		hangup:  make(chan struct{}),
		request: make(chan *http.Request, 1),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		f.request <- r

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go func() {
			defer cancel()
			for {
				_, data, err := conn.Read(ctx)
				if err != nil {
					return
				}
				var msg map[string]any
				if json.Unmarshal(data, &msg) == nil {
					f.recv <- msg
				}
			}
		}()
		for {
			select {
			case v := <-f.send:
				data, _ := json.Marshal(v)
				if conn.Write(ctx, websocket.MessageText, data) != nil {
					return
				}
			case <-f.hangup:
				return
			case <-ctx.Done():
				return
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeRealtime) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

// next returns the next client message, failing after 3 s.
func (f *fakeRealtime) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case m := <-f.recv:
		return m
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for client message")
		return nil
	}
}

func connect(t *testing.T, f *fakeRealtime, cfg s2s.SessionConfig) s2s.SessionHandle {
	t.Helper()
	p, err := openai.New("sk-test", openai.WithBaseURL(f.url()), openai.WithModel("gpt-realtime"))
	if err != nil {
		t.Fatal(err)
	}
	h, err := p.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func nextEvent(t *testing.T, h s2s.SessionHandle) s2s.Event {
	t.Helper()
	select {
	case ev, ok := <-h.Events():
		if !ok {
			t.Fatal("events closed unexpectedly")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
		return s2s.Event{}
	}
}

func waitClosed(t *testing.T, h s2s.SessionHandle) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-h.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("events not closed")
		}
	}
}

// ── Construction ──────────────────────────────────────────────────────────────

func TestNew_EmptyKey(t *testing.T) {
	t.Parallel()
	if _, err := openai.New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestAudioFormat(t *testing.T) {
	t.Parallel()
	p, _ := openai.New("sk-test")
	if f := p.AudioFormat(); f.SampleRate != 24000 || f.Channels != 1 {
		t.Errorf("AudioFormat = %v, want 24000Hz mono", f)
	}
}

// ── Session setup ─────────────────────────────────────────────────────────────

func TestConnect_SendsPushToTalkSessionUpdate(t *testing.T) {
	t.Parallel()
	f := newFakeRealtime(t)
	connect(t, f, s2s.SessionConfig{
		Voice:              "verse",
		Instructions:       "You are terse.",
		Tools:              []llm.ToolDefinition{{Name: "roll_dice", Description: "Roll dice"}},
		TranscriptionModel: "whisper-1",
	})

	r := <-f.request
	if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
		t.Errorf("Authorization = %q", got)
	}
	if got := r.URL.Query().Get("model"); got != "gpt-realtime" {
		t.Errorf("model = %q", got)
	}

	msg := f.next(t)
	if msg["type"] != "session.update" {
		t.Fatalf("first message type = %v, want session.update", msg["type"])
	}
	sess := msg["session"].(map[string]any)
	td, present := sess["turn_detection"]
	if !present || td != nil {
		t.Errorf("turn_detection = %v (present=%v), want explicit null", td, present)
	}
	if sess["voice"] != "verse" || sess["instructions"] != "You are terse." {
		t.Errorf("session = %v", sess)
	}
	if sess["input_audio_format"] != "pcm16" || sess["output_audio_format"] != "pcm16" {
		t.Errorf("audio formats = %v / %v", sess["input_audio_format"], sess["output_audio_format"])
	}
	tools := sess["tools"].([]any)
	if len(tools) != 1 || tools[0].(map[string]any)["name"] != "roll_dice" {
		t.Errorf("tools = %v", tools)
	}
	if tr := sess["input_audio_transcription"].(map[string]any); tr["model"] != "whisper-1" {
		t.Errorf("transcription = %v", tr)
	}
}

func TestConnect_ServerVAD(t *testing.T) {
	t.Parallel()
	f := newFakeRealtime(t)
	connect(t, f, s2s.SessionConfig{ServerVAD: true})

	sess := f.next(t)["session"].(map[string]any)
	td, ok := sess["turn_detection"].(map[string]any)
	if !ok || td["type"] != "server_vad" {
		t.Errorf("turn_detection = %v, want server_vad", sess["turn_detection"])
	}
	if _, ok := sess["input_audio_transcription"]; ok {
		t.Error("transcription must be omitted without a model")
	}
}

func TestConnect_CancelledContext(t *testing.T) {
	t.Parallel()
	f := newFakeRealtime(t)
	p, _ := openai.New("sk-test", openai.WithBaseURL(f.url()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Connect(ctx, s2s.SessionConfig{}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

// ── Input ─────────────────────────────────────────────────────────────────────

func TestSendAudioAndCommit(t *testing.T) {
	t.Parallel()
	f := newFakeRealtime(t)
	h := connect(t, f, s2s.SessionConfig{})
	f.next(t) // session.update

	pcm := []byte{1, 2, 3, 4}
	if err := h.SendAudio(context.Background(), pcm); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	msg := f.next(t)
	if msg["type"] != "input_audio_buffer.append" {
		t.Fatalf("type = %v", msg["type"])
	}
	if got, _ := base64.StdEncoding.DecodeString(msg["audio"].(string)); string(got) != string(pcm) {
		t.Errorf("audio = %v, want %v", got, pcm)
	}

	if err := h.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if typ := f.next(t)["type"]; typ != "input_audio_buffer.commit" {
		t.Errorf("type = %v, want input_audio_buffer.commit", typ)
	}
	if typ := f.next(t)["type"]; typ != "response.create" {
		t.Errorf("type = %v, want response.create", typ)
	}
}

func TestInterrupt_OnlyWhileResponding(t *testing.T) {
	t.Parallel()
	f := newFakeRealtime(t)
	h := connect(t, f, s2s.SessionConfig{})
	f.next(t)

	// No response yet: nothing is sent.
	if err := h.Interrupt(context.Background()); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}

	f.send <- map[string]string{"type": "response.created"}
	f.send <- map[string]string{"type": "response.audio_transcript.delta", "delta": "x"}
	nextEvent(t, h) // the delta is delivered after response.created was handled

	if err := h.Interrupt(context.Background()); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}
	if typ := f.next(t)["type"]; typ != "response.cancel" {
		t.Errorf("type = %v, want response.cancel", typ)
	}
}

// ── Output ────────────────────────────────────────────────────────────────────

func TestEvents_Ordered(t *testing.T) {
	t.Parallel()
	f := newFakeRealtime(t)
	h := connect(t, f, s2s.SessionConfig{})
	f.next(t)

	pcm := []byte{10, 0, 20, 0}
	f.send <- map[string]string{"type": "input_audio_buffer.speech_started"}
	f.send <- map[string]string{"type": "conversation.item.input_audio_transcription.completed", "transcript": "hello"}
	f.send <- map[string]string{"type": "response.created"}
	f.send <- map[string]string{"type": "response.audio_transcript.delta", "delta": "Hi "}
	f.send <- map[string]string{"type": "response.audio.delta", "delta": base64.StdEncoding.EncodeToString(pcm)}
	f.send <- map[string]string{"type": "response.output_audio.delta", "delta": base64.StdEncoding.EncodeToString(pcm)}
	f.send <- map[string]any{"type": "error", "error": map[string]string{"message": "ignored"}}
	f.send <- map[string]string{"type": "response.done"}

	want := []s2s.EventType{
		s2s.EventSpeechStarted,
		s2s.EventInputTranscript,
		s2s.EventResponseText,
		s2s.EventAudio,
		s2s.EventAudio,
		s2s.EventResponseDone,
	}
	for i, typ := range want {
		ev := nextEvent(t, h)
		if ev.Type != typ {
			t.Fatalf("event %d = %v, want %v", i, ev.Type, typ)
		}
		switch ev.Type {
		case s2s.EventInputTranscript:
			if ev.Text != "hello" {
				t.Errorf("transcript = %q", ev.Text)
			}
		case s2s.EventResponseText:
			if ev.Text != "Hi " {
				t.Errorf("text = %q", ev.Text)
			}
		case s2s.EventAudio:
			if string(ev.Audio) != string(pcm) {
				t.Errorf("audio = %v", ev.Audio)
			}
		}
	}
}

func TestToolCall_RoutedToHandler(t *testing.T) {
	t.Parallel()
	f := newFakeRealtime(t)
	h := connect(t, f, s2s.SessionConfig{})
	f.next(t)

	gotArgs := make(chan string, 1)
	h.OnToolCall(func(_ context.Context, name, args string) (string, error) {
		if name != "roll_dice" {
			return "", errors.New("unexpected tool " + name)
		}
		gotArgs <- args
		return `{"result":17}`, nil
	})
	f.send <- map[string]string{
		"type": "response.function_call_arguments.done", "name": "roll_dice",
		"arguments": `{"sides":20}`, "call_id": "call_1",
	}

	select {
	case a := <-gotArgs:
		if a != `{"sides":20}` {
			t.Errorf("args = %q", a)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("handler not called")
	}
	item := f.next(t)
	if item["type"] != "conversation.item.create" {
		t.Fatalf("type = %v", item["type"])
	}
	body := item["item"].(map[string]any)
	if body["type"] != "function_call_output" || body["call_id"] != "call_1" || body["output"] != `{"result":17}` {
		t.Errorf("item = %v", body)
	}
	if typ := f.next(t)["type"]; typ != "response.create" {
		t.Errorf("type = %v, want response.create", typ)
	}
}

func TestToolCall_NoHandlerReportsError(t *testing.T) {
	t.Parallel()
	f := newFakeRealtime(t)
	connect(t, f, s2s.SessionConfig{})
	f.next(t)

	f.send <- map[string]string{"type": "response.function_call_arguments.done", "name": "lookup", "call_id": "c9"}
	body := f.next(t)["item"].(map[string]any)
	if !strings.Contains(body["output"].(string), `"error"`) {
		t.Errorf("output = %v, want error object", body["output"])
	}
}

// ── Lifecycle ─────────────────────────────────────────────────────────────────

func TestServerHangup_SetsErr(t *testing.T) {
	t.Parallel()
	f := newFakeRealtime(t)
	h := connect(t, f, s2s.SessionConfig{})
	f.next(t)

	close(f.hangup)
	waitClosed(t, h)
	if h.Err() == nil {
		t.Fatal("Err() = nil after abnormal hangup")
	}
}

func TestClose_Clean(t *testing.T) {
	t.Parallel()
	f := newFakeRealtime(t)
	h := connect(t, f, s2s.SessionConfig{})
	f.next(t)

	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	waitClosed(t, h)
	if err := h.Err(); err != nil {
		t.Errorf("Err() = %v after Close, want nil", err)
	}
	if err := h.SendAudio(context.Background(), []byte{0, 0}); !errors.Is(err, openai.ErrSessionClosed) {
		t.Errorf("SendAudio after Close = %v, want ErrSessionClosed", err)
	}
	if err := h.Commit(context.Background()); !errors.Is(err, openai.ErrSessionClosed) {
		t.Errorf("Commit after Close = %v, want ErrSessionClosed", err)
	}
}
