package realtime_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/talkie/internal/pipeline/realtime"
	"github.com/MrWong99/talkie/pkg/audio"
	"github.com/MrWong99/talkie/pkg/pipeline"
	"github.com/MrWong99/talkie/pkg/provider/llm"
	"github.com/MrWong99/talkie/pkg/provider/s2s"
	s2smock "github.com/MrWong99/talkie/pkg/provider/s2s/mock"
)

var (
	deviceFormat   = audio.Format{SampleRate: 48000, Channels: 1}
	providerFormat = audio.Format{SampleRate: 24000, Channels: 1}
)

// fakeTools records its lifecycle.
type fakeTools struct {
	mu     sync.Mutex
	closes int
	calls  []string
}

func (f *fakeTools) Tools() []llm.ToolDefinition {
	return []llm.ToolDefinition{{Name: "lookup"}}
}

func (f *fakeTools) Execute(_ context.Context, name, args string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name+" "+args)
	return "found", nil
}

func (f *fakeTools) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeTools) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func opener(ts *fakeTools) realtime.ToolOpener {
	return func(context.Context) (realtime.ToolSet, error) { return ts, nil }
}

func open(t *testing.T, p *s2smock.Provider, opts ...realtime.Option) pipeline.Session {
	t.Helper()
	a, err := realtime.New(p, s2s.SessionConfig{Voice: "alloy", Instructions: "hi"}, deviceFormat, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sess, err := a.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func next(t *testing.T, sess pipeline.Session) pipeline.Event {
	t.Helper()
	select {
	case ev, ok := <-sess.Events():
		if !ok {
			t.Fatal("events closed")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
		return pipeline.Event{}
	}
}

func waitClosed(t *testing.T, sess pipeline.Session) {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-sess.Events():
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("events not closed")
		}
	}
}

// ─── construction ────────────────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := realtime.New(nil, s2s.SessionConfig{}, deviceFormat); err == nil {
		t.Error("expected error for nil provider")
	}
	if _, err := realtime.New(&s2smock.Provider{}, s2s.SessionConfig{}, audio.Format{Channels: 1}); err == nil {
		t.Error("expected error for invalid format")
	}
}

// ─── open / close ────────────────────────────────────────────────────────────

func TestOpen_DeclaresToolsAndRoutesCalls(t *testing.T) {
	t.Parallel()
	ts := &fakeTools{}
	p := &s2smock.Provider{Format: providerFormat}
	open(t, p, realtime.WithTools(opener(ts)))

	cfg := p.Configs[0]
	if cfg.Voice != "alloy" || len(cfg.Tools) != 1 || cfg.Tools[0].Name != "lookup" {
		t.Errorf("session config = %+v", cfg)
	}
	out, err := p.Session.CallTool(context.Background(), "lookup", `{"q":"x"}`)
	if err != nil || out != "found" {
		t.Errorf("CallTool = %q, %v", out, err)
	}
}

func TestOpen_ToolFailure(t *testing.T) {
	t.Parallel()
	p := &s2smock.Provider{Format: providerFormat}
	a, _ := realtime.New(p, s2s.SessionConfig{}, deviceFormat, realtime.WithTools(
		func(context.Context) (realtime.ToolSet, error) { return nil, errors.New("no server") },
	))
	if _, err := a.Open(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if p.ConnectCount() != 0 {
		t.Error("provider connected although tools failed")
	}
}

func TestOpen_ConnectFailureReleasesTools(t *testing.T) {
	t.Parallel()
	ts := &fakeTools{}
	p := &s2smock.Provider{Format: providerFormat, ConnectErr: errors.New("401")}
	a, _ := realtime.New(p, s2s.SessionConfig{}, deviceFormat, realtime.WithTools(opener(ts)))

	if _, err := a.Open(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if n := ts.closeCount(); n != 1 {
		t.Errorf("tool closes = %d, want 1", n)
	}
}

func TestClose_ReleasesOnce(t *testing.T) {
	t.Parallel()
	ts := &fakeTools{}
	p := &s2smock.Provider{Format: providerFormat}
	sess := open(t, p, realtime.WithTools(opener(ts)))

	for i := 0; i < 3; i++ {
		if err := sess.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	waitClosed(t, sess)
	if n := ts.closeCount(); n != 1 {
		t.Errorf("tool closes = %d, want 1", n)
	}
	if n := p.Session.CloseCount(); n != 1 {
		t.Errorf("provider session closes = %d, want 1", n)
	}
	if err := sess.Err(); err != nil {
		t.Errorf("Err after Close = %v, want nil", err)
	}
	if err := sess.Send(context.Background(), make([]int16, 10)); !errors.Is(err, pipeline.ErrSessionClosed) {
		t.Errorf("Send after Close = %v, want ErrSessionClosed", err)
	}
}

func TestClose_AfterProviderError(t *testing.T) {
	t.Parallel()
	ts := &fakeTools{}
	p := &s2smock.Provider{Format: providerFormat}
	sess := open(t, p, realtime.WithTools(opener(ts)))

	p.Session.Fail(errors.New("connection lost"))
	waitClosed(t, sess)
	if err := sess.Err(); err == nil {
		t.Fatal("Err() = nil after provider failure")
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := ts.closeCount(); n != 1 {
		t.Errorf("tool closes = %d, want 1", n)
	}
}

// ─── audio and events ────────────────────────────────────────────────────────

func TestSend_ConvertsToProviderFormat(t *testing.T) {
	t.Parallel()
	p := &s2smock.Provider{Format: providerFormat}
	sess := open(t, p)

	// 20 ms at 48 kHz = 960 samples → 480 samples at 24 kHz.
	if err := sess.Send(context.Background(), make([]int16, 960)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n := p.Session.SentBytes(); n != 960 {
		t.Errorf("sent bytes = %d, want 960", n)
	}
}

func TestCommitAndInterrupt(t *testing.T) {
	t.Parallel()
	p := &s2smock.Provider{Format: providerFormat}
	sess := open(t, p)

	if err := sess.(pipeline.Committer).Commit(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := sess.(pipeline.Interrupter).Interrupt(context.Background()); err != nil {
		t.Fatal(err)
	}
	if p.Session.Commits() != 1 || p.Session.Interrupts() != 1 {
		t.Errorf("commits = %d, interrupts = %d", p.Session.Commits(), p.Session.Interrupts())
	}
}

func TestEvents_Translated(t *testing.T) {
	t.Parallel()
	p := &s2smock.Provider{Format: providerFormat}
	sess := open(t, p)

	p.Session.Emit(s2s.Event{Type: s2s.EventSpeechStarted})
	p.Session.Emit(s2s.Event{Type: s2s.EventInputTranscript, Text: "hello"})
	p.Session.Emit(s2s.Event{Type: s2s.EventAudio, Audio: make([]byte, 480)})
	p.Session.Emit(s2s.Event{Type: s2s.EventAudio, Audio: nil})
	p.Session.Emit(s2s.Event{Type: s2s.EventResponseText, Text: "Hi!"})
	p.Session.Emit(s2s.Event{Type: s2s.EventResponseDone})

	want := []pipeline.EventKind{
		pipeline.EventTurnStart,
		pipeline.EventTranscript,
		pipeline.EventAudio,
		pipeline.EventText,
		pipeline.EventTurnEnd,
	}
	for i, k := range want {
		ev := next(t, sess)
		if ev.Kind != k {
			t.Fatalf("event %d = %v, want %v", i, ev.Kind, k)
		}
		switch ev.Kind {
		case pipeline.EventAudio:
			// 240 samples at 24 kHz → 480 samples at 48 kHz.
			if len(ev.Audio) != 960 {
				t.Errorf("audio = %d bytes, want 960", len(ev.Audio))
			}
		case pipeline.EventTranscript:
			if ev.Text != "hello" {
				t.Errorf("transcript = %q", ev.Text)
			}
		case pipeline.EventText:
			if ev.Text != "Hi!" {
				t.Errorf("text = %q", ev.Text)
			}
		}
	}
}
