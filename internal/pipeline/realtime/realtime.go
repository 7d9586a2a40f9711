// Package realtime implements the streaming [pipeline.Duplex] on top of an
// [s2s.Provider].
//
// Open connects the external tool service first, then the speech-to-speech
// session with the tools declared on it, and wires tool calls back to the
// tool service. The returned [pipeline.Session] converts captured audio from
// the device format to the provider format and synthesised audio back, and
// translates provider events into pipeline events:
//
//	s2s.EventAudio           → pipeline.EventAudio
//	s2s.EventResponseText    → pipeline.EventText
//	s2s.EventInputTranscript → pipeline.EventTranscript
//	s2s.EventSpeechStarted   → pipeline.EventTurnStart
//	s2s.EventResponseDone    → pipeline.EventTurnEnd
//
// The session also implements [pipeline.Committer] and
// [pipeline.Interrupter], so push-to-talk releases end the user turn and new
// utterances cancel the response in progress.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/talkie/pkg/audio"
	"github.com/MrWong99/talkie/pkg/pipeline"
	"github.com/MrWong99/talkie/pkg/provider/llm"
	"github.com/MrWong99/talkie/pkg/provider/s2s"
)

var (
	_ pipeline.Duplex      = (*Adapter)(nil)
	_ pipeline.Session     = (*session)(nil)
	_ pipeline.Committer   = (*session)(nil)
	_ pipeline.Interrupter = (*session)(nil)
)

// eventBuf is the depth of the session's event channel.
const eventBuf = 64

// ToolSet is the external tool service of one session. [bridge.Bridge]
// satisfies it.
type ToolSet interface {
	Tools() []llm.ToolDefinition
	Execute(ctx context.Context, name, args string) (string, error)
	Close() error
}

// ToolOpener connects the tool service for a new session.
type ToolOpener func(ctx context.Context) (ToolSet, error)

// Option is a functional option for configuring an Adapter.
type Option func(*Adapter)

// WithTools makes every Open connect a tool service with open and release it
// on Close.
func WithTools(open ToolOpener) Option {
	return func(a *Adapter) { a.openTools = open }
}

// Adapter opens realtime sessions.
type Adapter struct {
	provider  s2s.Provider
	cfg       s2s.SessionConfig
	format    audio.Format
	openTools ToolOpener
}

// New creates an Adapter. cfg is used for every session; its Tools are
// extended with the tool service's tools. format is the device format.
func New(provider s2s.Provider, cfg s2s.SessionConfig, format audio.Format, opts ...Option) (*Adapter, error) {
	if provider == nil {
		return nil, errors.New("realtime: provider is required")
	}
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("realtime: %w", err)
	}
	a := &Adapter{provider: provider, cfg: cfg, format: format}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Open connects the tool service and the provider session. On failure
// whatever was connected is released before Open returns.
func (a *Adapter) Open(ctx context.Context) (pipeline.Session, error) {
	var tools ToolSet
	cfg := a.cfg
	if a.openTools != nil {
		ts, err := a.openTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("realtime: connect tools: %w", err)
		}
		tools = ts
		cfg.Tools = append(append([]llm.ToolDefinition(nil), cfg.Tools...), ts.Tools()...)
	}

	h, err := a.provider.Connect(ctx, cfg)
	if err != nil {
		err = fmt.Errorf("realtime: connect: %w", err)
		if tools != nil {
			err = errors.Join(err, tools.Close())
		}
		return nil, err
	}
	if tools != nil {
		h.OnToolCall(tools.Execute)
	}

	provFormat := a.provider.AudioFormat()
	s := &session{
		handle:  h,
		tools:   tools,
		in:      audio.NewConverter(a.format, provFormat),
		out:     audio.NewConverter(provFormat, a.format),
		events:  make(chan pipeline.Event, eventBuf),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.forward()
	slog.Info("realtime: session opened",
		"device_format", a.format.String(), "provider_format", provFormat.String(), "tools", len(cfg.Tools))
	return s, nil
}

// ─── session ──────────────────────────────────────────────────────────────────

type session struct {
	handle s2s.SessionHandle
	tools  ToolSet

	in  *audio.Converter // sender goroutine only
	out *audio.Converter // forward goroutine only

	events  chan pipeline.Event
	closing chan struct{}
	done    chan struct{}

	mu     sync.Mutex
	closed bool
	err    error

	closeOnce sync.Once
	closeErr  error
}

// forward translates provider events until the provider stream ends or the
// session is closed.
func (s *session) forward() {
	defer close(s.done)
	defer close(s.events)

	for ev := range s.handle.Events() {
		out, ok := s.translate(ev)
		if !ok {
			continue
		}
		select {
		case s.events <- out:
		case <-s.closing:
			go audio.Drain(s.handle.Events())
			return
		}
	}
	if err := s.handle.Err(); err != nil {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
	}
}

func (s *session) translate(ev s2s.Event) (pipeline.Event, bool) {
	switch ev.Type {
	case s2s.EventAudio:
		pcm := s.out.Convert(ev.Audio)
		if len(pcm) == 0 {
			return pipeline.Event{}, false
		}
		return pipeline.Event{Kind: pipeline.EventAudio, Audio: pcm}, true
	case s2s.EventResponseText:
		return pipeline.Event{Kind: pipeline.EventText, Text: ev.Text}, true
	case s2s.EventInputTranscript:
		return pipeline.Event{Kind: pipeline.EventTranscript, Text: ev.Text}, true
	case s2s.EventSpeechStarted:
		return pipeline.Event{Kind: pipeline.EventTurnStart}, true
	case s2s.EventResponseDone:
		return pipeline.Event{Kind: pipeline.EventTurnEnd}, true
	default:
		return pipeline.Event{}, false
	}
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Send converts samples to the provider format and appends them to the
// provider's input buffer.
func (s *session) Send(ctx context.Context, samples []int16) error {
	if s.isClosed() {
		return pipeline.ErrSessionClosed
	}
	pcm := s.in.Convert(audio.PCM16ToBytes(samples))
	if len(pcm) == 0 {
		return nil
	}
	if err := s.handle.SendAudio(ctx, pcm); err != nil {
		return fmt.Errorf("realtime: send audio: %w", err)
	}
	return nil
}

// Commit ends the user turn and requests a response.
func (s *session) Commit(ctx context.Context) error {
	if s.isClosed() {
		return pipeline.ErrSessionClosed
	}
	if err := s.handle.Commit(ctx); err != nil {
		return fmt.Errorf("realtime: commit: %w", err)
	}
	return nil
}

// Interrupt cancels the response in progress.
func (s *session) Interrupt(ctx context.Context) error {
	if s.isClosed() {
		return pipeline.ErrSessionClosed
	}
	if err := s.handle.Interrupt(ctx); err != nil {
		return fmt.Errorf("realtime: interrupt: %w", err)
	}
	return nil
}

func (s *session) Events() <-chan pipeline.Event { return s.events }

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the provider session and then disconnects the tool service.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.closing)

		var errs []error
		s.handle.OnToolCall(nil)
		if err := s.handle.Close(); err != nil {
			errs = append(errs, fmt.Errorf("realtime: close session: %w", err))
		}
		<-s.done
		if s.tools != nil {
			if err := s.tools.Close(); err != nil {
				errs = append(errs, fmt.Errorf("realtime: close tools: %w", err))
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
