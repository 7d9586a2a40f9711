package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/talkie/pkg/provider/s2s"
)

var _ s2s.SessionHandle = (*session)(nil)

type session struct {
	conn   *websocket.Conn
	events chan s2s.Event

	// ctx spans the whole session and is cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu         sync.Mutex
	onTool     s2s.ToolCallHandler
	responding bool
	closed     bool
	err        error
}

func newSession(conn *websocket.Conn) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		conn:   conn,
		events: make(chan s2s.Event, 64),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (s *session) write(ctx context.Context, ev clientEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("openai realtime: encode %s: %w", ev.Type, err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// receive reads server events until the connection ends, then closes the
// event stream.
func (s *session) receive() {
	defer close(s.done)
	defer close(s.events)
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				s.fail(fmt.Errorf("openai realtime: read: %w", err))
			}
			return
		}
		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Debug("openai realtime: skipping malformed event", "err", err)
			continue
		}
		s.dispatch(&ev)
	}
}

func (s *session) dispatch(ev *serverEvent) {
	switch ev.Type {
	case "response.audio.delta", "response.output_audio.delta":
		if pcm, err := base64.StdEncoding.DecodeString(ev.Delta); err == nil && len(pcm) > 0 {
			s.emit(s2s.Event{Type: s2s.EventAudio, Audio: pcm})
		}
	case "response.audio_transcript.delta", "response.output_audio_transcript.delta":
		if ev.Delta != "" {
			s.emit(s2s.Event{Type: s2s.EventResponseText, Text: ev.Delta})
		}
	case "conversation.item.input_audio_transcription.completed":
		if ev.Transcript != "" {
			s.emit(s2s.Event{Type: s2s.EventInputTranscript, Text: ev.Transcript})
		}
	case "input_audio_buffer.speech_started":
		s.emit(s2s.Event{Type: s2s.EventSpeechStarted})
	case "response.created":
		s.setResponding(true)
	case "response.done":
		s.setResponding(false)
		s.emit(s2s.Event{Type: s2s.EventResponseDone})
	case "response.function_call_arguments.done":
		s.callTool(ev)
	case "error":
		if e := ev.Error; e != nil {
			slog.Warn("openai realtime: server error", "type", e.Type, "code", e.Code, "message", e.Message)
		}
	}
}

func (s *session) emit(ev s2s.Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// callTool runs the handler and hands the output back to the model, then
// asks for the response that uses it. Tool failures are reported to the
// model, not to the session.
func (s *session) callTool(ev *serverEvent) {
	s.mu.Lock()
	handler := s.onTool
	s.mu.Unlock()

	var out string
	if handler == nil {
		out = s2s.ToolError(fmt.Errorf("tool %q is not available", ev.Name))
	} else if res, err := handler(s.ctx, ev.Name, ev.Arguments); err != nil {
		out = s2s.ToolError(err)
	} else {
		out = res
	}

	err := s.write(s.ctx, toolOutput(ev.CallID, out))
	if err == nil {
		err = s.write(s.ctx, clientEvent{Type: "response.create"})
	}
	if err != nil && s.ctx.Err() == nil {
		slog.Warn("openai realtime: returning tool output", "tool", ev.Name, "err", err)
	}
}

func (s *session) setResponding(v bool) {
	s.mu.Lock()
	s.responding = v
	s.mu.Unlock()
}

func (s *session) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// state returns the closed and responding flags together.
func (s *session) state() (closed, responding bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed, s.responding
}

// ── s2s.SessionHandle ────────────────────────────────────────────────────────

// SendAudio appends chunk to the input audio buffer.
func (s *session) SendAudio(ctx context.Context, chunk []byte) error {
	if closed, _ := s.state(); closed {
		return ErrSessionClosed
	}
	return s.write(ctx, clientEvent{Type: "input_audio_buffer.append", Audio: base64.StdEncoding.EncodeToString(chunk)})
}

// Commit ends the user's turn and requests a response.
func (s *session) Commit(ctx context.Context) error {
	if closed, _ := s.state(); closed {
		return ErrSessionClosed
	}
	if err := s.write(ctx, clientEvent{Type: "input_audio_buffer.commit"}); err != nil {
		return err
	}
	return s.write(ctx, clientEvent{Type: "response.create"})
}

// Interrupt cancels the response in progress, if any.
func (s *session) Interrupt(ctx context.Context) error {
	closed, responding := s.state()
	switch {
	case closed:
		return ErrSessionClosed
	case !responding:
		return nil
	}
	return s.write(ctx, clientEvent{Type: "response.cancel"})
}

func (s *session) Events() <-chan s2s.Event { return s.events }

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *session) OnToolCall(handler s2s.ToolCallHandler) {
	s.mu.Lock()
	s.onTool = handler
	s.mu.Unlock()
}

// Close ends the session and waits until the event stream is closed.
func (s *session) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.cancel()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
		<-s.done
	})
	return nil
}
