// Package mock provides test doubles for the s2s package interfaces.
//
// Use Provider to verify Connect calls and hand out a controlled Session.
// Use Session to script the output stream and inspect what the caller sent.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Emit(s2s.Event{Type: s2s.EventAudio, Audio: pcm})
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/talkie/pkg/audio"
	"github.com/MrWong99/talkie/pkg/provider/s2s"
)

var (
	_ s2s.Provider      = (*Provider)(nil)
	_ s2s.SessionHandle = (*Session)(nil)
)

// ErrClosed is returned by Session methods after Close or Fail.
var ErrClosed = errors.New("mock s2s: session closed")

// ─── Provider ─────────────────────────────────────────────────────────────────

// Provider is a mock implementation of s2s.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by Connect. If nil, Connect returns a fresh Session.
	Session *Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// Format is returned by AudioFormat.
	Format audio.Format

	// Configs records the SessionConfig of every Connect call in order.
	Configs []s2s.SessionConfig
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(_ context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Configs = append(p.Configs, cfg)
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session == nil {
		p.Session = NewSession()
	}
	return p.Session, nil
}

// AudioFormat returns Format.
func (p *Provider) AudioFormat() audio.Format {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Format
}

// ConnectCount returns the number of Connect calls.
func (p *Provider) ConnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Configs)
}

// ─── Session ──────────────────────────────────────────────────────────────────

// Session is a mock implementation of s2s.SessionHandle.
type Session struct {
	events chan s2s.Event

	mu         sync.Mutex
	handler    s2s.ToolCallHandler
	sent       [][]byte
	commits    int
	interrupts int
	closeCalls int
	closed     bool
	err        error

	// SendErr, if non-nil, is returned by SendAudio.
	SendErr error
}

// NewSession returns a Session with a buffered event stream.
func NewSession() *Session {
	return &Session{events: make(chan s2s.Event, 256)}
}

// Emit queues ev on the output stream. It is a no-op once the session ended.
func (s *Session) Emit(ev s2s.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- ev
}

// Fail ends the session with err, as if the connection dropped.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.err = err
	s.closed = true
	close(s.events)
}

// CallTool invokes the registered tool handler the way the model would.
func (s *Session) CallTool(ctx context.Context, name, args string) (string, error) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil {
		return "", errors.New("mock s2s: no tool handler registered")
	}
	return h(ctx, name, args)
}

// SendAudio records chunk.
func (s *Session) SendAudio(_ context.Context, chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	s.sent = append(s.sent, append([]byte(nil), chunk...))
	return nil
}

// Commit counts the call.
func (s *Session) Commit(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.commits++
	return nil
}

// Interrupt counts the call.
func (s *Session) Interrupt(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.interrupts++
	return nil
}

// Events returns the output stream.
func (s *Session) Events() <-chan s2s.Event { return s.events }

// Err returns the error passed to Fail.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// OnToolCall records the handler.
func (s *Session) OnToolCall(handler s2s.ToolCallHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// Close ends the session and counts the call.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

// ─── Inspection ───────────────────────────────────────────────────────────────

// Sent returns a copy of every chunk passed to SendAudio.
func (s *Session) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.sent...)
}

// SentBytes returns the total number of audio bytes sent.
func (s *Session) SentBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.sent {
		n += len(c)
	}
	return n
}

// Commits returns the number of Commit calls.
func (s *Session) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// Interrupts returns the number of Interrupt calls.
func (s *Session) Interrupts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interrupts
}

// CloseCount returns the number of Close calls.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}
