// Package mock provides test doubles for the [pipeline.TurnRunner],
// [pipeline.Duplex] and [pipeline.Session] interfaces.
//
// All mocks are safe for concurrent use and record their calls.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/talkie/pkg/pipeline"
)

// ─── TurnRunner ───────────────────────────────────────────────────────────────

// TurnRunner is a mock [pipeline.TurnRunner].
//
// By default each call replays Events and ends with StreamErr. Set RunFunc for
// full control.
type TurnRunner struct {
	mu sync.Mutex

	// Events are emitted, in order, on every turn.
	Events []pipeline.Event

	// StreamErr is recorded on the Result before its channel closes.
	StreamErr error

	// RunErr makes RunTurn itself fail.
	RunErr error

	// Block makes the turn wait for ctx cancellation after emitting Events.
	Block bool

	// RunFunc, when set, replaces the default behaviour.
	RunFunc func(ctx context.Context, samples []int16) (*pipeline.Result, error)

	// Calls records the samples of every RunTurn call.
	Calls [][]int16
}

var _ pipeline.TurnRunner = (*TurnRunner)(nil)

// RunTurn implements [pipeline.TurnRunner].
func (r *TurnRunner) RunTurn(ctx context.Context, samples []int16) (*pipeline.Result, error) {
	r.mu.Lock()
	r.Calls = append(r.Calls, slices.Clone(samples))
	fn, runErr := r.RunFunc, r.RunErr
	events, streamErr, block := slices.Clone(r.Events), r.StreamErr, r.Block
	r.mu.Unlock()

	if fn != nil {
		return fn(ctx, samples)
	}
	if runErr != nil {
		return nil, runErr
	}

	ch := make(chan pipeline.Event)
	res := pipeline.NewResult(ch)
	go func() {
		defer close(ch)
		for _, ev := range events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				res.SetStreamErr(ctx.Err())
				return
			}
		}
		if block {
			<-ctx.Done()
			res.SetStreamErr(ctx.Err())
			return
		}
		if streamErr != nil {
			res.SetStreamErr(streamErr)
		}
	}()
	return res, nil
}

// CallCount returns the number of RunTurn calls.
func (r *TurnRunner) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Calls)
}

// LastCall returns the samples of the most recent call.
func (r *TurnRunner) LastCall() []int16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Calls) == 0 {
		return nil
	}
	return r.Calls[len(r.Calls)-1]
}

// ─── Session ──────────────────────────────────────────────────────────────────

// Session is a mock [pipeline.Session] that also implements
// [pipeline.Committer]. Tests push output with Emit and end the stream with
// Fail.
type Session struct {
	mu sync.Mutex

	// SendErr is returned by Send.
	SendErr error
	// CloseErr is returned by the first Close.
	CloseErr error
	// OnClose, if set, runs during the first Close.
	OnClose func()
	// OnSend, if set, runs at the start of every Send. It may block.
	OnSend func(ctx context.Context)

	events chan pipeline.Event
	err    error
	ended  bool
	closed bool

	sent         [][]int16
	commits      int
	sentAtCommit []int
	interrupts   int
	closeCalls   int
}

var (
	_ pipeline.Session     = (*Session)(nil)
	_ pipeline.Committer   = (*Session)(nil)
	_ pipeline.Interrupter = (*Session)(nil)
)

// NewSession returns a session whose event channel has the given buffer.
func NewSession(buffer int) *Session {
	return &Session{events: make(chan pipeline.Event, buffer)}
}

// Send implements [pipeline.Session].
func (s *Session) Send(ctx context.Context, samples []int16) error {
	s.mu.Lock()
	hook := s.OnSend
	s.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return pipeline.ErrSessionClosed
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	s.sent = append(s.sent, slices.Clone(samples))
	return nil
}

// Commit implements [pipeline.Committer].
func (s *Session) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return pipeline.ErrSessionClosed
	}
	s.commits++
	s.sentAtCommit = append(s.sentAtCommit, len(s.sent))
	return nil
}

// Interrupt implements [pipeline.Interrupter].
func (s *Session) Interrupt(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interrupts++
	return nil
}

// Interrupts returns the number of Interrupt calls.
func (s *Session) Interrupts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interrupts
}

// Events implements [pipeline.Session].
func (s *Session) Events() <-chan pipeline.Event { return s.events }

// Err implements [pipeline.Session].
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements [pipeline.Session]. It ends the event stream if it is
// still open.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closeCalls++
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	onClose := s.OnClose
	s.endLocked(nil)
	err := s.CloseErr
	s.mu.Unlock()
	if onClose != nil {
		onClose()
	}
	return err
}

// Emit queues ev for the receiver. It reports false when the stream already
// ended or the buffer given to [NewSession] is full.
func (s *Session) Emit(ev pipeline.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

// Fail ends the event stream with err, as a dropped connection would.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked(err)
}

func (s *Session) endLocked(err error) {
	if s.ended {
		return
	}
	s.ended = true
	s.err = err
	close(s.events)
}

// Sent returns copies of all chunks passed to Send.
func (s *Session) Sent() [][]int16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.sent)
}

// Commits returns the number of Commit calls.
func (s *Session) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// SentAtCommit returns, per Commit call, how many chunks had been sent.
func (s *Session) SentAtCommit() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.sentAtCommit)
}

// CloseCalls returns the number of Close calls.
func (s *Session) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// ─── Duplex ───────────────────────────────────────────────────────────────────

// Duplex is a mock [pipeline.Duplex] returning Session on Open.
type Duplex struct {
	mu sync.Mutex

	// Session is returned by Open.
	Session *Session
	// OpenErr makes Open fail.
	OpenErr error

	opens int
}

var _ pipeline.Duplex = (*Duplex)(nil)

// Open implements [pipeline.Duplex].
func (d *Duplex) Open(ctx context.Context) (pipeline.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.Session, nil
}

// Opens returns the number of Open calls.
func (d *Duplex) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}
