// Package pipeline defines the boundary between the push-to-talk core and the
// opaque voice pipeline behind it.
//
// The core only moves PCM samples and events. Two capability sets are
// offered:
//
//   - [TurnRunner] (batch): one finalised utterance in, one lazily produced
//     [Result] event stream out. One call is one question/answer turn.
//   - [Duplex] (streaming): a long-lived [Session] accepting live audio
//     chunks and producing events across many push-to-talk cycles.
//
// Event streams are channels closed on completion; Err reports why a stream
// ended. All audio in events is little-endian PCM16 in the device format.
package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrSessionClosed is returned by [Session] methods after Close.
var ErrSessionClosed = errors.New("pipeline: session closed")

// EventKind tags an [Event].
type EventKind int

const (
	// EventAudio carries a synthesized speech chunk for playback.
	EventAudio EventKind = iota
	// EventText carries a fragment of the assistant's reply text.
	EventText
	// EventTranscript carries the recognised text of the user's utterance.
	EventTranscript
	// EventTurnStart signals that a new user turn began on the pipeline side;
	// playback of the previous response must be flushed.
	EventTurnStart
	// EventTurnEnd signals that the current response is complete.
	EventTurnEnd
)

func (k EventKind) String() string {
	switch k {
	case EventAudio:
		return "audio"
	case EventText:
		return "text"
	case EventTranscript:
		return "transcript"
	case EventTurnStart:
		return "turn_start"
	case EventTurnEnd:
		return "turn_end"
	default:
		return "unknown"
	}
}

// Event is one output of the pipeline.
type Event struct {
	Kind EventKind

	// Audio is set for EventAudio. Ownership passes to the receiver.
	Audio []byte

	// Text is set for EventText and EventTranscript.
	Text string
}

// Result is the lazy event stream of one batch turn. The producer closes the
// channel when the response is complete or failed; after the channel closes,
// [Result.Err] tells the two apart. Consumers must drain the channel or
// cancel the context passed to RunTurn.
type Result struct {
	events    <-chan Event
	streamErr atomic.Pointer[error]
}

// NewResult wraps events. The producer must call SetStreamErr, if at all,
// before closing events.
func NewResult(events <-chan Event) *Result {
	return &Result{events: events}
}

// Events returns the event channel.
func (r *Result) Events() <-chan Event { return r.events }

// Err returns the error that ended the stream early, or nil if it completed.
// Only meaningful after the events channel is closed.
func (r *Result) Err() error {
	if p := r.streamErr.Load(); p != nil {
		return *p
	}
	return nil
}

// SetStreamErr records a mid-stream error.
func (r *Result) SetStreamErr(err error) {
	r.streamErr.Store(&err)
}

// TurnRunner runs one batch question/answer turn.
type TurnRunner interface {
	// RunTurn hands a finalised utterance to the pipeline. Work continues
	// asynchronously after RunTurn returns; cancelling ctx aborts it and
	// closes the event stream. samples must not be empty.
	RunTurn(ctx context.Context, samples []int16) (*Result, error)
}

// Session is a live duplex pipeline session.
//
// Send is called from the sender goroutine only, Events is drained by the
// receiver goroutine only. Close may be called from any goroutine and more
// than once; only the first call does work.
type Session interface {
	// Send forwards one chunk of captured samples.
	Send(ctx context.Context, samples []int16) error

	// Events returns the output stream. It is closed when the session ends.
	Events() <-chan Event

	// Err reports why the event stream closed, or nil after a clean Close.
	Err() error

	// Close ends the session and releases everything Open acquired,
	// including external tool connections.
	Close() error
}

// Committer is implemented by sessions that need an explicit end-of-utterance
// marker, i.e. that do not detect turns on their own.
type Committer interface {
	Commit(ctx context.Context) error
}

// Interrupter is implemented by sessions that can cancel a response that is
// still being generated. It is invoked when the user starts a new utterance.
type Interrupter interface {
	Interrupt(ctx context.Context) error
}

// Duplex opens streaming sessions.
type Duplex interface {
	// Open starts a session. On error everything acquired so far has already
	// been released.
	Open(ctx context.Context) (Session, error)
}
