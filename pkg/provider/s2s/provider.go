// Package s2s defines the Provider interface for Speech-to-Speech backends.
//
// An S2S provider wraps a realtime voice model that takes raw audio in and
// produces audio out over one long-lived, stateful connection (for example
// the OpenAI Realtime API). talkie drives it in push-to-talk fashion: audio
// is appended while the talk key is held and committed when it is released,
// so the model never has to guess where the user stopped speaking.
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MrWong99/talkie/pkg/audio"
	"github.com/MrWong99/talkie/pkg/provider/llm"
)

// ToolCallHandler is invoked when the model requests a tool call. It returns
// the tool output, which is fed back into the conversation, or an error,
// which is reported to the model as a JSON error object.
//
// The handler runs on the session's receive goroutine; events queue behind
// it until it returns.
type ToolCallHandler func(ctx context.Context, name, args string) (string, error)

// EventType discriminates the variants of [Event].
type EventType int

const (
	// EventAudio carries a chunk of synthesised PCM in Provider.AudioFormat.
	EventAudio EventType = iota + 1

	// EventResponseText carries a fragment of the transcript of the model's
	// spoken reply.
	EventResponseText

	// EventInputTranscript carries the recognised text of the user's
	// committed utterance.
	EventInputTranscript

	// EventSpeechStarted reports that server-side voice detection heard the
	// user start speaking. Only sent with server VAD enabled.
	EventSpeechStarted

	// EventResponseDone marks the end of one model response.
	EventResponseDone
)

// String returns a short name for the event type.
func (t EventType) String() string {
	switch t {
	case EventAudio:
		return "audio"
	case EventResponseText:
		return "response_text"
	case EventInputTranscript:
		return "input_transcript"
	case EventSpeechStarted:
		return "speech_started"
	case EventResponseDone:
		return "response_done"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is one item of a session's ordered output stream.
type Event struct {
	Type  EventType
	Audio []byte
	Text  string
}

// SessionConfig is the initial configuration for a new session.
type SessionConfig struct {
	// Voice is the provider-specific voice name (e.g., "alloy").
	Voice string

	// Instructions is the system prompt for the session.
	Instructions string

	// Tools offered to the model. Calls are routed to the handler set with
	// OnToolCall.
	Tools []llm.ToolDefinition

	// Temperature in the provider's accepted range. Zero leaves the default.
	Temperature float64

	// ServerVAD enables server-side turn detection. When false the caller
	// ends each turn explicitly with Commit.
	ServerVAD bool

	// TranscriptionModel enables transcripts of the user's speech
	// (e.g., "whisper-1"). Empty disables them.
	TranscriptionModel string
}

// SessionHandle is an open S2S session.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio appends a PCM chunk in Provider.AudioFormat to the input buffer.
	SendAudio(ctx context.Context, chunk []byte) error

	// Commit ends the user turn: the input buffer is committed and a
	// response is requested.
	Commit(ctx context.Context) error

	// Interrupt cancels the response in progress, if any.
	Interrupt(ctx context.Context) error

	// Events returns the ordered output stream. It is closed when the
	// session ends; Err then reports why.
	Events() <-chan Event

	// Err returns the error that ended the session, or nil after a clean
	// Close.
	Err() error

	// OnToolCall registers the tool handler. Passing nil makes the session
	// answer tool calls with an error.
	OnToolCall(handler ToolCallHandler)

	// Close terminates the session. Calling Close more than once is safe.
	Close() error
}

// Provider is the abstraction over any S2S backend.
type Provider interface {
	// Connect opens a new session. The caller owns the returned handle.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// AudioFormat reports the PCM format used for both input and output.
	AudioFormat() audio.Format
}

// ToolError renders err as the JSON object returned to the model when a tool
// call fails.
func ToolError(err error) string {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(data)
}
