// Package cascade implements the batch [pipeline.TurnRunner] as a chain of
// three providers: speech-to-text, a streaming LLM and text-to-speech.
//
// # Turn flow
//
//  1. The finalised utterance is transcribed; the transcript is emitted as
//     [pipeline.EventTranscript]. An empty transcript ends the turn quietly.
//  2. The LLM streams its reply. Every text fragment is emitted as
//     [pipeline.EventText] and complete sentences are handed to TTS at once,
//     so playback starts after the first sentence instead of the whole reply.
//  3. When the model asks for tools, they are executed through the
//     [ToolExecutor] and the model is called again, up to a bounded number of
//     rounds per turn.
//  4. Synthesised audio is converted to the device format and emitted as
//     [pipeline.EventAudio]; [pipeline.EventTurnEnd] closes a successful turn.
//
// The LLM and TTS stages run under one errgroup: a failure in either cancels
// the other. The conversation history (user transcript, assistant replies,
// tool calls and results) is kept across turns and trimmed to a bounded
// number of messages. A cancelled turn leaves the history untouched.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/talkie/internal/observe"
	"github.com/MrWong99/talkie/pkg/audio"
	"github.com/MrWong99/talkie/pkg/pipeline"
	"github.com/MrWong99/talkie/pkg/provider/llm"
	"github.com/MrWong99/talkie/pkg/provider/s2s"
	"github.com/MrWong99/talkie/pkg/provider/stt"
	"github.com/MrWong99/talkie/pkg/provider/tts"
)

var _ pipeline.TurnRunner = (*Adapter)(nil)

const (
	// defaultMaxToolRounds bounds how often one turn may go back to the model
	// with tool results. The final round is sent without tools.
	defaultMaxToolRounds = 4

	// defaultHistoryLimit is the number of messages kept across turns.
	defaultHistoryLimit = 40

	// textBuf is the depth of the sentence channel feeding TTS.
	textBuf = 16

	// eventBuf is the depth of the Result event channel.
	eventBuf = 64
)

// ErrEmptyUtterance is returned by RunTurn for a zero-length utterance.
var ErrEmptyUtterance = errors.New("cascade: empty utterance")

// ToolExecutor offers tools to the model and runs the calls it makes.
// [bridge.Bridge] satisfies it.
type ToolExecutor interface {
	Tools() []llm.ToolDefinition
	Execute(ctx context.Context, name, args string) (string, error)
}

// ─── Options ──────────────────────────────────────────────────────────────────

// Option is a functional option for configuring an Adapter.
type Option func(*Adapter)

// WithInstructions sets the system prompt sent with every completion.
func WithInstructions(s string) Option {
	return func(a *Adapter) { a.instructions = s }
}

// WithVoice sets the TTS voice.
func WithVoice(v tts.Voice) Option {
	return func(a *Adapter) { a.voice = v }
}

// WithTemperature sets the sampling temperature. Zero keeps the provider
// default.
func WithTemperature(t float64) Option {
	return func(a *Adapter) { a.temperature = t }
}

// WithMaxTokens caps the length of each completion. Zero keeps the provider
// default.
func WithMaxTokens(n int) Option {
	return func(a *Adapter) { a.maxTokens = n }
}

// WithTools enables tool use. A nil executor disables it.
func WithTools(t ToolExecutor) Option {
	return func(a *Adapter) { a.tools = t }
}

// WithMaxToolRounds overrides the number of tool rounds allowed per turn.
func WithMaxToolRounds(n int) Option {
	return func(a *Adapter) {
		if n >= 0 {
			a.maxToolRounds = n
		}
	}
}

// WithHistoryLimit overrides the number of messages kept across turns.
// Zero disables history.
func WithHistoryLimit(n int) Option {
	return func(a *Adapter) {
		if n >= 0 {
			a.historyLimit = n
		}
	}
}

// WithProviderNames sets the provider labels used on request metrics.
func WithProviderNames(sttName, llmName, ttsName string) Option {
	return func(a *Adapter) {
		a.sttName, a.llmName, a.ttsName = sttName, llmName, ttsName
	}
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

// ─── Adapter ──────────────────────────────────────────────────────────────────

// Adapter runs batch turns. It is safe for concurrent use, although the
// session loop never runs two turns at once.
type Adapter struct {
	stt    stt.Provider
	llm    llm.Provider
	tts    tts.Provider
	format audio.Format

	instructions  string
	voice         tts.Voice
	temperature   float64
	maxTokens     int
	tools         ToolExecutor
	maxToolRounds int
	historyLimit  int

	sttName, llmName, ttsName string
	metrics                   *observe.Metrics

	mu      sync.Mutex
	history []llm.Message
}

// New creates an Adapter. format is the device format of the utterances
// passed to RunTurn and of the audio it emits.
func New(sttP stt.Provider, llmP llm.Provider, ttsP tts.Provider, format audio.Format, opts ...Option) (*Adapter, error) {
	if sttP == nil || llmP == nil || ttsP == nil {
		return nil, errors.New("cascade: stt, llm and tts providers are required")
	}
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("cascade: %w", err)
	}
	a := &Adapter{
		stt:           sttP,
		llm:           llmP,
		tts:           ttsP,
		format:        format,
		maxToolRounds: defaultMaxToolRounds,
		historyLimit:  defaultHistoryLimit,
		sttName:       "stt",
		llmName:       "llm",
		ttsName:       "tts",
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a, nil
}

// RunTurn starts one turn and returns its event stream immediately.
func (a *Adapter) RunTurn(ctx context.Context, samples []int16) (*pipeline.Result, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyUtterance
	}
	events := make(chan pipeline.Event, eventBuf)
	res := pipeline.NewResult(events)
	go func() {
		defer close(events)
		if err := a.turn(ctx, samples, events); err != nil {
			res.SetStreamErr(err)
		}
	}()
	return res, nil
}

// History returns a copy of the conversation kept across turns.
func (a *Adapter) History() []llm.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]llm.Message(nil), a.history...)
}

// Reset forgets the conversation history.
func (a *Adapter) Reset() {
	a.mu.Lock()
	a.history = nil
	a.mu.Unlock()
}

func (a *Adapter) turn(ctx context.Context, samples []int16, events chan<- pipeline.Event) error {
	ctx, span := observe.StartSpan(ctx, "cascade.turn",
		trace.WithAttributes(attribute.Int("samples", len(samples))),
	)
	defer span.End()

	// ── Stage 1: speech-to-text ───────────────────────────────────────────────

	text, err := a.transcribe(ctx, samples)
	if err != nil {
		observe.Fail(span, err)
		return err
	}
	if text == "" {
		observe.Logger(ctx).Debug("cascade: nothing intelligible in utterance")
		return nil
	}
	if err := emit(ctx, events, pipeline.Event{Kind: pipeline.EventTranscript, Text: text}); err != nil {
		return err
	}

	user := llm.Message{Role: llm.RoleUser, Content: text}
	msgs := append(a.History(), user)

	// ── Stage 2: LLM → sentences → TTS ────────────────────────────────────────

	g, gctx := errgroup.WithContext(ctx)
	textCh := make(chan string, textBuf)
	speech, err := a.tts.SynthesizeStream(gctx, textCh, a.voice)
	if err != nil {
		close(textCh)
		a.metrics.RecordProviderRequest(ctx, a.ttsName, "tts", "error")
		return fmt.Errorf("cascade: start tts: %w", err)
	}
	a.metrics.RecordProviderRequest(ctx, a.ttsName, "tts", "ok")

	var added []llm.Message
	start := time.Now()
	g.Go(func() error {
		defer close(textCh)
		var err error
		added, err = a.respond(gctx, msgs, textCh, events)
		return err
	})
	g.Go(func() error {
		return a.forwardAudio(gctx, speech, start, events)
	})
	if err := g.Wait(); err != nil {
		observe.Fail(span, err)
		return err
	}

	a.remember(user, added)
	return emit(ctx, events, pipeline.Event{Kind: pipeline.EventTurnEnd})
}

func (a *Adapter) transcribe(ctx context.Context, samples []int16) (string, error) {
	start := time.Now()
	text, err := a.stt.Transcribe(ctx, audio.PCM16ToBytes(samples), a.format)
	a.metrics.STTDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("provider", a.sttName)))
	if err != nil {
		a.metrics.RecordProviderRequest(ctx, a.sttName, "stt", "error")
		return "", fmt.Errorf("cascade: transcribe: %w", err)
	}
	a.metrics.RecordProviderRequest(ctx, a.sttName, "stt", "ok")
	return strings.TrimSpace(text), nil
}

// respond runs the LLM tool loop and returns the messages the turn added to
// the conversation after the user message.
func (a *Adapter) respond(ctx context.Context, msgs []llm.Message, textCh chan<- string, events chan<- pipeline.Event) ([]llm.Message, error) {
	var tools []llm.ToolDefinition
	if a.tools != nil {
		tools = a.tools.Tools()
	}

	var added []llm.Message
	for round := 0; ; round++ {
		req := llm.CompletionRequest{
			SystemPrompt: a.instructions,
			Messages:     append(append([]llm.Message(nil), msgs...), added...),
			Temperature:  a.temperature,
			MaxTokens:    a.maxTokens,
		}
		if round < a.maxToolRounds {
			req.Tools = tools
		}

		start := time.Now()
		chunks, err := a.llm.StreamCompletion(ctx, req)
		if err != nil {
			a.metrics.RecordProviderRequest(ctx, a.llmName, "llm", "error")
			return nil, fmt.Errorf("cascade: start completion: %w", err)
		}
		reply, calls, err := a.speak(ctx, chunks, textCh, events)
		a.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("provider", a.llmName)))
		if err != nil {
			a.metrics.RecordProviderRequest(ctx, a.llmName, "llm", "error")
			return nil, err
		}
		a.metrics.RecordProviderRequest(ctx, a.llmName, "llm", "ok")

		if len(calls) == 0 || len(req.Tools) == 0 {
			if reply != "" {
				added = append(added, llm.Message{Role: llm.RoleAssistant, Content: reply})
			}
			return added, nil
		}

		added = append(added, llm.Message{Role: llm.RoleAssistant, Content: reply, ToolCalls: calls})
		for _, call := range calls {
			out, err := a.tools.Execute(ctx, call.Name, call.Arguments)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				out = s2s.ToolError(err)
			}
			added = append(added, llm.Message{Role: llm.RoleTool, Content: out, ToolCallID: call.ID})
		}
		slog.Debug("cascade: tool round complete", "round", round+1, "calls", len(calls))
	}
}

// speak consumes one completion stream. Text fragments are emitted as they
// arrive and whole sentences are sent to TTS; the remainder is flushed when
// the stream ends. It returns the full reply and any requested tool calls.
func (a *Adapter) speak(ctx context.Context, chunks <-chan llm.Chunk, textCh chan<- string, events chan<- pipeline.Event) (string, []llm.ToolCall, error) {
	var (
		full  strings.Builder
		buf   strings.Builder
		calls []llm.ToolCall
	)
	send := func(s string) error {
		if s = strings.TrimSpace(s); s == "" {
			return nil
		}
		select {
		case textCh <- s:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		var (
			chunk llm.Chunk
			ok    bool
		)
		select {
		case chunk, ok = <-chunks:
		case <-ctx.Done():
			go audio.Drain(chunks)
			return "", nil, ctx.Err()
		}
		if !ok {
			return full.String(), calls, send(buf.String())
		}
		if chunk.Err != nil {
			go audio.Drain(chunks)
			return "", nil, fmt.Errorf("cascade: completion: %w", chunk.Err)
		}

		if chunk.Text != "" {
			full.WriteString(chunk.Text)
			buf.WriteString(chunk.Text)
			if err := emit(ctx, events, pipeline.Event{Kind: pipeline.EventText, Text: chunk.Text}); err != nil {
				go audio.Drain(chunks)
				return "", nil, err
			}
			for {
				s := buf.String()
				end := sentenceEnd(s)
				if end < 0 {
					break
				}
				buf.Reset()
				buf.WriteString(s[end:])
				if err := send(s[:end]); err != nil {
					go audio.Drain(chunks)
					return "", nil, err
				}
			}
		}
		calls = append(calls, chunk.ToolCalls...)
		if u := chunk.Usage; u != nil {
			a.metrics.RecordLLMTokens(ctx, a.llmName, u.PromptTokens, u.CompletionTokens)
		}
	}
}

// forwardAudio converts synthesised audio to the device format and emits it.
// It returns when the TTS stream closes.
func (a *Adapter) forwardAudio(ctx context.Context, speech <-chan []byte, start time.Time, events chan<- pipeline.Event) error {
	converted := audio.ConvertStream(speech, a.tts.OutputFormat(), a.format)
	first := true
	for {
		select {
		case chunk, ok := <-converted:
			if !ok {
				return nil
			}
			if first {
				first = false
				a.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds(),
					metric.WithAttributes(observe.Attr("provider", a.ttsName)))
			}
			if err := emit(ctx, events, pipeline.Event{Kind: pipeline.EventAudio, Audio: chunk}); err != nil {
				go audio.Drain(converted)
				return err
			}
		case <-ctx.Done():
			go audio.Drain(converted)
			return ctx.Err()
		}
	}
}

// remember appends a completed exchange to the history and trims it.
func (a *Adapter) remember(user llm.Message, added []llm.Message) {
	if a.historyLimit == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, user)
	a.history = append(a.history, added...)
	a.history = trimHistory(a.history, a.historyLimit)
}

// trimHistory drops the oldest messages beyond limit. The kept window always
// starts at a user message so no tool result loses its call.
func trimHistory(h []llm.Message, limit int) []llm.Message {
	if len(h) <= limit {
		return h
	}
	h = h[len(h)-limit:]
	for len(h) > 0 && h[0].Role != llm.RoleUser {
		h = h[1:]
	}
	return append([]llm.Message(nil), h...)
}

func emit(ctx context.Context, events chan<- pipeline.Event, ev pipeline.Event) error {
	select {
	case events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sentenceEnd returns the byte offset just past the first sentence in s, or
// -1 if s holds no complete sentence. ASCII '.', '!' and '?' end a sentence
// only when whitespace follows; the full-width '。', '！' and '？' end one on
// their own, as CJK text has no space after them.
func sentenceEnd(s string) int {
	for i, r := range s {
		switch r {
		case '。', '！', '？':
			return i + utf8.RuneLen(r)
		case '.', '!', '?':
			if i+1 < len(s) {
				switch s[i+1] {
				case ' ', '\n', '\r', '\t':
					return i + 1
				}
			}
		}
	}
	return -1
}
