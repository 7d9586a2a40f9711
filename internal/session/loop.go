// Package session implements the push-to-talk session loop: it polls the
// keyboard gate, drives the [ptt.Machine], hands utterances to the voice
// pipeline and feeds the pipeline's events to the playback scheduler and the
// console.
//
// One [Loop] serves both modes. The mode-specific part is a driver chosen by
// the constructor: [NewBatch] runs one [pipeline.TurnRunner] call per
// utterance, [NewStreaming] keeps one [pipeline.Session] open with a sender
// and a receiver goroutine. Key handling, event dispatch, error reporting and
// teardown are shared.
//
// Teardown on quit always runs in this order:
//
//  1. the state machine is closed, so the gate can never reopen;
//  2. in-flight pipeline work (batch turn, or sender and receiver) is
//     cancelled;
//  3. the loop waits for that work to return;
//  4. the pipeline session is closed exactly once;
//  5. the playback scheduler and the playback stream are stopped;
//  6. the capture stream is stopped and closed.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/talkie/internal/console"
	"github.com/MrWong99/talkie/internal/keyboard"
	"github.com/MrWong99/talkie/internal/observe"
	"github.com/MrWong99/talkie/internal/ptt"
	"github.com/MrWong99/talkie/pkg/audio"
	"github.com/MrWong99/talkie/pkg/audio/playback"
	"github.com/MrWong99/talkie/pkg/pipeline"
)

// Player is the playback side of the loop. [playback.Scheduler] satisfies it.
type Player interface {
	Enqueue(chunk []byte) error
	EndResponse()
	Flush() int
	Stop()
	Playing() bool
}

// Display renders status and text. [console.Console] satisfies it.
type Display interface {
	SetStatus(console.Status)
	Transcript(text string)
	Text(fragment string)
	EndResponse()
	Error(err error)
}

// Deps are the collaborators shared by both modes. All fields are required.
type Deps struct {
	Keys     keyboard.Poller
	Machine  *ptt.Machine
	Player   Player
	Display  Display
	Capture  audio.Stream
	Playback audio.Stream
}

func (d Deps) validate() error {
	var errs []error
	if d.Keys == nil {
		errs = append(errs, errors.New("keys poller is required"))
	}
	if d.Machine == nil {
		errs = append(errs, errors.New("state machine is required"))
	}
	if d.Player == nil {
		errs = append(errs, errors.New("player is required"))
	}
	if d.Display == nil {
		errs = append(errs, errors.New("display is required"))
	}
	if d.Capture == nil || d.Playback == nil {
		errs = append(errs, errors.New("capture and playback streams are required"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	return nil
}

// DefaultPollInterval is how often the keyboard is polled.
const DefaultPollInterval = 20 * time.Millisecond

// Option configures a [Loop].
type Option func(*Loop)

// WithPollInterval overrides [DefaultPollInterval].
func WithPollInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.pollInterval = d
		}
	}
}

// WithMetrics records turn latency, pipeline errors and session counts to m
// instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// driver is the mode-specific half of the loop.
type driver interface {
	mode() string
	// start acquires the pipeline and launches background work.
	start(ctx context.Context) error
	// startEdge runs before the gate opens (Idle→Recording).
	startEdge(ctx context.Context)
	// stopEdge runs after the gate closed (Recording→Idle).
	stopEdge(ctx context.Context)
	// done is closed when the driver ended on its own; nil if it never does.
	done() <-chan struct{}
	// stop cancels background work and waits for it.
	stop() error
	// release closes the pipeline session.
	release() error
}

// Loop is the session loop. Create it with [NewBatch] or [NewStreaming] and
// call [Loop.Run] once.
type Loop struct {
	deps         Deps
	drv          driver
	pollInterval time.Duration
	metrics      *observe.Metrics

	shutdownOnce sync.Once
	shutdownErr  error
}

func newLoop(deps Deps, opts []Option) *Loop {
	l := &Loop{
		deps:         deps,
		pollInterval: DefaultPollInterval,
	}
	for _, o := range opts {
		o(l)
	}
	if l.metrics == nil {
		l.metrics = observe.DefaultMetrics()
	}
	return l
}

// Mode returns "batch" or "streaming".
func (l *Loop) Mode() string { return l.drv.mode() }

// Run starts the audio streams and the pipeline, then polls keys until quit,
// ctx cancellation, or the end of a streaming session. It always tears
// everything down before returning. A quit (key or ctx) returns nil; a
// streaming session that ended on its own returns its error.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.deps.Playback.Start(); err != nil {
		return errors.Join(fmt.Errorf("session: start playback: %w", err), l.Shutdown())
	}
	if err := l.deps.Capture.Start(); err != nil {
		return errors.Join(fmt.Errorf("session: start capture: %w", err), l.Shutdown())
	}
	if err := l.drv.start(ctx); err != nil {
		return errors.Join(err, l.Shutdown())
	}
	slog.Info("session started", "mode", l.drv.mode())

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("session: context done, shutting down")
			return l.Shutdown()
		case <-l.drv.done():
			slog.Warn("session: pipeline session ended, shutting down")
			return l.Shutdown()
		case <-ticker.C:
		}

		for _, k := range l.deps.Keys.Poll() {
			switch k {
			case keyboard.KeyQuit:
				slog.Info("session: quit requested")
				return l.Shutdown()
			case keyboard.KeyToggle:
				l.toggle(ctx)
			}
		}
		l.refreshStatus()
	}
}

// toggle handles one toggle key press. On the start edge the previous
// response is interrupted and its playback flushed before the gate opens.
func (l *Loop) toggle(ctx context.Context) {
	m := l.deps.Machine
	if m.Recording() {
		m.Toggle()
		slog.Debug("push-to-talk: stop")
		l.drv.stopEdge(ctx)
	} else {
		l.drv.startEdge(ctx)
		l.deps.Player.Flush()
		if m.Toggle() != ptt.Recording {
			return
		}
		slog.Debug("push-to-talk: start")
	}
	l.refreshStatus()
}

func (l *Loop) refreshStatus() {
	switch {
	case l.deps.Machine.Recording():
		l.deps.Display.SetStatus(console.StatusRecording)
	case l.deps.Player.Playing():
		l.deps.Display.SetStatus(console.StatusPlaying)
	default:
		l.deps.Display.SetStatus(console.StatusIdle)
	}
}

// Shutdown performs the ordered teardown. It is safe to call more than once
// and from any goroutine; only the first call does work and every call
// returns its result.
func (l *Loop) Shutdown() error {
	l.shutdownOnce.Do(func() {
		var errs []error
		l.deps.Machine.Quit()
		if err := l.drv.stop(); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
		if err := l.drv.release(); err != nil {
			errs = append(errs, fmt.Errorf("session: close pipeline: %w", err))
		}

		l.deps.Player.Stop()
		if err := l.deps.Playback.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("session: stop playback: %w", err))
		}
		if err := l.deps.Playback.Close(); err != nil {
			errs = append(errs, fmt.Errorf("session: close playback: %w", err))
		}
		if err := l.deps.Capture.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("session: stop capture: %w", err))
		}
		if err := l.deps.Capture.Close(); err != nil {
			errs = append(errs, fmt.Errorf("session: close capture: %w", err))
		}
		l.deps.Display.SetStatus(console.StatusIdle)
		l.shutdownErr = errors.Join(errs...)
		slog.Info("session stopped", "mode", l.drv.mode())
	})
	return l.shutdownErr
}

// dispatch routes one pipeline event. Audio that arrives while the user is
// recording belongs to a response being interrupted and is dropped.
func (l *Loop) dispatch(ev pipeline.Event) {
	switch ev.Kind {
	case pipeline.EventAudio:
		if l.deps.Machine.Recording() {
			return
		}
		if err := l.deps.Player.Enqueue(ev.Audio); err != nil && !errors.Is(err, playback.ErrStopped) {
			slog.Warn("session: enqueue playback", "err", err)
		}
	case pipeline.EventText:
		l.deps.Display.Text(ev.Text)
	case pipeline.EventTranscript:
		l.deps.Display.Transcript(ev.Text)
	case pipeline.EventTurnStart:
		l.deps.Player.Flush()
	case pipeline.EventTurnEnd:
		l.deps.Player.EndResponse()
		l.deps.Display.EndResponse()
	}
}

// reportError surfaces a pipeline error without ending the loop.
func (l *Loop) reportError(ctx context.Context, stage string, err error) {
	observe.Logger(ctx).Error("pipeline error", "mode", l.drv.mode(), "stage", stage, "err", err)
	l.metrics.RecordPipelineError(ctx, l.drv.mode(), stage)
	l.deps.Display.Error(err)
}
