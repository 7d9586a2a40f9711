// Package app wires the talkie subsystems into a running push-to-talk
// session.
//
// The App struct owns the full lifecycle: New builds the voice pipeline for
// the configured mode, opens both device streams and assembles the session
// loop; Run blocks until the user quits; Shutdown releases whatever the loop
// does not own.
//
// Hardware is always injected through [Terminal] so the whole wiring can be
// exercised with the audio mock and scripted keys. Tool servers come from the
// config unless [WithMCPHost] injects a host.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/talkie/internal/capture"
	"github.com/MrWong99/talkie/internal/config"
	"github.com/MrWong99/talkie/internal/health"
	"github.com/MrWong99/talkie/internal/keyboard"
	"github.com/MrWong99/talkie/internal/mcp"
	"github.com/MrWong99/talkie/internal/mcp/bridge"
	"github.com/MrWong99/talkie/internal/mcp/mcphost"
	"github.com/MrWong99/talkie/internal/observe"
	"github.com/MrWong99/talkie/internal/pipeline/cascade"
	"github.com/MrWong99/talkie/internal/pipeline/realtime"
	"github.com/MrWong99/talkie/internal/ptt"
	"github.com/MrWong99/talkie/internal/session"
	"github.com/MrWong99/talkie/pkg/audio"
	"github.com/MrWong99/talkie/pkg/audio/playback"
	"github.com/MrWong99/talkie/pkg/provider/llm"
	"github.com/MrWong99/talkie/pkg/provider/s2s"
	"github.com/MrWong99/talkie/pkg/provider/stt"
	"github.com/MrWong99/talkie/pkg/provider/tts"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	STT stt.Provider
	LLM llm.Provider
	TTS tts.Provider
	S2S s2s.Provider
}

// Terminal is the user-facing hardware: the audio device, the command keys
// and the status display.
type Terminal struct {
	Device  audio.Device
	Keys    keyboard.Poller
	Display session.Display
}

// maxUtterance bounds the initial capacity of the batch capture buffer.
const maxUtterance = 30 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	term      Terminal
	format    audio.Format

	mcpHost      mcp.Host
	metrics      *observe.Metrics
	pollInterval time.Duration

	audioReady    health.Condition
	pipelineReady health.Condition

	machine  *ptt.Machine
	player   *playback.Scheduler
	streams  *streamSet
	capture  audio.Stream
	playback audio.Stream
	loop     *session.Loop

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMCPHost serves tools from h instead of connecting the configured MCP
// servers. The host is not closed by the App.
func WithMCPHost(h mcp.Host) Option {
	return func(a *App) { a.mcpHost = h }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithPollInterval overrides the keyboard poll interval of the session loop.
func WithPollInterval(d time.Duration) Option {
	return func(a *App) { a.pollInterval = d }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New builds the App for cfg.Mode. It fails when a provider the mode needs is
// missing or a device stream cannot be opened; everything acquired up to that
// point is released again.
func New(ctx context.Context, cfg *config.Config, providers *Providers, term Terminal, opts ...Option) (*App, error) {
	if term.Device == nil || term.Keys == nil || term.Display == nil {
		return nil, errors.New("app: device, keys and display are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		term:      term,
		format:    audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels},
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if err := a.format.Validate(); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	a.machine = ptt.New()
	a.streams = &streamSet{ready: &a.audioReady}
	a.player = playback.New(
		playback.WithUnderrunHandler(func() {
			a.metrics.PlaybackUnderruns.Add(context.Background(), 1)
		}),
		playback.WithFlushHandler(func(discarded int) {
			if discarded > 0 {
				a.metrics.PlaybackFlushes.Add(context.Background(), 1)
			}
		}),
	)

	var err error
	switch cfg.Mode {
	case config.ModeBatch:
		err = a.initBatch(ctx)
	case config.ModeStreaming:
		err = a.initStreaming()
	default:
		err = fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	if err != nil {
		return nil, errors.Join(fmt.Errorf("app: init %s: %w", cfg.Mode, err), a.Shutdown(ctx))
	}
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initBatch builds the cascade adapter, the utterance buffer and the batch
// loop. Tool servers are connected once for the whole session.
func (a *App) initBatch(ctx context.Context) error {
	p := a.providers
	if p == nil || p.STT == nil || p.LLM == nil || p.TTS == nil {
		return errors.New("batch mode requires stt, llm and tts providers")
	}

	pc := a.cfg.Providers
	opts := []cascade.Option{
		cascade.WithInstructions(a.cfg.Agent.Instructions),
		cascade.WithVoice(tts.Voice{
			ID:           a.cfg.Agent.Voice,
			Speed:        pc.TTS.FloatOption("speed"),
			Instructions: pc.TTS.StringOption("voice_instructions"),
		}),
		cascade.WithTemperature(a.cfg.Agent.Temperature),
		cascade.WithMaxTokens(a.cfg.Agent.MaxTokens),
		cascade.WithProviderNames(pc.STT.Name, pc.LLM.Name, pc.TTS.Name),
		cascade.WithMetrics(a.metrics),
	}
	if a.mcpHost != nil || a.cfg.MCP.HasTools() {
		tools, err := a.openTools(ctx)
		if err != nil {
			return fmt.Errorf("connect tools: %w", err)
		}
		a.closers = append(a.closers, tools.Close)
		opts = append(opts, cascade.WithTools(tools))
	}

	adapter, err := cascade.New(p.STT, p.LLM, p.TTS, a.format, opts...)
	if err != nil {
		return err
	}
	a.pipelineReady.Ready()

	buf := capture.NewBuffer(a.format.SamplesPer(maxUtterance))
	if err := a.openStreams(buf); err != nil {
		return err
	}
	a.loop, err = session.NewBatch(a.deps(), buf, adapter, a.loopOptions()...)
	return err
}

// initStreaming builds the realtime adapter, the bounded capture queue and
// the streaming loop. Tool servers are connected per pipeline session by the
// adapter.
func (a *App) initStreaming() error {
	if a.providers == nil || a.providers.S2S == nil {
		return errors.New("streaming mode requires an s2s provider")
	}

	entry := a.cfg.Providers.S2S
	transcription := entry.StringOption("transcription_model")
	if transcription == "" {
		transcription = "whisper-1"
	}
	sessCfg := s2s.SessionConfig{
		Voice:              a.cfg.Agent.Voice,
		Instructions:       a.cfg.Agent.Instructions,
		Temperature:        a.cfg.Agent.Temperature,
		TranscriptionModel: transcription,
	}
	var opts []realtime.Option
	if a.mcpHost != nil || a.cfg.MCP.HasTools() {
		opts = append(opts, realtime.WithTools(func(ctx context.Context) (realtime.ToolSet, error) {
			return a.openTools(ctx)
		}))
	}
	adapter, err := realtime.New(a.providers.S2S, sessCfg, a.format, opts...)
	if err != nil {
		return err
	}

	stream := capture.NewStream(
		a.format.SamplesPer(time.Duration(a.cfg.Audio.StreamBufferMs)*time.Millisecond),
		capture.WithStreamMetrics(a.metrics),
	)
	if err := a.openStreams(stream); err != nil {
		return err
	}
	chunk := a.format.SamplesPer(time.Duration(a.cfg.Audio.SendChunkMs) * time.Millisecond)
	a.loop, err = session.NewStreaming(a.deps(), stream, &trackedDuplex{Duplex: adapter, ready: &a.pipelineReady}, chunk, a.loopOptions()...)
	return err
}

// openTools connects the tool service: the injected host, or a fresh host
// holding the configured servers and the clock.
func (a *App) openTools(ctx context.Context) (*bridge.Bridge, error) {
	opts := []bridge.Option{
		bridge.WithToolTimeout(a.cfg.MCP.ToolTimeout),
		bridge.WithMetrics(a.metrics),
	}
	if a.mcpHost != nil {
		return bridge.New(a.mcpHost, opts...)
	}
	if a.cfg.MCP.Clock {
		opts = append(opts, bridge.WithLocalTools(mcphost.Clock(time.Now)))
	}
	return bridge.Open(ctx, a.cfg.MCP.ServerConfigs(), opts...)
}

// openStreams opens the capture stream feeding sink through the push-to-talk
// gate and the playback stream draining the scheduler. The loop owns both
// streams once it is built; until then they are released by Shutdown.
func (a *App) openStreams(sink capture.Sink) error {
	rec := capture.NewRecorder(a.machine, sink, capture.WithMetrics(a.metrics))
	fpb := a.cfg.Audio.FramesPerBuffer

	capStream, err := a.term.Device.OpenCapture(a.format, fpb, rec.OnFrame)
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}
	playStream, err := a.term.Device.OpenPlayback(a.format, fpb, func(out []int16) { a.player.Read(out) })
	if err != nil {
		return errors.Join(fmt.Errorf("open playback: %w", err), capStream.Close())
	}
	a.capture = a.streams.track("capture", capStream)
	a.playback = a.streams.track("playback", playStream)
	return nil
}

func (a *App) deps() session.Deps {
	return session.Deps{
		Keys:     a.term.Keys,
		Machine:  a.machine,
		Player:   a.player,
		Display:  a.term.Display,
		Capture:  a.capture,
		Playback: a.playback,
	}
}

func (a *App) loopOptions() []session.Option {
	return []session.Option{
		session.WithMetrics(a.metrics),
		session.WithPollInterval(a.pollInterval),
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the session and blocks until the user quits, ctx is cancelled
// or a streaming session ends on its own. The loop tears down its streams
// and pipeline session before Run returns.
func (a *App) Run(ctx context.Context) error {
	slog.Info("app running", "mode", a.loop.Mode(), "agent", a.cfg.Agent.Name)
	return a.loop.Run(ctx)
}

// Checkers returns the readiness checks of the running session.
func (a *App) Checkers() []health.Checker {
	return []health.Checker{
		a.audioReady.Checker("audio"),
		a.pipelineReady.Checker("pipeline"),
	}
}

// Shutdown stops the loop if it is still running and releases what the loop
// does not own (streams that never reached a loop, the batch tool service).
// It is safe to call more than once.
func (a *App) Shutdown(_ context.Context) error {
	a.stopOnce.Do(func() {
		var errs []error
		if a.loop != nil {
			errs = append(errs, a.loop.Shutdown())
		} else {
			a.player.Stop()
			for _, s := range []audio.Stream{a.capture, a.playback} {
				if s != nil {
					errs = append(errs, s.Close())
				}
			}
		}
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		a.pipelineReady.NotReady("shut down")
		a.stopErr = errors.Join(errs...)
	})
	return a.stopErr
}
