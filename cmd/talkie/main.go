// Command talkie is a push-to-talk voice assistant for the terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	"unicode/utf8"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/talkie/internal/app"
	"github.com/MrWong99/talkie/internal/config"
	"github.com/MrWong99/talkie/internal/console"
	"github.com/MrWong99/talkie/internal/health"
	"github.com/MrWong99/talkie/internal/keyboard"
	"github.com/MrWong99/talkie/internal/observe"
	"github.com/MrWong99/talkie/internal/resilience"
	"github.com/MrWong99/talkie/pkg/audio/portaudio"
	"github.com/MrWong99/talkie/pkg/provider/llm"
	"github.com/MrWong99/talkie/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/talkie/pkg/provider/llm/openai"
	"github.com/MrWong99/talkie/pkg/provider/s2s"
	oas2s "github.com/MrWong99/talkie/pkg/provider/s2s/openai"
	"github.com/MrWong99/talkie/pkg/provider/stt"
	"github.com/MrWong99/talkie/pkg/provider/stt/deepgram"
	oastt "github.com/MrWong99/talkie/pkg/provider/stt/openai"
	"github.com/MrWong99/talkie/pkg/provider/stt/whisper"
	"github.com/MrWong99/talkie/pkg/provider/tts"
	"github.com/MrWong99/talkie/pkg/provider/tts/coqui"
	"github.com/MrWong99/talkie/pkg/provider/tts/elevenlabs"
	oatts "github.com/MrWong99/talkie/pkg/provider/tts/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "talkie.yaml", "path to the YAML configuration file")
	modeFlag := flag.String("mode", "", `pipeline mode, "batch" or "streaming" (overrides the config file)`)
	listDevices := flag.Bool("list-devices", false, "print the audio devices and exit")
	flag.Parse()

	if *listDevices {
		return printDevices()
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "talkie: config file %q not found, copy talkie.example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "talkie: %v\n", err)
		}
		return 1
	}
	if *modeFlag != "" {
		cfg.Mode = config.Mode(*modeFlag)
		if err := config.Validate(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "talkie: %v\n", err)
			return 1
		}
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("talkie starting", "config", *configPath, "mode", cfg.Mode, "log_level", cfg.Server.LogLevel)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "talkie", Mode: string(cfg.Mode)})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Terminal ──────────────────────────────────────────────────────────────
	device, err := portaudio.Open()
	if err != nil {
		slog.Error("failed to open audio device", "err", err)
		return 1
	}
	defer func() {
		if err := device.Close(); err != nil {
			slog.Warn("audio device close error", "err", err)
		}
	}()

	keymap := keyboard.Keymap{Toggle: firstRune(cfg.Keys.Toggle), Quit: firstRune(cfg.Keys.Quit)}
	keys, err := keyboard.Open(keymap)
	if err != nil {
		slog.Error("failed to open keyboard", "err", err)
		return 1
	}
	defer keys.Close()

	display := console.New(os.Stdout, os.Stderr)

	application, err := app.New(ctx, cfg, providers, app.Terminal{
		Device:  device,
		Keys:    keys,
		Display: display,
	})
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Metrics and health ────────────────────────────────────────────────────
	var srv *http.Server
	if cfg.Server.MetricsAddr != "" {
		srv = newMetricsServer(cfg.Server.MetricsAddr, application.Checkers())
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "err", err)
			}
		}()
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)
	display.Start(keymap.Help())

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("session ended with error", "err", err)
		code = 1
	}
	display.Close()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics server shutdown error", "err", err)
		}
	}
	slog.Info("goodbye")
	return code
}

// newMetricsServer serves /metrics, /healthz and /readyz on addr.
func newMetricsServer(addr string, checkers []health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", observe.Handler())
	health.New(checkers...).Register(mux)
	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := entry.StringOption("organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		if user := entry.StringOption("user"); user != "" {
			opts = append(opts, oallm.WithUser(user))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// openai keeps the native client above.
	for _, backend := range anyllm.Backends() {
		if backend == "openai" {
			continue
		}
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────
	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []oastt.Option{oastt.WithOptions(stt.Options{
			Language: entry.StringOption("language"),
			Prompt:   entry.StringOption("prompt"),
		})}
		if entry.Model != "" {
			opts = append(opts, oastt.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		return oastt.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		return whisper.New(entry.BaseURL,
			whisper.WithModel(entry.Model),
			whisper.WithOptions(stt.Options{
				Language: entry.StringOption("language"),
				Prompt:   entry.StringOption("prompt"),
			}),
		)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		return deepgram.New(entry.APIKey,
			deepgram.WithModel(entry.Model),
			deepgram.WithEndpoint(entry.BaseURL),
			deepgram.WithOptions(stt.Options{
				Language: entry.StringOption("language"),
				Prompt:   entry.StringOption("prompt"),
			}),
		)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────
	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oatts.Option
		if entry.Model != "" {
			opts = append(opts, oatts.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oatts.WithBaseURL(entry.BaseURL))
		}
		return oatts.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := entry.StringOption("output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithEndpoint(entry.BaseURL))
		}
		if _, ok := entry.Options["stability"]; ok {
			opts = append(opts, elevenlabs.WithVoiceSettings(
				entry.FloatOption("stability"), entry.FloatOption("similarity_boost")))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		return coqui.New(entry.BaseURL,
			coqui.WithMode(coqui.Mode(entry.StringOption("mode"))),
			coqui.WithLanguage(entry.StringOption("language")),
		)
	})

	// ── S2S ───────────────────────────────────────────────────────────────────
	reg.RegisterS2S("openai-realtime", func(entry config.ProviderEntry) (s2s.Provider, error) {
		var opts []oas2s.Option
		if entry.Model != "" {
			opts = append(opts, oas2s.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oas2s.WithBaseURL(entry.BaseURL))
		}
		return oas2s.New(entry.APIKey, opts...)
	})

	for _, kind := range []string{"llm", "stt", "tts", "s2s"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates the providers cfg.Mode needs. STT and LLM
// entries with fallbacks are wrapped in a circuit-breaking failover chain.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	pc := cfg.Providers
	breaker := resilience.BreakerConfig{
		MaxFailures:  pc.Failover.MaxFailures,
		ResetTimeout: pc.Failover.ResetTimeout,
	}

	if cfg.Mode == config.ModeStreaming {
		p, err := reg.CreateS2S(pc.S2S)
		if err != nil {
			return nil, fmt.Errorf("create s2s provider %q: %w", pc.S2S.Name, err)
		}
		slog.Info("provider created", "kind", "s2s", "name", pc.S2S.Name)
		ps.S2S = p
		return ps, nil
	}

	sttChain, err := buildChain("stt", pc.STT, reg.CreateSTT, breaker)
	if err != nil {
		return nil, err
	}
	ps.STT = sttChain.Primary()
	if sttChain.Len() > 1 {
		ps.STT = resilience.NewSTT(sttChain)
	}

	llmChain, err := buildChain("llm", pc.LLM, reg.CreateLLM, breaker)
	if err != nil {
		return nil, err
	}
	ps.LLM = llmChain.Primary()
	if llmChain.Len() > 1 {
		ps.LLM = resilience.NewLLM(llmChain)
	}

	p, err := reg.CreateTTS(pc.TTS)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", pc.TTS.Name, err)
	}
	slog.Info("provider created", "kind", "tts", "name", pc.TTS.Name)
	ps.TTS = p
	return ps, nil
}

// buildChain creates entry and its fallbacks in order.
func buildChain[T any](kind string, entry config.ProviderEntry, create func(config.ProviderEntry) (T, error), cfg resilience.BreakerConfig) (*resilience.Chain[T], error) {
	primary, err := create(entry)
	if err != nil {
		return nil, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name)

	chain := resilience.NewChain(entry.Name, primary, cfg)
	for _, fb := range entry.Fallbacks {
		p, err := create(fb)
		if err != nil {
			return nil, fmt.Errorf("create %s fallback %q: %w", kind, fb.Name, err)
		}
		slog.Info("fallback provider created", "kind", kind, "name", fb.Name)
		chain.Add(fb.Name, p)
	}
	return chain, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         talkie startup summary        ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Mode", string(cfg.Mode))
	printRow("Agent", cfg.Agent.Name)
	if cfg.Mode == config.ModeStreaming {
		printProvider("S2S", cfg.Providers.S2S)
	} else {
		printProvider("STT", cfg.Providers.STT)
		printProvider("LLM", cfg.Providers.LLM)
		printProvider("TTS", cfg.Providers.TTS)
	}
	printRow("Audio", fmt.Sprintf("%d Hz / %d ch", cfg.Audio.SampleRate, cfg.Audio.Channels))
	printRow("MCP servers", fmt.Sprintf("%d", len(cfg.MCP.Servers)))
	if cfg.MCP.Clock {
		printRow("Local tools", "clock")
	}
	if cfg.Server.MetricsAddr != "" {
		printRow("Metrics addr", cfg.Server.MetricsAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind string, e config.ProviderEntry) {
	value := e.Name
	if e.Model != "" {
		value = e.Name + " / " + e.Model
	}
	if n := len(e.Fallbacks); n > 0 {
		value += fmt.Sprintf(" +%d", n)
	}
	printRow(kind, value)
}

func printRow(label, value string) {
	if utf8.RuneCountInString(value) > 19 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ── Devices ───────────────────────────────────────────────────────────────────

func printDevices() int {
	dev, err := portaudio.Open()
	if err != nil {
		fmt.Fprintf(os.Stderr, "talkie: %v\n", err)
		return 1
	}
	defer dev.Close()

	infos, err := portaudio.Devices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "talkie: %v\n", err)
		return 1
	}
	for _, d := range infos {
		mark := " "
		switch {
		case d.DefaultInput && d.DefaultOutput:
			mark = "*"
		case d.DefaultInput:
			mark = "<"
		case d.DefaultOutput:
			mark = ">"
		}
		fmt.Printf("%s %-40s %-12s in:%d out:%d %.0f Hz\n",
			mark, d.Name, d.HostAPI, d.MaxInputChannels, d.MaxOutputChannels, d.DefaultSampleRate)
	}
	return 0
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// firstRune returns the single character of a validated key binding.
func firstRune(s string) rune {
	r, _ := utf8.DecodeRuneInString(s)
	return r
}
