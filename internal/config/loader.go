package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"openai", "whisper", "deepgram"},
	"llm": {"openai", "anthropic", "deepseek", "gemini", "groq", "llamacpp", "llamafile", "mistral", "ollama"},
	"tts": {"openai", "elevenlabs", "coqui"},
	"s2s": {"openai-realtime"},
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultSampleRate      = 24000
	DefaultChannels        = 1
	DefaultFramesPerBuffer = 480
	DefaultSendChunkMs     = 20
	DefaultStreamBufferMs  = 10000
	DefaultAgentName       = "Assistant"
	DefaultVoice           = "alloy"
	DefaultInstructions    = "You are a helpful voice assistant. Answer briefly and conversationally; your replies are spoken aloud."
	DefaultToolTimeout     = 30 * time.Second
	DefaultMaxFailures     = 5
	DefaultResetTimeout    = 30 * time.Second
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field with its default and expands
// environment references in API keys.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeBatch
	}

	a := &cfg.Audio
	if a.SampleRate == 0 {
		a.SampleRate = DefaultSampleRate
	}
	if a.Channels == 0 {
		a.Channels = DefaultChannels
	}
	if a.FramesPerBuffer == 0 {
		a.FramesPerBuffer = DefaultFramesPerBuffer
	}
	if a.SendChunkMs == 0 {
		a.SendChunkMs = DefaultSendChunkMs
	}
	if a.StreamBufferMs == 0 {
		a.StreamBufferMs = DefaultStreamBufferMs
	}

	if cfg.Keys.Toggle == "" {
		cfg.Keys.Toggle = "r"
	}
	if cfg.Keys.Quit == "" {
		cfg.Keys.Quit = "q"
	}

	if cfg.Agent.Name == "" {
		cfg.Agent.Name = DefaultAgentName
	}
	if cfg.Agent.Voice == "" {
		cfg.Agent.Voice = DefaultVoice
	}
	if cfg.Agent.Instructions == "" {
		cfg.Agent.Instructions = DefaultInstructions
	}

	p := &cfg.Providers
	for _, e := range []*ProviderEntry{&p.STT, &p.LLM, &p.TTS, &p.S2S} {
		expandKeys(e)
	}
	if p.Failover.MaxFailures == 0 {
		p.Failover.MaxFailures = DefaultMaxFailures
	}
	if p.Failover.ResetTimeout == 0 {
		p.Failover.ResetTimeout = DefaultResetTimeout
	}

	if cfg.MCP.ToolTimeout == 0 {
		cfg.MCP.ToolTimeout = DefaultToolTimeout
	}
}

func expandKeys(e *ProviderEntry) {
	e.APIKey = os.ExpandEnv(e.APIKey)
	for i := range e.Fallbacks {
		expandKeys(&e.Fallbacks[i])
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if !cfg.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("mode %q is invalid; valid values: batch, streaming", cfg.Mode))
	}

	// Audio
	a := cfg.Audio
	if a.SampleRate < 8000 || a.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is out of range [8000, 192000]", a.SampleRate))
	}
	if a.Channels != 1 && a.Channels != 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is invalid; valid values: 1, 2", a.Channels))
	}
	if a.FramesPerBuffer <= 0 {
		errs = append(errs, fmt.Errorf("audio.frames_per_buffer must be positive, got %d", a.FramesPerBuffer))
	}
	if a.SendChunkMs < 10 || a.SendChunkMs > 1000 {
		errs = append(errs, fmt.Errorf("audio.send_chunk_ms %d is out of range [10, 1000]", a.SendChunkMs))
	}
	if a.StreamBufferMs < a.SendChunkMs {
		errs = append(errs, fmt.Errorf("audio.stream_buffer_ms %d must be at least send_chunk_ms (%d)", a.StreamBufferMs, a.SendChunkMs))
	}

	// Keys
	errs = append(errs, validateKey("keys.toggle", cfg.Keys.Toggle)...)
	errs = append(errs, validateKey("keys.quit", cfg.Keys.Quit)...)
	if strings.EqualFold(cfg.Keys.Toggle, cfg.Keys.Quit) && cfg.Keys.Toggle != "" {
		errs = append(errs, fmt.Errorf("keys.toggle and keys.quit are both %q", cfg.Keys.Toggle))
	}

	// Agent
	if cfg.Agent.Temperature < 0 || cfg.Agent.Temperature > 2 {
		errs = append(errs, fmt.Errorf("agent.temperature %.2f is out of range [0, 2]", cfg.Agent.Temperature))
	}
	if cfg.Agent.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("agent.max_tokens must not be negative, got %d", cfg.Agent.MaxTokens))
	}

	// Mode ↔ provider cross-validation
	p := cfg.Providers
	switch cfg.Mode {
	case ModeBatch:
		for kind, e := range map[string]ProviderEntry{"stt": p.STT, "llm": p.LLM, "tts": p.TTS} {
			if e.Name == "" {
				errs = append(errs, fmt.Errorf("mode %q requires providers.%s", cfg.Mode, kind))
			}
		}
	case ModeStreaming:
		if p.S2S.Name == "" {
			errs = append(errs, fmt.Errorf("mode %q requires providers.s2s", cfg.Mode))
		}
	}
	if len(p.TTS.Fallbacks) > 0 {
		errs = append(errs, errors.New("providers.tts.fallbacks is not supported"))
	}
	if len(p.S2S.Fallbacks) > 0 {
		errs = append(errs, errors.New("providers.s2s.fallbacks is not supported"))
	}
	validateProviderName("stt", p.STT)
	validateProviderName("llm", p.LLM)
	validateProviderName("tts", p.TTS)
	validateProviderName("s2s", p.S2S)

	if p.Failover.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("providers.failover.max_failures must not be negative, got %d", p.Failover.MaxFailures))
	}
	if p.Failover.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("providers.failover.reset_timeout must not be negative, got %s", p.Failover.ResetTimeout))
	}

	// MCP servers
	if cfg.MCP.ToolTimeout < 0 {
		errs = append(errs, fmt.Errorf("mcp.tool_timeout must not be negative, got %s", cfg.MCP.ToolTimeout))
	}
	seen := make(map[string]int, len(cfg.MCP.Servers))
	for i, srv := range cfg.MCP.ServerConfigs() {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if prev, ok := seen[srv.Name]; ok && srv.Name != "" {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of mcp.servers[%d]", prefix, srv.Name, prev))
		}
		seen[srv.Name] = i
		if err := srv.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
		}
	}

	return errors.Join(errs...)
}

func validateKey(field, v string) []error {
	if utf8.RuneCountInString(v) != 1 {
		return []error{fmt.Errorf("%s must be a single character, got %q", field, v)}
	}
	if v == " " {
		return []error{fmt.Errorf("%s must not be space; space always toggles", field)}
	}
	return nil
}

// validateProviderName logs a warning for each non-empty name in e and its
// fallbacks that is not found in the [ValidProviderNames] list for kind.
func validateProviderName(kind string, e ProviderEntry) {
	for _, fb := range e.Fallbacks {
		validateProviderName(kind, fb)
	}
	if e.Name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, e.Name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a provider registered elsewhere",
		"kind", kind,
		"name", e.Name,
		"known", known,
	)
}
