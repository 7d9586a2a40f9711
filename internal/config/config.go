// Package config provides the configuration schema, loader, and provider
// registry for talkie.
package config

import (
	"time"

	"github.com/MrWong99/talkie/internal/mcp"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Mode selects the voice pipeline.
type Mode string

const (
	// ModeBatch records a whole utterance and runs STT → LLM → TTS on it
	// once push-to-talk is released.
	ModeBatch Mode = "batch"

	// ModeStreaming keeps one speech-to-speech session open and streams
	// microphone audio to it while push-to-talk is held.
	ModeStreaming Mode = "streaming"
)

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	return m == ModeBatch || m == ModeStreaming
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Mode      Mode            `yaml:"mode"`
	Audio     AudioConfig     `yaml:"audio"`
	Keys      KeysConfig      `yaml:"keys"`
	Agent     AgentConfig     `yaml:"agent"`
	Providers ProvidersConfig `yaml:"providers"`
	MCP       MCPConfig       `yaml:"mcp"`
}

// ServerConfig holds logging and the optional observability listener.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address serving /metrics, /healthz and /readyz
	// (e.g., ":9090"). Empty disables the listener.
	MetricsAddr string `yaml:"metrics_addr"`
}

// AudioConfig is the device format and the capture sizing.
type AudioConfig struct {
	// SampleRate of both device streams in Hz.
	SampleRate int `yaml:"sample_rate"`

	// Channels of both device streams.
	Channels int `yaml:"channels"`

	// FramesPerBuffer is the device callback size in frames.
	FramesPerBuffer int `yaml:"frames_per_buffer"`

	// SendChunkMs is the size of the chunks the streaming sender forwards.
	SendChunkMs int `yaml:"send_chunk_ms"`

	// StreamBufferMs bounds the streaming capture queue. Audio beyond it is
	// dropped and counted.
	StreamBufferMs int `yaml:"stream_buffer_ms"`
}

// KeysConfig binds the two command keys. Each value is a single character.
type KeysConfig struct {
	Toggle string `yaml:"toggle"`
	Quit   string `yaml:"quit"`
}

// AgentConfig describes the assistant both pipelines speak as.
type AgentConfig struct {
	// Name is shown in the startup summary and the console.
	Name string `yaml:"name"`

	// Instructions is the system prompt.
	Instructions string `yaml:"instructions"`

	// Voice is the provider-specific voice identifier.
	Voice string `yaml:"voice"`

	// Temperature is the sampling temperature in [0, 2]. Zero leaves the
	// provider default.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens caps each LLM reply in batch mode. Zero leaves the provider
	// default.
	MaxTokens int `yaml:"max_tokens"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the
// [Registry]. Batch mode uses STT, LLM and TTS; streaming mode uses S2S.
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	LLM ProviderEntry `yaml:"llm"`
	TTS ProviderEntry `yaml:"tts"`
	S2S ProviderEntry `yaml:"s2s"`

	// Failover tunes the circuit breakers guarding STT and LLM entries that
	// declare fallbacks.
	Failover FailoverConfig `yaml:"failover"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	// ${VAR} references are expanded from the environment.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4.1-mini", "whisper-1").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`

	// Fallbacks are tried in order when this provider fails. Only honoured
	// for stt and llm.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// FailoverConfig holds the circuit breaker settings for provider fallbacks.
type FailoverConfig struct {
	// MaxFailures is the number of consecutive failures that open a breaker.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long an open breaker rejects calls before probing.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// MCPConfig holds the Model Context Protocol servers whose tools the agent
// may call.
type MCPConfig struct {
	// ToolTimeout bounds a single tool call.
	ToolTimeout time.Duration `yaml:"tool_timeout"`

	// Clock offers the agent a local tool that tells the current time.
	Clock bool `yaml:"clock"`

	Servers []MCPServerConfig `yaml:"servers"`
}

// HasTools reports whether any tool source is configured.
func (c MCPConfig) HasTools() bool {
	return c.Clock || len(c.Servers) > 0
}

// MCPServerConfig describes how to connect to a single MCP tool server.
type MCPServerConfig struct {
	// Name is a unique human-readable identifier for this server (used in logs).
	Name string `yaml:"name"`

	// Transport specifies the connection mechanism.
	Transport mcp.Transport `yaml:"transport"`

	// Command is the executable (with optional arguments) launched when
	// Transport is "stdio". Ignored for streamable-http transport.
	Command string `yaml:"command"`

	// URL is the MCP endpoint address used when Transport is "streamable-http".
	URL string `yaml:"url"`

	// Env holds additional environment variables injected into the subprocess
	// when Transport is "stdio". May be nil.
	Env map[string]string `yaml:"env"`
}

// ServerConfigs converts the configured servers to [mcp.ServerConfig] values.
func (c MCPConfig) ServerConfigs() []mcp.ServerConfig {
	out := make([]mcp.ServerConfig, 0, len(c.Servers))
	for _, s := range c.Servers {
		out = append(out, mcp.ServerConfig{
			Name:      s.Name,
			Transport: s.Transport,
			Command:   s.Command,
			URL:       s.URL,
			Env:       s.Env,
		})
	}
	return out
}

// StringOption returns Options[key] when it is a string, or "".
func (e ProviderEntry) StringOption(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// FloatOption returns Options[key] when it is a number, or 0.
func (e ProviderEntry) FloatOption(key string) float64 {
	switch v := e.Options[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}
