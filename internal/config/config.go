// Package config provides the configuration schema, loader, hot-reload watcher
// and provider registry for the parley voice chat server.
package config

import "time"

// LogLevel controls log verbosity for the parley server.
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

// Defaults applied by [ApplyDefaults] to unset fields.
const (
	DefaultListenAddr       = ":8080"
	DefaultLanguage         = "en-US"
	DefaultSilenceTimeout   = 3 * time.Second
	DefaultSettleDelay      = 500 * time.Millisecond
	DefaultNoSpeechTimeout  = 8 * time.Second
	DefaultInputSampleRate  = 16000
	DefaultOutputSampleRate = 24000
	DefaultMaxHistory       = 20
)

// Config is the root configuration structure for parley.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Voice     VoiceConfig     `yaml:"voice"`
	Chat      ChatConfig      `yaml:"chat"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// AllowedOrigins lists host patterns (e.g., "app.example.com",
	// "*.example.com") whose pages may open the voice WebSocket. Same-origin
	// requests are always allowed.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// StaticDir, when set, is served at "/" so the browser client can be
	// hosted by the same process.
	StaticDir string `yaml:"static_dir"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`

	// Fallbacks lists secondary providers tried in order when the primary
	// fails.
	Fallbacks FallbacksConfig `yaml:"fallbacks"`
}

// FallbacksConfig lists fallback providers per stage.
type FallbacksConfig struct {
	LLM []ProviderEntry `yaml:"llm"`
	STT []ProviderEntry `yaml:"stt"`
	TTS []ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o", "nova-3").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// VoiceConfig tunes speech capture and playback.
type VoiceConfig struct {
	// Language is the BCP-47 tag recognition and replies start in.
	Language string `yaml:"language"`

	// AutoSpeak makes assistant replies play automatically.
	AutoSpeak bool `yaml:"auto_speak"`

	// SilenceTimeout stops capture after this long without a transcript.
	SilenceTimeout time.Duration `yaml:"silence_timeout"`

	// SettleDelay is the wait before an assistant reply is spoken.
	SettleDelay time.Duration `yaml:"settle_delay"`

	// NoSpeechTimeout fails a capture session that produced no transcript.
	NoSpeechTimeout time.Duration `yaml:"no_speech_timeout"`

	// InputSampleRate is the microphone PCM rate the browser sends.
	InputSampleRate int `yaml:"input_sample_rate"`

	// OutputSampleRate is the PCM rate synthesized audio is sent at.
	OutputSampleRate int `yaml:"output_sample_rate"`

	// VoiceID is the TTS provider's voice identifier.
	VoiceID string `yaml:"voice_id"`

	// SpeedFactor adjusts speaking rate in the range [0.5, 2.0]. 0 means default.
	SpeedFactor float64 `yaml:"speed_factor"`
}

// ChatConfig configures response generation.
type ChatConfig struct {
	// SystemPrompt is the assistant's instruction.
	SystemPrompt string `yaml:"system_prompt"`

	// MaxHistory is the number of messages of context kept.
	MaxHistory int `yaml:"max_history"`

	// UserName is attached to user messages when set.
	UserName string `yaml:"user_name"`

	// Temperature in [0, 2]. Zero keeps the provider default.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens caps the reply length. Zero keeps the provider default.
	MaxTokens int `yaml:"max_tokens"`
}

// ApplyDefaults fills unset fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	v := &cfg.Voice
	if v.Language == "" {
		v.Language = DefaultLanguage
	}
	if v.SilenceTimeout == 0 {
		v.SilenceTimeout = DefaultSilenceTimeout
	}
	if v.SettleDelay == 0 {
		v.SettleDelay = DefaultSettleDelay
	}
	if v.NoSpeechTimeout == 0 {
		v.NoSpeechTimeout = DefaultNoSpeechTimeout
	}
	if v.InputSampleRate == 0 {
		v.InputSampleRate = DefaultInputSampleRate
	}
	if v.OutputSampleRate == 0 {
		v.OutputSampleRate = DefaultOutputSampleRate
	}
	if cfg.Chat.MaxHistory == 0 {
		cfg.Chat.MaxHistory = DefaultMaxHistory
	}
}
