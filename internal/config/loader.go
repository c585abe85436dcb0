package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"deepgram"},
	"tts": {"elevenlabs"},
}

// validSampleRates are the PCM rates the browser client and converters handle.
var validSampleRates = []int{8000, 16000, 22050, 24000, 44100, 48000}

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

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the defaults.
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

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	errs = append(errs, validateFallbacks("llm", cfg.Providers.Fallbacks.LLM)...)
	errs = append(errs, validateFallbacks("stt", cfg.Providers.Fallbacks.STT)...)
	errs = append(errs, validateFallbacks("tts", cfg.Providers.Fallbacks.TTS)...)

	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; chat replies will not be available")
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("no STT provider configured; speech capture will be reported as unsupported")
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("no TTS provider configured; speech output will be reported as unsupported")
	} else if cfg.Voice.VoiceID == "" {
		errs = append(errs, fmt.Errorf("voice.voice_id is required when providers.tts is configured"))
	}

	// Voice
	v := cfg.Voice
	if v.Language != "" {
		if _, err := language.Parse(v.Language); err != nil {
			errs = append(errs, fmt.Errorf("voice.language %q is not a valid BCP-47 tag: %w", v.Language, err))
		}
	}
	for name, d := range map[string]int64{
		"silence_timeout":   int64(v.SilenceTimeout),
		"settle_delay":      int64(v.SettleDelay),
		"no_speech_timeout": int64(v.NoSpeechTimeout),
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("voice.%s must not be negative", name))
		}
	}
	if v.InputSampleRate != 0 && !slices.Contains(validSampleRates, v.InputSampleRate) {
		errs = append(errs, fmt.Errorf("voice.input_sample_rate %d is unsupported; valid values: %v", v.InputSampleRate, validSampleRates))
	}
	if v.OutputSampleRate != 0 && !slices.Contains(validSampleRates, v.OutputSampleRate) {
		errs = append(errs, fmt.Errorf("voice.output_sample_rate %d is unsupported; valid values: %v", v.OutputSampleRate, validSampleRates))
	}
	if v.SpeedFactor != 0 && (v.SpeedFactor < 0.5 || v.SpeedFactor > 2.0) {
		errs = append(errs, fmt.Errorf("voice.speed_factor %.2f is out of range [0.5, 2.0]", v.SpeedFactor))
	}

	// Chat
	if cfg.Chat.MaxHistory < 0 {
		errs = append(errs, fmt.Errorf("chat.max_history %d must not be negative", cfg.Chat.MaxHistory))
	}
	if cfg.Chat.Temperature < 0 || cfg.Chat.Temperature > 2 {
		errs = append(errs, fmt.Errorf("chat.temperature %.2f is out of range [0, 2]", cfg.Chat.Temperature))
	}
	if cfg.Chat.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("chat.max_tokens %d must not be negative", cfg.Chat.MaxTokens))
	}

	return errors.Join(errs...)
}

func validateFallbacks(kind string, entries []ProviderEntry) []error {
	var errs []error
	for i, e := range entries {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.fallbacks.%s[%d].name is required", kind, i))
			continue
		}
		validateProviderName(kind, e.Name)
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
