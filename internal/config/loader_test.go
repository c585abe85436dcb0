package config_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/parley/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{
			name:    "invalid log level",
			yaml:    "server:\n  log_level: bananas\n",
			wantMsg: "log_level",
		},
		{
			name:    "tls without key",
			yaml:    "server:\n  tls:\n    cert_file: cert.pem\n",
			wantMsg: "cert_file and key_file",
		},
		{
			name:    "invalid language",
			yaml:    "voice:\n  language: \"!!\"\n",
			wantMsg: "BCP-47",
		},
		{
			name:    "negative silence timeout",
			yaml:    "voice:\n  silence_timeout: -1s\n",
			wantMsg: "voice.silence_timeout",
		},
		{
			name:    "unsupported sample rate",
			yaml:    "voice:\n  input_sample_rate: 11111\n",
			wantMsg: "input_sample_rate",
		},
		{
			name:    "speed factor too high",
			yaml:    "voice:\n  speed_factor: 3.0\n",
			wantMsg: "speed_factor",
		},
		{
			name:    "tts without voice id",
			yaml:    "providers:\n  tts:\n    name: elevenlabs\n",
			wantMsg: "voice.voice_id",
		},
		{
			name:    "fallback without name",
			yaml:    "providers:\n  fallbacks:\n    stt:\n      - model: nova-3\n",
			wantMsg: "providers.fallbacks.stt[0].name",
		},
		{
			name:    "temperature out of range",
			yaml:    "chat:\n  temperature: 2.5\n",
			wantMsg: "chat.temperature",
		},
		{
			name:    "negative max tokens",
			yaml:    "chat:\n  max_tokens: -5\n",
			wantMsg: "chat.max_tokens",
		},
		{
			name:    "negative max history",
			yaml:    "chat:\n  max_history: -1\n",
			wantMsg: "chat.max_history",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error should mention %q, got: %v", tt.wantMsg, err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: bananas
voice:
  speed_factor: 5.0
chat:
  temperature: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	for _, want := range []string{"log_level", "speed_factor", "temperature"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_UnknownProviderOnlyWarns(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  llm:
    name: my-private-llm
  stt:
    name: whisper-farm
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unknown provider names should only warn, got: %v", err)
	}
}

func TestValidate_ZeroSpeedFactorIsDefault(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("defaults should validate, got: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind string
		want []string
	}{
		{kind: "llm", want: []string{"openai", "anthropic", "ollama", "gemini"}},
		{kind: "stt", want: []string{"deepgram"}},
		{kind: "tts", want: []string{"elevenlabs"}},
	}
	for _, tt := range tests {
		names, ok := config.ValidProviderNames[tt.kind]
		if !ok {
			t.Errorf("ValidProviderNames missing kind %q", tt.kind)
			continue
		}
		for _, want := range tt.want {
			if !slices.Contains(names, want) {
				t.Errorf("ValidProviderNames[%q] should contain %q", tt.kind, want)
			}
		}
	}
}
