package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/pkg/provider/llm"
	llmmock "github.com/MrWong99/parley/pkg/provider/llm/mock"
	"github.com/MrWong99/parley/pkg/provider/stt"
	sttmock "github.com/MrWong99/parley/pkg/provider/stt/mock"
	"github.com/MrWong99/parley/pkg/provider/tts"
	ttsmock "github.com/MrWong99/parley/pkg/provider/tts/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  allowed_origins:
    - "app.example.com"
    - "*.example.org"

providers:
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o
  stt:
    name: deepgram
    api_key: dg-test
    model: nova-3
  tts:
    name: elevenlabs
    api_key: el-test
    options:
      output_format: pcm_24000
  fallbacks:
    llm:
      - name: anthropic
        api_key: ak-test
        model: claude-sonnet

voice:
  language: de-DE
  auto_speak: true
  silence_timeout: 4s
  settle_delay: 250ms
  voice_id: rachel
  speed_factor: 1.2

chat:
  system_prompt: "You are terse."
  max_history: 10
  user_name: sam
  temperature: 0.5
  max_tokens: 300
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level: got %q", cfg.Server.LogLevel)
	}
	if !slices.Equal(cfg.Server.AllowedOrigins, []string{"app.example.com", "*.example.org"}) {
		t.Errorf("allowed_origins: got %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Providers.LLM.Name != "openai" || cfg.Providers.LLM.Model != "gpt-4o" {
		t.Errorf("providers.llm: got %+v", cfg.Providers.LLM)
	}
	if got := cfg.Providers.TTS.Options["output_format"]; got != "pcm_24000" {
		t.Errorf("providers.tts.options.output_format: got %v", got)
	}
	if len(cfg.Providers.Fallbacks.LLM) != 1 || cfg.Providers.Fallbacks.LLM[0].Name != "anthropic" {
		t.Errorf("providers.fallbacks.llm: got %+v", cfg.Providers.Fallbacks.LLM)
	}

	v := cfg.Voice
	if v.Language != "de-DE" || !v.AutoSpeak {
		t.Errorf("voice language/auto_speak: got %q/%v", v.Language, v.AutoSpeak)
	}
	if v.SilenceTimeout != 4*time.Second {
		t.Errorf("silence_timeout: got %v, want 4s", v.SilenceTimeout)
	}
	if v.SettleDelay != 250*time.Millisecond {
		t.Errorf("settle_delay: got %v, want 250ms", v.SettleDelay)
	}
	if v.NoSpeechTimeout != config.DefaultNoSpeechTimeout {
		t.Errorf("no_speech_timeout default: got %v", v.NoSpeechTimeout)
	}
	if v.VoiceID != "rachel" || v.SpeedFactor != 1.2 {
		t.Errorf("voice_id/speed_factor: got %q/%v", v.VoiceID, v.SpeedFactor)
	}

	c := cfg.Chat
	if c.SystemPrompt != "You are terse." || c.MaxHistory != 10 || c.UserName != "sam" {
		t.Errorf("chat: got %+v", c)
	}
	if c.Temperature != 0.5 || c.MaxTokens != 300 {
		t.Errorf("chat temperature/max_tokens: got %v/%d", c.Temperature, c.MaxTokens)
	}
}

func TestLoadFromReader_EmptyIsValid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("empty config should be valid, got: %v", err)
	}

	want := config.Config{}
	config.ApplyDefaults(&want)
	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr: got %q, want %q", cfg.Server.ListenAddr, config.DefaultListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Voice != want.Voice {
		t.Errorf("voice defaults: got %+v, want %+v", cfg.Voice, want.Voice)
	}
	if cfg.Chat.MaxHistory != config.DefaultMaxHistory {
		t.Errorf("max_history: got %d, want %d", cfg.Chat.MaxHistory, config.DefaultMaxHistory)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("voice:\n  languge: en-US\n"))
	if err == nil {
		t.Fatal("expected error for misspelled key, got nil")
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "parley.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Voice.Language != "de-DE" {
		t.Errorf("language: got %q", cfg.Voice.Language)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("verbose").IsValid() {
		t.Error(`"verbose" should be invalid`)
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	entry := config.ProviderEntry{Name: "nonexistent"}

	_, errLLM := reg.CreateLLM(entry)
	_, errSTT := reg.CreateSTT(entry)
	_, errTTS := reg.CreateTTS(entry)

	for kind, err := range map[string]error{"llm": errLLM, "stt": errSTT, "tts": errTTS} {
		if !errors.Is(err, config.ErrProviderNotRegistered) {
			t.Errorf("%s: expected ErrProviderNotRegistered, got: %v", kind, err)
		}
		if err != nil && !strings.Contains(err.Error(), kind+`/"nonexistent"`) {
			t.Errorf("%s: error should name the provider, got: %v", kind, err)
		}
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	wantLLM := &llmmock.Provider{}
	wantSTT := &sttmock.Provider{}
	wantTTS := &ttsmock.Provider{}
	var gotEntry config.ProviderEntry
	reg.RegisterLLM("stub", func(e config.ProviderEntry) (llm.Provider, error) {
		gotEntry = e
		return wantLLM, nil
	})
	reg.RegisterSTT("stub", func(config.ProviderEntry) (stt.Provider, error) { return wantSTT, nil })
	reg.RegisterTTS("stub", func(config.ProviderEntry) (tts.Provider, error) { return wantTTS, nil })

	entry := config.ProviderEntry{Name: "stub", Model: "m1"}
	gotLLM, err := reg.CreateLLM(entry)
	if err != nil {
		t.Fatalf("CreateLLM: %v", err)
	}
	if gotLLM != wantLLM {
		t.Error("CreateLLM returned a different instance")
	}
	if gotEntry.Model != "m1" {
		t.Errorf("factory entry model: got %q, want m1", gotEntry.Model)
	}
	if got, err := reg.CreateSTT(entry); err != nil || got != wantSTT {
		t.Errorf("CreateSTT: got %v, %v", got, err)
	}
	if got, err := reg.CreateTTS(entry); err != nil || got != wantTTS {
		t.Errorf("CreateTTS: got %v, %v", got, err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterLLM("broken", func(config.ProviderEntry) (llm.Provider, error) {
		return nil, wantErr
	})
	_, err := reg.CreateLLM(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}

func TestRegistry_Names(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterLLM("openai", nil)
	reg.RegisterLLM("anthropic", nil)
	reg.RegisterTTS("elevenlabs", nil)

	if got := reg.Names("llm"); !slices.Equal(got, []string{"anthropic", "openai"}) {
		t.Errorf("llm names: got %v", got)
	}
	if got := reg.Names("tts"); !slices.Equal(got, []string{"elevenlabs"}) {
		t.Errorf("tts names: got %v", got)
	}
	if got := reg.Names("stt"); len(got) != 0 {
		t.Errorf("stt names: got %v, want none", got)
	}
}
