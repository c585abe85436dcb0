package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// ErrNoLLM is returned by BuildProviders when providers.llm is not set.
var ErrNoLLM = errors.New("app: providers.llm is required")

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Configured providers are wrapped in a
// resilience fallback group, even without fallbacks, so their circuit
// breakers feed the readiness probe.
type Providers struct {
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider

	LLMName string
	STTName string
	TTSName string

	// Checkers report the circuit state of each configured slot.
	Checkers []health.Checker
}

// BuildProviders instantiates every provider named in cfg through reg.
// A configured name without a registered factory is an error.
func BuildProviders(cfg *config.Config, reg *config.Registry, fc resilience.FallbackConfig) (*Providers, error) {
	pc := cfg.Providers
	if pc.LLM.Name == "" {
		return nil, ErrNoLLM
	}
	ps := &Providers{}

	{
		primary, err := reg.CreateLLM(pc.LLM)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", pc.LLM.Name, err)
		}
		fb := resilience.NewLLMFallback(primary, pc.LLM.Name, fc)
		for _, entry := range pc.Fallbacks.LLM {
			p, err := reg.CreateLLM(entry)
			if err != nil {
				return nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
			}
			fb.AddFallback(entry.Name, p)
		}
		ps.LLM, ps.LLMName = fb, pc.LLM.Name
		ps.Checkers = append(ps.Checkers, health.Checker{Name: "llm", Check: fb.Check})
		slog.Info("provider created", "kind", "llm", "name", pc.LLM.Name, "fallbacks", len(pc.Fallbacks.LLM))
	}

	if pc.STT.Name != "" {
		primary, err := reg.CreateSTT(pc.STT)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", pc.STT.Name, err)
		}
		fb := resilience.NewSTTFallback(primary, pc.STT.Name, fc)
		for _, entry := range pc.Fallbacks.STT {
			p, err := reg.CreateSTT(entry)
			if err != nil {
				return nil, fmt.Errorf("create stt fallback %q: %w", entry.Name, err)
			}
			fb.AddFallback(entry.Name, p)
		}
		ps.STT, ps.STTName = fb, pc.STT.Name
		ps.Checkers = append(ps.Checkers, health.Checker{Name: "stt", Check: fb.Check})
		slog.Info("provider created", "kind", "stt", "name", pc.STT.Name, "fallbacks", len(pc.Fallbacks.STT))
	}

	if pc.TTS.Name != "" {
		primary, err := reg.CreateTTS(pc.TTS)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", pc.TTS.Name, err)
		}
		fb := resilience.NewTTSFallback(primary, pc.TTS.Name, fc)
		for _, entry := range pc.Fallbacks.TTS {
			p, err := reg.CreateTTS(entry)
			if err != nil {
				return nil, fmt.Errorf("create tts fallback %q: %w", entry.Name, err)
			}
			if err := fb.AddFallback(entry.Name, p); err != nil {
				return nil, err
			}
		}
		ps.TTS, ps.TTSName = fb, pc.TTS.Name
		ps.Checkers = append(ps.Checkers, health.Checker{Name: "tts", Check: fb.Check})
		slog.Info("provider created", "kind", "tts", "name", pc.TTS.Name, "fallbacks", len(pc.Fallbacks.TTS))
	}

	return ps, nil
}
