package resilience

import (
	"cmp"
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

// ErrFormatMismatch is returned by [TTSFallback.AddFallback] for a backend
// whose PCM format differs from the primary's.
var ErrFormatMismatch = errors.New("resilience: tts fallback format differs from primary")

// TTSFallback is a [tts.Provider] that fails over between synthesis
// backends sharing one PCM format. The text channel can be read only once,
// so only starting a stream fails over.
type TTSFallback struct {
	group  *FallbackGroup[tts.Provider]
	format tts.AudioFormat
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback wraps primary and adopts its format.
func NewTTSFallback(primary tts.Provider, name string, cfg FallbackConfig) *TTSFallback {
	cfg.Kind = cmp.Or(cfg.Kind, "tts")
	return &TTSFallback{group: NewFallbackGroup(primary, name, cfg), format: primary.Format()}
}

// AddFallback appends p unless its format differs from the primary's.
func (f *TTSFallback) AddFallback(name string, p tts.Provider) error {
	if got := p.Format(); got != f.format {
		return fmt.Errorf("%w: %s emits %d Hz/%d ch, want %d Hz/%d ch",
			ErrFormatMismatch, name, got.SampleRate, got.Channels, f.format.SampleRate, f.format.Channels)
	}
	f.group.AddFallback(name, p)
	return nil
}

// Check fails when every backend's breaker is open.
func (f *TTSFallback) Check(ctx context.Context) error { return f.group.Check(ctx) }

func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	return Call(ctx, f.group, func(p tts.Provider) (<-chan []byte, error) {
		return p.SynthesizeStream(ctx, text, voice)
	})
}

func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return Call(ctx, f.group, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}

// Format is the PCM format every backend emits.
func (f *TTSFallback) Format() tts.AudioFormat { return f.format }
