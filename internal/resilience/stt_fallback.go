package resilience

import (
	"cmp"
	"context"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

// STTFallback is an [stt.Provider] that fails over between recognition
// backends when a stream cannot be opened. Errors after a stream is running
// are the caller's to handle.
type STTFallback struct {
	*FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback wraps primary. Add further backends with AddFallback.
func NewSTTFallback(primary stt.Provider, name string, cfg FallbackConfig) *STTFallback {
	cfg.Kind = cmp.Or(cfg.Kind, "stt")
	return &STTFallback{NewFallbackGroup(primary, name, cfg)}
}

func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return Call(ctx, f.FallbackGroup, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}
