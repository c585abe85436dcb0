package resilience

import (
	"cmp"
	"context"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

// LLMFallback is an [llm.Provider] that fails over between chat backends.
type LLMFallback struct {
	*FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback wraps primary. Add further backends with AddFallback.
func NewLLMFallback(primary llm.Provider, name string, cfg FallbackConfig) *LLMFallback {
	cfg.Kind = cmp.Or(cfg.Kind, "llm")
	return &LLMFallback{NewFallbackGroup(primary, name, cfg)}
}

func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Call(ctx, f.FallbackGroup, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// CountTokens always asks the primary. Counting is local, so it bypasses
// the breakers.
func (f *LLMFallback) CountTokens(messages []llm.Message) (int, error) {
	return f.Primary().CountTokens(messages)
}

// Capabilities reports the tightest known limits across all backends so a
// history trimmed for them fits whichever backend answers. Zero limits mean
// unknown and are skipped.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	var caps llm.ModelCapabilities
	for _, m := range f.members {
		c := m.p.Capabilities()
		caps.ContextWindow = smallestKnown(caps.ContextWindow, c.ContextWindow)
		caps.MaxOutputTokens = smallestKnown(caps.MaxOutputTokens, c.MaxOutputTokens)
	}
	return caps
}

func smallestKnown(a, b int) int {
	if a <= 0 {
		return b
	}
	if b <= 0 {
		return a
	}
	return min(a, b)
}
