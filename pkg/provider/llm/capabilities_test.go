package llm_test

import (
	"testing"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

func TestLookupCapabilities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model  string
		window int
		output int
	}{
		{"gpt-4o-mini", 128_000, 16_384},
		{"GPT-4O", 128_000, 16_384},
		{"gpt-4-turbo", 128_000, 4_096},
		{"gpt-4", 8_192, 4_096},
		{"gpt-3.5-turbo", 16_385, 4_096},
		{"o1-mini", 128_000, 65_536},
		{"o1", 200_000, 100_000},
		{"o3-mini", 200_000, 100_000},
		{"claude-3-opus-20240229", 200_000, 4_096},
		{"claude-3-5-haiku-latest", 200_000, 8_192},
		{"models/gemini-1.5-pro", 2_097_152, 8_192},
		{"gemini-2.0-flash", 1_048_576, 8_192},
		{"gemini-1.5-flash-8b", 1_048_576, 8_192},
		{"gemini-exp", 128_000, 8_192},
		{"llama3.2", 128_000, 4_096},
		{"", 128_000, 4_096},
	}
	for _, tt := range tests {
		got := llm.LookupCapabilities(tt.model)
		if got.ContextWindow != tt.window || got.MaxOutputTokens != tt.output {
			t.Errorf("LookupCapabilities(%q) = %d/%d, want %d/%d",
				tt.model, got.ContextWindow, got.MaxOutputTokens, tt.window, tt.output)
		}
	}
}

func TestEstimateTokens(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msgs []llm.Message
		want int
	}{
		{"empty", nil, 0},
		// 11 chars round up to 3 tokens, plus 4 per message.
		{"one message", []llm.Message{{Role: llm.RoleUser, Content: "Hello world"}}, 7},
		{"empty content still costs overhead", []llm.Message{{Role: llm.RoleAssistant}}, 4},
		{"two messages", []llm.Message{{Content: "abcd"}, {Content: "abcde"}}, 1 + 4 + 2 + 4},
	}
	for _, tt := range tests {
		if got := llm.EstimateTokens(tt.msgs); got != tt.want {
			t.Errorf("%s: EstimateTokens = %d, want %d", tt.name, got, tt.want)
		}
	}
}
