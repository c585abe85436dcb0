package llm

import "strings"

// DefaultCapabilities are assumed for models missing from the known table.
var DefaultCapabilities = ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}

// modelLimit matches model names by prefix, or by substring when anywhere is
// set, so that vendor-qualified names like "models/gemini-1.5-pro" match too.
type modelLimit struct {
	pattern  string
	anywhere bool
	caps     ModelCapabilities
}

// knownModels is searched in order; the first match wins, so more specific
// patterns come first.
var knownModels = []modelLimit{
	{pattern: "gpt-4o", caps: ModelCapabilities{128_000, 16_384}},
	{pattern: "gpt-4-turbo", caps: ModelCapabilities{128_000, 4_096}},
	{pattern: "gpt-4", caps: ModelCapabilities{8_192, 4_096}},
	{pattern: "gpt-3.5-turbo", caps: ModelCapabilities{16_385, 4_096}},
	{pattern: "o1-mini", caps: ModelCapabilities{128_000, 65_536}},
	{pattern: "o1", caps: ModelCapabilities{200_000, 100_000}},
	{pattern: "o3", caps: ModelCapabilities{200_000, 100_000}},
	{pattern: "claude-3-opus", anywhere: true, caps: ModelCapabilities{200_000, 4_096}},
	{pattern: "claude", caps: ModelCapabilities{200_000, 8_192}},
	{pattern: "gemini-1.5-pro", anywhere: true, caps: ModelCapabilities{2_097_152, 8_192}},
	{pattern: "gemini-2.0-flash", anywhere: true, caps: ModelCapabilities{1_048_576, 8_192}},
	{pattern: "gemini-1.5-flash", anywhere: true, caps: ModelCapabilities{1_048_576, 8_192}},
	{pattern: "gemini", caps: ModelCapabilities{128_000, 8_192}},
}

// LookupCapabilities returns the limits of a well-known model, matched case
// insensitively, or [DefaultCapabilities].
func LookupCapabilities(model string) ModelCapabilities {
	name := strings.ToLower(model)
	for _, m := range knownModels {
		hit := strings.HasPrefix(name, m.pattern)
		if m.anywhere {
			hit = strings.Contains(name, m.pattern)
		}
		if hit {
			return m.caps
		}
	}
	return DefaultCapabilities
}
