package stt

import "time"

// Transcript is a speech-to-text result. Both partial (interim) and final
// results use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal reports whether the provider has committed to this result.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). Zero when the
	// provider does not report it.
	Confidence float64

	// Words holds per-word detail when the provider reports it.
	Words []WordDetail
}

// WordDetail holds per-word timing and confidence.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// KeywordBoost is a vocabulary hint that raises recognition probability for an
// uncommon word such as a product name.
type KeywordBoost struct {
	// Keyword is the text to boost.
	Keyword string

	// Boost is the provider-specific boost intensity.
	Boost float64
}
