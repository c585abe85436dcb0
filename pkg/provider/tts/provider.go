// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs) and
// presents a uniform streaming interface. SynthesizeStream accepts a channel
// of text fragments and returns a channel of raw PCM audio as it becomes
// available, so playback can begin before synthesis has finished.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes text fragments from text and returns a channel
	// that emits 16-bit little-endian PCM chunks in the provider's Format.
	//
	// The returned channel is closed when all text has been synthesised, when
	// synthesis fails or when ctx is cancelled. The caller must drain it.
	// A non-nil error is returned only if the stream cannot be started.
	SynthesizeStream(ctx context.Context, text <-chan string, voice VoiceProfile) (<-chan []byte, error)

	// ListVoices returns the voice profiles available from this provider.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)

	// Format reports the PCM format of the audio SynthesizeStream emits.
	Format() AudioFormat
}
