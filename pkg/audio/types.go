// Package audio holds the PCM plumbing shared by the speech adapters and the
// browser transport: the [AudioFrame] unit, format conversion, the streamed
// [AudioSegment] handed to a player, and the single-client [Connection]
// through which microphone audio arrives and synthesized audio leaves.
//
// All PCM in this package is signed 16-bit little-endian, interleaved when
// Channels > 1.
package audio

import "time"

// AudioFrame represents a single chunk of PCM audio moving between the
// browser, the recognizer and the player.
type AudioFrame struct {
	// Data is the raw PCM payload.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for STT input, 24000 for TTS output).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp is the frame's offset from the start of its stream.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}.Duration(len(f.Data))
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Valid reports whether both fields are positive.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// Duration returns the playback length of n bytes of PCM in this format.
// Invalid formats yield zero.
func (f Format) Duration(n int) time.Duration {
	if !f.Valid() {
		return 0
	}
	bytesPerSecond := int64(f.SampleRate) * int64(f.Channels) * 2
	return time.Duration(int64(n) * int64(time.Second) / bytesPerSecond)
}

// String renders the format as e.g. "16000Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}
