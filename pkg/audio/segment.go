package audio

import "sync/atomic"

// AudioSegment is the unit of synthesized speech handed to a player.
// Audio is streamed: chunks arrive incrementally on the Audio channel so
// playback can begin before synthesis is complete.
type AudioSegment struct {
	// ID identifies the utterance this segment renders.
	ID string

	// Audio is a read-only channel of raw PCM chunks. The producer closes it
	// when the segment ends or when a mid-stream error occurs. After the
	// channel closes, call [AudioSegment.Err] to check whether synthesis
	// completed cleanly.
	Audio <-chan []byte

	// SampleRate is the sample rate in Hz of the PCM on Audio. Must be > 0.
	SampleRate int

	// Channels is the number of interleaved channels. Must be > 0.
	Channels int

	streamErr atomic.Pointer[error]
}

// Format returns the segment's PCM layout.
func (s *AudioSegment) Format() Format {
	return Format{SampleRate: s.SampleRate, Channels: s.Channels}
}

// Err returns the error that caused the Audio channel to close prematurely,
// or nil if the stream completed successfully.
func (s *AudioSegment) Err() error {
	if p := s.streamErr.Load(); p != nil {
		return *p
	}
	return nil
}

// SetStreamErr records a mid-stream error. The producer calls it before
// closing the Audio channel.
func (s *AudioSegment) SetStreamErr(err error) {
	s.streamErr.Store(&err)
}
