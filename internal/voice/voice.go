// Package voice defines the shared vocabulary of the voice interaction
// controller: the internal event enum consumed by the capture and playback
// engines, the platform capability interfaces those engines drive, the error
// taxonomy, and the derived [Status] record rendered by presentation layers.
//
// The concrete state machines live in the capture, playback and coordinator
// sub-packages. Platform implementations backed by real STT/TTS providers live
// in internal/speech; in-memory fakes for tests live in voice/mock.
package voice

import (
	"context"
	"strings"
)

// EventKind classifies an event delivered by a platform capability to one of
// the engines.
type EventKind int

const (
	// EventTranscriptInterim carries a provisional transcript snapshot.
	EventTranscriptInterim EventKind = iota

	// EventTranscriptFinal carries a recognizer-confirmed transcript segment.
	EventTranscriptFinal

	// EventSessionEnded reports that the platform ended the capture session on
	// its own (not in response to a caller stop).
	EventSessionEnded

	// EventSessionError reports a platform failure. Code holds the platform
	// error code (see the Code* constants).
	EventSessionError

	// EventUtteranceCompleted reports that an utterance finished playing.
	// UtteranceID identifies it; Err is set when synthesis failed.
	EventUtteranceCompleted
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventTranscriptInterim:
		return "TRANSCRIPT_INTERIM"
	case EventTranscriptFinal:
		return "TRANSCRIPT_FINAL"
	case EventSessionEnded:
		return "SESSION_ENDED"
	case EventSessionError:
		return "SESSION_ERROR"
	case EventUtteranceCompleted:
		return "UTTERANCE_COMPLETED"
	default:
		return "UNKNOWN"
	}
}

// Event is a single platform notification. Only the fields relevant to Kind
// are populated.
type Event struct {
	Kind EventKind

	// Text is the transcript text for transcript events.
	Text string

	// Code is the platform error code for EventSessionError.
	Code string

	// UtteranceID identifies the utterance for EventUtteranceCompleted.
	UtteranceID string

	// Err is an optional underlying error (synthesis or transport failure).
	Err error
}

// Interim builds an EventTranscriptInterim whose text is the concatenation of
// segments in arrival order.
func Interim(segments ...string) Event {
	return Event{Kind: EventTranscriptInterim, Text: strings.Join(segments, "")}
}

// Final builds an EventTranscriptFinal for a confirmed segment.
func Final(text string) Event {
	return Event{Kind: EventTranscriptFinal, Text: text}
}

// Ended builds an EventSessionEnded.
func Ended() Event {
	return Event{Kind: EventSessionEnded}
}

// Failed builds an EventSessionError carrying a platform error code.
func Failed(code string, err error) Event {
	return Event{Kind: EventSessionError, Code: code, Err: err}
}

// Completed builds an EventUtteranceCompleted. A nil err means the utterance
// played to the end.
func Completed(utteranceID string, err error) Event {
	return Event{Kind: EventUtteranceCompleted, UtteranceID: utteranceID, Err: err}
}

// Emit delivers an event to the engine that started a capture session or an
// utterance. It is safe to call from any goroutine.
type Emit func(Event)

// RecognitionConfig describes a capture session request.
type RecognitionConfig struct {
	// Language is the BCP-47 tag used for recognition (e.g. "en-US").
	Language string

	// Continuous keeps the session open across pauses in speech.
	Continuous bool

	// InterimResults requests provisional transcripts.
	InterimResults bool

	// MaxAlternatives is the number of hypotheses per result. Only the first is used.
	MaxAlternatives int
}

// RecognitionSession is a running capture session.
type RecognitionSession interface {
	// Stop asks the platform to end the session. Late final results may still
	// be emitted before EventSessionEnded. Calling Stop more than once is safe.
	Stop() error
}

// Recognizer is the platform's continuous speech-recognition capability.
//
// Start must return without invoking emit; events are delivered later, in
// arrival order, from a single goroutine per session.
type Recognizer interface {
	Start(ctx context.Context, cfg RecognitionConfig, emit Emit) (RecognitionSession, error)
}

// Utterance is one unit of text submitted for speech output.
type Utterance struct {
	ID       string
	Text     string
	Language string
}

// Synthesizer is the platform's speech-synthesis capability. It plays one
// utterance at a time; queueing is the caller's job.
//
// Speak must return without invoking emit. Pause, Resume and Cancel act on the
// utterance currently playing and are no-ops when nothing is playing. Pause
// reports whether the utterance is now held.
type Synthesizer interface {
	Speak(ctx context.Context, u Utterance, emit Emit) error
	Pause() bool
	Resume()
	Cancel()
}

// Capabilities records which platform capabilities were detected at startup.
// It is computed once and threaded through as configuration.
type Capabilities struct {
	Capture  bool `json:"capture"`
	Playback bool `json:"playback"`
}

// Detect reports the capabilities backed by the given implementations. A nil
// interface value means the capability is absent.
func Detect(rec Recognizer, syn Synthesizer) Capabilities {
	return Capabilities{
		Capture:  rec != nil,
		Playback: syn != nil,
	}
}

// Status is the user-facing projection of the engines' state. It is derived,
// never stored or mutated independently.
type Status struct {
	Listening    bool   `json:"listening"`
	Speaking     bool   `json:"speaking"`
	Paused       bool   `json:"paused"`
	InterimText  string `json:"interim_text"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// AssistantMessage is a reply produced by the chat pipeline.
type AssistantMessage struct {
	ID   string
	Text string
}
