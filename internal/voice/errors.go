package voice

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupported is returned when the required platform capability is
	// absent. It is permanent for the lifetime of the process.
	ErrUnsupported = errors.New("voice: capability not supported")

	// ErrAlreadyActive is returned by a capture start while a session is active.
	ErrAlreadyActive = errors.New("voice: capture already active")

	// ErrEmptyText is returned when an utterance has no speakable text.
	ErrEmptyText = errors.New("voice: utterance text is empty")
)

// Platform error codes understood by [Classify].
const (
	CodeNoSpeech     = "no-speech"
	CodeAudioCapture = "audio-capture"
	CodeNotAllowed   = "not-allowed"
	CodeNetwork      = "network"
)

// Messages recorded by the capture engine outside the platform error taxonomy.
const (
	MessageCaptureUnsupported = "Speech recognition is not supported in this browser."
	MessageStartFailed        = "Failed to start speech recognition. Please try again."
)

// ErrorKind is the capture-time error taxonomy. Every kind fails the current
// session only and is recoverable by a fresh user-initiated start.
type ErrorKind int

const (
	NoSpeechDetected ErrorKind = iota
	MicrophoneUnavailable
	PermissionDenied
	NetworkError
	UnknownPlatformError
)

// String returns the human-readable name of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case NoSpeechDetected:
		return "no_speech_detected"
	case MicrophoneUnavailable:
		return "microphone_unavailable"
	case PermissionDenied:
		return "permission_denied"
	case NetworkError:
		return "network_error"
	case UnknownPlatformError:
		return "unknown_platform_error"
	default:
		return "unknown"
	}
}

// Classify maps a platform error code onto the taxonomy.
func Classify(code string) ErrorKind {
	switch code {
	case CodeNoSpeech:
		return NoSpeechDetected
	case CodeAudioCapture:
		return MicrophoneUnavailable
	case CodeNotAllowed:
		return PermissionDenied
	case CodeNetwork:
		return NetworkError
	default:
		return UnknownPlatformError
	}
}

// CaptureError is a classified capture failure recorded in engine state.
type CaptureError struct {
	Kind ErrorKind

	// Code is the raw platform code the error was classified from.
	Code string
}

// NewCaptureError classifies code into a CaptureError.
func NewCaptureError(code string) *CaptureError {
	return &CaptureError{Kind: Classify(code), Code: code}
}

// Message returns the human-readable text shown to the user.
func (e *CaptureError) Message() string {
	switch e.Kind {
	case NoSpeechDetected:
		return "No speech detected. Please try again."
	case MicrophoneUnavailable:
		return "Microphone not accessible. Please check permissions."
	case PermissionDenied:
		return "Microphone access denied. Please allow microphone access."
	case NetworkError:
		return "Network error. Please check your internet connection."
	default:
		return fmt.Sprintf("Speech recognition error: %s", e.Code)
	}
}

// Error implements error.
func (e *CaptureError) Error() string {
	return "voice: capture failed: " + e.Message()
}
