package voice_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/parley/internal/voice"
)

func TestCaptureError_Messages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code string
		kind voice.ErrorKind
		want string
	}{
		{voice.CodeNoSpeech, voice.NoSpeechDetected, "No speech detected. Please try again."},
		{voice.CodeAudioCapture, voice.MicrophoneUnavailable, "Microphone not accessible. Please check permissions."},
		{voice.CodeNotAllowed, voice.PermissionDenied, "Microphone access denied. Please allow microphone access."},
		{voice.CodeNetwork, voice.NetworkError, "Network error. Please check your internet connection."},
		{"aborted", voice.UnknownPlatformError, "Speech recognition error: aborted"},
		{"", voice.UnknownPlatformError, "Speech recognition error: "},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			t.Parallel()
			ce := voice.NewCaptureError(tt.code)
			if ce.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", ce.Kind, tt.kind)
			}
			if got := ce.Message(); got != tt.want {
				t.Errorf("Message() = %q, want %q", got, tt.want)
			}
			if !strings.Contains(ce.Error(), tt.want) {
				t.Errorf("Error() = %q, want it to contain %q", ce.Error(), tt.want)
			}
		})
	}
}

func TestInterim_ConcatenatesSegments(t *testing.T) {
	t.Parallel()

	ev := voice.Interim("hello ", "wor", "ld")
	if ev.Kind != voice.EventTranscriptInterim {
		t.Fatalf("Kind = %v, want %v", ev.Kind, voice.EventTranscriptInterim)
	}
	if ev.Text != "hello world" {
		t.Errorf("Text = %q, want %q", ev.Text, "hello world")
	}
}

func TestDetect(t *testing.T) {
	t.Parallel()

	caps := voice.Detect(nil, nil)
	if caps.Capture || caps.Playback {
		t.Errorf("Detect(nil, nil) = %+v, want no capabilities", caps)
	}
}

func TestEventKind_String(t *testing.T) {
	t.Parallel()

	if got := voice.EventUtteranceCompleted.String(); got != "UTTERANCE_COMPLETED" {
		t.Errorf("String() = %q, want %q", got, "UTTERANCE_COMPLETED")
	}
	if got := voice.EventKind(99).String(); got != "UNKNOWN" {
		t.Errorf("String() = %q, want %q", got, "UNKNOWN")
	}
}

func TestCompleted_CarriesError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	ev := voice.Completed("u1", boom)
	if ev.UtteranceID != "u1" || !errors.Is(ev.Err, boom) {
		t.Errorf("Completed() = %+v", ev)
	}
}
