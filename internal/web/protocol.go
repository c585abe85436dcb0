package web

import "github.com/MrWong99/parley/internal/voice"

// Client → server command types.
const (
	cmdStartCapture    = "start_capture"
	cmdStopCapture     = "stop_capture"
	cmdPausePlayback   = "pause_playback"
	cmdResumePlayback  = "resume_playback"
	cmdStopPlayback    = "stop_playback"
	cmdToggleAutoSpeak = "toggle_auto_speak"
	cmdChangeLanguage  = "change_language"
	cmdSetInput        = "set_input"
	cmdSubmit          = "submit"
	cmdResetTranscript = "reset_transcript"
	cmdNewChat         = "new_chat"
)

// Server → client message types.
const (
	msgHello    = "hello"
	msgStatus   = "status"
	msgInput    = "input"
	msgMessage  = "message"
	msgSettings = "settings"
	msgError    = "error"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// command is a decoded client text frame.
type command struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Language string `json:"language,omitempty"`
}

// Hello is sent once after the connection is accepted.
type Hello struct {
	Type             string             `json:"type"`
	SessionID        string             `json:"session_id"`
	Capabilities     voice.Capabilities `json:"capabilities"`
	AutoSpeak        bool               `json:"auto_speak"`
	Language         string             `json:"language"`
	InputSampleRate  int                `json:"input_sample_rate"`
	OutputSampleRate int                `json:"output_sample_rate"`
}

// StatusMessage carries the projected voice status.
type StatusMessage struct {
	Type string `json:"type"`
	voice.Status
}

// InputMessage carries the staged chat input.
type InputMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ChatMessage is a conversation entry. Failed replies carry Error and are
// never spoken.
type ChatMessage struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Role  string `json:"role"`
	Text  string `json:"text"`
	Error bool   `json:"error,omitempty"`
}

// SettingsMessage reports the auto-speak policy and language after either
// changes.
type SettingsMessage struct {
	Type      string `json:"type"`
	AutoSpeak bool   `json:"auto_speak"`
	Language  string `json:"language"`
}

// ErrorMessage reports a rejected command.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
