package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
//
// Voice and chat settings are read when a voice session starts, so changes to
// them reach every session opened afterwards. Server and provider changes are
// collected in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	LanguageChanged     bool
	AutoSpeakChanged    bool
	TimingChanged       bool // silence_timeout, settle_delay or no_speech_timeout
	VoiceChanged        bool // voice_id, speed_factor or sample rates
	SystemPromptChanged bool
	ChatChanged         bool // any other chat setting

	// RestartRequired names the keys whose change only takes effect after a
	// restart, e.g. "server.listen_addr" or "providers.llm".
	RestartRequired []string
}

// SessionChanged reports whether any setting applied to new voice sessions
// changed.
func (d ConfigDiff) SessionChanged() bool {
	return d.LanguageChanged || d.AutoSpeakChanged || d.TimingChanged ||
		d.VoiceChanged || d.SystemPromptChanged || d.ChatChanged
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.SessionChanged() || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	ov, nv := old.Voice, new.Voice
	d.LanguageChanged = ov.Language != nv.Language
	d.AutoSpeakChanged = ov.AutoSpeak != nv.AutoSpeak
	d.TimingChanged = ov.SilenceTimeout != nv.SilenceTimeout ||
		ov.SettleDelay != nv.SettleDelay ||
		ov.NoSpeechTimeout != nv.NoSpeechTimeout
	d.VoiceChanged = ov.VoiceID != nv.VoiceID ||
		ov.SpeedFactor != nv.SpeedFactor ||
		ov.InputSampleRate != nv.InputSampleRate ||
		ov.OutputSampleRate != nv.OutputSampleRate

	oc, nc := old.Chat, new.Chat
	d.SystemPromptChanged = oc.SystemPrompt != nc.SystemPrompt
	oc.SystemPrompt, nc.SystemPrompt = "", ""
	d.ChatChanged = oc != nc

	restart := func(key string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, key)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.tls", !reflect.DeepEqual(old.Server.TLS, new.Server.TLS))
	restart("server.allowed_origins", !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins))
	restart("server.static_dir", old.Server.StaticDir != new.Server.StaticDir)
	restart("providers.llm", !reflect.DeepEqual(old.Providers.LLM, new.Providers.LLM))
	restart("providers.stt", !reflect.DeepEqual(old.Providers.STT, new.Providers.STT))
	restart("providers.tts", !reflect.DeepEqual(old.Providers.TTS, new.Providers.TTS))
	restart("providers.fallbacks", !reflect.DeepEqual(old.Providers.Fallbacks, new.Providers.Fallbacks))

	return d
}
