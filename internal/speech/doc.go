// Package speech adapts the streaming STT and TTS providers to the voice
// platform capabilities.
//
// [Recognizer] turns an [stt.Provider] plus a microphone frame channel into a
// [voice.Recognizer]: partial and final transcripts become voice events and
// stream failures are mapped onto the platform error codes understood by
// [voice.Classify]. [Synthesizer] turns a [tts.Provider] plus a
// [player.Player] into a [voice.Synthesizer] that reports every utterance's
// end as a [voice.EventUtteranceCompleted].
package speech

import "github.com/MrWong99/parley/internal/voice"

var (
	_ voice.Recognizer  = (*Recognizer)(nil)
	_ voice.Synthesizer = (*Synthesizer)(nil)
)
