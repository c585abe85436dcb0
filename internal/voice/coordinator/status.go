package coordinator

import (
	"github.com/MrWong99/parley/internal/voice"
	"github.com/MrWong99/parley/internal/voice/capture"
	"github.com/MrWong99/parley/internal/voice/playback"
)

// Project reduces the engine states to the user-facing status. It is a pure
// function: the listening, speaking and paused flags always reflect the true
// concurrent state, and the capture error message is reported alongside them.
//
// Speaking stays true while an utterance is paused, so presentation layers can
// offer resume and stop controls.
func Project(cs capture.Snapshot, ps playback.Snapshot) voice.Status {
	return voice.Status{
		Listening:    cs.Active,
		Speaking:     ps.State != playback.Idle,
		Paused:       ps.State == playback.Paused,
		InterimText:  cs.Interim,
		ErrorMessage: cs.ErrorMessage,
	}
}
