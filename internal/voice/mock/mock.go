// Package mock provides test doubles for the voice platform capabilities.
//
// Recognizer and Synthesizer record every call and hand back the emit
// callbacks the engines registered, so tests can inject synthetic platform
// events without a real speech backend.
//
// Example:
//
//	rec := &mock.Recognizer{}
//	eng := capture.New(rec)
//	_ = eng.Start(ctx, "en-US")
//	rec.Last().Emit(voice.Interim("hel"))
//	rec.Last().Emit(voice.Final("hello"))
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/internal/voice"
)

// StartCall records a single invocation of Recognizer.Start.
type StartCall struct {
	// Ctx is the context passed to Start.
	Ctx context.Context
	// Cfg is the RecognitionConfig passed to Start.
	Cfg voice.RecognitionConfig
}

// Recognizer is a mock implementation of voice.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned by Start and no session is created.
	StartErr error

	// StopErr, if non-nil, is returned by every Session.Stop call.
	StopErr error

	// StartCalls records every call to Start.
	StartCalls []StartCall

	sessions []*Session
}

// Start records the call and returns a new Session bound to emit.
func (r *Recognizer) Start(ctx context.Context, cfg voice.RecognitionConfig, emit voice.Emit) (voice.RecognitionSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.StartCalls = append(r.StartCalls, StartCall{Ctx: ctx, Cfg: cfg})
	if r.StartErr != nil {
		return nil, r.StartErr
	}
	s := &Session{emit: emit, stopErr: r.StopErr}
	r.sessions = append(r.sessions, s)
	return s, nil
}

// Sessions returns every session created so far, oldest first.
func (r *Recognizer) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, len(r.sessions))
	copy(out, r.sessions)
	return out
}

// Last returns the most recently started session, or nil.
func (r *Recognizer) Last() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sessions) == 0 {
		return nil
	}
	return r.sessions[len(r.sessions)-1]
}

// Ensure Recognizer implements voice.Recognizer at compile time.
var _ voice.Recognizer = (*Recognizer)(nil)

// Session is a mock voice.RecognitionSession.
type Session struct {
	mu        sync.Mutex
	emit      voice.Emit
	stopErr   error
	stopCalls int
}

// Emit delivers ev to the engine that started this session, exactly as a
// platform callback would.
func (s *Session) Emit(ev voice.Event) {
	s.emit(ev)
}

// Stop records the call and returns the recognizer's StopErr.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCalls++
	return s.stopErr
}

// StopCalls returns the number of times Stop was called.
func (s *Session) StopCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCalls
}

// Ensure Session implements voice.RecognitionSession at compile time.
var _ voice.RecognitionSession = (*Session)(nil)

// Synthesizer is a mock implementation of voice.Synthesizer.
//
// Speak never completes an utterance on its own; call Complete to simulate
// the platform reporting the end of playback.
type Synthesizer struct {
	mu sync.Mutex

	// SpeakErr, if non-nil, is returned by every Speak call.
	SpeakErr error

	// SpeakCalls records every utterance passed to Speak, in order.
	SpeakCalls []voice.Utterance

	// RefusePause makes Pause report false, as when the utterance has
	// already finished playing.
	RefusePause bool

	// PauseCalls, ResumeCalls and CancelCalls count the control calls.
	PauseCalls  int
	ResumeCalls int
	CancelCalls int

	emits map[string]voice.Emit
}

// Speak records the utterance and remembers emit for a later Complete.
func (s *Synthesizer) Speak(_ context.Context, u voice.Utterance, emit voice.Emit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SpeakCalls = append(s.SpeakCalls, u)
	if s.SpeakErr != nil {
		return s.SpeakErr
	}
	if s.emits == nil {
		s.emits = make(map[string]voice.Emit)
	}
	s.emits[u.ID] = emit
	return nil
}

// Pause records the call. It reports !RefusePause.
func (s *Synthesizer) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PauseCalls++
	return !s.RefusePause
}

// Resume records the call.
func (s *Synthesizer) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResumeCalls++
}

// Cancel records the call.
func (s *Synthesizer) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CancelCalls++
}

// Complete emits an UtteranceCompleted event for the utterance with the given
// ID. It reports false if no such utterance was spoken.
func (s *Synthesizer) Complete(id string, err error) bool {
	s.mu.Lock()
	emit, ok := s.emits[id]
	delete(s.emits, id)
	s.mu.Unlock()
	if !ok {
		return false
	}
	emit(voice.Completed(id, err))
	return true
}

// Spoken returns the texts passed to Speak, in order.
func (s *Synthesizer) Spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.SpeakCalls))
	for i, u := range s.SpeakCalls {
		out[i] = u.Text
	}
	return out
}

// LastID returns the ID of the most recently spoken utterance, or "".
func (s *Synthesizer) LastID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.SpeakCalls) == 0 {
		return ""
	}
	return s.SpeakCalls[len(s.SpeakCalls)-1].ID
}

// Counts returns the pause, resume and cancel call counts.
func (s *Synthesizer) Counts() (pause, resume, cancel int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PauseCalls, s.ResumeCalls, s.CancelCalls
}

// Ensure Synthesizer implements voice.Synthesizer at compile time.
var _ voice.Synthesizer = (*Synthesizer)(nil)
