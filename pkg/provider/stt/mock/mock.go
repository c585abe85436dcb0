// Package mock provides a fake [stt.Provider] and a scriptable
// [stt.SessionHandle] for tests.
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	// ... code under test calls p.StartStream and sends audio ...
//	sess.FinalsCh <- stt.Transcript{Text: "hello", IsFinal: true}
//	sess.End(nil)
package mock

import (
	"bytes"
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

// StartStreamCall is one recorded StartStream invocation.
type StartStreamCall struct {
	Ctx context.Context
	Cfg stt.StreamConfig
}

// Provider hands out Session, or a fresh [NewSession] when Session is nil.
type Provider struct {
	Session        stt.SessionHandle
	StartStreamErr error

	mu    sync.Mutex
	calls []StartStreamCall
}

var _ stt.Provider = (*Provider)(nil)

func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	p.calls = append(p.calls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	p.mu.Unlock()
	switch {
	case p.StartStreamErr != nil:
		return nil, p.StartStreamErr
	case p.Session != nil:
		return p.Session, nil
	}
	return NewSession(), nil
}

// Calls returns the StartStream invocations so far.
func (p *Provider) Calls() []StartStreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.calls)
}

// Session is a recognition session driven by the test. Transcripts pushed
// on PartialsCh and FinalsCh reach the consumer; End closes both.
type Session struct {
	PartialsCh chan stt.Transcript
	FinalsCh   chan stt.Transcript

	// SendAudioErr is returned by every SendAudio.
	SendAudioErr error

	mu     sync.Mutex
	chunks [][]byte
	closes int
	ended  bool
	err    error
}

var _ stt.SessionHandle = (*Session)(nil)

// NewSession returns a Session with room for 16 transcripts per channel.
func NewSession() *Session {
	return &Session{
		PartialsCh: make(chan stt.Transcript, 16),
		FinalsCh:   make(chan stt.Transcript, 16),
	}
}

// SendAudio keeps a copy of chunk. After End it reports
// [stt.ErrSessionClosed].
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, bytes.Clone(chunk))
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	if s.ended {
		return stt.ErrSessionClosed
	}
	return nil
}

func (s *Session) Partials() <-chan stt.Transcript { return s.PartialsCh }
func (s *Session) Finals() <-chan stt.Transcript   { return s.FinalsCh }

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// End finishes the session with err. Later calls do nothing.
func (s *Session) End(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended, s.err = true, err
	close(s.PartialsCh)
	close(s.FinalsCh)
}

// Close counts the call and ends the session cleanly.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	s.End(nil)
	return nil
}

// SentChunks returns copies of everything passed to SendAudio.
func (s *Session) SentChunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.chunks)
}

// SendAudioCallCount is len(SentChunks()).
func (s *Session) SendAudioCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

// CloseCalls reports how often Close was called.
func (s *Session) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}
