package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/voice"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/player"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// ErrNoAudio is reported when the TTS provider ends a stream without
// producing any audio.
var ErrNoAudio = errors.New("speech: provider returned no audio")

// SynthesizerOption configures a [Synthesizer].
type SynthesizerOption func(*Synthesizer)

// WithSynthesizerMetrics records TTS latency, provider calls and utterance
// outcomes on m.
func WithSynthesizerMetrics(m *observe.Metrics) SynthesizerOption {
	return func(s *Synthesizer) { s.metrics = m }
}

// WithSynthesizerName sets the provider label used in metrics and logs.
func WithSynthesizerName(name string) SynthesizerOption {
	return func(s *Synthesizer) { s.name = name }
}

// Synthesizer implements [voice.Synthesizer] with a streaming [tts.Provider]
// and a [player.Player]. Audio starts playing as soon as the first chunk is
// synthesized.
type Synthesizer struct {
	provider tts.Provider
	player   *player.Player
	voice    tts.VoiceProfile
	metrics  *observe.Metrics
	name     string

	mu       sync.Mutex
	inflight map[*audio.AudioSegment]context.CancelFunc
}

// NewSynthesizer creates a Synthesizer speaking with v through pl. The caller
// owns pl and closes it after the Synthesizer is no longer used.
func NewSynthesizer(p tts.Provider, pl *player.Player, v tts.VoiceProfile, opts ...SynthesizerOption) *Synthesizer {
	s := &Synthesizer{
		provider: p,
		player:   pl,
		voice:    v,
		name:     "tts",
		inflight: make(map[*audio.AudioSegment]context.CancelFunc),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Speak starts synthesizing u and queues its audio on the player. It returns
// once synthesis has been started; completion is reported through emit as a
// [voice.EventUtteranceCompleted].
func (s *Synthesizer) Speak(ctx context.Context, u voice.Utterance, emit voice.Emit) error {
	if strings.TrimSpace(u.Text) == "" {
		return voice.ErrEmptyText
	}

	f := s.provider.Format()
	out := make(chan []byte, 64)
	seg := &audio.AudioSegment{
		ID:         u.ID,
		Audio:      out,
		SampleRate: f.SampleRate,
		Channels:   f.Channels,
	}

	sctx, cancel := context.WithCancel(ctx)
	started := time.Now()
	done := func(err error) {
		cancel()
		s.forget(seg)
		s.metrics.RecordUtterance(ctx, outcome(err))
		if err == nil {
			observe.Logger(ctx).Debug("speech: utterance played", "id", u.ID, "elapsed", time.Since(started))
		}
		emit(voice.Completed(u.ID, err))
	}

	s.mu.Lock()
	s.inflight[seg] = cancel
	s.mu.Unlock()

	if err := s.player.Play(seg, done); err != nil {
		cancel()
		s.forget(seg)
		return fmt.Errorf("speech: play: %w", err)
	}
	go s.synthesize(sctx, u, seg, out)
	return nil
}

// Pause holds the utterance that is playing, or the next one to play when
// the player has not started it yet.
func (s *Synthesizer) Pause() bool { return s.player.Pause() }

// Resume continues a paused utterance.
func (s *Synthesizer) Resume() { s.player.Resume() }

// Cancel stops playback and aborts every synthesis in flight.
func (s *Synthesizer) Cancel() {
	s.player.Interrupt()

	s.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.inflight))
	for seg, c := range s.inflight {
		cancels = append(cancels, c)
		delete(s.inflight, seg)
	}
	s.mu.Unlock()

	for _, c := range cancels {
		c()
	}
}

// ListVoices returns the voices the provider offers.
func (s *Synthesizer) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	voices, err := s.provider.ListVoices(ctx)
	if err != nil {
		return nil, fmt.Errorf("speech: list voices: %w", err)
	}
	return voices, nil
}

func (s *Synthesizer) forget(seg *audio.AudioSegment) {
	s.mu.Lock()
	delete(s.inflight, seg)
	s.mu.Unlock()
}

// synthesize feeds u to the provider and pipes the audio into out. Failures
// are recorded on seg before out is closed.
func (s *Synthesizer) synthesize(ctx context.Context, u voice.Utterance, seg *audio.AudioSegment, out chan<- []byte) {
	defer close(out)

	v := s.voice
	if u.Language != "" {
		v.Language = u.Language
	}
	text := make(chan string, 1)
	text <- u.Text
	close(text)

	start := time.Now()
	stream, err := s.provider.SynthesizeStream(ctx, text, v)
	if err != nil {
		s.metrics.RecordProviderRequest(ctx, s.name, "tts", "error")
		s.metrics.RecordProviderError(ctx, s.name, "tts")
		seg.SetStreamErr(fmt.Errorf("speech: synthesize: %w", err))
		return
	}
	s.metrics.RecordProviderRequest(ctx, s.name, "tts", "ok")

	chunks := 0
	for chunk := range stream {
		if chunks == 0 {
			s.metrics.RecordTTSLatency(ctx, s.name, time.Since(start))
		}
		chunks++
		select {
		case out <- chunk:
		case <-ctx.Done():
			audio.Discard(stream)
			seg.SetStreamErr(ctx.Err())
			return
		}
	}

	switch {
	case ctx.Err() != nil:
		seg.SetStreamErr(ctx.Err())
	case chunks == 0:
		s.metrics.RecordProviderError(ctx, s.name, "tts")
		seg.SetStreamErr(ErrNoAudio)
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, player.ErrInterrupted), errors.Is(err, player.ErrClosed), errors.Is(err, context.Canceled):
		return "aborted"
	default:
		return "failed"
	}
}
