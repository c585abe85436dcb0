package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/voice"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/stt"
)

// DefaultNoSpeechTimeout is how long a recognition session may run without
// producing any transcript before it fails with [voice.CodeNoSpeech].
const DefaultNoSpeechTimeout = 8 * time.Second

// DefaultInputRate is the sample rate microphone audio is converted to before
// it reaches the STT provider.
const DefaultInputRate = 16000

// ErrMicrophoneClosed is reported with [voice.CodeAudioCapture] when the
// microphone stream ends while a session is running.
var ErrMicrophoneClosed = errors.New("speech: microphone stream closed")

// RecognizerOption configures a [Recognizer].
type RecognizerOption func(*Recognizer)

// WithInputRate sets the sample rate sent to the STT provider.
func WithInputRate(hz int) RecognizerOption {
	return func(r *Recognizer) {
		if hz > 0 {
			r.rate = hz
		}
	}
}

// WithNoSpeechTimeout overrides [DefaultNoSpeechTimeout]. Zero disables it.
func WithNoSpeechTimeout(d time.Duration) RecognizerOption {
	return func(r *Recognizer) {
		if d >= 0 {
			r.noSpeech = d
		}
	}
}

// WithRecognizerMetrics records STT latency and provider calls on m.
func WithRecognizerMetrics(m *observe.Metrics) RecognizerOption {
	return func(r *Recognizer) { r.metrics = m }
}

// WithRecognizerName sets the provider label used in metrics and logs.
func WithRecognizerName(name string) RecognizerOption {
	return func(r *Recognizer) { r.name = name }
}

// Recognizer implements [voice.Recognizer] on top of a streaming
// [stt.Provider]. Each session forwards frames from the shared microphone
// channel to a fresh provider stream.
type Recognizer struct {
	provider stt.Provider
	input    <-chan audio.AudioFrame
	rate     int
	noSpeech time.Duration
	metrics  *observe.Metrics
	name     string
}

// NewRecognizer creates a Recognizer reading microphone frames from input.
func NewRecognizer(p stt.Provider, input <-chan audio.AudioFrame, opts ...RecognizerOption) *Recognizer {
	r := &Recognizer{
		provider: p,
		input:    input,
		rate:     DefaultInputRate,
		noSpeech: DefaultNoSpeechTimeout,
		name:     "stt",
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start opens a provider stream and begins forwarding microphone audio.
// Frames buffered before Start are discarded. ctx bounds the whole session.
func (r *Recognizer) Start(ctx context.Context, cfg voice.RecognitionConfig, emit voice.Emit) (voice.RecognitionSession, error) {
	r.discardStale()

	handle, err := r.provider.StartStream(ctx, stt.StreamConfig{
		SampleRate:     r.rate,
		Channels:       1,
		Language:       cfg.Language,
		InterimResults: cfg.InterimResults,
	})
	if err != nil {
		r.metrics.RecordProviderRequest(ctx, r.name, "stt", "error")
		r.metrics.RecordProviderError(ctx, r.name, "stt")
		return nil, fmt.Errorf("speech: start stream: %w", err)
	}
	r.metrics.RecordProviderRequest(ctx, r.name, "stt", "ok")

	s := &recognition{
		r:       r,
		handle:  handle,
		emit:    emit,
		conv:    &audio.FormatConverter{Target: audio.Format{SampleRate: r.rate, Channels: 1}},
		stop:    make(chan struct{}),
		faults:  make(chan fault, 1),
		started: time.Now(),
	}
	go s.pump()
	go s.run(ctx)

	observe.Logger(ctx).Debug("speech: recognition started", "provider", r.name, "language", cfg.Language)
	return s, nil
}

func (r *Recognizer) discardStale() {
	for {
		select {
		case _, ok := <-r.input:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

type fault struct {
	code string
	err  error
}

// recognition is one running session. run is the only goroutine that calls
// emit.
type recognition struct {
	r       *Recognizer
	handle  stt.SessionHandle
	emit    voice.Emit
	conv    *audio.FormatConverter
	started time.Time

	stop     chan struct{}
	stopOnce sync.Once
	faults   chan fault

	// Owned by run.
	heard  bool
	failed bool
}

// Stop ends the session without waiting. Transcripts the provider still
// delivers are forwarded before the session reports it ended.
func (s *recognition) Stop() error {
	s.shutdown()
	return nil
}

func (s *recognition) shutdown() {
	s.stopOnce.Do(func() {
		close(s.stop)
		go func() {
			if err := s.handle.Close(); err != nil {
				slog.Warn("speech: close stt stream", "provider", s.r.name, "err", err)
			}
		}()
	})
}

func (s *recognition) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

func (s *recognition) report(f fault) {
	select {
	case s.faults <- f:
	default:
	}
}

// pump forwards microphone frames to the provider until the session stops.
func (s *recognition) pump() {
	for {
		select {
		case <-s.stop:
			return
		case frame, ok := <-s.r.input:
			if !ok {
				s.report(fault{code: voice.CodeAudioCapture, err: ErrMicrophoneClosed})
				return
			}
			frame = s.conv.Convert(frame)
			if len(frame.Data) == 0 {
				continue
			}
			if err := s.handle.SendAudio(frame.Data); err != nil {
				if !errors.Is(err, stt.ErrSessionClosed) {
					s.report(fault{code: voice.CodeNetwork, err: err})
				}
				return
			}
		}
	}
}

func (s *recognition) run(ctx context.Context) {
	var noSpeech <-chan time.Time
	if s.r.noSpeech > 0 {
		t := time.NewTimer(s.r.noSpeech)
		defer t.Stop()
		noSpeech = t.C
	}
	defer func() { s.r.metrics.RecordCaptureDuration(ctx, time.Since(s.started)) }()
	done := ctx.Done()
	partials, finals := s.handle.Partials(), s.handle.Finals()

	for partials != nil || finals != nil {
		select {
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			if s.transcript(ctx, t.Text) {
				noSpeech = nil
				s.deliver(voice.Interim(t.Text))
			}
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			if s.transcript(ctx, t.Text) {
				noSpeech = nil
				s.deliver(voice.Final(t.Text))
			}
		case f := <-s.faults:
			if !s.stopped() {
				s.fail(ctx, f)
			}
		case <-noSpeech:
			noSpeech = nil
			if !s.heard && !s.stopped() {
				s.fail(ctx, fault{code: voice.CodeNoSpeech})
			}
		case <-done:
			done = nil
			s.shutdown()
		}
	}

	if s.failed {
		return
	}
	if err := s.handle.Err(); err != nil && !s.stopped() {
		s.r.metrics.RecordProviderError(ctx, s.r.name, "stt")
		s.fail(ctx, fault{code: voice.CodeNetwork, err: err})
		return
	}
	s.shutdown()
	s.emit(voice.Ended())
}

// transcript reports whether text should be delivered and records the
// first-transcript latency.
func (s *recognition) transcript(ctx context.Context, text string) bool {
	if text == "" {
		return false
	}
	if !s.heard {
		s.heard = true
		s.r.metrics.RecordSTTLatency(ctx, s.r.name, time.Since(s.started))
	}
	return true
}

func (s *recognition) deliver(ev voice.Event) {
	if s.failed {
		return
	}
	s.emit(ev)
}

// fail emits a session error once and shuts the stream down. Later events
// from the draining stream are dropped.
func (s *recognition) fail(ctx context.Context, f fault) {
	if s.failed {
		return
	}
	s.failed = true
	s.r.metrics.RecordCaptureError(ctx, f.code)
	if f.err != nil {
		observe.Logger(ctx).Warn("speech: recognition failed", "provider", s.r.name, "code", f.code, "err", f.err)
	}
	s.shutdown()
	s.emit(voice.Failed(f.code, f.err))
}
