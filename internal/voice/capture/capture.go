// Package capture implements the speech capture engine: a single-session
// state machine over a [voice.Recognizer] that accumulates final transcript
// segments, keeps the latest interim snapshot, classifies platform errors and
// stops itself after a period of silence.
//
// All platform events, timer expiries and commands are applied atomically
// under the engine lock. Every session carries an epoch; events and timers
// belonging to a superseded session are ignored.
package capture

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/voice"
	"github.com/MrWong99/parley/internal/voice/clock"
)

const (
	// DefaultSilenceTimeout is how long a session may go without a transcript
	// event before it is stopped automatically. The first period counts from
	// Start.
	DefaultSilenceTimeout = 3000 * time.Millisecond

	// DefaultLanguage is the recognition language used when none is set.
	DefaultLanguage = "en-US"
)

// Snapshot is a copy of the engine's session state.
type Snapshot struct {
	// Active reports whether a capture session is running.
	Active bool

	// Epoch identifies the most recently started session. It increases by one
	// on every successful Start.
	Epoch uint64

	// Language is the BCP-47 tag used for the next (or current) session.
	Language string

	// Final holds the confirmed segments not yet consumed by [Engine.TakeFinal].
	Final string

	// Interim is the latest provisional snapshot.
	Interim string

	// LastError is the last classified platform error, if any.
	LastError *voice.CaptureError

	// ErrorMessage is the user-facing message for the last failure. It also
	// covers failures outside the platform taxonomy (unsupported platform,
	// start failure).
	ErrorMessage string

	// SilenceDeadline is when the session will be stopped for silence. Zero
	// when no timer is armed.
	SilenceDeadline time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for the silence timer. Defaults to [clock.Real].
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithSilenceTimeout overrides [DefaultSilenceTimeout]. Non-positive values are ignored.
func WithSilenceTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.silenceTimeout = d
		}
	}
}

// WithLanguage sets the initial recognition language.
func WithLanguage(tag string) Option {
	return func(e *Engine) {
		if tag != "" {
			e.language = tag
		}
	}
}

// Engine is the speech capture engine. It is safe for concurrent use.
type Engine struct {
	rec            voice.Recognizer
	clock          clock.Clock
	silenceTimeout time.Duration

	mu       sync.Mutex
	listener func(Snapshot)

	active   bool
	epoch    uint64
	language string
	final    string
	interim  string
	lastErr  *voice.CaptureError
	errMsg   string
	session  voice.RecognitionSession
	timer    clock.Timer
	timerSeq uint64
	deadline time.Time
}

// New creates an Engine over rec. A nil rec means speech recognition is not
// available on this platform; Start then fails with [voice.ErrUnsupported].
func New(rec voice.Recognizer, opts ...Option) *Engine {
	e := &Engine{
		rec:            rec,
		clock:          clock.Real(),
		silenceTimeout: DefaultSilenceTimeout,
		language:       DefaultLanguage,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// SetListener registers fn to receive a snapshot after every observable
// state change. fn runs outside the engine lock and may call back into the
// engine. Passing nil removes the listener.
func (e *Engine) SetListener(fn func(Snapshot)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = fn
}

// Supported reports whether a recognizer is available.
func (e *Engine) Supported() bool {
	return e.rec != nil
}

// Start begins a new capture session in the given language. An empty tag
// keeps the current language.
//
// Start fails with [voice.ErrUnsupported] when no recognizer is available and
// with [voice.ErrAlreadyActive] while a session is running. A recognizer that
// fails to start is recorded as an error message, not returned.
func (e *Engine) Start(ctx context.Context, languageTag string) error {
	e.mu.Lock()
	if e.rec == nil {
		e.errMsg = voice.MessageCaptureUnsupported
		snap, fn := e.snapshotLocked(), e.listener
		e.mu.Unlock()
		notify(fn, snap)
		return voice.ErrUnsupported
	}
	if e.active {
		e.mu.Unlock()
		return voice.ErrAlreadyActive
	}
	if languageTag != "" {
		e.language = languageTag
	}
	e.epoch++
	ep := e.epoch
	e.active = true
	e.final = ""
	e.interim = ""
	e.lastErr = nil
	e.errMsg = ""
	e.armTimerLocked()
	cfg := voice.RecognitionConfig{
		Language:        e.language,
		Continuous:      true,
		InterimResults:  true,
		MaxAlternatives: 1,
	}
	snap, fn := e.snapshotLocked(), e.listener
	e.mu.Unlock()
	notify(fn, snap)

	sess, err := e.rec.Start(ctx, cfg, func(ev voice.Event) { e.dispatch(ep, ev) })

	e.mu.Lock()
	if err != nil {
		slog.Error("capture: failed to start recognizer", "language", cfg.Language, "err", err)
		if e.epoch == ep && e.active {
			e.errMsg = voice.MessageStartFailed
			e.stopLocked()
		}
		snap, fn = e.snapshotLocked(), e.listener
		e.mu.Unlock()
		notify(fn, snap)
		return nil
	}
	if e.epoch != ep || !e.active {
		// Stopped while the recognizer was starting.
		e.mu.Unlock()
		stopSession(sess)
		return nil
	}
	e.session = sess
	e.mu.Unlock()
	slog.Debug("capture: session started", "epoch", ep, "language", cfg.Language)
	return nil
}

// Stop ends the active session. It is a no-op when no session is active and
// always cancels the silence timer.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.cancelTimerLocked()
	if !e.active {
		e.mu.Unlock()
		return
	}
	sess := e.stopLocked()
	snap, fn := e.snapshotLocked(), e.listener
	e.mu.Unlock()

	stopSession(sess)
	notify(fn, snap)
}

// Handle applies a platform event to the current session. It is the single
// dispatch function for capture events; recognizers started by the engine
// reach it through their emit callback.
func (e *Engine) Handle(ev voice.Event) {
	e.mu.Lock()
	ep := e.epoch
	e.mu.Unlock()
	e.dispatch(ep, ev)
}

func (e *Engine) dispatch(ep uint64, ev voice.Event) {
	e.mu.Lock()
	if ep != e.epoch {
		e.mu.Unlock()
		return
	}

	var sess voice.RecognitionSession
	switch ev.Kind {
	case voice.EventTranscriptInterim:
		if !e.active {
			e.mu.Unlock()
			return
		}
		e.interim = ev.Text
		e.armTimerLocked()

	case voice.EventTranscriptFinal:
		// Finals that arrive after a caller stop still belong to this session.
		e.final = joinSegment(e.final, ev.Text)
		e.interim = ""
		if e.active {
			e.armTimerLocked()
		}

	case voice.EventSessionEnded:
		if !e.active {
			e.mu.Unlock()
			return
		}
		e.stopLocked()

	case voice.EventSessionError:
		if !e.active {
			e.mu.Unlock()
			return
		}
		ce := voice.NewCaptureError(ev.Code)
		e.lastErr = ce
		e.errMsg = ce.Message()
		sess = e.stopLocked()
		slog.Warn("capture: session failed", "epoch", ep, "kind", ce.Kind.String(), "code", ev.Code, "err", ev.Err)

	default:
		e.mu.Unlock()
		return
	}

	snap, fn := e.snapshotLocked(), e.listener
	e.mu.Unlock()

	stopSession(sess)
	notify(fn, snap)
}

// Reset clears the final and interim transcripts.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.final = ""
	e.interim = ""
	snap, fn := e.snapshotLocked(), e.listener
	e.mu.Unlock()
	notify(fn, snap)
}

// TakeFinal returns the accumulated final transcript and clears it. It does
// not notify the listener.
func (e *Engine) TakeFinal() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.final
	e.final = ""
	return s
}

// SetLanguage sets the language used by the next Start without a tag.
func (e *Engine) SetLanguage(tag string) {
	if tag == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.language = tag
}

// Language returns the current recognition language.
func (e *Engine) Language() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.language
}

// Snapshot returns a copy of the current session state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// stopLocked transitions to inactive and returns the session handle the
// caller must stop once the lock is released.
func (e *Engine) stopLocked() voice.RecognitionSession {
	e.cancelTimerLocked()
	e.active = false
	e.interim = ""
	sess := e.session
	e.session = nil
	return sess
}

func (e *Engine) armTimerLocked() {
	e.cancelTimerLocked()
	e.timerSeq++
	ep, seq := e.epoch, e.timerSeq
	e.deadline = e.clock.Now().Add(e.silenceTimeout)
	e.timer = e.clock.AfterFunc(e.silenceTimeout, func() { e.silenceExpired(ep, seq) })
}

func (e *Engine) cancelTimerLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.deadline = time.Time{}
}

func (e *Engine) silenceExpired(ep, seq uint64) {
	e.mu.Lock()
	if ep != e.epoch || seq != e.timerSeq || !e.active {
		e.mu.Unlock()
		return
	}
	e.timer = nil
	sess := e.stopLocked()
	snap, fn := e.snapshotLocked(), e.listener
	e.mu.Unlock()

	slog.Debug("capture: stopped after silence", "epoch", ep)
	stopSession(sess)
	notify(fn, snap)
}

func (e *Engine) snapshotLocked() Snapshot {
	return Snapshot{
		Active:          e.active,
		Epoch:           e.epoch,
		Language:        e.language,
		Final:           e.final,
		Interim:         e.interim,
		LastError:       e.lastErr,
		ErrorMessage:    e.errMsg,
		SilenceDeadline: e.deadline,
	}
}

func stopSession(sess voice.RecognitionSession) {
	if sess == nil {
		return
	}
	if err := sess.Stop(); err != nil {
		slog.Warn("capture: failed to stop recognizer", "err", err)
	}
}

func notify(fn func(Snapshot), snap Snapshot) {
	if fn != nil {
		fn(snap)
	}
}

// joinSegment appends a final segment to the accumulated transcript,
// inserting a single space between words when neither side provides one.
func joinSegment(acc, seg string) string {
	switch {
	case acc == "":
		return seg
	case seg == "":
		return acc
	case strings.HasSuffix(acc, " ") || strings.HasPrefix(seg, " "):
		return acc + seg
	default:
		return acc + " " + seg
	}
}
