// Package playback implements the speech output engine: a strictly FIFO
// utterance queue over a [voice.Synthesizer] with Idle, Speaking and Paused
// states.
//
// The synthesizer is driven under the engine lock, so Speak, Pause, Resume
// and Cancel must return promptly and must never invoke the emit callback
// synchronously. Completion callbacks and the state listener run after the
// lock is released.
package playback

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/MrWong99/parley/internal/voice"
)

// State is the playback state.
type State int

const (
	Idle State = iota
	Speaking
	Paused
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Speaking:
		return "speaking"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// Outcome describes how an utterance ended.
type Outcome int

const (
	// Completed means the utterance played to its end.
	Completed Outcome = iota
	// Aborted means Stop cut the utterance short.
	Aborted
	// Failed means the synthesizer could not play the utterance.
	Failed
)

// String returns the human-readable name of the outcome.
func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is passed to an utterance's completion callback.
type Result struct {
	ID      string
	Outcome Outcome
	Err     error
}

// OnComplete is invoked exactly once for every utterance that became current.
// Utterances discarded from the queue by Stop never see it.
type OnComplete func(Result)

// Snapshot is a copy of the engine's playback state.
type Snapshot struct {
	State     State
	CurrentID string
	Pending   int
}

type item struct {
	ctx        context.Context
	id         string
	text       string
	onComplete OnComplete
}

// Option configures an Engine.
type Option func(*Engine)

// WithLanguage sets the language attached to spoken utterances.
func WithLanguage(tag string) Option {
	return func(e *Engine) { e.language = tag }
}

// Engine is the speech output engine. It is safe for concurrent use.
type Engine struct {
	syn voice.Synthesizer

	mu       sync.Mutex
	listener func(Snapshot)
	language string
	state    State
	current  *item
	queue    []*item
}

// New creates an Engine over syn. A nil syn means speech synthesis is not
// available; Enqueue then fails with [voice.ErrUnsupported].
func New(syn voice.Synthesizer, opts ...Option) *Engine {
	e := &Engine{syn: syn}
	for _, o := range opts {
		o(e)
	}
	return e
}

// SetListener registers fn to receive a snapshot after every state change.
// fn runs outside the engine lock. Passing nil removes the listener.
func (e *Engine) SetListener(fn func(Snapshot)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = fn
}

// Supported reports whether a synthesizer is available.
func (e *Engine) Supported() bool {
	return e.syn != nil
}

// SetLanguage sets the language attached to utterances spoken from now on.
func (e *Engine) SetLanguage(tag string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.language = tag
}

// Enqueue appends an utterance and returns its ID. Playback starts at once
// when nothing is playing; otherwise the utterance waits its turn.
//
// Empty or whitespace-only text fails with [voice.ErrEmptyText] and a missing
// synthesizer with [voice.ErrUnsupported]; neither changes the queue.
func (e *Engine) Enqueue(ctx context.Context, text string, onComplete OnComplete) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", voice.ErrEmptyText
	}
	if e.syn == nil {
		return "", voice.ErrUnsupported
	}

	it := &item{ctx: ctx, id: uuid.NewString(), text: text, onComplete: onComplete}

	e.mu.Lock()
	e.queue = append(e.queue, it)
	var done []Result
	var callbacks []OnComplete
	if e.current == nil {
		done, callbacks = e.advanceLocked()
	}
	snap, fn := e.snapshotLocked(), e.listener
	e.mu.Unlock()

	fire(done, callbacks)
	notify(fn, snap)
	return it.id, nil
}

// Pause pauses the current utterance. It reports false, without error, when
// the engine is not speaking or the synthesizer could not hold the
// utterance; the state is then unchanged.
func (e *Engine) Pause() bool {
	e.mu.Lock()
	if e.state != Speaking || !e.syn.Pause() {
		e.mu.Unlock()
		return false
	}
	e.state = Paused
	snap, fn := e.snapshotLocked(), e.listener
	e.mu.Unlock()
	notify(fn, snap)
	return true
}

// Resume resumes a paused utterance. It reports false when not paused.
func (e *Engine) Resume() bool {
	e.mu.Lock()
	if e.state != Paused {
		e.mu.Unlock()
		return false
	}
	e.syn.Resume()
	e.state = Speaking
	snap, fn := e.snapshotLocked(), e.listener
	e.mu.Unlock()
	notify(fn, snap)
	return true
}

// Stop discards the queue and aborts the current utterance, whose callback
// fires with [Aborted]. It is a no-op when idle.
func (e *Engine) Stop() {
	e.mu.Lock()
	cur := e.current
	if cur == nil && len(e.queue) == 0 {
		e.mu.Unlock()
		return
	}
	dropped := len(e.queue)
	e.queue = nil
	e.current = nil
	e.state = Idle
	if cur != nil {
		e.syn.Cancel()
	}
	snap, fn := e.snapshotLocked(), e.listener
	e.mu.Unlock()

	if cur != nil {
		slog.Debug("playback: utterance aborted", "id", cur.id, "dropped", dropped)
		fire([]Result{{ID: cur.id, Outcome: Aborted}}, []OnComplete{cur.onComplete})
	}
	notify(fn, snap)
}

// Handle applies a platform event. Only [voice.EventUtteranceCompleted] for
// the current utterance has an effect; completions for utterances that are
// no longer current are ignored.
func (e *Engine) Handle(ev voice.Event) {
	if ev.Kind != voice.EventUtteranceCompleted {
		return
	}

	e.mu.Lock()
	cur := e.current
	if cur == nil || cur.id != ev.UtteranceID {
		e.mu.Unlock()
		return
	}
	res := Result{ID: cur.id, Outcome: Completed}
	if ev.Err != nil {
		res.Outcome = Failed
		res.Err = ev.Err
		slog.Warn("playback: utterance failed", "id", cur.id, "err", ev.Err)
	}
	e.current = nil
	e.state = Idle
	done, callbacks := e.advanceLocked()
	snap, fn := e.snapshotLocked(), e.listener
	e.mu.Unlock()

	fire(append([]Result{res}, done...), append([]OnComplete{cur.onComplete}, callbacks...))
	notify(fn, snap)
}

// Snapshot returns a copy of the current playback state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// State returns the current playback state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// advanceLocked starts the next queued utterance. Utterances the synthesizer
// refuses are completed as Failed and skipped; their results are returned for
// the caller to deliver after unlocking.
func (e *Engine) advanceLocked() ([]Result, []OnComplete) {
	var (
		done      []Result
		callbacks []OnComplete
	)
	for len(e.queue) > 0 {
		next := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]

		u := voice.Utterance{ID: next.id, Text: next.text, Language: e.language}
		if err := e.syn.Speak(next.ctx, u, e.Handle); err != nil {
			slog.Warn("playback: synthesizer refused utterance", "id", next.id, "err", err)
			done = append(done, Result{ID: next.id, Outcome: Failed, Err: err})
			callbacks = append(callbacks, next.onComplete)
			continue
		}
		e.current = next
		e.state = Speaking
		return done, callbacks
	}
	e.state = Idle
	return done, callbacks
}

func (e *Engine) snapshotLocked() Snapshot {
	s := Snapshot{State: e.state, Pending: len(e.queue)}
	if e.current != nil {
		s.CurrentID = e.current.id
	}
	return s
}

func fire(results []Result, callbacks []OnComplete) {
	for i, cb := range callbacks {
		if cb != nil {
			cb(results[i])
		}
	}
}

func notify(fn func(Snapshot), snap Snapshot) {
	if fn != nil {
		fn(snap)
	}
}
