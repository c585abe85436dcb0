// Package player streams synthesized [audio.AudioSegment] values to a
// connection in real time.
//
// Segments play one at a time in FIFO order. The player converts every chunk
// to the output format, paces delivery so the client never buffers more than
// a configurable lead, and supports pausing, resuming and interrupting the
// segment that is currently playing.
package player

import (
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

var (
	// ErrInterrupted is reported for segments cut short by Interrupt.
	ErrInterrupted = errors.New("player: playback interrupted")

	// ErrClosed is returned by Play after Close and reported for segments
	// that were pending when the player closed.
	ErrClosed = errors.New("player: closed")

	// ErrInvalidFormat is returned by Play for segments without a positive
	// sample rate and channel count.
	ErrInvalidFormat = errors.New("player: invalid segment format")
)

// DefaultLead is how far ahead of real time audio may be delivered.
const DefaultLead = 250 * time.Millisecond

// Option configures a [Player] during construction.
type Option func(*Player)

// WithFormat sets the output format. Segments in another format are
// converted. The zero Format passes audio through unchanged.
func WithFormat(f audio.Format) Option {
	return func(p *Player) {
		p.format = f
	}
}

// WithLead sets how far ahead of real time audio may be delivered. Zero
// paces strictly in real time.
func WithLead(d time.Duration) Option {
	return func(p *Player) {
		if d >= 0 {
			p.lead = d
		}
	}
}

type entry struct {
	seg  *audio.AudioSegment
	done func(error)
}

// Player plays [audio.AudioSegment] values through an output callback.
//
// All exported methods are safe for concurrent use. Completion callbacks are
// never invoked from within a Player method; they run on the dispatch
// goroutine or on a fresh goroutine.
type Player struct {
	output func(audio.AudioFrame)
	format audio.Format
	lead   time.Duration

	mu            sync.Mutex
	queue         []*entry
	playing       *entry
	cancelPlaying chan struct{}
	paused        bool
	resumed       chan struct{} // closed when a pause ends

	notify chan struct{}
	done   chan struct{}
	closed bool
}

// New creates a Player that delivers frames to output. output is called
// sequentially from the dispatch goroutine.
//
// Call [Player.Close] to stop the background goroutine.
func New(output func(audio.AudioFrame), opts ...Option) *Player {
	p := &Player{
		output: output,
		lead:   DefaultLead,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	go p.dispatch()
	return p
}

// Play queues seg. done, if non-nil, receives nil when the segment played to
// the end, the segment's stream error if synthesis failed, or
// [ErrInterrupted] / [ErrClosed].
func (p *Player) Play(seg *audio.AudioSegment, done func(error)) error {
	if !seg.Format().Valid() {
		return ErrInvalidFormat
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.queue = append(p.queue, &entry{seg: seg, done: done})

	select {
	case p.notify <- struct{}{}:
	default:
	}
	return nil
}

// Pause holds the current segment, or the next queued one when the dispatch
// goroutine has not picked it up yet. It reports whether the player went from
// playing to paused.
func (p *Player) Pause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused || (p.playing == nil && len(p.queue) == 0) {
		return false
	}
	p.paused = true
	p.resumed = make(chan struct{})
	return true
}

// Resume continues a paused segment. It reports whether the player was paused.
func (p *Player) Resume() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resumeLocked()
}

// Interrupt stops the current segment and discards every queued one. It is a
// no-op when nothing is playing or queued.
func (p *Player) Interrupt() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interruptLocked(ErrInterrupted)
}

// Paused reports whether playback is paused.
func (p *Player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Busy reports whether a segment is playing or queued.
func (p *Player) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing != nil || len(p.queue) > 0
}

// Close interrupts playback and stops the dispatch goroutine. Close is
// idempotent.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.interruptLocked(ErrClosed)
	p.mu.Unlock()

	close(p.done)
	return nil
}

func (p *Player) resumeLocked() bool {
	if !p.paused {
		return false
	}
	p.paused = false
	close(p.resumed)
	return true
}

func (p *Player) interruptLocked(reason error) {
	if p.cancelPlaying != nil {
		close(p.cancelPlaying)
		p.cancelPlaying = nil
	}
	p.playing = nil
	p.resumeLocked()

	for _, e := range p.queue {
		audio.Discard(e.seg.Audio)
		if e.done != nil {
			go e.done(reason)
		}
	}
	p.queue = nil
}

func (p *Player) dispatch() {
	for {
		select {
		case <-p.done:
			return
		case <-p.notify:
		}

		for {
			e, cancel, ok := p.dequeue()
			if !ok {
				break
			}
			err := p.play(e.seg, cancel)

			p.mu.Lock()
			if p.playing == e {
				p.playing = nil
				p.cancelPlaying = nil
				p.resumeLocked()
			}
			p.mu.Unlock()

			if e.done != nil {
				e.done(err)
			}
		}
	}
}

func (p *Player) dequeue() (*entry, chan struct{}, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return nil, nil, false
	}
	e := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]

	cancel := make(chan struct{})
	p.playing = e
	p.cancelPlaying = cancel
	return e, cancel, true
}

// play streams seg to the output until the segment ends or cancel is closed.
func (p *Player) play(seg *audio.AudioSegment, cancel chan struct{}) error {
	target := p.format
	if !target.Valid() {
		target = seg.Format()
	}
	conv := audio.FormatConverter{Target: target}

	start := time.Now()
	var sent time.Duration

	pace := time.NewTimer(time.Hour)
	pace.Stop()
	defer pace.Stop()

	for {
		var chunk []byte
		select {
		case <-p.done:
			audio.Discard(seg.Audio)
			return ErrClosed
		case <-cancel:
			audio.Discard(seg.Audio)
			return ErrInterrupted
		case c, ok := <-seg.Audio:
			if !ok {
				return seg.Err()
			}
			chunk = c
		}

		held, err := p.waitResumed(cancel)
		if err != nil {
			audio.Discard(seg.Audio)
			return err
		}
		start = start.Add(held)

		frame := conv.Convert(audio.AudioFrame{
			Data:       chunk,
			SampleRate: seg.SampleRate,
			Channels:   seg.Channels,
			Timestamp:  sent,
		})
		if len(frame.Data) == 0 {
			continue
		}
		p.output(frame)
		sent += frame.Duration()

		if ahead := sent - time.Since(start) - p.lead; ahead > 0 {
			pace.Reset(ahead)
			select {
			case <-pace.C:
			case <-cancel:
				audio.Discard(seg.Audio)
				return ErrInterrupted
			case <-p.done:
				audio.Discard(seg.Audio)
				return ErrClosed
			}
		}
	}
}

// waitResumed blocks while the player is paused and returns how long it held.
func (p *Player) waitResumed(cancel chan struct{}) (time.Duration, error) {
	p.mu.Lock()
	if !p.paused {
		p.mu.Unlock()
		return 0, nil
	}
	resumed := p.resumed
	p.mu.Unlock()

	t0 := time.Now()
	select {
	case <-resumed:
		// Interrupt also ends a pause; it must not let the held chunk through.
		select {
		case <-cancel:
			return 0, ErrInterrupted
		default:
		}
		return time.Since(t0), nil
	case <-cancel:
		return 0, ErrInterrupted
	case <-p.done:
		return 0, ErrClosed
	}
}
