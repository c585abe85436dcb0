// Package coordinator enforces the cross-engine voice policy: it stages final
// transcripts into the pending chat input, forwards assistant replies to the
// output engine when auto-speak allows it, and exposes the command set and
// capability queries a presentation layer drives.
//
// The coordinator owns no platform I/O. It holds the capture and playback
// engines as a single [Resources] handle and talks to the chat pipeline only
// through [Pipeline].
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/language"

	"github.com/MrWong99/parley/internal/voice"
	"github.com/MrWong99/parley/internal/voice/capture"
	"github.com/MrWong99/parley/internal/voice/clock"
	"github.com/MrWong99/parley/internal/voice/playback"
)

// DefaultSettleDelay is the wait between an assistant reply arriving and it
// being spoken automatically.
const DefaultSettleDelay = 500 * time.Millisecond

var (
	// ErrEmptyInput is returned by Submit when there is no text to send.
	ErrEmptyInput = errors.New("coordinator: input is empty")

	// ErrConversationReset is returned by Submit when NewConversation ran
	// while the reply was pending. The reply is dropped.
	ErrConversationReset = errors.New("coordinator: conversation was reset")
)

// Pipeline is the chat pipeline the coordinator submits user text to.
type Pipeline interface {
	// SubmitUserText sends text and returns the assistant's reply. An error
	// means there is nothing to speak.
	SubmitUserText(ctx context.Context, text string) (voice.AssistantMessage, error)

	// CurrentLanguagePreference returns the BCP-47 tag to recognise in. It is
	// read when capture starts.
	CurrentLanguagePreference() string
}

// LanguageSetter is implemented by pipelines that store the language
// preference. ChangeLanguage writes through to it.
type LanguageSetter interface {
	SetLanguagePreference(tag string)
}

// Resetter is implemented by pipelines that keep conversation state.
// NewConversation writes through to it.
type Resetter interface {
	Reset()
}

// Resources is the single owned handle to the process-wide capture and
// playback resources.
type Resources struct {
	Capture  *capture.Engine
	Playback *playback.Engine
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the clock used for the settle delay.
func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// WithSettleDelay overrides [DefaultSettleDelay]. Negative values are ignored.
func WithSettleDelay(d time.Duration) Option {
	return func(co *Coordinator) {
		if d >= 0 {
			co.settleDelay = d
		}
	}
}

// WithAutoSpeak sets the initial auto-speak policy.
func WithAutoSpeak(on bool) Option {
	return func(co *Coordinator) { co.autoSpeak = on }
}

// WithStatusListener registers fn to receive the projected status whenever it
// changes. Calls are serialised and the last one always carries the current
// status. fn must not call back into the coordinator's commands.
func WithStatusListener(fn func(voice.Status)) Option {
	return func(co *Coordinator) { co.onStatus = fn }
}

// WithInputListener registers fn to receive the staged chat input whenever it
// changes.
func WithInputListener(fn func(string)) Option {
	return func(co *Coordinator) { co.onInput = fn }
}

// Coordinator bridges the capture and playback engines with the chat
// pipeline. It is safe for concurrent use.
type Coordinator struct {
	capture     *capture.Engine
	playback    *playback.Engine
	pipeline    Pipeline
	caps        voice.Capabilities
	clock       clock.Clock
	settleDelay time.Duration
	onStatus    func(voice.Status)
	onInput     func(string)

	ctx    context.Context
	cancel context.CancelFunc

	// notifyMu orders status delivery; it is taken before mu.
	notifyMu sync.Mutex

	mu          sync.Mutex
	autoSpeak   bool
	input       string
	stagedEpoch uint64
	chat        uint64
	settle      clock.Timer
	settleSeq   uint64
	last        voice.Status
	closed      bool
}

// New creates a Coordinator over res and p. Capabilities are evaluated once,
// here. New registers itself as the listener of both engines.
func New(res Resources, p Pipeline, opts ...Option) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		capture:     res.Capture,
		playback:    res.Playback,
		pipeline:    p,
		clock:       clock.Real(),
		settleDelay: DefaultSettleDelay,
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, o := range opts {
		o(c)
	}
	c.caps = voice.Capabilities{
		Capture:  res.Capture.Supported(),
		Playback: res.Playback.Supported(),
	}
	c.last = Project(res.Capture.Snapshot(), res.Playback.Snapshot())
	res.Capture.SetListener(c.onCapture)
	res.Playback.SetListener(func(playback.Snapshot) { c.publish() })
	return c
}

// Capabilities returns the capabilities detected at construction.
func (c *Coordinator) Capabilities() voice.Capabilities { return c.caps }

// CaptureSupported reports whether speech capture is available.
func (c *Coordinator) CaptureSupported() bool { return c.caps.Capture }

// PlaybackSupported reports whether speech playback is available.
func (c *Coordinator) PlaybackSupported() bool { return c.caps.Playback }

// StartCapture starts a capture session in the pipeline's current language
// preference. Starting while playback runs is allowed and leaves playback
// untouched.
func (c *Coordinator) StartCapture(ctx context.Context) error {
	return c.capture.Start(ctx, c.pipeline.CurrentLanguagePreference())
}

// StopCapture stops the capture session, if any.
func (c *Coordinator) StopCapture() {
	c.capture.Stop()
}

// PausePlayback pauses speech output. It reports false when nothing is
// speaking.
func (c *Coordinator) PausePlayback() bool {
	return c.playback.Pause()
}

// ResumePlayback resumes paused speech output. It reports false when not
// paused.
func (c *Coordinator) ResumePlayback() bool {
	return c.playback.Resume()
}

// StopPlayback stops speech output and drops any reply still waiting out its
// settle delay.
func (c *Coordinator) StopPlayback() {
	c.mu.Lock()
	c.cancelSettleLocked()
	c.mu.Unlock()
	c.playback.Stop()
}

// ToggleAutoSpeak flips the auto-speak policy and returns the new value. The
// change applies to the next assistant message only.
func (c *Coordinator) ToggleAutoSpeak() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoSpeak = !c.autoSpeak
	slog.Debug("coordinator: auto-speak toggled", "enabled", c.autoSpeak)
	return c.autoSpeak
}

// AutoSpeak reports the current auto-speak policy.
func (c *Coordinator) AutoSpeak() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoSpeak
}

// ChangeLanguage validates tag as a BCP-47 language tag and makes its
// canonical form the language for capture, playback and the pipeline. It
// returns the canonical tag.
func (c *Coordinator) ChangeLanguage(tag string) (string, error) {
	t, err := language.Parse(strings.TrimSpace(tag))
	if err != nil {
		return "", fmt.Errorf("coordinator: invalid language tag %q: %w", tag, err)
	}
	canonical := t.String()
	c.capture.SetLanguage(canonical)
	c.playback.SetLanguage(canonical)
	if ls, ok := c.pipeline.(LanguageSetter); ok {
		ls.SetLanguagePreference(canonical)
	}
	slog.Info("coordinator: language changed", "language", canonical)
	return canonical, nil
}

// Language returns the capture engine's current language.
func (c *Coordinator) Language() string {
	return c.capture.Language()
}

// HandleAssistantMessage is called for every new assistant reply. When
// auto-speak is on, playback is idle and capture is inactive, the reply is
// spoken after the settle delay; otherwise it is skipped silently. A reply
// arriving while an earlier one is still settling replaces it. It reports
// whether the reply was scheduled.
func (c *Coordinator) HandleAssistantMessage(msg voice.AssistantMessage) bool {
	c.mu.Lock()
	chat := c.chat
	c.mu.Unlock()
	ok, _ := c.handleReply(msg, chat)
	return ok
}

// handleReply schedules msg for speaking unless the conversation has moved
// on from chat, in which case it fails with ErrConversationReset.
func (c *Coordinator) handleReply(msg voice.AssistantMessage, chat uint64) (bool, error) {
	idle := c.playback.State() == playback.Idle
	listening := c.capture.Snapshot().Active

	c.mu.Lock()
	defer c.mu.Unlock()
	if chat != c.chat {
		return false, ErrConversationReset
	}
	if strings.TrimSpace(msg.Text) == "" || c.closed || !c.autoSpeak || !idle || listening {
		return false, nil
	}
	c.cancelSettleLocked()
	c.settleSeq++
	seq, text := c.settleSeq, msg.Text
	c.settle = c.clock.AfterFunc(c.settleDelay, func() { c.speakSettled(seq, msg.ID, text) })
	return true, nil
}

func (c *Coordinator) speakSettled(seq uint64, msgID, text string) {
	c.mu.Lock()
	if c.closed || seq != c.settleSeq {
		c.mu.Unlock()
		return
	}
	c.settle = nil
	ctx := c.ctx
	c.mu.Unlock()

	if _, err := c.playback.Enqueue(ctx, text, nil); err != nil {
		slog.Warn("coordinator: auto-speak failed", "message_id", msgID, "err", err)
	}
}

// SetInput replaces the staged chat input, as when the user edits it.
func (c *Coordinator) SetInput(text string) {
	c.mu.Lock()
	c.input = text
	c.stagedEpoch = 0
	fn := c.onInput
	c.mu.Unlock()
	if fn != nil {
		fn(text)
	}
}

// Input returns the staged chat input.
func (c *Coordinator) Input() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

// ResetTranscript clears the capture engine's transcripts.
func (c *Coordinator) ResetTranscript() {
	c.capture.Reset()
}

// NewConversation starts over. Replies still pending from the previous
// conversation are dropped, playback stops, the pipeline is reset when it
// implements [Resetter], and the staged input and transcript are cleared.
// It does not wait for pending submissions.
func (c *Coordinator) NewConversation() {
	c.mu.Lock()
	c.chat++
	c.cancelSettleLocked()
	c.mu.Unlock()

	if r, ok := c.pipeline.(Resetter); ok {
		r.Reset()
	}
	c.playback.Stop()
	c.SetInput("")
	c.capture.Reset()
}

// Submit sends text, or the staged input when text is empty, to the
// pipeline. The staged input and transcript are cleared first. The reply is
// handed to HandleAssistantMessage and returned; a pipeline error means
// nothing is spoken. A reply that arrives after NewConversation is dropped
// with [ErrConversationReset].
func (c *Coordinator) Submit(ctx context.Context, text string) (voice.AssistantMessage, error) {
	c.mu.Lock()
	if text == "" {
		text = c.input
	}
	text = strings.TrimSpace(text)
	if text == "" {
		c.mu.Unlock()
		return voice.AssistantMessage{}, ErrEmptyInput
	}
	c.input = ""
	c.stagedEpoch = 0
	chat, fn := c.chat, c.onInput
	c.mu.Unlock()

	if fn != nil {
		fn("")
	}
	c.capture.Reset()

	msg, err := c.pipeline.SubmitUserText(ctx, text)
	if err != nil {
		if c.stale(chat) {
			return voice.AssistantMessage{}, ErrConversationReset
		}
		return voice.AssistantMessage{}, fmt.Errorf("coordinator: submit: %w", err)
	}
	if _, err := c.handleReply(msg, chat); err != nil {
		return voice.AssistantMessage{}, err
	}
	return msg, nil
}

func (c *Coordinator) stale(chat uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return chat != c.chat
}

// Status returns the current projected status.
func (c *Coordinator) Status() voice.Status {
	return Project(c.capture.Snapshot(), c.playback.Snapshot())
}

// Close stops capture and playback, cancels any pending auto-speak and
// detaches from the engines. It is safe to call more than once.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cancelSettleLocked()
	c.mu.Unlock()

	c.capture.SetListener(nil)
	c.playback.SetListener(nil)
	c.capture.Stop()
	c.playback.Stop()
	c.cancel()
}

func (c *Coordinator) onCapture(snap capture.Snapshot) {
	if snap.Final != "" {
		if text := c.capture.TakeFinal(); text != "" {
			c.stage(snap.Epoch, text)
		}
	}
	c.publish()
}

// stage writes a final transcript into the chat input. Finals from the
// capture session that staged the current input extend it; anything else
// replaces it.
func (c *Coordinator) stage(epoch uint64, text string) {
	c.mu.Lock()
	if c.stagedEpoch == epoch && c.input != "" {
		c.input = strings.TrimRight(c.input, " ") + " " + strings.TrimLeft(text, " ")
	} else {
		c.input = text
	}
	c.stagedEpoch = epoch
	in, fn := c.input, c.onInput
	c.mu.Unlock()

	if fn != nil {
		fn(in)
	}
}

// publish projects the engines and delivers the status if it changed. The
// projection happens under notifyMu, so a delivery is never overtaken by an
// older one.
func (c *Coordinator) publish() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	st := c.Status()
	c.mu.Lock()
	if st == c.last {
		c.mu.Unlock()
		return
	}
	c.last = st
	fn := c.onStatus
	c.mu.Unlock()

	if fn != nil {
		fn(st)
	}
}

func (c *Coordinator) cancelSettleLocked() {
	if c.settle != nil {
		c.settle.Stop()
		c.settle = nil
	}
	c.settleSeq++
}
