// Package chat is the response-generation side of a voice conversation. A
// [Responder] turns submitted user text into an assistant reply using an
// [llm.Provider], keeping a bounded conversation history and the user's
// language preference.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/voice"
	"github.com/MrWong99/parley/pkg/provider/llm"
)

// FallbackReply is shown to the user in place of a reply when generation
// fails. It is never spoken.
const FallbackReply = "Sorry, I encountered an error generating a response. Please try again."

// DefaultSystemPrompt is used when no system prompt is configured.
const DefaultSystemPrompt = "You are a helpful assistant. Keep answers short and conversational; they may be read aloud."

var (
	// ErrEmptyText is returned by SubmitUserText for blank input.
	ErrEmptyText = errors.New("chat: text is empty")

	// ErrEmptyReply is returned when the model produced no text.
	ErrEmptyReply = errors.New("chat: model returned an empty reply")

	// ErrReset is returned for a turn that Reset overtook. Its reply is
	// discarded and never enters the history.
	ErrReset = errors.New("chat: conversation was reset")
)

// Option configures a [Responder].
type Option func(*Responder)

// WithSystemPrompt replaces [DefaultSystemPrompt]. An empty prompt is ignored.
func WithSystemPrompt(prompt string) Option {
	return func(r *Responder) {
		if prompt != "" {
			r.systemPrompt = prompt
		}
	}
}

// WithMaxHistory sets how many messages of context are kept.
func WithMaxHistory(n int) Option {
	return func(r *Responder) { r.history = NewHistory(n) }
}

// WithLanguage sets the initial language preference.
func WithLanguage(tag string) Option {
	return func(r *Responder) { r.language = tag }
}

// WithUserName attaches a participant name to user messages.
func WithUserName(name string) Option {
	return func(r *Responder) { r.userName = name }
}

// WithTemperature sets the sampling temperature. Zero keeps the provider
// default.
func WithTemperature(t float64) Option {
	return func(r *Responder) { r.temperature = t }
}

// WithMaxTokens caps the reply length. Zero keeps the provider default.
func WithMaxTokens(n int) Option {
	return func(r *Responder) { r.maxTokens = n }
}

// WithMetrics records LLM latency and provider calls on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Responder) { r.metrics = m }
}

// WithName sets the provider label used in metrics and logs.
func WithName(name string) Option {
	return func(r *Responder) { r.name = name }
}

// WithIDGenerator overrides how reply IDs are generated.
func WithIDGenerator(fn func() string) Option {
	return func(r *Responder) { r.newID = fn }
}

// Responder generates assistant replies. It implements the coordinator's
// Pipeline and LanguageSetter.
//
// Turns are serialised: a second SubmitUserText waits for the first to
// finish so the history stays in order. Reset does not wait for a pending
// turn; that turn fails with [ErrReset] when it returns.
type Responder struct {
	provider     llm.Provider
	history      *History
	systemPrompt string
	userName     string
	temperature  float64
	maxTokens    int
	metrics      *observe.Metrics
	name         string
	newID        func() string

	turn sync.Mutex

	mu       sync.RWMutex
	language string
	gen      uint64
}

// New creates a Responder backed by p.
func New(p llm.Provider, opts ...Option) *Responder {
	r := &Responder{
		provider:     p,
		history:      NewHistory(DefaultMaxHistory),
		systemPrompt: DefaultSystemPrompt,
		name:         "llm",
		newID:        uuid.NewString,
		language:     "en-US",
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SubmitUserText sends text to the model and returns its reply. Failed turns
// are not added to the history.
func (r *Responder) SubmitUserText(ctx context.Context, text string) (voice.AssistantMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return voice.AssistantMessage{}, ErrEmptyText
	}

	gen := r.generation()
	r.turn.Lock()
	defer r.turn.Unlock()
	if r.generation() != gen {
		return voice.AssistantMessage{}, ErrReset
	}

	ctx, span := observe.StartSpan(ctx, "chat.respond")
	defer span.End()
	span.SetAttributes(attribute.String("llm.provider", r.name))

	user := llm.Message{Role: llm.RoleUser, Content: text, Name: r.userName}
	prompt := r.prompt()
	msgs := fit(append(r.history.Messages(), user), r.budget(prompt), r.provider.CountTokens)

	start := time.Now()
	resp, err := r.provider.Complete(ctx, llm.CompletionRequest{
		Messages:     msgs,
		SystemPrompt: prompt,
		Temperature:  r.temperature,
		MaxTokens:    r.maxTokens,
	})
	r.metrics.RecordLLMLatency(ctx, r.name, time.Since(start))
	if r.generation() != gen {
		span.SetStatus(codes.Error, ErrReset.Error())
		return voice.AssistantMessage{}, ErrReset
	}
	if err != nil {
		r.metrics.RecordProviderRequest(ctx, r.name, "llm", "error")
		r.metrics.RecordProviderError(ctx, r.name, "llm")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observe.Logger(ctx).Warn("chat: completion failed", "provider", r.name, "err", err)
		return voice.AssistantMessage{}, fmt.Errorf("chat: complete: %w", err)
	}
	r.metrics.RecordProviderRequest(ctx, r.name, "llm", "ok")

	if resp == nil {
		resp = &llm.CompletionResponse{}
	}
	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		span.SetStatus(codes.Error, ErrEmptyReply.Error())
		return voice.AssistantMessage{}, ErrEmptyReply
	}
	if resp.FinishReason == "length" {
		slog.Debug("chat: reply truncated by token limit", "provider", r.name)
	}
	span.SetAttributes(attribute.Int("llm.total_tokens", resp.Usage.TotalTokens))

	r.mu.Lock()
	stale := r.gen != gen
	if !stale {
		r.history.Append(user, llm.Message{Role: llm.RoleAssistant, Content: reply})
	}
	r.mu.Unlock()
	if stale {
		return voice.AssistantMessage{}, ErrReset
	}
	return voice.AssistantMessage{ID: r.newID(), Text: reply}, nil
}

// CurrentLanguagePreference returns the BCP-47 tag replies are requested in.
func (r *Responder) CurrentLanguagePreference() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.language
}

// SetLanguagePreference changes the reply language.
func (r *Responder) SetLanguagePreference(tag string) {
	r.mu.Lock()
	r.language = tag
	r.mu.Unlock()
}

// Reset starts a new conversation. It returns at once, even while a turn
// is pending.
func (r *Responder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	r.history.Reset()
}

func (r *Responder) generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gen
}

// History returns the conversation window, oldest first.
func (r *Responder) History() []llm.Message {
	return r.history.Messages()
}

// prompt is the system prompt plus the reply-language instruction.
func (r *Responder) prompt() string {
	name := languageName(r.CurrentLanguagePreference())
	if name == "" {
		return r.systemPrompt
	}
	instruction := "Always reply in " + name + "."
	if r.systemPrompt == "" {
		return instruction
	}
	return r.systemPrompt + "\n\n" + instruction
}

// budget is the number of history tokens that fit beside prompt and the
// reply. Zero means unknown.
func (r *Responder) budget(prompt string) int {
	caps := r.provider.Capabilities()
	if caps.ContextWindow <= 0 {
		return 0
	}
	reserve := r.maxTokens
	if reserve <= 0 {
		reserve = caps.MaxOutputTokens
	}
	promptTokens, err := r.provider.CountTokens([]llm.Message{{Role: llm.RoleSystem, Content: prompt}})
	if err != nil {
		promptTokens = llm.EstimateTokens([]llm.Message{{Role: llm.RoleSystem, Content: prompt}})
	}
	if b := caps.ContextWindow - reserve - promptTokens; b > 0 {
		return b
	}
	return 1
}

// languageName returns the English name of a BCP-47 tag, e.g. "German (Germany)" for
// "de-DE", or "" when the tag does not parse.
func languageName(tag string) string {
	if tag == "" {
		return ""
	}
	t, err := language.Parse(tag)
	if err != nil {
		return ""
	}
	return display.English.Tags().Name(t)
}
