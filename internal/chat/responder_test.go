package chat_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/chat"
	"github.com/MrWong99/parley/internal/voice/coordinator"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/llm/mock"
)

var (
	_ coordinator.Pipeline       = (*chat.Responder)(nil)
	_ coordinator.LanguageSetter = (*chat.Responder)(nil)
	_ coordinator.Resetter       = (*chat.Responder)(nil)
)

func fixedID() string { return "reply-1" }

func TestSubmitUserText_Reply(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "  Hi there!  ", FinishReason: "stop"}}
	r := chat.New(p,
		chat.WithSystemPrompt("Be brief."),
		chat.WithUserName("sam"),
		chat.WithTemperature(0.3),
		chat.WithMaxTokens(200),
		chat.WithIDGenerator(fixedID),
	)

	msg, err := r.SubmitUserText(context.Background(), " hello ")
	if err != nil {
		t.Fatalf("SubmitUserText: %v", err)
	}
	if msg.ID != "reply-1" || msg.Text != "Hi there!" {
		t.Errorf("reply = %+v, want {reply-1 Hi there!}", msg)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("Complete calls = %d, want 1", len(calls))
	}
	req := calls[0].Req
	if len(req.Messages) != 1 || req.Messages[0].Role != llm.RoleUser ||
		req.Messages[0].Content != "hello" || req.Messages[0].Name != "sam" {
		t.Errorf("messages = %+v, want one user message from sam", req.Messages)
	}
	if !strings.HasPrefix(req.SystemPrompt, "Be brief.") {
		t.Errorf("system prompt = %q, want prefix %q", req.SystemPrompt, "Be brief.")
	}
	if !strings.Contains(req.SystemPrompt, "English") {
		t.Errorf("system prompt = %q, want English reply instruction", req.SystemPrompt)
	}
	if req.Temperature != 0.3 || req.MaxTokens != 200 {
		t.Errorf("temperature/max tokens = %v/%d, want 0.3/200", req.Temperature, req.MaxTokens)
	}

	hist := r.History()
	if len(hist) != 2 || hist[1].Role != llm.RoleAssistant || hist[1].Content != "Hi there!" {
		t.Errorf("history = %+v, want user + assistant turn", hist)
	}
}

func TestSubmitUserText_CarriesHistory(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	r := chat.New(p, chat.WithMaxHistory(4))

	for _, text := range []string{"one", "two", "three"} {
		if _, err := r.SubmitUserText(context.Background(), text); err != nil {
			t.Fatalf("SubmitUserText(%q): %v", text, err)
		}
	}

	last := p.Calls()[2].Req.Messages
	// Window of 4 holds the two previous turns; the new user message follows.
	if len(last) != 5 {
		t.Fatalf("messages = %d, want 5", len(last))
	}
	if last[0].Content != "one" || last[4].Content != "three" {
		t.Errorf("messages = %+v", last)
	}
	if got := len(r.History()); got != 4 {
		t.Errorf("history len = %d, want 4", got)
	}

	r.Reset()
	if got := len(r.History()); got != 0 {
		t.Errorf("history len after Reset = %d, want 0", got)
	}
}

func TestSubmitUserText_TrimsToContextWindow(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{
		CompleteResponse:  &llm.CompletionResponse{Content: "ok"},
		TokenCount:        -1,
		ModelCapabilities: llm.ModelCapabilities{ContextWindow: 120, MaxOutputTokens: 20},
	}
	r := chat.New(p, chat.WithLanguage(""))

	long := strings.Repeat("word ", 40) // about 54 tokens per message
	for range 3 {
		if _, err := r.SubmitUserText(context.Background(), long); err != nil {
			t.Fatalf("SubmitUserText: %v", err)
		}
	}

	calls := p.Calls()
	last := calls[len(calls)-1].Req.Messages
	if n := llm.EstimateTokens(last); n > 100 {
		t.Errorf("request carries %d tokens, want at most 100", n)
	}
	if last[0].Role != llm.RoleUser {
		t.Errorf("window starts with %q, want user", last[0].Role)
	}
}

func TestSubmitUserText_Errors(t *testing.T) {
	t.Parallel()

	boom := errors.New("rate limited")
	tests := []struct {
		name    string
		p       *mock.Provider
		text    string
		wantErr error
	}{
		{name: "blank input", p: &mock.Provider{}, text: "  ", wantErr: chat.ErrEmptyText},
		{name: "provider error", p: &mock.Provider{CompleteErr: boom}, text: "hi", wantErr: boom},
		{name: "empty reply", p: &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: " "}}, text: "hi", wantErr: chat.ErrEmptyReply},
		{name: "nil response", p: &mock.Provider{}, text: "hi", wantErr: chat.ErrEmptyReply},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := chat.New(tt.p)
			_, err := r.SubmitUserText(context.Background(), tt.text)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got := len(r.History()); got != 0 {
				t.Errorf("history len = %d, want 0 after failed turn", got)
			}
		})
	}
}

func TestReset_DoesNotWaitForPendingTurn(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	p := &mock.Provider{CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		close(started)
		<-release
		return &llm.CompletionResponse{Content: "late answer"}, nil
	}}
	r := chat.New(p)

	errc := make(chan error, 1)
	go func() {
		_, err := r.SubmitUserText(context.Background(), "question")
		errc <- err
	}()
	<-started

	reset := make(chan struct{})
	go func() {
		r.Reset()
		close(reset)
	}()
	select {
	case <-reset:
	case <-time.After(2 * time.Second):
		t.Fatal("Reset blocked on the pending turn")
	}

	close(release)
	if err := <-errc; !errors.Is(err, chat.ErrReset) {
		t.Errorf("err = %v, want ErrReset", err)
	}
	if got := len(r.History()); got != 0 {
		t.Errorf("history len = %d, want the overtaken turn discarded", got)
	}
}

func TestLanguagePreference(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Hallo"}}
	r := chat.New(p, chat.WithLanguage("fr-FR"))
	if got := r.CurrentLanguagePreference(); got != "fr-FR" {
		t.Fatalf("CurrentLanguagePreference = %q, want fr-FR", got)
	}

	r.SetLanguagePreference("de-DE")
	if got := r.CurrentLanguagePreference(); got != "de-DE" {
		t.Fatalf("CurrentLanguagePreference = %q, want de-DE", got)
	}
	if _, err := r.SubmitUserText(context.Background(), "hi"); err != nil {
		t.Fatalf("SubmitUserText: %v", err)
	}
	if prompt := p.Calls()[0].Req.SystemPrompt; !strings.Contains(prompt, "German") {
		t.Errorf("system prompt = %q, want German reply instruction", prompt)
	}
}
