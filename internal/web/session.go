package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/parley/internal/chat"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/speech"
	"github.com/MrWong99/parley/internal/voice"
	"github.com/MrWong99/parley/internal/voice/capture"
	"github.com/MrWong99/parley/internal/voice/coordinator"
	"github.com/MrWong99/parley/internal/voice/playback"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/player"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// session is one browser conversation: a connection, the voice engines
// bound to it, and its own chat history.
type session struct {
	id        string
	conn      *Conn
	coord     *coordinator.Coordinator
	responder *chat.Responder
	player    *player.Player
	metrics   *observe.Metrics
	log       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	span   trace.Span

	// chatCtx scopes the pending submissions of the current conversation.
	// new_chat cancels it.
	chatMu     sync.Mutex
	chatCtx    context.Context
	chatCancel context.CancelFunc

	submits sync.WaitGroup
	once    sync.Once
}

// newSession builds the engines for one connection. The connection is not
// started; call run.
func newSession(parent context.Context, ws *websocket.Conn, cfg *config.Config, p Providers, m *observe.Metrics) *session {
	id := uuid.NewString()
	ctx, span := observe.StartSpan(observe.WithSessionID(parent, id), "web.session")
	ctx, cancel := context.WithCancel(ctx)

	s := &session{
		id:      id,
		metrics: m,
		log:     observe.Logger(ctx),
		ctx:     ctx,
		cancel:  cancel,
		span:    span,
	}
	s.chatCtx, s.chatCancel = context.WithCancel(ctx)
	s.conn = newConn(ctx, ws, cfg.Voice.InputSampleRate, s.handle)

	vc := cfg.Voice

	// Typed nils would defeat capability detection.
	var rec voice.Recognizer
	if p.STT != nil {
		rec = speech.NewRecognizer(p.STT, s.conn.InputStream(),
			speech.WithInputRate(vc.InputSampleRate),
			speech.WithNoSpeechTimeout(vc.NoSpeechTimeout),
			speech.WithRecognizerMetrics(m),
			speech.WithRecognizerName(p.STTName),
		)
	}
	var syn voice.Synthesizer
	if p.TTS != nil {
		f := p.TTS.Format()
		out := s.conn.OutputWriter()
		s.player = player.New(func(frame audio.AudioFrame) { out.Send(frame) },
			player.WithFormat(audio.Format{SampleRate: f.SampleRate, Channels: f.Channels}))
		syn = speech.NewSynthesizer(p.TTS, s.player, tts.VoiceProfile{
			ID:          vc.VoiceID,
			Provider:    p.TTSName,
			Language:    vc.Language,
			SpeedFactor: vc.SpeedFactor,
		},
			speech.WithSynthesizerMetrics(m),
			speech.WithSynthesizerName(p.TTSName),
		)
	}

	cc := cfg.Chat
	s.responder = chat.New(p.LLM,
		chat.WithSystemPrompt(cc.SystemPrompt),
		chat.WithMaxHistory(cc.MaxHistory),
		chat.WithLanguage(vc.Language),
		chat.WithUserName(cc.UserName),
		chat.WithTemperature(cc.Temperature),
		chat.WithMaxTokens(cc.MaxTokens),
		chat.WithMetrics(m),
		chat.WithName(p.LLMName),
	)

	s.coord = coordinator.New(coordinator.Resources{
		Capture: capture.New(rec,
			capture.WithSilenceTimeout(vc.SilenceTimeout),
			capture.WithLanguage(vc.Language),
		),
		Playback: playback.New(syn, playback.WithLanguage(vc.Language)),
	}, s.responder,
		coordinator.WithSettleDelay(vc.SettleDelay),
		coordinator.WithAutoSpeak(vc.AutoSpeak),
		coordinator.WithStatusListener(func(st voice.Status) {
			s.conn.SendJSON(StatusMessage{Type: msgStatus, Status: st})
		}),
		coordinator.WithInputListener(func(text string) {
			s.conn.SendJSON(InputMessage{Type: msgInput, Text: text})
		}),
	)

	outputRate := vc.OutputSampleRate
	if p.TTS != nil {
		outputRate = p.TTS.Format().SampleRate
	}
	s.conn.SendJSON(Hello{
		Type:             msgHello,
		SessionID:        id,
		Capabilities:     s.coord.Capabilities(),
		AutoSpeak:        s.coord.AutoSpeak(),
		Language:         s.coord.Language(),
		InputSampleRate:  vc.InputSampleRate,
		OutputSampleRate: outputRate,
	})
	s.conn.SendJSON(StatusMessage{Type: msgStatus, Status: s.coord.Status()})
	return s
}

// run serves the connection until it ends, then tears the session down.
func (s *session) run() {
	defer s.metrics.SessionOpened(s.ctx)()
	s.log.Info("web: session started", "capture", s.coord.CaptureSupported(), "playback", s.coord.PlaybackSupported())

	s.conn.start()
	<-s.conn.Done()
	s.close()

	if err := s.conn.Err(); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("web: session ended", "err", err)
		return
	}
	s.log.Info("web: session ended", "dropped_frames", s.conn.DroppedFrames())
}

// close stops the engines and waits for in-flight submissions. It is safe to
// call more than once.
func (s *session) close() {
	s.once.Do(func() {
		s.coord.Close()
		s.cancel()
		s.submits.Wait()
		if s.player != nil {
			_ = s.player.Close()
		}
		_ = s.conn.Disconnect()
		s.span.End()
	})
}

// handle dispatches one client command. It runs on the read goroutine.
func (s *session) handle(cmd command) {
	switch cmd.Type {
	case cmdStartCapture:
		if err := s.coord.StartCapture(s.ctx); err != nil {
			// Unsupported capture is already reported through the status.
			s.log.Debug("web: start capture", "err", err)
		}
	case cmdStopCapture:
		s.coord.StopCapture()
	case cmdPausePlayback:
		s.coord.PausePlayback()
	case cmdResumePlayback:
		s.coord.ResumePlayback()
	case cmdStopPlayback:
		s.coord.StopPlayback()
	case cmdToggleAutoSpeak:
		s.coord.ToggleAutoSpeak()
		s.sendSettings()
	case cmdChangeLanguage:
		if _, err := s.coord.ChangeLanguage(cmd.Language); err != nil {
			s.sendError(fmt.Sprintf("invalid language %q", cmd.Language))
			return
		}
		s.sendSettings()
	case cmdSetInput:
		s.coord.SetInput(cmd.Text)
	case cmdSubmit:
		s.submit(cmd.Text)
	case cmdResetTranscript:
		s.coord.ResetTranscript()
	case cmdNewChat:
		s.newChat()
	default:
		s.sendError(fmt.Sprintf("unknown command %q", cmd.Type))
	}
}

// submit sends text, or the staged input when text is empty, in the
// background. The user message is echoed before the reply.
func (s *session) submit(text string) {
	if strings.TrimSpace(text) == "" {
		text = s.coord.Input()
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.conn.SendJSON(ChatMessage{Type: msgMessage, ID: uuid.NewString(), Role: RoleUser, Text: text})

	s.chatMu.Lock()
	ctx := s.chatCtx
	s.chatMu.Unlock()

	s.submits.Add(1)
	go func() {
		defer s.submits.Done()
		msg, err := s.coord.Submit(ctx, text)
		switch {
		case err == nil:
			s.reply(ctx, ChatMessage{Type: msgMessage, ID: msg.ID, Role: RoleAssistant, Text: msg.Text})
		case errors.Is(err, coordinator.ErrEmptyInput), errors.Is(err, coordinator.ErrConversationReset), ctx.Err() != nil:
		default:
			s.log.Warn("web: reply failed", "err", err)
			s.reply(ctx, ChatMessage{
				Type:  msgMessage,
				ID:    uuid.NewString(),
				Role:  RoleAssistant,
				Text:  chat.FallbackReply,
				Error: true,
			})
		}
	}()
}

// newChat abandons pending replies and starts a fresh conversation. It does
// not wait for the model. The conversation is reset before the old context
// is cancelled, so a turn that returns early on cancellation is already stale.
func (s *session) newChat() {
	s.chatMu.Lock()
	defer s.chatMu.Unlock()
	s.coord.NewConversation()
	s.chatCancel()
	s.chatCtx, s.chatCancel = context.WithCancel(s.ctx)
}

// reply sends msg unless the conversation it answers has been abandoned.
func (s *session) reply(ctx context.Context, msg ChatMessage) {
	s.chatMu.Lock()
	defer s.chatMu.Unlock()
	if ctx.Err() == nil {
		s.conn.SendJSON(msg)
	}
}

func (s *session) sendSettings() {
	s.conn.SendJSON(SettingsMessage{Type: msgSettings, AutoSpeak: s.coord.AutoSpeak(), Language: s.coord.Language()})
}

func (s *session) sendError(msg string) {
	s.conn.SendJSON(ErrorMessage{Type: msgError, Message: msg})
}
