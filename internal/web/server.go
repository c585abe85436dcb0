// Package web is the browser front end of parley. Each WebSocket connection
// to /ws is one voice conversation: binary frames carry 16-bit PCM in both
// directions and text frames carry JSON commands and events.
//
// A session owns its own capture engine, playback engine, coordinator and
// chat history. Providers are shared across sessions.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// ErrNoLLM is returned by NewServer when no LLM provider is configured.
var ErrNoLLM = errors.New("web: an llm provider is required")

// Providers holds the shared provider instances. STT and TTS may be nil, in
// which case sessions report capture or playback as unsupported.
type Providers struct {
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider

	// Names label metrics and logs. Empty names fall back to the kind.
	LLMName string
	STTName string
	TTSName string
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics records session and provider metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// Server accepts browser sessions. All exported methods are safe for
// concurrent use.
type Server struct {
	providers Providers
	metrics   *observe.Metrics
	cfg       atomic.Pointer[config.Config]

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
	wg       sync.WaitGroup
}

// NewServer creates a Server. cfg is used for new sessions until replaced
// with SetConfig.
func NewServer(cfg *config.Config, p Providers, opts ...Option) (*Server, error) {
	if p.LLM == nil {
		return nil, ErrNoLLM
	}
	if p.LLMName == "" {
		p.LLMName = "llm"
	}
	if p.STTName == "" {
		p.STTName = "stt"
	}
	if p.TTSName == "" {
		p.TTSName = "tts"
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		providers: p,
		ctx:       ctx,
		cancel:    cancel,
		sessions:  make(map[string]*session),
	}
	for _, o := range opts {
		o(s)
	}
	s.cfg.Store(cfg)
	return s, nil
}

// SetConfig replaces the configuration used for sessions started from now
// on. Running sessions keep theirs.
func (s *Server) SetConfig(cfg *config.Config) {
	s.cfg.Store(cfg)
}

// Config returns the configuration new sessions start with.
func (s *Server) Config() *config.Config {
	return s.cfg.Load()
}

// Register adds the /ws and /voices routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /voices", s.handleVoices)
}

// Sessions returns the number of connected sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown tells every connected browser the server is going away and waits
// for the sessions to finish or ctx to end. New connections are refused.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		go func() { _ = sess.conn.Shutdown(ctx) }()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	cfg := s.cfg.Load()
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: cfg.Server.AllowedOrigins,
	})
	if err != nil {
		// Accept has already written the response.
		slog.Debug("web: websocket handshake rejected", "origin", r.Header.Get("Origin"), "err", err)
		return
	}

	sess := newSession(s.ctx, ws, cfg, s.providers, s.metrics)

	s.mu.Lock()
	s.sessions[sess.id] = sess
	closed := s.closed
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess.id)
		s.mu.Unlock()
	}()
	if closed {
		go func() { _ = sess.conn.Shutdown(s.ctx) }()
	}

	sess.run()
}

type voiceInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language,omitempty"`
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	if s.providers.TTS == nil {
		http.Error(w, "speech playback is not configured", http.StatusNotFound)
		return
	}
	voices, err := s.providers.TTS.ListVoices(r.Context())
	if err != nil {
		observe.Logger(r.Context()).Warn("web: list voices", "provider", s.providers.TTSName, "err", err)
		http.Error(w, "failed to list voices", http.StatusBadGateway)
		return
	}
	out := make([]voiceInfo, 0, len(voices))
	for _, v := range voices {
		out = append(out, voiceInfo{ID: v.ID, Name: v.Name, Language: v.Language})
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(out)
}
