// Package app wires the parley subsystems into a running server.
//
// The App struct owns the full lifecycle: New builds the HTTP surface over
// the configured providers, Run serves until its context is cancelled and
// then drains voice sessions before returning.
//
// For testing, inject mock providers through [Providers] and use Handler to
// exercise the routes without opening a listener.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/web"
)

const (
	// DefaultShutdownTimeout bounds draining sessions and the HTTP server.
	DefaultShutdownTimeout = 15 * time.Second

	readHeaderTimeout = 10 * time.Second
)

// Option is a functional option for New.
type Option func(*App)

// WithMetrics records HTTP, session and provider metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h at /metrics instead of the default Prometheus
// registry.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogLevel lets config reloads change the level of the default logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithConfigWatch watches path while Run is active and applies changes to
// new sessions. A zero interval uses [config.DefaultWatchInterval].
func WithConfigWatch(path string, interval time.Duration) Option {
	return func(a *App) {
		a.watchPath = path
		a.watchInterval = interval
	}
}

// WithShutdownTimeout overrides [DefaultShutdownTimeout].
func WithShutdownTimeout(d time.Duration) Option {
	return func(a *App) { a.shutdownTimeout = d }
}

// App owns the HTTP server and the web session server.
type App struct {
	providers      *Providers
	metrics        *observe.Metrics
	metricsHandler http.Handler
	level          *slog.LevelVar

	watchPath       string
	watchInterval   time.Duration
	shutdownTimeout time.Duration

	cfg     atomic.Pointer[config.Config]
	web     *web.Server
	health  *health.Handler
	handler http.Handler
	server  *http.Server

	addr  atomic.Value // string
	ready chan struct{}
	once  sync.Once
}

// New creates an App serving cfg over providers. Nothing listens until Run.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		providers:       providers,
		shutdownTimeout: DefaultShutdownTimeout,
		ready:           make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	a.cfg.Store(cfg)

	ws, err := web.NewServer(cfg, web.Providers{
		LLM:     providers.LLM,
		STT:     providers.STT,
		TTS:     providers.TTS,
		LLMName: providers.LLMName,
		STTName: providers.STTName,
		TTSName: providers.TTSName,
	}, web.WithMetrics(a.metrics))
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.web = ws
	a.health = health.New(providers.Checkers)

	mux := http.NewServeMux()
	a.health.Register(mux)
	a.web.Register(mux)
	if a.metricsHandler == nil {
		a.metricsHandler = promhttp.Handler()
	}
	mux.Handle("GET /metrics", a.metricsHandler)
	if dir := cfg.Server.StaticDir; dir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(dir)))
	}
	a.handler = observe.Middleware(a.metrics)(mux)

	a.server = &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return a, nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Config returns the active configuration.
func (a *App) Config() *config.Config { return a.cfg.Load() }

// Addr returns the listening address once Run has bound it, or "".
func (a *App) Addr() string {
	s, _ := a.addr.Load().(string)
	return s
}

// Ready is closed once Run is accepting connections.
func (a *App) Ready() <-chan struct{} { return a.ready }

// Run listens on the configured address and serves until ctx is cancelled.
// It then marks the server as draining, closes every voice session and shuts
// the HTTP server down. A clean shutdown returns nil.
func (a *App) Run(ctx context.Context) error {
	cfg := a.cfg.Load()
	ln, err := net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen on %s: %w", cfg.Server.ListenAddr, err)
	}
	a.addr.Store(ln.Addr().String())

	var watcher *config.Watcher
	if a.watchPath != "" {
		watcher, err = config.Watch(a.watchPath, a.applyConfig, config.WithInterval(a.watchInterval))
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("app: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}
	g.Go(func() error {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			slog.Info("server listening", "addr", a.Addr(), "tls", true)
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			slog.Info("server listening", "addr", a.Addr())
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})
	a.once.Do(func() { close(a.ready) })

	return g.Wait()
}

func (a *App) shutdown() error {
	slog.Info("shutting down", "sessions", a.web.Sessions())
	a.health.SetDraining(true)

	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.web.Shutdown(ctx); err != nil {
		slog.Warn("sessions did not close in time", "err", err)
		errs = append(errs, err)
	}
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("app: http shutdown: %w", err))
	}
	slog.Info("shutdown complete")
	return errors.Join(errs...)
}

// applyConfig is the config watcher callback.
func (a *App) applyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Changed() {
		return
	}
	a.cfg.Store(new)

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SessionChanged() {
		a.web.SetConfig(new)
		slog.Info("voice settings reloaded; new sessions use them",
			"language", new.Voice.Language,
			"auto_speak", new.Voice.AutoSpeak,
		)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "keys", d.RestartRequired)
	}
}

// SlogLevel maps a config log level onto slog.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
