package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often [Watcher.Run] looks at the config file.
const DefaultWatchInterval = 5 * time.Second

// snapshot identifies one observed version of the config file.
type snapshot struct {
	modTime time.Time
	size    int64
	sum     [sha256.Size]byte
}

// sameStat reports whether info still describes the file s was taken from.
func (s snapshot) sameStat(info os.FileInfo) bool {
	return info.ModTime().Equal(s.modTime) && info.Size() == s.size
}

// Watcher keeps the latest valid version of a config file. Edits that fail
// to parse or validate are logged and ignored; the last good config stays
// current.
type Watcher struct {
	path     string
	interval time.Duration
	apply    func(old, next *Config)

	mu   sync.Mutex
	cfg  *Config
	seen snapshot
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets how often Run checks the file. Non-positive values keep
// [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// Watch loads path and returns a Watcher for it. apply, which may be nil, is
// called with the previous and the new config whenever a changed file loads
// successfully. Nothing is polled until [Watcher.Run] is called.
func Watch(path string, apply func(old, next *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: DefaultWatchInterval, apply: apply}
	for _, o := range opts {
		o(w)
	}
	cfg, snap, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.cfg, w.seen = cfg, snap
	return w, nil
}

// Current returns the last config that loaded successfully.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg
}

// Run checks the file every interval until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := w.Check(); err != nil {
				slog.Warn("config reload failed; keeping previous config", "path", w.path, "err", err)
			}
		}
	}
}

// Check looks at the file once. It reports whether a new config was
// applied. A file that changed but does not load returns the load error and
// is not retried until it changes again.
func (w *Watcher) Check() (bool, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	unchanged := w.seen.sameStat(info)
	w.mu.Unlock()
	if unchanged {
		return false, nil
	}

	cfg, snap, err := w.read()
	if err != nil {
		w.mu.Lock()
		w.seen.modTime, w.seen.size = info.ModTime(), info.Size()
		w.mu.Unlock()
		return false, err
	}

	w.mu.Lock()
	if snap.sum == w.seen.sum {
		w.seen = snap
		w.mu.Unlock()
		return false, nil
	}
	prev := w.cfg
	w.cfg, w.seen = cfg, snap
	w.mu.Unlock()

	slog.Info("config reloaded", "path", w.path)
	if w.apply != nil {
		w.apply(prev, cfg)
	}
	return true, nil
}

func (w *Watcher) read() (*Config, snapshot, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, snapshot{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, snapshot{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, snapshot{}, err
	}
	return cfg, snapshot{modTime: info.ModTime(), size: info.Size(), sum: sha256.Sum256(data)}, nil
}
