// Package resilience keeps a voice session usable when a speech or language
// provider misbehaves.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) guarding
// one provider. [FallbackGroup] chains a primary provider with configured
// fallbacks, each behind its own breaker; [LLMFallback], [STTFallback] and
// [TTSFallback] expose a group as the matching provider interface.
//
// Cancellation is not failure: a call that ends because its context was
// cancelled (the user pressed stop, the browser went away) neither trips a
// breaker nor moves on to the next provider.
//
// All types are safe for concurrent use.
package resilience

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is in
// the open state and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successes close the breaker; any failure re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels the breaker in log messages, usually the provider name.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before transitioning to
	// half-open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful probes needed to close the
	// breaker again, and the most probes allowed in flight. Default: 3.
	HalfOpenMax int

	// IsFailure decides whether an error counts against the breaker.
	// Default: every error except context cancellation.
	IsFailure func(error) bool

	// Now returns the current time. Default: time.Now.
	Now func() time.Time
}

// countsAsFailure is the default [CircuitBreakerConfig.IsFailure]. A
// provider that times out is failing; a caller that gave up is not.
func countsAsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// CircuitBreaker guards one provider. Consecutive failures open it; after
// the reset timeout a limited number of probes may pass, and enough
// successful probes close it again.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	state    State
	failures int       // consecutive, closed state only
	openedAt time.Time // when the breaker last opened
	probing  int       // probes in flight
	passed   int       // successful probes since half-open
}

// NewCircuitBreaker creates a [CircuitBreaker]. Zero-value config fields are
// replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cfg.MaxFailures = cmp.Or(max(cfg.MaxFailures, 0), 5)
	cfg.ResetTimeout = cmp.Or(max(cfg.ResetTimeout, 0), 30*time.Second)
	cfg.HalfOpenMax = cmp.Or(max(cfg.HalfOpenMax, 0), 3)
	if cfg.IsFailure == nil {
		cfg.IsFailure = countsAsFailure
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg}
}

// Name returns the breaker's label.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Execute runs fn if the breaker admits the call and returns fn's error
// unchanged. A rejected call returns [ErrCircuitOpen] without running fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, ok := cb.admit()
	if !ok {
		return ErrCircuitOpen
	}
	err := fn()
	cb.settle(probe, err)
	return err
}

// admit decides whether a call may run and whether it is a probe.
func (cb *CircuitBreaker) admit() (probe, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if !cb.cooledDownLocked() {
			return false, false
		}
		cb.state, cb.probing, cb.passed = StateHalfOpen, 0, 0
		slog.Info("circuit breaker half-open, probing provider", "provider", cb.cfg.Name)
	}
	if cb.state == StateClosed {
		return false, true
	}
	if cb.probing >= cb.cfg.HalfOpenMax {
		return true, false
	}
	cb.probing++
	return true, true
}

// settle records the outcome of an admitted call.
func (cb *CircuitBreaker) settle(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	failed := err != nil && cb.cfg.IsFailure(err)
	if !probe {
		switch {
		case err == nil:
			cb.failures = 0
		case failed && cb.state == StateClosed:
			cb.failures++
			if cb.failures >= cb.cfg.MaxFailures {
				cb.openLocked()
				slog.Warn("circuit breaker opened", "provider", cb.cfg.Name, "consecutive_failures", cb.failures)
			}
		}
		return
	}

	// Probes admitted before a Reset or a re-open are stale.
	if cb.state != StateHalfOpen {
		return
	}
	cb.probing--
	switch {
	case err == nil:
		cb.passed++
		if cb.passed >= cb.cfg.HalfOpenMax {
			cb.state, cb.failures = StateClosed, 0
			slog.Info("circuit breaker closed, provider recovered", "provider", cb.cfg.Name)
		}
	case failed:
		cb.openLocked()
		slog.Warn("circuit breaker re-opened, probe failed", "provider", cb.cfg.Name)
	}
}

func (cb *CircuitBreaker) openLocked() {
	cb.state = StateOpen
	cb.openedAt = cb.cfg.Now()
	cb.probing, cb.passed = 0, 0
}

func (cb *CircuitBreaker) cooledDownLocked() bool {
	return cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout
}

// State returns the current [State]. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cooledDownLocked() {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to [StateClosed].
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state, cb.failures, cb.probing, cb.passed = StateClosed, 0, 0, 0
	slog.Info("circuit breaker reset", "provider", cb.cfg.Name)
}
