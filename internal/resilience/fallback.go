package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/parley/internal/observe"
)

// ErrAllFailed wraps the last error once every provider in a
// [FallbackGroup] failed or was skipped by its breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for each member's breaker. Name is set
	// per member.
	CircuitBreaker CircuitBreakerConfig

	// Kind labels the group in logs and metrics ("llm", "stt", "tts").
	Kind string

	// Metrics, when set, counts calls served by a fallback.
	Metrics *observe.Metrics
}

type member[T any] struct {
	name    string
	p       T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary provider and its fallbacks, each behind a
// breaker. Calls go to the first member whose breaker admits them and move
// down the list on failure. Members must all be added before the group is
// used concurrently.
type FallbackGroup[T any] struct {
	cfg     FallbackConfig
	members []member[T]
}

// NewFallbackGroup starts a group with primary.
func NewFallbackGroup[T any](primary T, name string, cfg FallbackConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.AddFallback(name, primary)
	return g
}

// AddFallback appends p to the end of the failover order.
func (g *FallbackGroup[T]) AddFallback(name string, p T) {
	bc := g.cfg.CircuitBreaker
	bc.Name = name
	g.members = append(g.members, member[T]{name: name, p: p, breaker: NewCircuitBreaker(bc)})
}

// Primary returns the preferred provider.
func (g *FallbackGroup[T]) Primary() T { return g.members[0].p }

// Names lists the members in failover order.
func (g *FallbackGroup[T]) Names() []string {
	names := make([]string, len(g.members))
	for i, m := range g.members {
		names[i] = m.name
	}
	return names
}

// Check fails only when every member's breaker is open, matching the
// readiness checker signature.
func (g *FallbackGroup[T]) Check(context.Context) error {
	for _, m := range g.members {
		if m.breaker.State() != StateOpen {
			return nil
		}
	}
	return fmt.Errorf("circuit open for %s", strings.Join(g.Names(), ", "))
}

// Do runs fn against the members in order until one succeeds.
func (g *FallbackGroup[T]) Do(ctx context.Context, fn func(T) error) error {
	_, err := Call(ctx, g, func(p T) (struct{}, error) { return struct{}{}, fn(p) })
	return err
}

// Call is [FallbackGroup.Do] for calls that produce a value. Once ctx is
// done the failing call's error is returned unwrapped; any other outcome
// where no member succeeded wraps the last error in [ErrAllFailed].
func Call[T, R any](ctx context.Context, g *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var zero R
	var last error
	for i, m := range g.members {
		var out R
		err := m.breaker.Execute(func() error {
			var err error
			out, err = fn(m.p)
			return err
		})
		switch {
		case err == nil:
			if i > 0 {
				slog.InfoContext(ctx, "served by fallback provider", "kind", g.cfg.Kind, "provider", m.name)
				g.cfg.Metrics.RecordFailover(ctx, g.cfg.Kind, m.name)
			}
			return out, nil
		case ctx.Err() != nil:
			return zero, err
		case errors.Is(err, ErrCircuitOpen):
			slog.DebugContext(ctx, "provider skipped, circuit open", "kind", g.cfg.Kind, "provider", m.name)
		case i < len(g.members)-1:
			slog.WarnContext(ctx, "provider failed, trying next", "kind", g.cfg.Kind, "provider", m.name, "err", err)
		}
		last = err
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, last)
}
