package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrAllFailed is returned when every member of a [Group] failed or was
// rejected by its breaker.
var ErrAllFailed = errors.New("resilience: all backends failed")

// member is one backend of a group.
type member[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Group holds a primary backend and ordered fallbacks, each behind its own
// [Breaker].
type Group[T any] struct {
	cfg BreakerConfig
	log *slog.Logger

	mu      sync.RWMutex
	members []member[T]
}

// NewGroup returns a group with primary as its first member. cfg is the
// template for every member's breaker; its Name is replaced per member.
func NewGroup[T any](primaryName string, primary T, cfg BreakerConfig) *Group[T] {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	g := &Group[T]{cfg: cfg, log: log}
	g.Add(primaryName, primary)
	return g
}

// Add appends a fallback. Fallbacks are tried in the order they were added.
func (g *Group[T]) Add(name string, value T) {
	cfg := g.cfg
	cfg.Name = name
	g.mu.Lock()
	defer g.mu.Unlock()
	g.members = append(g.members, member[T]{name: name, value: value, breaker: NewBreaker(cfg)})
}

// Names lists the members in order.
func (g *Group[T]) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, len(g.members))
	for i, m := range g.members {
		names[i] = m.name
	}
	return names
}

// Each calls fn for every member in order.
func (g *Group[T]) Each(fn func(name string, value T)) {
	g.mu.RLock()
	members := append([]member[T](nil), g.members...)
	g.mu.RUnlock()
	for _, m := range members {
		fn(m.name, m.value)
	}
}

// State returns the breaker state of the named member and whether it exists.
func (g *Group[T]) State(name string) (BreakerState, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, m := range g.members {
		if m.name == name {
			return m.breaker.State(), true
		}
	}
	return BreakerClosed, false
}

// Call tries fn on each member in order until one succeeds. It returns the
// result, the name of the member that served it and whether that member was
// a fallback. When every member fails, the error wraps [ErrAllFailed] and
// the last failure.
func Call[T, R any](g *Group[T], fn func(T) (R, error)) (out R, name string, fellBack bool, err error) {
	g.mu.RLock()
	members := append([]member[T](nil), g.members...)
	g.mu.RUnlock()

	var lastErr error
	for i, m := range members {
		err := m.breaker.Do(func() error {
			var err error
			out, err = fn(m.value)
			return err
		})
		if err == nil {
			return out, m.name, i > 0, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			g.log.Debug("resilience: skipping backend", "backend", m.name)
			continue
		}
		g.log.Warn("resilience: backend failed", "backend", m.name, "err", err)
	}
	var zero R
	if lastErr == nil {
		lastErr = errors.New("no backends")
	}
	return zero, "", false, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

// Remove drops the named member. It reports whether it was present.
func (g *Group[T]) Remove(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, m := range g.members {
		if m.name == name {
			g.members = append(g.members[:i:i], g.members[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of members.
func (g *Group[T]) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members)
}
