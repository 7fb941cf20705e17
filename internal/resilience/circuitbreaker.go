// Package resilience keeps the detection pipeline running when a classifier
// backend misbehaves.
//
// [Breaker] is a three-state circuit breaker (closed, open, half-open).
// [Group] orders several instances of one backend type, each behind its own
// breaker, and serves every call from the first healthy one.
// [ClassifierFallback] applies a group to [classifier.Classifier] so that a
// failing ONNX model degrades to the energy classifier instead of silencing
// detection.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// BreakerState is the operating mode of a [Breaker].
type BreakerState int

const (
	// BreakerClosed forwards every call.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects calls until the cool-off elapses.
	BreakerOpen

	// BreakerHalfOpen lets a limited number of probe calls through. One
	// failed probe re-opens the breaker; enough successes close it.
	BreakerHalfOpen
)

// String returns the lower-case name of s.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields take defaults.
type BreakerConfig struct {
	// Name labels log lines.
	Name string

	// MaxFailures is the run of consecutive failures that opens the breaker.
	// Default: 3.
	MaxFailures int

	// CoolOff is how long the breaker stays open. Default: 30s.
	CoolOff time.Duration

	// Probes is how many successful half-open calls close the breaker.
	// Default: 2.
	Probes int

	// Now replaces time.Now in tests.
	Now func() time.Time

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Breaker is a consecutive-failure circuit breaker.
type Breaker struct {
	name        string
	maxFailures int
	coolOff     time.Duration
	probes      int
	now         func() time.Time
	log         *slog.Logger

	mu        sync.Mutex
	state     BreakerState
	failures  int
	openedAt  time.Time
	inFlight  int
	successes int
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	b := &Breaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		coolOff:     cfg.CoolOff,
		probes:      cfg.Probes,
		now:         cfg.Now,
		log:         cfg.Logger,
	}
	if b.maxFailures <= 0 {
		b.maxFailures = 3
	}
	if b.coolOff <= 0 {
		b.coolOff = 30 * time.Second
	}
	if b.probes <= 0 {
		b.probes = 2
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.log == nil {
		b.log = slog.Default()
	}
	return b
}

// Do runs fn unless the breaker rejects the call, in which case it returns
// [ErrCircuitOpen] without calling fn. fn's error is returned unchanged.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn()
	b.settle(probe, err)
	return err
}

// admit decides whether a call may proceed and whether it is a probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen {
		if b.now().Sub(b.openedAt) < b.coolOff {
			return false, ErrCircuitOpen
		}
		b.state = BreakerHalfOpen
		b.inFlight = 0
		b.successes = 0
		b.log.Info("resilience: breaker half-open", "name", b.name)
	}
	if b.state == BreakerHalfOpen {
		if b.inFlight+b.successes >= b.probes {
			return false, ErrCircuitOpen
		}
		b.inFlight++
		return true, nil
	}
	return false, nil
}

// settle records the outcome of an admitted call.
func (b *Breaker) settle(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.inFlight--
		if b.state != BreakerHalfOpen {
			// Another probe already decided.
			return
		}
		if err != nil {
			b.trip()
			b.log.Warn("resilience: breaker re-opened", "name", b.name, "err", err)
			return
		}
		b.successes++
		if b.successes >= b.probes {
			b.state = BreakerClosed
			b.failures = 0
			b.log.Info("resilience: breaker closed", "name", b.name)
		}
		return
	}

	if err == nil {
		b.failures = 0
		return
	}
	b.failures++
	if b.state == BreakerClosed && b.failures >= b.maxFailures {
		b.trip()
		b.log.Warn("resilience: breaker opened",
			"name", b.name,
			"failures", b.failures,
			"err", err,
		)
	}
}

// trip opens the breaker. b.mu must be held.
func (b *Breaker) trip() {
	b.state = BreakerOpen
	b.openedAt = b.now()
}

// State returns the current state. An open breaker whose cool-off has
// elapsed reports [BreakerHalfOpen]; the transition itself happens on the
// next call.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.coolOff {
		return BreakerHalfOpen
	}
	return b.state
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.inFlight = 0
	b.successes = 0
}
