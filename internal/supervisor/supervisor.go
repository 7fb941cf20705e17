// Package supervisor restarts the automation engine after it stops on a fatal
// capture failure, such as an unplugged microphone or a crashed arecord.
//
// Restarts back off exponentially between attempts. The backoff keeps
// growing while the engine keeps failing shortly after each restart and
// resets once a restart has stayed up for a while.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/hushling/internal/observe"
)

// Default restart parameters.
const (
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 30 * time.Second
	defaultStableAfter    = time.Minute
)

// ErrGaveUp is returned by [Supervisor.Run] when MaxRetries consecutive
// restart attempts failed.
var ErrGaveUp = errors.New("supervisor: gave up restarting engine")

// Engine is the part of the automation engine the supervisor drives.
type Engine interface {
	Start(ctx context.Context) error
	Failures() <-chan error
}

// Config configures a [Supervisor].
type Config struct {
	// InitialBackoff is the delay before the first restart attempt.
	// Defaults to 1s.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between attempts. Defaults to 30s.
	MaxBackoff time.Duration

	// MaxRetries is the number of consecutive failed attempts after which
	// Run gives up. Zero retries forever.
	MaxRetries int

	// StableAfter is how long a restarted engine must run before the backoff
	// resets. Defaults to 1m.
	StableAfter time.Duration

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// OnRestart is called after every successful restart. May be nil.
	OnRestart func(attempt int)
}

// Supervisor watches an [Engine] and restarts it after failures.
//
// A supervisor starts armed. Disarm it when the engine is stopped on
// purpose so a failure racing the stop does not bring it back.
type Supervisor struct {
	eng         Engine
	initial     time.Duration
	max         time.Duration
	maxRetries  int
	stableAfter time.Duration
	metrics     *observe.Metrics
	log         *slog.Logger
	onRestart   func(int)

	armed atomic.Bool

	mu          sync.Mutex
	backoff     time.Duration
	lastRestart time.Time
	restarts    int
}

// New returns an armed supervisor for eng.
func New(eng Engine, cfg Config) *Supervisor {
	s := &Supervisor{
		eng:         eng,
		initial:     cfg.InitialBackoff,
		max:         cfg.MaxBackoff,
		maxRetries:  max(cfg.MaxRetries, 0),
		stableAfter: cfg.StableAfter,
		metrics:     cfg.Metrics,
		log:         cfg.Logger,
		onRestart:   cfg.OnRestart,
	}
	if s.initial <= 0 {
		s.initial = defaultInitialBackoff
	}
	if s.max <= 0 {
		s.max = defaultMaxBackoff
	}
	s.max = max(s.max, s.initial)
	if s.stableAfter <= 0 {
		s.stableAfter = defaultStableAfter
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.armed.Store(true)
	return s
}

// Arm enables restarts.
func (s *Supervisor) Arm() { s.armed.Store(true) }

// Disarm disables restarts. A restart already waiting out its backoff is
// abandoned.
func (s *Supervisor) Disarm() { s.armed.Store(false) }

// Armed reports whether restarts are enabled.
func (s *Supervisor) Armed() bool { return s.armed.Load() }

// Restarts returns how many successful restarts happened.
func (s *Supervisor) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// Run watches for failures until ctx is done. It returns nil on
// cancellation and an error wrapping [ErrGaveUp] when the retry budget is
// exhausted.
func (s *Supervisor) Run(ctx context.Context) error {
	failures := s.eng.Failures()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-failures:
			if !s.armed.Load() {
				s.log.Info("supervisor: engine failed while disarmed", "err", err)
				continue
			}
			s.log.Warn("supervisor: engine failed", "err", err)
			if err := s.restart(ctx); err != nil {
				return err
			}
		}
	}
}

// restart retries Engine.Start with backoff until it succeeds, the
// supervisor is disarmed, ctx is done or the retry budget runs out.
func (s *Supervisor) restart(ctx context.Context) error {
	delay := s.nextDelay()
	var lastErr error
	for attempt := 1; s.maxRetries == 0 || attempt <= s.maxRetries; attempt++ {
		s.log.Info("supervisor: restarting engine", "attempt", attempt, "backoff", delay)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		if !s.armed.Load() {
			s.log.Info("supervisor: restart abandoned")
			return nil
		}

		err := s.eng.Start(ctx)
		if err == nil {
			s.mu.Lock()
			s.lastRestart = time.Now()
			s.restarts++
			s.mu.Unlock()
			s.metrics.EngineRestarts.Add(ctx, 1)
			s.log.Info("supervisor: engine restarted", "attempt", attempt)
			if s.onRestart != nil {
				s.onRestart(attempt)
			}
			return nil
		}
		lastErr = err
		s.log.Warn("supervisor: restart failed", "attempt", attempt, "err", err)
		delay = s.grow(delay)
	}
	s.log.Error("supervisor: giving up", "attempts", s.maxRetries, "err", lastErr)
	return fmt.Errorf("%w after %d attempts: %w", ErrGaveUp, s.maxRetries, lastErr)
}

// nextDelay returns the first delay of a restart sequence. It continues the
// previous backoff when the last restart did not stay up for stableAfter.
func (s *Supervisor) nextDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backoff == 0 || s.lastRestart.IsZero() || time.Since(s.lastRestart) >= s.stableAfter {
		s.backoff = s.initial
	} else {
		s.backoff = s.grow(s.backoff)
	}
	return s.backoff
}

func (s *Supervisor) grow(d time.Duration) time.Duration {
	return min(d*2, s.max)
}
