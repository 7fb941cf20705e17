// Package engine turns classifications into playback decisions.
//
// An [Engine] owns the whole detection pipeline of one device: a capture
// goroutine fills a ring buffer, an analysis goroutine ticks every
// SamplePeriod (snapshot, mel features, classification, trigger policy) and
// a playback cycle runs on its own goroutine whenever the policy fires.
//
// The trigger policy counts consecutive hits. A window is a hit when the
// classifier reports anything but SILENCE, or when the cry band alone is
// hot enough, and only when the global energy clears a floor. After every
// cycle a cooldown of a few ticks suppresses triggers, the buffer is emptied
// and the classifier is replaced so its adaptive state starts over.
//
// State changes are pushed to subscribers through [Engine.Subscribe].
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/hushling/internal/observe"
	"github.com/MrWong99/hushling/internal/playback"
	"github.com/MrWong99/hushling/pkg/audio"
	"github.com/MrWong99/hushling/pkg/classifier"
	"github.com/MrWong99/hushling/pkg/features"
)

var (
	// ErrStartFailed wraps any setup failure returned by [Engine.Start].
	ErrStartFailed = errors.New("engine: start failed")

	// ErrReleased is returned by [Engine.Start] after [Engine.Release].
	ErrReleased = errors.New("engine: released")

	// ErrNotRunning is returned by [Engine.Trigger] while stopped.
	ErrNotRunning = errors.New("engine: not running")

	// ErrPlaybackActive is returned by [Engine.Trigger] while a cycle runs.
	ErrPlaybackActive = errors.New("engine: playback already active")

	// ErrCaptureFailed wraps the error that ended a capture stream. It is
	// delivered on [Engine.Failures].
	ErrCaptureFailed = errors.New("engine: capture failed")
)

// Player is the part of [playback.Player] the engine drives.
type Player interface {
	PlayLoops(ctx context.Context, req playback.Request) error
	Stop()
	SetVolume(v float64)
	Release()
}

var _ Player = (*playback.Player)(nil)

// PlayerFactory creates the player on first use.
type PlayerFactory func() (Player, error)

// ClassifierFactory creates a fresh, uninitialised classifier. It is called
// on start and after every playback cycle.
type ClassifierFactory func() (classifier.Classifier, error)

// Trigger sources recorded in metrics and logs.
const (
	SourceClassifier = "classifier"
	SourceBand       = "band"
	SourceManual     = "manual"
)

// captureChunk is the read size of the capture goroutine (20 ms at 16 kHz).
const captureChunk = 320

// Option configures an [Engine].
type Option func(*Engine)

// WithConfig sets the initial automation config.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.initialCfg = cfg }
}

// WithFeatures sets the mel analysis geometry.
func WithFeatures(cfg features.Config) Option {
	return func(e *Engine) { e.featCfg = cfg }
}

// WithEnergyConfig sets the bands used for the energy gate and the band
// fallback. It should match the energy classifier's config.
func WithEnergyConfig(cfg classifier.EnergyConfig) Option {
	return func(e *Engine) { e.energyCfg = cfg }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithBufferSize sets the ring buffer length in samples. Defaults to one
// analysis window.
func WithBufferSize(n int) Option {
	return func(e *Engine) { e.bufSize = n }
}

// WithBackendName labels classification metrics. Defaults to "energy".
func WithBackendName(name string) Option {
	return func(e *Engine) { e.backend = name }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// run holds everything that lives between one Start and the next Stop.
type run struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream audio.Stream
	rate   int
	wg     sync.WaitGroup
}

// Engine is the automation engine. All methods are safe for concurrent use.
type Engine struct {
	capture       audio.Capture
	newPlayer     PlayerFactory
	newClassifier ClassifierFactory

	initialCfg Config
	featCfg    features.Config
	energyCfg  classifier.EnergyConfig
	bufSize    int
	backend    string
	metrics    *observe.Metrics
	log        *slog.Logger

	extractor *features.Extractor
	buf       *audio.RingBuffer
	cfg       atomic.Pointer[Config]
	playing   atomic.Bool
	failures  chan error

	// mu serialises Start, Stop, Trigger and Release.
	mu       sync.Mutex
	run      *run
	released bool

	classMu sync.Mutex
	class   classifier.Classifier

	playerMu sync.Mutex
	player   Player

	ctrMu    sync.Mutex
	confirm  int
	cooldown int

	stateMu sync.Mutex
	state   State
	cycleID string
	subs    map[int]chan State
	nextSub int
}

// New creates a stopped engine reading capture, playing through players made
// by newPlayer and classifying with classifiers made by newClassifier.
func New(capture audio.Capture, newPlayer PlayerFactory, newClassifier ClassifierFactory, opts ...Option) (*Engine, error) {
	if capture == nil || newPlayer == nil || newClassifier == nil {
		return nil, errors.New("engine: capture, player factory and classifier factory are required")
	}
	e := &Engine{
		capture:       capture,
		newPlayer:     newPlayer,
		newClassifier: newClassifier,
		initialCfg:    DefaultConfig(),
		featCfg:       features.DefaultConfig(),
		energyCfg:     classifier.DefaultEnergyConfig(),
		backend:       "energy",
		log:           slog.Default(),
		failures:      make(chan error, 1),
		state:         Stopped(),
		subs:          make(map[int]chan State),
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}

	ext, err := features.NewExtractor(e.featCfg)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	e.extractor = ext
	if e.bufSize <= 0 {
		e.bufSize = audio.SamplesFor(e.featCfg.WindowSize, e.featCfg.SampleRate)
	}
	e.buf = audio.NewRingBuffer(e.bufSize)

	cfg := e.initialCfg
	e.cfg.Store(&cfg)
	return e, nil
}

// Config returns the current automation config.
func (e *Engine) Config() Config {
	return *e.cfg.Load()
}

// UpdateConfig replaces the automation config. The volume is applied to an
// existing player at once; every other field takes effect on the next tick
// or cycle.
func (e *Engine) UpdateConfig(cfg Config) {
	e.cfg.Store(&cfg)

	e.playerMu.Lock()
	p := e.player
	e.playerMu.Unlock()
	if p != nil {
		p.SetVolume(cfg.TargetVolume)
		e.metrics.Volume.Record(context.Background(), cfg.TargetVolume)
	}
	e.log.Debug("engine: config updated",
		"target_volume", cfg.TargetVolume,
		"sample_period", cfg.SamplePeriod,
		"loop_count", cfg.LoopCount,
	)
}

// Start opens the capture stream and begins analysis. It is a no-op while
// running. Any setup failure stops the engine again and is returned wrapped
// in [ErrStartFailed].
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.released {
		return ErrReleased
	}
	if e.run != nil {
		return nil
	}
	if err := e.startLocked(ctx); err != nil {
		e.stopLocked()
		e.log.Error("engine: start failed", "err", err)
		return fmt.Errorf("%w: %w", ErrStartFailed, err)
	}
	return nil
}

func (e *Engine) startLocked(ctx context.Context) error {
	e.resetCounters()
	e.buf.Reset()

	if err := e.ensureClassifier(ctx); err != nil {
		return err
	}

	stream, err := e.capture.Open(ctx)
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{
		ctx:    runCtx,
		cancel: cancel,
		stream: stream,
		rate:   e.capture.SampleRate(),
	}
	e.run = r

	r.wg.Add(2)
	go e.captureLoop(r)
	go e.analysisLoop(r)

	e.setState(Listening())
	e.log.Info("engine: started",
		"capture_rate", r.rate,
		"buffer_samples", e.buf.Len(),
		"backend", e.backend,
	)
	return nil
}

// Stop cancels capture, analysis and playback, waits for them to finish and
// returns to Stopped. It is safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

func (e *Engine) stopLocked() {
	if r := e.run; r != nil {
		e.run = nil
		r.cancel()
		if r.stream != nil {
			if err := r.stream.Close(); err != nil {
				e.log.Warn("engine: close capture", "err", err)
			}
		}
		e.playerMu.Lock()
		p := e.player
		e.playerMu.Unlock()
		if p != nil {
			p.Stop()
		}
		r.wg.Wait()
		e.log.Info("engine: stopped")
	}
	e.resetCounters()
	e.buf.Reset()
	e.setState(Stopped())
}

// Release stops the engine and frees the classifier and the player. A later
// Start returns [ErrReleased].
func (e *Engine) Release() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return nil
	}
	e.stopLocked()
	e.released = true

	var err error
	e.classMu.Lock()
	if e.class != nil {
		err = e.class.Release()
		e.class = nil
	}
	e.classMu.Unlock()

	e.playerMu.Lock()
	if e.player != nil {
		e.player.Release()
		e.player = nil
	}
	e.playerMu.Unlock()
	return err
}

// Trigger starts a playback cycle now, bypassing the trigger policy.
func (e *Engine) Trigger() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run == nil {
		return ErrNotRunning
	}
	return e.startCycle(e.run, SourceManual)
}

// Failures delivers fatal capture errors. The engine is already stopped
// when an error arrives. Only the most recent undelivered error is kept.
func (e *Engine) Failures() <-chan error {
	return e.failures
}

// State returns the current state.
func (e *Engine) State() State {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}

// CycleID returns the ID of the running playback cycle, or "" when none
// runs. The same ID is logged and attached to the cycle's span.
func (e *Engine) CycleID() string {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.cycleID
}

// Subscribe returns a channel that receives the current state and every
// later change. A slow reader only sees the latest state. The returned
// function unsubscribes and closes the channel.
func (e *Engine) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	e.stateMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	ch <- e.state
	e.stateMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.stateMu.Lock()
			delete(e.subs, id)
			close(ch)
			e.stateMu.Unlock()
		})
	}
}

// setState publishes s unless it equals the current state.
func (e *Engine) setState(s State) {
	e.setStateIf(func(State) bool { return true }, s)
}

// setStateIf publishes s when ok accepts the current state.
func (e *Engine) setStateIf(ok func(cur State) bool, s State) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if e.state == s || !ok(e.state) {
		return
	}
	e.state = s
	for _, ch := range e.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
	e.log.Debug("engine: state changed", "state", s.String())
}

func (e *Engine) resetCounters() {
	e.ctrMu.Lock()
	e.confirm = 0
	e.cooldown = 0
	e.ctrMu.Unlock()
}

// ─── capture ──────────────────────────────────────────────────────────────────

func (e *Engine) captureLoop(r *run) {
	defer r.wg.Done()
	chunk := make([]int16, captureChunk)
	for {
		n, err := r.stream.Read(chunk)
		if n > 0 {
			samples := audio.ResampleMono16(chunk[:n], r.rate, e.featCfg.SampleRate)
			e.buf.Write(samples)
		}
		if err != nil {
			if r.ctx.Err() != nil {
				return
			}
			e.log.Error("engine: capture stream ended", "err", err)
			go e.fail(r, err)
			return
		}
	}
}

// fail stops run r after a capture failure and reports it.
func (e *Engine) fail(r *run, cause error) {
	e.mu.Lock()
	if e.run != r {
		e.mu.Unlock()
		return
	}
	e.stopLocked()
	e.mu.Unlock()

	err := fmt.Errorf("%w: %w", ErrCaptureFailed, cause)
	select {
	case <-e.failures:
	default:
	}
	select {
	case e.failures <- err:
	default:
	}
}

// ─── analysis ─────────────────────────────────────────────────────────────────

func (e *Engine) analysisLoop(r *run) {
	defer r.wg.Done()
	for {
		period := e.Config().SamplePeriod
		if period <= 0 {
			period = DefaultConfig().SamplePeriod
		}
		t := time.NewTimer(period)
		select {
		case <-r.ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		e.safeTick(r)
	}
}

func (e *Engine) safeTick(r *run) {
	defer func() {
		if p := recover(); p != nil {
			e.log.Error("engine: tick panicked", "panic", p)
			e.metrics.RecordTickError(r.ctx, "panic")
		}
	}()
	e.tick(r)
}

// tick runs one analysis step.
func (e *Engine) tick(r *run) {
	if e.playing.Load() || e.State().Active() {
		return
	}
	if !e.buf.IsFilled() {
		return
	}

	ctx := r.ctx
	start := time.Now()
	m := e.extractor.Extract(e.buf.Snapshot())
	if len(m) == 0 {
		return
	}
	en := classifier.MeasureEnergy(m, e.energyCfg)
	e.metrics.BandEnergy.Record(ctx, en.Band)

	res, err := e.classify(ctx, m)
	if err != nil {
		e.log.Warn("engine: classification failed", "err", err)
		e.metrics.RecordTickError(ctx, "classify")
		return
	}
	e.metrics.RecordTick(ctx, time.Since(start))
	e.metrics.RecordClassification(ctx, e.backend, res.Class.String())

	e.log.Debug("engine: tick",
		"class", res.Class.String(),
		"cry", res.Cry,
		"global_energy", en.Global,
		"band_energy", en.Band,
	)

	if source, fire := e.decide(e.Config(), res, en); fire {
		if err := e.startCycle(r, source); err != nil {
			e.log.Debug("engine: trigger ignored", "err", err)
		}
	}
}

// classify runs the current classifier under the classifier mutex. A
// panicking backend is reported as an error so the mutex is always released.
func (e *Engine) classify(ctx context.Context, m features.Matrix) (res classifier.Result, err error) {
	e.classMu.Lock()
	defer e.classMu.Unlock()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("engine: classifier panicked: %v", p)
		}
	}()
	if e.class == nil {
		return classifier.Result{}, errors.New("engine: no classifier")
	}
	return e.class.Classify(ctx, m)
}

// decide applies the trigger policy to one classified window and reports
// whether a cycle should start and why.
func (e *Engine) decide(cfg Config, res classifier.Result, en classifier.Energies) (string, bool) {
	e.ctrMu.Lock()
	defer e.ctrMu.Unlock()

	if e.cooldown > 0 {
		e.cooldown--
		if e.cooldown == 0 {
			e.confirm = 0
			e.log.Info("engine: cooldown over, monitoring resumed")
		}
		return "", false
	}

	wasPending := func(cur State) bool { return cur.Kind == KindCryingPending }
	if en.Global < cfg.MinEnergyForTrigger {
		e.confirm = 0
		e.setStateIf(wasPending, Listening())
		return "", false
	}

	classHit := res.Class != classifier.ClassSilence
	bandHit := en.Band >= cfg.BandEnergyTrigger
	if !classHit && !bandHit {
		e.confirm = 0
		e.setStateIf(wasPending, Listening())
		return "", false
	}

	e.confirm++
	if e.confirm >= cfg.confirmFrames() {
		e.confirm = 0
		if classHit {
			return SourceClassifier, true
		}
		return SourceBand, true
	}
	e.setStateIf(func(cur State) bool { return !cur.Active() }, CryingPending(e.confirm))
	return "", false
}

// ─── playback cycle ───────────────────────────────────────────────────────────

// startCycle launches a playback cycle on r unless one is active.
func (e *Engine) startCycle(r *run, source string) error {
	if !e.playing.CompareAndSwap(false, true) {
		return ErrPlaybackActive
	}
	e.metrics.RecordTrigger(r.ctx, source)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		e.cycle(r, source)
	}()
	return nil
}

func (e *Engine) cycle(r *run, source string) {
	cycleID := uuid.NewString()
	ctx, span := observe.StartSpan(r.ctx, "engine.playback_cycle",
		trace.WithAttributes(
			attribute.String("cycle_id", cycleID),
			attribute.String("source", source),
		),
	)
	log := observe.Logger(ctx).With("cycle_id", cycleID)
	start := time.Now()
	e.metrics.PlaybackActive.Add(ctx, 1)

	var err error
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("engine: playback panicked: %v", p)
		}
		e.finishCycle(r, log)

		status := "completed"
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			status = "cancelled"
		default:
			status = "failed"
			log.Error("engine: playback cycle failed", "err", err)
		}
		mctx := context.WithoutCancel(ctx)
		e.metrics.PlaybackActive.Add(mctx, -1)
		e.metrics.RecordPlaybackCycle(mctx, status, time.Since(start))
		observe.EndSpan(span, err)
		log.Info("engine: playback cycle finished", "status", status, "duration", time.Since(start))
	}()

	cfg := e.Config()
	var p Player
	if p, err = e.ensurePlayer(); err != nil {
		return
	}
	e.stateMu.Lock()
	e.cycleID = cycleID
	e.stateMu.Unlock()
	e.setState(Playing())
	e.metrics.Volume.Record(ctx, cfg.TargetVolume)
	log.Info("engine: playback cycle started",
		"source", source,
		"track", cfg.Track,
		"loops", cfg.LoopCount,
	)

	err = p.PlayLoops(ctx, playback.Request{
		Track:        cfg.Track,
		Loops:        cfg.LoopCount,
		TargetVolume: cfg.TargetVolume,
		FadeIn:       cfg.FadeIn,
		FadeOut:      cfg.FadeOut,
		OnFadeOut: func(remaining time.Duration) {
			e.setStateIf(State.Active, FadingOut(remaining))
		},
	})
}

// finishCycle returns the engine to listening after a cycle.
func (e *Engine) finishCycle(r *run, log *slog.Logger) {
	e.playerMu.Lock()
	p := e.player
	e.playerMu.Unlock()
	if p != nil {
		p.Stop()
	}

	cfg := e.Config()
	e.ctrMu.Lock()
	e.confirm = 0
	e.cooldown = CooldownTicks(cfg.Cooldown, cfg.SamplePeriod)
	e.ctrMu.Unlock()
	e.buf.Reset()
	e.recreateClassifier(r.ctx, log)

	e.stateMu.Lock()
	e.cycleID = ""
	e.stateMu.Unlock()
	if r.ctx.Err() == nil {
		e.setState(Listening())
	}
	e.playing.Store(false)
}

func (e *Engine) ensurePlayer() (Player, error) {
	e.playerMu.Lock()
	defer e.playerMu.Unlock()
	if e.player != nil {
		return e.player, nil
	}
	p, err := e.newPlayer()
	if err != nil {
		return nil, fmt.Errorf("engine: create player: %w", err)
	}
	e.player = p
	return p, nil
}

// ensureClassifier creates and initialises a classifier when none exists.
func (e *Engine) ensureClassifier(ctx context.Context) error {
	e.classMu.Lock()
	defer e.classMu.Unlock()
	if e.class != nil {
		return nil
	}
	c, err := e.buildClassifier(ctx)
	if err != nil {
		return err
	}
	e.class = c
	return nil
}

// recreateClassifier swaps in a fresh classifier and releases the old one.
// On failure the current classifier stays in place.
func (e *Engine) recreateClassifier(ctx context.Context, log *slog.Logger) {
	next, err := e.buildClassifier(context.WithoutCancel(ctx))
	if err != nil {
		log.Warn("engine: keeping current classifier", "err", err)
		return
	}
	e.classMu.Lock()
	old := e.class
	e.class = next
	e.classMu.Unlock()

	if old != nil {
		if err := old.Release(); err != nil {
			log.Warn("engine: release classifier", "err", err)
		}
	}
}

func (e *Engine) buildClassifier(ctx context.Context) (classifier.Classifier, error) {
	c, err := e.newClassifier()
	if err != nil {
		return nil, fmt.Errorf("create classifier: %w", err)
	}
	if err := c.Initialize(ctx); err != nil {
		_ = c.Release()
		return nil, fmt.Errorf("initialize classifier: %w", err)
	}
	return c, nil
}
