// Package playback plays the soothing track: fade-in, a fixed number of
// loops and a fade-out scheduled so it ends together with the last loop.
//
// A [Player] owns one [audio.Sink]. Every sink call runs on the player's own
// goroutine; sink events are queued to it and handled in order, so session
// bookkeeping needs no locks. Fades run on helper goroutines that post each
// volume step back to the player goroutine.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/hushling/pkg/audio"
)

// ErrReleased is returned by operations on a released [Player].
var ErrReleased = errors.New("playback: player released")

const (
	defaultFadeStep      = 50 * time.Millisecond
	defaultFadeOutReport = time.Second
	eventQueueLength     = 16
)

// Request describes one looped playback.
type Request struct {
	// Track is an asset:///, file:// or bare path reference.
	Track string

	// Loops is how many times the track plays back to back. Zero or less
	// plays nothing.
	Loops int

	// TargetVolume is clamped to [0, 1].
	TargetVolume float64

	// FadeIn ramps the volume from 0 to TargetVolume. Zero starts at target.
	FadeIn time.Duration

	// FadeOut is the length of the fade that ends with the last loop.
	// Zero disables the scheduled fade-out.
	FadeOut time.Duration

	// OnFadeOut, if set, is called with the fade length when the scheduled
	// fade-out starts and again with the time left, at most once per report
	// interval, while it runs. It must not block.
	OnFadeOut func(remaining time.Duration)
}

// Option configures a [Player].
type Option func(*Player)

// WithAssetDir sets the directory asset:/// references resolve against.
func WithAssetDir(dir string) Option {
	return func(p *Player) { p.assetDir = dir }
}

// WithFadeStep sets the interval between volume steps during fades.
func WithFadeStep(d time.Duration) Option {
	return func(p *Player) {
		if d > 0 {
			p.fadeStep = d
		}
	}
}

// WithFadeOutReport sets how often OnFadeOut is called while a scheduled
// fade-out runs. Defaults to one second.
func WithFadeOutReport(d time.Duration) Option {
	return func(p *Player) {
		if d > 0 {
			p.fadeOutReport = d
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Player) { p.log = l }
}

// Player executes looped playback on a sink. All methods are safe for
// concurrent use.
type Player struct {
	sink     audio.Sink
	assetDir string
	fadeStep time.Duration
	log      *slog.Logger

	fadeOutReport time.Duration

	calls  chan func()
	events chan audio.SinkEvent
	quit   chan struct{}
	done   chan struct{}

	releaseOnce sync.Once

	volBits atomic.Uint64
	active  atomic.Bool

	// Owned by the player goroutine.
	sess          *session
	current       float64
	target        float64
	fadeInCancel  context.CancelFunc
	fadeOutCancel context.CancelFunc
	fadeOutTimer  *time.Timer
}

// New starts a player on sink. The sink's listener is replaced. Call
// [Player.Release] to stop the player goroutine and close the sink.
func New(sink audio.Sink, opts ...Option) *Player {
	p := &Player{
		sink:     sink,
		assetDir: ".",
		fadeStep: defaultFadeStep,
		log:      slog.Default(),

		fadeOutReport: defaultFadeOutReport,
		calls:    make(chan func()),
		events:   make(chan audio.SinkEvent, eventQueueLength),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		target:   1,
	}
	for _, o := range opts {
		o(p)
	}
	sink.SetListener(p.enqueue)
	go p.loop()
	return p
}

// PlayLoops plays req.Track req.Loops times and blocks until the last loop
// ends, the session is stopped, the sink fails or ctx is done. A missing
// track fails with [ErrTrackNotFound] before the sink is touched. Any
// session already playing is replaced.
func (p *Player) PlayLoops(ctx context.Context, req Request) error {
	if req.Loops <= 0 {
		p.log.Debug("playback: nothing to play", "loops", req.Loops)
		return nil
	}
	path, err := ResolveTrack(req.Track, p.assetDir)
	if err != nil {
		return err
	}

	var (
		sess     *session
		startErr error
	)
	err = p.do(func() {
		p.resetTracking()
		sess = newSession(req)
		p.sess = sess
		p.active.Store(true)
		p.target = clampVolume(req.TargetVolume)

		if err := p.sink.Load(path); err != nil {
			startErr = fmt.Errorf("playback: load %s: %w", req.Track, err)
			p.resetTracking()
			return
		}
		if err := p.sink.Play(); err != nil {
			startErr = fmt.Errorf("playback: play %s: %w", req.Track, err)
			p.resetTracking()
			return
		}
		p.maybeSchedule(sess)

		if req.FadeIn > 0 {
			p.applyVolume(0)
			p.startFadeIn(sess, req.FadeIn)
		} else {
			p.applyVolume(p.target)
		}
	})
	if err != nil {
		return err
	}
	if startErr != nil {
		return startErr
	}

	p.log.Info("playback: started",
		"track", req.Track,
		"loops", req.Loops,
		"target_volume", clampVolume(req.TargetVolume),
		"fade_in", req.FadeIn,
		"fade_out", req.FadeOut,
	)

	select {
	case <-sess.done:
		return sess.err
	case <-ctx.Done():
		_ = p.do(func() {
			if p.sess == sess {
				p.resetTracking()
			}
		})
		return ctx.Err()
	}
}

// FadeOut ramps the current volume to 0 over d and blocks until done.
// A non-positive d mutes immediately.
func (p *Player) FadeOut(ctx context.Context, d time.Duration) error {
	var (
		fctx context.Context
		from float64
	)
	err := p.do(func() {
		p.cancelFades()
		if p.sess != nil {
			p.sess.fadeStarted = true
		}
		if d <= 0 {
			p.applyVolume(0)
			return
		}
		fctx, p.fadeOutCancel = context.WithCancel(ctx)
		from = p.current
	})
	if err != nil || d <= 0 {
		return err
	}
	err = p.ramp(fctx, from, 0, d, nil)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, ErrReleased) {
		return err
	}
	return nil
}

// Stop ends the current session, silences and stops the sink. It is a no-op
// on a released player.
func (p *Player) Stop() {
	_ = p.do(func() {
		p.resetTracking()
		if err := p.sink.Stop(); err != nil {
			p.log.Warn("playback: sink stop failed", "err", err)
		}
		p.applyVolume(0)
	})
}

// SetVolume sets the volume immediately and makes it the new target, so
// later loops keep it. A running fade-in is cancelled.
func (p *Player) SetVolume(v float64) {
	v = clampVolume(v)
	_ = p.do(func() {
		if p.fadeInCancel != nil {
			p.fadeInCancel()
			p.fadeInCancel = nil
		}
		p.target = v
		p.applyVolume(v)
	})
}

// Volume returns the last volume applied to the sink.
func (p *Player) Volume() float64 {
	return math.Float64frombits(p.volBits.Load())
}

// Active reports whether a PlayLoops session is in progress.
func (p *Player) Active() bool { return p.active.Load() }

// Release stops playback, closes the sink and stops the player goroutine.
// It blocks until teardown is complete and is safe to call more than once.
func (p *Player) Release() {
	p.releaseOnce.Do(func() { close(p.quit) })
	<-p.done
}

// ─── player goroutine ─────────────────────────────────────────────────────────

func (p *Player) loop() {
	defer close(p.done)
	for {
		select {
		case fn := <-p.calls:
			fn()
		case ev := <-p.events:
			p.handleEvent(ev)
		case <-p.quit:
			p.teardown()
			return
		}
	}
}

// do runs fn on the player goroutine and waits for it to return.
func (p *Player) do(fn func()) error {
	ran := make(chan struct{})
	select {
	case p.calls <- func() { defer close(ran); fn() }:
	case <-p.done:
		return ErrReleased
	case <-p.quit:
		return ErrReleased
	}
	<-ran
	return nil
}

// enqueue is the sink listener. It never blocks the sink once the player
// has exited.
func (p *Player) enqueue(ev audio.SinkEvent) {
	select {
	case p.events <- ev:
	case <-p.done:
	}
}

func (p *Player) handleEvent(ev audio.SinkEvent) {
	sess := p.sess
	if sess == nil {
		return
	}
	switch ev.Type {
	case audio.SinkReady:
		if sess.duration == 0 && ev.Duration > 0 {
			sess.duration = ev.Duration
			p.log.Debug("playback: track ready", "duration", ev.Duration)
			p.maybeSchedule(sess)
		}
	case audio.SinkEnded:
		sess.completed++
		p.log.Debug("playback: loop completed", "completed", sess.completed, "loops", sess.desired)
		if sess.completed >= sess.desired {
			p.finishSession(nil)
			return
		}
		if err := p.sink.SeekToStart(); err != nil {
			p.finishSession(fmt.Errorf("playback: seek: %w", err))
			return
		}
		if err := p.sink.Play(); err != nil {
			p.finishSession(fmt.Errorf("playback: replay: %w", err))
			return
		}
		if !sess.fadeStarted && !sess.fadingIn && p.target > 0 {
			p.applyVolume(p.target)
		}
	case audio.SinkError:
		p.finishSession(fmt.Errorf("playback: sink: %w", ev.Err))
	}
}

// maybeSchedule arms the single fade-out timer of sess once its duration is
// known.
func (p *Player) maybeSchedule(sess *session) {
	if !sess.needsSchedule || sess.duration <= 0 {
		return
	}
	sess.needsSchedule = false

	delay, fade := FadeOutPlan(sess.duration, sess.desired, sess.fadeOut)
	if fade <= 0 {
		return
	}
	p.log.Debug("playback: fade-out scheduled", "delay", delay, "fade", fade, "loops", sess.desired)
	p.fadeOutTimer = time.AfterFunc(delay, func() {
		_ = p.do(func() {
			if p.sess == sess && !sess.finished {
				p.startFadeOut(sess, fade)
			}
		})
	})
}

func (p *Player) startFadeIn(sess *session, d time.Duration) {
	ctx, cancel := context.WithCancel(sess.ctx)
	p.fadeInCancel = cancel
	sess.fadingIn = true
	target := p.target
	go func() {
		_ = p.ramp(ctx, 0, target, d, nil)
		_ = p.do(func() { sess.fadingIn = false })
	}()
}

func (p *Player) startFadeOut(sess *session, fade time.Duration) {
	p.cancelFades()
	sess.fadeStarted = true
	ctx, cancel := context.WithCancel(sess.ctx)
	p.fadeOutCancel = cancel
	from := p.current
	onFadeOut := sess.onFadeOut
	every := p.fadeOutReport
	go func() {
		if onFadeOut == nil {
			_ = p.ramp(ctx, from, 0, fade, nil)
			return
		}
		onFadeOut(fade)
		last := fade
		_ = p.ramp(ctx, from, 0, fade, func(remaining time.Duration) {
			if remaining > 0 && last-remaining >= every {
				last = remaining
				onFadeOut(remaining)
			}
		})
	}()
}

// ramp steps the volume from one level to another over d. Each step is
// applied on the player goroutine and skipped once ctx is cancelled there.
// onStep, when set, receives the time left after every applied step.
func (p *Player) ramp(ctx context.Context, from, to float64, d time.Duration, onStep func(remaining time.Duration)) error {
	steps := max(1, int(d/p.fadeStep))
	ticker := time.NewTicker(d / time.Duration(steps))
	defer ticker.Stop()

	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		v := from + (to-from)*float64(i)/float64(steps)
		if i == steps {
			v = to
		}
		if err := p.do(func() {
			if ctx.Err() == nil {
				p.applyVolume(v)
			}
		}); err != nil {
			return err
		}
		if onStep != nil && ctx.Err() == nil {
			onStep(d * time.Duration(steps-i) / time.Duration(steps))
		}
	}
	return ctx.Err()
}

func (p *Player) applyVolume(v float64) {
	p.current = v
	p.volBits.Store(math.Float64bits(v))
	if err := p.sink.SetVolume(v); err != nil {
		p.log.Warn("playback: set volume failed", "volume", v, "err", err)
	}
}

func (p *Player) cancelFades() {
	if p.fadeInCancel != nil {
		p.fadeInCancel()
		p.fadeInCancel = nil
	}
	if p.fadeOutCancel != nil {
		p.fadeOutCancel()
		p.fadeOutCancel = nil
	}
}

// finishSession completes the current session and clears loop tracking.
func (p *Player) finishSession(err error) {
	if err != nil {
		p.log.Warn("playback: session failed", "err", err)
	}
	if p.sess != nil {
		p.sess.finish(err)
	}
	p.resetTracking()
}

// resetTracking cancels timers and fades and completes any open session
// without error.
func (p *Player) resetTracking() {
	p.cancelFades()
	if p.fadeOutTimer != nil {
		p.fadeOutTimer.Stop()
		p.fadeOutTimer = nil
	}
	if p.sess != nil {
		p.sess.finish(nil)
		p.sess = nil
	}
	p.active.Store(false)
}

func (p *Player) teardown() {
	p.resetTracking()
	p.sink.SetListener(nil)
	if err := p.sink.Stop(); err != nil {
		p.log.Warn("playback: sink stop failed", "err", err)
	}
	if err := p.sink.Close(); err != nil {
		p.log.Warn("playback: sink close failed", "err", err)
	}
	p.log.Debug("playback: released")
}

func clampVolume(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return min(max(v, 0), 1)
}
