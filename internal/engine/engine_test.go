package engine_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/hushling/internal/engine"
	"github.com/MrWong99/hushling/internal/observe"
	"github.com/MrWong99/hushling/internal/playback"
	audiomock "github.com/MrWong99/hushling/pkg/audio/mock"
	"github.com/MrWong99/hushling/pkg/classifier"
	classmock "github.com/MrWong99/hushling/pkg/classifier/mock"
	"github.com/MrWong99/hushling/pkg/features"
)

// ─── helpers ──────────────────────────────────────────────────────────────────

const period = 20 * time.Millisecond

// smallFeatures analyses 20 ms windows so the buffer refills quickly.
func smallFeatures() features.Config {
	return features.Config{
		SampleRate: 16000,
		WindowSize: 20 * time.Millisecond,
		HopSize:    10 * time.Millisecond,
		MelBins:    16,
		MinFreq:    80,
		MaxFreq:    8000,
	}
}

func fastConfig() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.SamplePeriod = period
	cfg.Cooldown = 30 * time.Millisecond
	cfg.FadeIn = 0
	cfg.FadeOut = 0
	cfg.MinEnergyForTrigger = 0
	cfg.BandEnergyTrigger = 2
	return cfg
}

func loudStream() *audiomock.Stream {
	s := audiomock.NewStream(0)
	s.Generate = func(p []int16) {
		for i := range p {
			if i%2 == 0 {
				p[i] = 20000
			} else {
				p[i] = -20000
			}
		}
	}
	s.Pace = time.Millisecond
	return s
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// fakePlayer blocks in PlayLoops until release is closed (when set) or ctx
// is done. With playErr set it fails immediately instead.
type fakePlayer struct {
	mu       sync.Mutex
	requests []playback.Request
	volumes  []float64
	stops    int
	released bool

	release chan struct{}
	onPlay  func()
	playErr error
}

func (p *fakePlayer) PlayLoops(ctx context.Context, req playback.Request) error {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	onPlay, release, playErr := p.onPlay, p.release, p.playErr
	p.mu.Unlock()
	if onPlay != nil {
		onPlay()
	}
	if playErr != nil {
		return playErr
	}
	if release == nil {
		return nil
	}
	select {
	case <-release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *fakePlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
}

func (p *fakePlayer) SetVolume(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volumes = append(p.volumes, v)
}

func (p *fakePlayer) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = true
}

func (p *fakePlayer) stopCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops
}

func (p *fakePlayer) firstRequest() playback.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[0]
}

func (p *fakePlayer) plays() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// classifierFactory returns a factory of mocks that always report r and
// count every Classify call across instances.
func classifierFactory(r classifier.Result, calls *atomic.Int64, created *atomic.Int64) engine.ClassifierFactory {
	return func() (classifier.Classifier, error) {
		if created != nil {
			created.Add(1)
		}
		return &classmock.Classifier{
			Result: r,
			OnClassify: func(features.Matrix) {
				if calls != nil {
					calls.Add(1)
				}
			},
		}, nil
	}
}

var cryResult = classifier.Result{Silence: 0.02, Noise: 0.08, Cry: 0.9, Class: classifier.ClassCry}

func newEngine(t *testing.T, capture *audiomock.Capture, player engine.Player, factory engine.ClassifierFactory, cfg engine.Config) *engine.Engine {
	t.Helper()
	e, err := engine.New(capture,
		func() (engine.Player, error) { return player, nil },
		factory,
		engine.WithConfig(cfg),
		engine.WithFeatures(smallFeatures()),
		engine.WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = e.Release() })
	return e
}

// ─── tests ────────────────────────────────────────────────────────────────────

func TestCooldownTicks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		cooldown time.Duration
		period   time.Duration
		want     int
	}{
		{"1500ms over 1s", 1500 * time.Millisecond, time.Second, 2},
		{"exact multiple", 2 * time.Second, time.Second, 2},
		{"shorter than period", 100 * time.Millisecond, time.Second, 1},
		{"zero cooldown", 0, time.Second, 1},
		{"zero period", time.Second, 0, 1},
		{"negative period", time.Second, -time.Second, 1},
		{"rounds up", 2500 * time.Millisecond, time.Second, 3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := engine.CooldownTicks(tc.cooldown, tc.period); got != tc.want {
				t.Errorf("CooldownTicks(%v, %v) = %d, want %d", tc.cooldown, tc.period, got, tc.want)
			}
		})
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()
	if _, err := engine.New(nil, nil, nil); err == nil {
		t.Fatal("expected error for missing collaborators")
	}
}

func TestNew_RejectsBadFeatures(t *testing.T) {
	t.Parallel()
	_, err := engine.New(&audiomock.Capture{},
		func() (engine.Player, error) { return &fakePlayer{}, nil },
		classifierFactory(classifier.Result{}, nil, nil),
		engine.WithFeatures(features.Config{}),
	)
	if !errors.Is(err, features.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	stream := loudStream()
	e := newEngine(t, &audiomock.Capture{StreamResult: stream}, &fakePlayer{},
		classifierFactory(classifier.Result{}, nil, nil), fastConfig())

	if got := e.State(); got != engine.Stopped() {
		t.Fatalf("initial state = %v, want Stopped", got)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := e.State(); got != engine.Listening() {
		t.Errorf("state after Start = %v, want Listening", got)
	}
	// A second Start while running is a no-op.
	if err := e.Start(context.Background()); err != nil {
		t.Errorf("second Start: %v", err)
	}

	e.Stop()
	e.Stop()
	if got := e.State(); got != engine.Stopped() {
		t.Errorf("state after Stop = %v, want Stopped", got)
	}
	if !stream.Closed() {
		t.Error("capture stream not closed")
	}
}

func TestStart_OpenFailure(t *testing.T) {
	t.Parallel()

	openErr := errors.New("no device")
	e := newEngine(t, &audiomock.Capture{OpenErr: openErr}, &fakePlayer{},
		classifierFactory(classifier.Result{}, nil, nil), fastConfig())

	err := e.Start(context.Background())
	if !errors.Is(err, engine.ErrStartFailed) {
		t.Fatalf("err = %v, want ErrStartFailed", err)
	}
	if !errors.Is(err, openErr) {
		t.Errorf("err = %v, want it to wrap the open error", err)
	}
	if got := e.State(); got != engine.Stopped() {
		t.Errorf("state = %v, want Stopped", got)
	}
}

func TestStart_ClassifierInitFailure(t *testing.T) {
	t.Parallel()

	initErr := errors.New("model missing")
	capture := &audiomock.Capture{StreamResult: loudStream()}
	e := newEngine(t, capture, &fakePlayer{},
		func() (classifier.Classifier, error) {
			return &classmock.Classifier{InitErr: initErr}, nil
		}, fastConfig())

	err := e.Start(context.Background())
	if !errors.Is(err, engine.ErrStartFailed) || !errors.Is(err, initErr) {
		t.Fatalf("err = %v, want ErrStartFailed wrapping init error", err)
	}
	if capture.OpenCount() != 0 {
		t.Errorf("capture opened %d times, want 0", capture.OpenCount())
	}
	if got := e.State(); got != engine.Stopped() {
		t.Errorf("state = %v, want Stopped", got)
	}
}

func TestRelease(t *testing.T) {
	t.Parallel()

	player := &fakePlayer{}
	e := newEngine(t, &audiomock.Capture{StreamResult: loudStream()}, player,
		classifierFactory(classifier.Result{}, nil, nil), fastConfig())
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := e.Start(context.Background()); !errors.Is(err, engine.ErrReleased) {
		t.Errorf("Start after Release = %v, want ErrReleased", err)
	}
	if err := e.Release(); err != nil {
		t.Errorf("second Release: %v", err)
	}
}

func TestTrigger_RejectsSecondCycle(t *testing.T) {
	t.Parallel()

	player := &fakePlayer{release: make(chan struct{})}
	cfg := fastConfig()
	cfg.MinEnergyForTrigger = 2 // never auto-trigger
	e := newEngine(t, &audiomock.Capture{StreamResult: loudStream()}, player,
		classifierFactory(classifier.Result{}, nil, nil), cfg)

	if err := e.Trigger(); !errors.Is(err, engine.ErrNotRunning) {
		t.Fatalf("Trigger while stopped = %v, want ErrNotRunning", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Trigger(); err != nil {
		t.Fatalf("first Trigger: %v", err)
	}
	waitFor(t, "Playing", func() bool { return e.State() == engine.Playing() })

	if err := e.Trigger(); !errors.Is(err, engine.ErrPlaybackActive) {
		t.Errorf("second Trigger = %v, want ErrPlaybackActive", err)
	}
	if got := player.plays(); got != 1 {
		t.Errorf("PlayLoops calls = %d, want 1", got)
	}

	close(player.release)
	waitFor(t, "Listening", func() bool { return e.State() == engine.Listening() })
}

func TestAutoTrigger_ConfirmsThenPlays(t *testing.T) {
	t.Parallel()

	var calls, created atomic.Int64
	player := &fakePlayer{release: make(chan struct{})}
	cfg := fastConfig()
	cfg.TriggerConfirmFrames = 2
	e := newEngine(t, &audiomock.Capture{StreamResult: loudStream()}, player,
		classifierFactory(cryResult, &calls, &created), cfg)

	states, unsubscribe := e.Subscribe()
	defer unsubscribe()

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var seen []engine.State
	deadline := time.After(3 * time.Second)
	for playing := false; !playing; {
		select {
		case s := <-states:
			seen = append(seen, s)
			playing = s == engine.Playing()
		case <-deadline:
			t.Fatalf("never reached Playing; saw %v", seen)
		}
	}

	foundPending := false
	for _, s := range seen {
		if s == engine.CryingPending(1) {
			foundPending = true
		}
	}
	if !foundPending {
		t.Errorf("states %v lack Crying Detected (1)", seen)
	}

	// No classification while the cycle runs.
	before := calls.Load()
	time.Sleep(5 * period)
	if after := calls.Load(); after != before {
		t.Errorf("classifier called %d times during playback", after-before)
	}

	waitFor(t, "PlayLoops", func() bool { return player.plays() == 1 })
	req := player.firstRequest()
	if req.Loops != cfg.LoopCount || req.Track != cfg.Track || req.TargetVolume != cfg.TargetVolume {
		t.Errorf("request = %+v, want config values", req)
	}

	close(player.release)
	waitFor(t, "Listening", func() bool { return e.State() == engine.Listening() })
	waitFor(t, "classifier recreated", func() bool { return created.Load() == 2 })
}

func TestCooldownAfterCycle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		playErr error
	}{
		{name: "completed cycle"},
		{name: "failed cycle", playErr: playback.ErrTrackNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int64
			var mu sync.Mutex
			var atPlay []int64
			player := &fakePlayer{playErr: tc.playErr}
			player.onPlay = func() {
				mu.Lock()
				atPlay = append(atPlay, calls.Load())
				mu.Unlock()
			}
			cfg := fastConfig()
			cfg.Cooldown = 30 * time.Millisecond // two ticks at 20 ms
			e := newEngine(t, &audiomock.Capture{StreamResult: loudStream()}, player,
				classifierFactory(cryResult, &calls, nil), cfg)

			if err := e.Start(context.Background()); err != nil {
				t.Fatalf("Start: %v", err)
			}
			waitFor(t, "two cycles", func() bool { return player.plays() >= 2 })
			e.Stop()

			mu.Lock()
			defer mu.Unlock()
			// Two cooldown ticks plus the triggering tick.
			if diff := atPlay[1] - atPlay[0]; diff != 3 {
				t.Errorf("classifications between cycles = %d, want 3", diff)
			}
		})
	}
}

func TestPlaybackFailure_ReturnsToListening(t *testing.T) {
	t.Parallel()

	var created atomic.Int64
	player := &fakePlayer{playErr: playback.ErrTrackNotFound}
	cfg := fastConfig()
	cfg.MinEnergyForTrigger = 2 // manual triggers only
	e := newEngine(t, &audiomock.Capture{StreamResult: loudStream()}, player,
		classifierFactory(classifier.Result{}, nil, &created), cfg)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Trigger(); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	waitFor(t, "classifier recreated", func() bool { return created.Load() == 2 })
	waitFor(t, "Listening", func() bool { return e.State() == engine.Listening() })
	if got := player.stopCount(); got < 1 {
		t.Errorf("player stopped %d times, want at least 1", got)
	}
	if id := e.CycleID(); id != "" {
		t.Errorf("CycleID() = %q after the cycle, want empty", id)
	}

	// The failed cycle released the single-flight guard.
	waitFor(t, "second trigger accepted", func() bool { return e.Trigger() == nil })
	waitFor(t, "second cycle", func() bool { return player.plays() == 2 })
	waitFor(t, "Listening again", func() bool { return e.State() == engine.Listening() })
}

func TestFadingOut_TracksRemaining(t *testing.T) {
	t.Parallel()

	player := &fakePlayer{release: make(chan struct{})}
	cfg := fastConfig()
	cfg.MinEnergyForTrigger = 2
	e := newEngine(t, &audiomock.Capture{StreamResult: loudStream()}, player,
		classifierFactory(classifier.Result{}, nil, nil), cfg)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Trigger(); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	waitFor(t, "PlayLoops", func() bool { return player.plays() == 1 })
	onFadeOut := player.firstRequest().OnFadeOut

	for _, remaining := range []time.Duration{3 * time.Second, 2 * time.Second, time.Second} {
		onFadeOut(remaining)
		if got, want := e.State(), engine.FadingOut(remaining); got != want {
			t.Errorf("state = %v, want %v", got, want)
		}
	}

	close(player.release)
	waitFor(t, "Listening", func() bool { return e.State() == engine.Listening() })
	// A late report after the cycle must not resurrect the fade state.
	onFadeOut(500 * time.Millisecond)
	if got := e.State(); got != engine.Listening() {
		t.Errorf("state after late report = %v, want Listening", got)
	}
}

func TestClassifyFailure_SkipsTick(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fail func(c *classmock.Classifier)
	}{
		{name: "error", fail: func(c *classmock.Classifier) { c.ClassifyErr = errors.New("inference failed") }},
		{name: "panic", fail: func(*classmock.Classifier) { panic("inference crashed") }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			const failing = 3
			var calls atomic.Int64
			player := &fakePlayer{release: make(chan struct{})}
			factory := func() (classifier.Classifier, error) {
				c := &classmock.Classifier{Result: cryResult}
				// OnClassify runs under the mock's lock, so it may edit c.
				c.OnClassify = func(features.Matrix) {
					if calls.Add(1) <= failing {
						tc.fail(c)
						return
					}
					c.ClassifyErr = nil
				}
				return c, nil
			}
			e := newEngine(t, &audiomock.Capture{StreamResult: loudStream()}, player, factory, fastConfig())

			states, unsubscribe := e.Subscribe()
			defer unsubscribe()
			if err := e.Start(context.Background()); err != nil {
				t.Fatalf("Start: %v", err)
			}

			deadline := time.After(3 * time.Second)
			for playing := false; !playing; {
				select {
				case s := <-states:
					switch s {
					case engine.Stopped(), engine.Listening():
					case engine.Playing():
						playing = true
					default:
						t.Fatalf("unexpected state %v", s)
					}
				case <-deadline:
					t.Fatal("never reached Playing after the failing ticks")
				}
			}
			if got := calls.Load(); got <= failing {
				t.Errorf("Classify calls = %d, want more than %d", got, failing)
			}
			close(player.release)
			waitFor(t, "Listening", func() bool { return e.State() == engine.Listening() })
		})
	}
}

func TestSilence_NeverTriggers(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	player := &fakePlayer{}
	e := newEngine(t, &audiomock.Capture{StreamResult: loudStream()}, player,
		classifierFactory(classifier.Result{Silence: 0.94, Noise: 0.05, Cry: 0.01}, &calls, nil), fastConfig())

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "several ticks", func() bool { return calls.Load() >= 5 })
	if got := player.plays(); got != 0 {
		t.Errorf("PlayLoops calls = %d, want 0", got)
	}
	if got := e.State(); got != engine.Listening() {
		t.Errorf("state = %v, want Listening", got)
	}
}

func TestBandEnergy_TriggersWithoutClassifier(t *testing.T) {
	t.Parallel()

	player := &fakePlayer{release: make(chan struct{})}
	cfg := fastConfig()
	cfg.BandEnergyTrigger = 0
	e := newEngine(t, &audiomock.Capture{StreamResult: loudStream()}, player,
		classifierFactory(classifier.Result{Silence: 0.94, Noise: 0.05, Cry: 0.01}, nil, nil), cfg)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "Playing", func() bool { return e.State() == engine.Playing() })
	close(player.release)
}

func TestEnergyFloor_BlocksTrigger(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	player := &fakePlayer{}
	cfg := fastConfig()
	cfg.MinEnergyForTrigger = 1.5
	e := newEngine(t, &audiomock.Capture{StreamResult: loudStream()}, player,
		classifierFactory(cryResult, &calls, nil), cfg)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "several ticks", func() bool { return calls.Load() >= 5 })
	if got := player.plays(); got != 0 {
		t.Errorf("PlayLoops calls = %d, want 0", got)
	}
}

func TestUpdateConfig_VolumeDuringPlayback(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "shh.opus"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	sink := &audiomock.Sink{ReadyDuration: 10 * time.Second, AutoEnd: 10 * time.Second}
	player := playback.New(sink, playback.WithAssetDir(dir))

	cfg := fastConfig()
	cfg.MinEnergyForTrigger = 2
	cfg.Track = "asset:///shh.opus"
	cfg.TargetVolume = 0.7
	e := newEngine(t, &audiomock.Capture{StreamResult: loudStream()}, player,
		classifierFactory(classifier.Result{}, nil, nil), cfg)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Trigger(); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	waitFor(t, "target volume", func() bool { return sink.LastVolume() == 0.7 })

	cfg.TargetVolume = 0.3
	e.UpdateConfig(cfg)

	if got := sink.LastVolume(); got != 0.3 {
		t.Errorf("sink volume = %v, want 0.3", got)
	}
	if got := len(sink.Loads()); got != 1 {
		t.Errorf("track loaded %d times, want 1", got)
	}
	if !e.State().Active() {
		t.Errorf("state = %v, want an active playback state", e.State())
	}
	if got := e.Config().TargetVolume; got != 0.3 {
		t.Errorf("Config().TargetVolume = %v, want 0.3", got)
	}
}

func TestCaptureFailure_StopsAndReports(t *testing.T) {
	t.Parallel()

	stream := audiomock.NewStream(0)
	stream.ReadErr = io.ErrUnexpectedEOF
	e := newEngine(t, &audiomock.Capture{StreamResult: stream}, &fakePlayer{},
		classifierFactory(classifier.Result{}, nil, nil), fastConfig())

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case err := <-e.Failures():
		if !errors.Is(err, engine.ErrCaptureFailed) || !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("failure = %v, want ErrCaptureFailed wrapping the read error", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no failure reported")
	}
	waitFor(t, "Stopped", func() bool { return e.State() == engine.Stopped() })
}

func TestStop_DuringPlaybackCancelsCycle(t *testing.T) {
	t.Parallel()

	player := &fakePlayer{release: make(chan struct{})}
	cfg := fastConfig()
	cfg.MinEnergyForTrigger = 2
	e := newEngine(t, &audiomock.Capture{StreamResult: loudStream()}, player,
		classifierFactory(classifier.Result{}, nil, nil), cfg)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Trigger(); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	waitFor(t, "Playing", func() bool { return e.State() == engine.Playing() })

	e.Stop()
	if got := e.State(); got != engine.Stopped() {
		t.Errorf("state = %v, want Stopped", got)
	}

	// The engine can run again after a stop mid-cycle.
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := e.Trigger(); err != nil {
		t.Errorf("Trigger after restart: %v", err)
	}
}

func TestSubscribe(t *testing.T) {
	t.Parallel()

	e := newEngine(t, &audiomock.Capture{StreamResult: loudStream()}, &fakePlayer{},
		classifierFactory(classifier.Result{}, nil, nil), fastConfig())

	ch, cancel := e.Subscribe()
	if s := <-ch; s != engine.Stopped() {
		t.Fatalf("first state = %v, want Stopped", s)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case s := <-ch:
		if s != engine.Listening() {
			t.Errorf("state = %v, want Listening", s)
		}
	case <-time.After(time.Second):
		t.Fatal("no state pushed after Start")
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel still open after unsubscribe")
	}
}
