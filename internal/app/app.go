// Package app wires the hushling subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the engine, recorder,
// supervisor and status server from the config and the capture, output and
// classifier backends chosen in main.go; Run starts automation and serves
// until the context ends; Shutdown tears everything down in order.
//
// For testing, pass mock backends and inject metrics via functional options.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/hushling/internal/config"
	"github.com/MrWong99/hushling/internal/engine"
	"github.com/MrWong99/hushling/internal/health"
	"github.com/MrWong99/hushling/internal/observe"
	"github.com/MrWong99/hushling/internal/playback"
	"github.com/MrWong99/hushling/internal/recorder"
	"github.com/MrWong99/hushling/internal/supervisor"
	"github.com/MrWong99/hushling/pkg/audio"
)

// OutputFactory opens a playback sink. The engine and previews each open
// their own sink and close it when done.
type OutputFactory func() (audio.Sink, error)

// Backends holds the device and classifier backends. Populated by main.go
// via the config registry.
type Backends struct {
	Capture       audio.Capture
	NewOutput     OutputFactory
	NewClassifier engine.ClassifierFactory
}

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	backends *Backends

	metrics        *observe.Metrics
	metricsHandler http.Handler
	levelVar       *slog.LevelVar
	configPath     string
	watchInterval  time.Duration
	paused         bool

	engine     *engine.Engine
	supervisor *supervisor.Supervisor
	recorder   *recorder.Recorder
	previewer  *recorder.Previewer
	controller *Controller
	health     *health.Handler
	server     *http.Server

	addrMu   sync.Mutex
	addr     net.Addr
	addrDone chan struct{}

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLevelVar lets config reloads change the log level.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = v }
}

// WithConfigWatch enables hot reload of the config file at path. A
// non-positive interval uses the watcher default.
func WithConfigWatch(path string, interval time.Duration) Option {
	return func(a *App) {
		a.configPath = path
		a.watchInterval = interval
	}
}

// WithPaused keeps automation stopped until started over HTTP.
func WithPaused() Option {
	return func(a *App) { a.paused = true }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Nothing touches the
// audio devices until Run.
func New(ctx context.Context, cfg *config.Config, backends *Backends, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if backends == nil || backends.Capture == nil || backends.NewOutput == nil || backends.NewClassifier == nil {
		return nil, errors.New("app: capture, output and classifier backends are required")
	}
	a := &App{
		cfg:      cfg,
		backends: backends,
		addrDone: make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Automation engine ─────────────────────────────────────────────
	if err := a.initEngine(); err != nil {
		return nil, fmt.Errorf("app: init engine: %w", err)
	}

	// ── 2. Recorder and preview ──────────────────────────────────────────
	a.initRecorder()

	// ── 3. Supervisor ────────────────────────────────────────────────────
	if cfg.Supervisor.Enabled {
		a.supervisor = supervisor.New(a.engine, supervisor.Config{
			InitialBackoff: cfg.Supervisor.InitialBackoff,
			MaxBackoff:     cfg.Supervisor.MaxBackoff,
			MaxRetries:     cfg.Supervisor.MaxRetries,
			Metrics:        a.metrics,
		})
	}
	a.controller = NewController(a.engine, a.supervisor, a.recorder, a.previewer)

	// ── 4. Health checks ─────────────────────────────────────────────────
	a.initHealth()

	// ── 5. Status server ─────────────────────────────────────────────────
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           NewHandler(context.WithoutCancel(ctx), a.controller, a.health, a.metricsHandler, a.metrics),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("app initialised",
		"capture", cfg.Audio.Capture.Name,
		"output", cfg.Audio.Output.Name,
		"classifier", cfg.Classifier.Backend,
		"supervisor", cfg.Supervisor.Enabled,
	)
	return a, nil
}

// initEngine builds the engine. Its release runs first on shutdown.
func (a *App) initEngine() error {
	cfg := a.cfg
	newPlayer := func() (engine.Player, error) {
		sink, err := a.backends.NewOutput()
		if err != nil {
			return nil, err
		}
		return playback.New(sink, playback.WithAssetDir(cfg.Audio.AssetDir)), nil
	}
	eng, err := engine.New(a.backends.Capture, newPlayer, a.backends.NewClassifier,
		engine.WithConfig(cfg.Automation.Engine()),
		engine.WithFeatures(cfg.Features.Extractor(cfg.Audio.SampleRate)),
		engine.WithEnergyConfig(cfg.Classifier.Energy),
		engine.WithBackendName(cfg.Classifier.Backend),
		engine.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	a.engine = eng
	a.closers = append(a.closers, eng.Release)
	return nil
}

func (a *App) initRecorder() {
	a.recorder = recorder.New(a.backends.Capture, a.cfg.Audio.DataDir, recorder.WithMetrics(a.metrics))
	pp := &previewPlayer{newOutput: a.backends.NewOutput, assetDir: a.cfg.Audio.AssetDir}
	a.previewer = recorder.NewPreviewer(a.recorder, pp, a.cfg.Automation.TargetVolume)
	a.closers = append(a.closers, func() error {
		a.previewer.Stop()
		a.recorder.Stop()
		return nil
	})
}

func (a *App) initHealth() {
	assetDir := a.cfg.Audio.AssetDir
	a.health = health.New(
		health.Checker{Name: "engine", Check: func(context.Context) error {
			if st := a.engine.State(); st.Kind == engine.KindStopped {
				return errors.New("engine is stopped")
			}
			return nil
		}},
		health.FileCheck("track", func() (string, error) {
			return playback.ResolveTrack(a.engine.Config().Track, assetDir)
		}),
		health.DirCheck("data_dir", a.cfg.Audio.DataDir),
	)
}

// Controller returns the controller driving this app.
func (a *App) Controller() *Controller { return a.controller }

// Addr blocks until the status server listens and returns its address, or
// returns nil once ctx is done.
func (a *App) Addr(ctx context.Context) net.Addr {
	select {
	case <-a.addrDone:
	case <-ctx.Done():
		return nil
	}
	a.addrMu.Lock()
	defer a.addrMu.Unlock()
	return a.addr
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts automation, the status server, the supervisor and the config
// watcher, and blocks until ctx is cancelled or one of them fails. It
// returns nil after a clean cancellation.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
	}
	a.addrMu.Lock()
	a.addr = ln.Addr()
	a.addrMu.Unlock()
	close(a.addrDone)

	if !a.paused {
		if err := a.controller.Start(ctx); err != nil {
			_ = ln.Close()
			return fmt.Errorf("app: start automation: %w", err)
		}
	} else if a.supervisor != nil {
		a.supervisor.Disarm()
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: status server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return a.server.Shutdown(sctx)
	})

	if a.supervisor != nil {
		g.Go(func() error {
			return a.supervisor.Run(ctx)
		})
	}

	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.applyConfig,
			config.WithInterval(a.watchInterval),
			config.WithReloadError(func(error) {
				a.metrics.RecordConfigReload(context.Background(), "failed")
			}),
		)
		if err != nil {
			slog.Warn("config watcher disabled", "path", a.configPath, "err", err)
		} else {
			g.Go(func() error {
				<-ctx.Done()
				w.Stop()
				return nil
			})
		}
	}

	slog.Info("app running", "addr", ln.Addr().String(), "paused", a.paused)
	return g.Wait()
}

// applyConfig applies the hot-reloadable parts of a changed config.
func (a *App) applyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.AutomationChanged {
		a.controller.UpdateConfig(d.Automation)
		slog.Info("automation config reloaded", "volume_only", d.VolumeChanged)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes take effect after restart", "sections", d.RestartRequired)
	}
	a.metrics.RecordConfigReload(context.Background(), "applied")
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.supervisor != nil {
			a.supervisor.Disarm()
		}
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("status server shutdown error", "err", err)
		}

		var errs []error
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
				errs = append(errs, err)
			}
		}
		shutdownErr = errors.Join(errs...)
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── preview player ──────────────────────────────────────────────────────────

// previewPlayer opens an output for each preview and closes it on Stop, so
// the device is only held while a preview plays.
type previewPlayer struct {
	newOutput OutputFactory
	assetDir  string

	mu sync.Mutex
	p  *playback.Player
}

func (pp *previewPlayer) PlayLoops(ctx context.Context, req playback.Request) error {
	pp.mu.Lock()
	if pp.p == nil {
		sink, err := pp.newOutput()
		if err != nil {
			pp.mu.Unlock()
			return fmt.Errorf("app: open preview output: %w", err)
		}
		pp.p = playback.New(sink, playback.WithAssetDir(pp.assetDir))
	}
	p := pp.p
	pp.mu.Unlock()
	return p.PlayLoops(ctx, req)
}

func (pp *previewPlayer) Stop() {
	pp.mu.Lock()
	p := pp.p
	pp.p = nil
	pp.mu.Unlock()
	if p != nil {
		p.Stop()
		p.Release()
	}
}
