// Command hushling listens for a crying baby and answers with a shush.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/hushling/internal/app"
	"github.com/MrWong99/hushling/internal/config"
	"github.com/MrWong99/hushling/internal/observe"
	"github.com/MrWong99/hushling/internal/playback"
	"github.com/MrWong99/hushling/internal/recorder"
	"github.com/MrWong99/hushling/pkg/classifier"
)

var version = "0.1.0-dev"

// Globals are the flags shared by every command.
type Globals struct {
	Config string `short:"c" type:"path" default:"hushling.yaml" help:"Path to the YAML config file."`
}

// CLI defines the command-line interface.
type CLI struct {
	Globals

	Run      RunCmd      `cmd:"" default:"withargs" help:"Listen for crying and play the shush track (default)."`
	Record   RecordCmd   `cmd:"" help:"Record a shush sample into the data directory."`
	Preview  PreviewCmd  `cmd:"" help:"Play the recorded shush sample once."`
	Status   StatusCmd   `cmd:"" help:"Show the state of a running instance."`
	Trigger  TriggerCmd  `cmd:"" help:"Start a playback cycle on a running instance."`
	Defaults DefaultsCmd `cmd:"" help:"Print the default config as YAML."`
	Version  VersionCmd  `cmd:"" help:"Show version and classifier backend information."`
}

func main() {
	os.Exit(run())
}

func run() int {
	cli := &CLI{}
	kctx := kong.Parse(cli,
		kong.Name("hushling"),
		kong.Description("Cry detection and shush playback for the nursery"),
		kong.UsageOnError(),
		kong.Help(styledHelpPrinter),
	)
	if err := kctx.Run(&cli.Globals); err != nil {
		printError(err)
		return 1
	}
	return 0
}

// ── run ───────────────────────────────────────────────────────────────────────

// RunCmd runs the automation daemon with its status server.
type RunCmd struct {
	Paused        bool          `help:"Keep automation stopped until started over HTTP."`
	NoWatch       bool          `help:"Do not reload the config file when it changes."`
	WatchInterval time.Duration `default:"5s" help:"Config file polling interval."`
}

func (c *RunCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g.Config)
	if err != nil {
		return err
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(newLogger(level))

	slog.Info("hushling starting",
		"config", g.Config,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	provider, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		SetGlobal:      true,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	metrics, err := observe.NewMetrics(provider.MeterProvider)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	// ── Backends ──────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)
	backends, err := buildBackends(cfg, reg, metrics)
	if err != nil {
		return err
	}

	printStartupSummary(os.Stdout, cfg, g.Config)

	opts := []app.Option{
		app.WithMetrics(metrics),
		app.WithMetricsHandler(provider.MetricsHandler),
		app.WithLevelVar(level),
	}
	if !c.NoWatch {
		opts = append(opts, app.WithConfigWatch(g.Config, c.WatchInterval))
	}
	if c.Paused {
		opts = append(opts, app.WithPaused())
	}
	application, err := app.New(ctx, cfg, backends, opts...)
	if err != nil {
		return err
	}

	slog.Info("hushling ready, press Ctrl+C to shut down")
	runErr := application.Run(ctx)
	if runErr != nil {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")
	return errors.Join(
		runErr,
		application.Shutdown(shutdownCtx),
		provider.Shutdown(shutdownCtx),
	)
}

// ── record / preview ──────────────────────────────────────────────────────────

// RecordCmd records a shush sample. Ctrl+C ends the recording early and
// keeps what was captured.
type RecordCmd struct {
	Duration time.Duration `short:"d" default:"10s" help:"Length of the recording."`
}

func (c *RecordCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g.Config)
	if err != nil {
		return err
	}
	slog.SetDefault(newLogger(levelVar(config.LogWarn)))

	reg := config.NewRegistry()
	registerBuiltinBackends(reg)
	capture, err := reg.CreateCapture(cfg.Audio)
	if err != nil {
		return fmt.Errorf("create capture %q: %w", cfg.Audio.Capture.Name, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("%s %s\n", titleStyle.Render("Recording"), descStyle.Render(c.Duration.String()+", Ctrl+C to stop early"))
	uri, err := recorder.New(capture, cfg.Audio.DataDir).Record(ctx, c.Duration)
	if err != nil {
		return err
	}
	fmt.Println(row("Saved", uri))
	return nil
}

// PreviewCmd plays the recorded sample once.
type PreviewCmd struct {
	Volume float64 `default:"-1" help:"Playback volume in [0, 1]. Defaults to automation.target_volume."`
}

func (c *PreviewCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g.Config)
	if err != nil {
		return err
	}
	slog.SetDefault(newLogger(levelVar(config.LogWarn)))

	volume := cfg.Automation.TargetVolume
	if c.Volume >= 0 {
		volume = min(c.Volume, 1)
	}

	reg := config.NewRegistry()
	registerBuiltinBackends(reg)
	sink, err := reg.CreateOutput(cfg.Audio)
	if err != nil {
		return fmt.Errorf("create output %q: %w", cfg.Audio.Output.Name, err)
	}
	player := playback.New(sink, playback.WithAssetDir(cfg.Audio.AssetDir))
	defer player.Release()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Preview only reads the recording, no capture is needed.
	rec := recorder.New(nil, cfg.Audio.DataDir)
	fmt.Printf("%s %s\n", titleStyle.Render("Preview"), descStyle.Render(rec.Path()))
	played, err := recorder.NewPreviewer(rec, player, volume).Play(ctx)
	if err != nil {
		return err
	}
	if !played {
		return errors.New("no recording yet, run `hushling record` first")
	}
	return nil
}

// ── status / trigger ──────────────────────────────────────────────────────────

// StatusCmd prints the state of a running instance.
type StatusCmd struct {
	Addr string `help:"Status server address. Defaults to server.listen_addr."`
}

func (c *StatusCmd) Run(g *Globals) error {
	base := statusURL(g, c.Addr)
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(base + "/state")
	if err != nil {
		return fmt.Errorf("query %s: %w", base, err)
	}
	defer resp.Body.Close()

	var st app.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}
	printStatus(os.Stdout, st)
	return nil
}

// TriggerCmd starts a playback cycle on a running instance.
type TriggerCmd struct {
	Addr string `help:"Status server address. Defaults to server.listen_addr."`
}

func (c *TriggerCmd) Run(g *Globals) error {
	base := statusURL(g, c.Addr)
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Post(base+"/trigger", "application/json", nil)
	if err != nil {
		return fmt.Errorf("trigger %s: %w", base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return fmt.Errorf("trigger refused (%s): %s", resp.Status, body.Error)
	}
	var st app.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}
	printStatus(os.Stdout, st)
	return nil
}

// statusURL picks the status server address: the flag, the config, or the
// default listen address when no config file exists.
func statusURL(g *Globals, addr string) string {
	if addr == "" {
		cfg, err := config.Load(g.Config)
		if err != nil {
			cfg = config.Default()
		}
		addr = cfg.Server.ListenAddr
	}
	return "http://" + addr
}

// ── defaults / version ────────────────────────────────────────────────────────

// DefaultsCmd prints the default config.
type DefaultsCmd struct{}

func (DefaultsCmd) Run() error {
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(config.Default()); err != nil {
		return err
	}
	return enc.Close()
}

// VersionCmd prints build information.
type VersionCmd struct{}

func (VersionCmd) Run(g *Globals) error {
	fmt.Println(titleStyle.Render("hushling"))
	fmt.Println(row("Version", version))
	fmt.Println(row("Go", runtime.Version()))

	onnx := "not built (rebuild with -tags onnx)"
	if classifier.ONNXAvailable() {
		explicit := ""
		if cfg, err := config.Load(g.Config); err == nil {
			explicit = cfg.Classifier.ONNX.LibraryPath
		}
		if lib, err := classifier.ResolveRuntimeLibrary(explicit); err != nil {
			onnx = "built, runtime missing: " + err.Error()
		} else {
			onnx = "built, runtime " + lib
		}
	}
	fmt.Println(row("ONNX", onnx))
	return nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// loadConfig loads the config file with a hint when it is missing.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file %q not found, create one with `hushling defaults > %s`", path, path)
	}
	return cfg, err
}

func levelVar(l config.LogLevel) *slog.LevelVar {
	v := new(slog.LevelVar)
	v.Set(l.Level())
	return v
}

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
