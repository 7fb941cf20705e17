package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidBackendNames lists the built-in backend names per kind. [Validate]
// warns about names outside this list; they may still be registered by a
// custom [Registry].
var ValidBackendNames = map[string][]string{
	"classifier": {BackendEnergy, BackendONNX},
	"capture":    {CaptureArecord, CaptureReader},
	"output":     {OutputAplay, OutputDiscard},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills fields that were explicitly emptied and have no
// meaningful zero value.
func ApplyDefaults(cfg *Config) {
	def := Default()
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = def.Server.LogLevel
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = def.Audio.SampleRate
	}
	if cfg.Audio.Capture.Name == "" {
		cfg.Audio.Capture.Name = def.Audio.Capture.Name
	}
	if cfg.Audio.Output.Name == "" {
		cfg.Audio.Output.Name = def.Audio.Output.Name
	}
	if cfg.Audio.DataDir == "" {
		cfg.Audio.DataDir = def.Audio.DataDir
	}
	if cfg.Automation.Track == "" {
		cfg.Automation.Track = def.Automation.Track
	}
	if cfg.Classifier.Backend == "" {
		cfg.Classifier.Backend = def.Classifier.Backend
	}
	if cfg.Classifier.ONNX.CryThreshold == 0 {
		cfg.Classifier.ONNX.CryThreshold = def.Classifier.ONNX.CryThreshold
	}
	if cfg.Features.MelBins == 0 {
		cfg.Features.MelBins = def.Features.MelBins
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every failure found and logs warnings for values that
// are legal but probably unintended.
func Validate(cfg *Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		add("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel)
	}
	if addr := cfg.Server.ListenAddr; addr != "" {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			add("server.listen_addr %q: %w", addr, err)
		} else if host == "" || host == "0.0.0.0" || host == "::" {
			slog.Warn("server.listen_addr exposes the status endpoint beyond loopback", "listen_addr", addr)
		}
	}

	// Audio
	a := cfg.Audio
	if a.SampleRate <= 0 {
		add("audio.sample_rate must be positive, got %d", a.SampleRate)
	}
	validateBackendName("capture", a.Capture.Name)
	validateBackendName("output", a.Output.Name)
	if a.Capture.Name == CaptureReader && a.Capture.Path == "" {
		add("audio.capture.path is required when capture is %q", CaptureReader)
	}

	// Automation
	au := cfg.Automation
	if au.FadeIn < 0 {
		add("automation.fade_in must not be negative, got %s", au.FadeIn)
	}
	if au.FadeOut < 0 {
		add("automation.fade_out must not be negative, got %s", au.FadeOut)
	}
	if au.TargetVolume < 0 || au.TargetVolume > 1 {
		add("automation.target_volume %.2f is out of range [0, 1]", au.TargetVolume)
	}
	if au.SamplePeriod <= 0 {
		add("automation.sample_period must be positive, got %s", au.SamplePeriod)
	}
	if au.LoopCount < 1 {
		add("automation.loop_count must be at least 1, got %d", au.LoopCount)
	}
	if au.Cooldown < 0 {
		add("automation.cooldown must not be negative, got %s", au.Cooldown)
	}
	if au.MinEnergyForTrigger < 0 || au.MinEnergyForTrigger > 1 {
		add("automation.min_energy_for_trigger %.2f is out of range [0, 1]", au.MinEnergyForTrigger)
	}
	if au.BandEnergyTrigger <= 0 {
		add("automation.band_energy_trigger must be positive, got %.2f", au.BandEnergyTrigger)
	} else if au.BandEnergyTrigger > 1 {
		slog.Warn("automation.band_energy_trigger above 1 disables the band-energy fallback",
			"band_energy_trigger", au.BandEnergyTrigger)
	}
	if au.TriggerConfirmFrames < 0 {
		add("automation.trigger_confirm_frames must not be negative, got %d", au.TriggerConfirmFrames)
	}

	// Classifier
	c := cfg.Classifier
	validateBackendName("classifier", c.Backend)
	if c.Fallback != "" {
		validateBackendName("classifier", c.Fallback)
		if c.Fallback == c.Backend {
			add("classifier.fallback %q must differ from classifier.backend", c.Fallback)
		}
	}
	if (c.Backend == BackendONNX || c.Fallback == BackendONNX) && c.ONNX.ModelPath == "" {
		add("classifier.onnx.model_path is required when the onnx backend is used")
	}
	if c.ONNX.CryThreshold <= 0 || c.ONNX.CryThreshold >= 1 {
		add("classifier.onnx.cry_threshold %.2f is out of range (0, 1)", c.ONNX.CryThreshold)
	}
	e := c.Energy
	if e.DBCeil <= e.DBFloor {
		add("classifier.energy.db_ceil %.2f must exceed db_floor %.2f", e.DBCeil, e.DBFloor)
	}
	if e.BandLowHz >= e.BandHighHz {
		add("classifier.energy.band_low_hz %.0f must be below band_high_hz %.0f", e.BandLowHz, e.BandHighHz)
	}
	if e.MinThreshold > e.MaxThreshold {
		add("classifier.energy.min_threshold %.2f exceeds max_threshold %.2f", e.MinThreshold, e.MaxThreshold)
	}
	if e.EMAAlpha <= 0 || e.EMAAlpha >= 1 {
		add("classifier.energy.ema_alpha %.3f is out of range (0, 1)", e.EMAAlpha)
	}
	if e.EnergyFactor <= 0 {
		add("classifier.energy.energy_factor must be positive, got %.2f", e.EnergyFactor)
	}
	if e.MinConsecutiveWindows < 1 {
		add("classifier.energy.min_consecutive_windows must be at least 1, got %d", e.MinConsecutiveWindows)
	}
	if e.WarmupWindows < 0 {
		add("classifier.energy.warmup_windows must not be negative, got %d", e.WarmupWindows)
	}
	if e.MelMinHz != cfg.Features.MinFreq || e.MelMaxHz != cfg.Features.MaxFreq {
		slog.Warn("classifier.energy mel range differs from the features filterbank",
			"energy", fmt.Sprintf("%.0f-%.0f", e.MelMinHz, e.MelMaxHz),
			"features", fmt.Sprintf("%.0f-%.0f", cfg.Features.MinFreq, cfg.Features.MaxFreq),
		)
	}

	// Features
	f := cfg.Features
	if f.Window <= 0 {
		add("features.window must be positive, got %s", f.Window)
	}
	if f.Hop <= 0 {
		add("features.hop must be positive, got %s", f.Hop)
	}
	if f.MelBins <= 0 {
		add("features.mel_bins must be positive, got %d", f.MelBins)
	}
	if f.MinFreq < 0 || f.MinFreq >= f.MaxFreq {
		add("features.min_freq %.0f must be in [0, max_freq %.0f)", f.MinFreq, f.MaxFreq)
	}
	if a.SampleRate > 0 && f.MaxFreq > float64(a.SampleRate)/2 {
		slog.Warn("features.max_freq is above the Nyquist frequency",
			"max_freq", f.MaxFreq, "nyquist", a.SampleRate/2)
	}
	if f.Normalize && c.Backend == BackendEnergy {
		slog.Warn("features.normalize removes the level information the energy classifier relies on")
	}

	// Supervisor
	s := cfg.Supervisor
	if s.InitialBackoff < 0 || s.MaxBackoff < 0 {
		add("supervisor backoffs must not be negative")
	}
	if s.MaxRetries < 0 {
		add("supervisor.max_retries must not be negative, got %d", s.MaxRetries)
	}

	return errors.Join(errs...)
}

// validateBackendName logs a warning if name is non-empty and not one of the
// built-in names for kind.
func validateBackendName(kind, name string) {
	if name == "" {
		return
	}
	known := ValidBackendNames[kind]
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown backend name; it must be registered by a custom registry",
		"kind", kind,
		"name", name,
		"known", strings.Join(known, ", "),
	)
}
