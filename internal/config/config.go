// Package config provides the configuration schema, loader, hot-reload
// watcher and backend registry for the hushling daemon.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/hushling/internal/engine"
	"github.com/MrWong99/hushling/pkg/audio"
	"github.com/MrWong99/hushling/pkg/classifier"
	"github.com/MrWong99/hushling/pkg/features"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to its slog level. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Built-in backend names.
const (
	BackendEnergy = "energy"
	BackendONNX   = "onnx"

	CaptureArecord = "arecord"
	CaptureReader  = "reader"

	OutputAplay   = "aplay"
	OutputDiscard = "discard"
)

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader], which start from [Default] so
// that omitted keys keep their default values.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Audio      AudioConfig      `yaml:"audio"`
	Automation AutomationConfig `yaml:"automation"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Features   FeaturesConfig   `yaml:"features"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
}

// ServerConfig holds the status endpoint and logging settings.
type ServerConfig struct {
	// ListenAddr is the status HTTP address. Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig selects the capture source and playback output.
type AudioConfig struct {
	// SampleRate is the working sample rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	Capture CaptureEntry `yaml:"capture"`
	Output  OutputEntry  `yaml:"output"`

	// AssetDir is where asset:/// track references resolve.
	AssetDir string `yaml:"asset_dir"`

	// DataDir holds the user's shush recording.
	DataDir string `yaml:"data_dir"`
}

// CaptureEntry selects a registered capture backend.
type CaptureEntry struct {
	// Name selects the backend ("arecord" or "reader").
	Name string `yaml:"name"`

	// Device is the ALSA device for arecord.
	Device string `yaml:"device"`

	// Path is the raw s16le file read by the reader backend. "-" is stdin.
	Path string `yaml:"path"`

	// Realtime paces the reader backend at the sample rate.
	Realtime bool `yaml:"realtime"`

	// Options holds backend-specific values.
	Options map[string]any `yaml:"options"`
}

// OutputEntry selects a registered playback output.
type OutputEntry struct {
	// Name selects the backend ("aplay" or "discard").
	Name string `yaml:"name"`

	// Device is the ALSA device for aplay.
	Device string `yaml:"device"`

	Options map[string]any `yaml:"options"`
}

// AutomationConfig mirrors [engine.Config]. Every field is hot-reloadable.
type AutomationConfig struct {
	FadeIn               time.Duration `yaml:"fade_in"`
	FadeOut              time.Duration `yaml:"fade_out"`
	TargetVolume         float64       `yaml:"target_volume"`
	Track                string        `yaml:"track"`
	SamplePeriod         time.Duration `yaml:"sample_period"`
	LoopCount            int           `yaml:"loop_count"`
	Cooldown             time.Duration `yaml:"cooldown"`
	MinEnergyForTrigger  float64       `yaml:"min_energy_for_trigger"`
	BandEnergyTrigger    float64       `yaml:"band_energy_trigger"`
	TriggerConfirmFrames int           `yaml:"trigger_confirm_frames"`
}

// Engine returns the engine configuration a.
func (a AutomationConfig) Engine() engine.Config {
	return engine.Config(a)
}

// ClassifierConfig selects the classification backend.
type ClassifierConfig struct {
	// Backend is the primary classifier ("energy" or "onnx").
	Backend string `yaml:"backend"`

	// Fallback serves windows the primary fails on. Empty disables it.
	Fallback string `yaml:"fallback"`

	// Energy calibrates the adaptive energy classifier.
	Energy classifier.EnergyConfig `yaml:"energy"`

	ONNX ONNXEntry `yaml:"onnx"`
}

// ONNXEntry configures the ONNX backend.
type ONNXEntry struct {
	ModelPath    string  `yaml:"model_path"`
	LibraryPath  string  `yaml:"library_path"`
	CryThreshold float64 `yaml:"cry_threshold"`
}

// FeaturesConfig is the mel analysis geometry.
type FeaturesConfig struct {
	Window    time.Duration `yaml:"window"`
	Hop       time.Duration `yaml:"hop"`
	MelBins   int           `yaml:"mel_bins"`
	MinFreq   float64       `yaml:"min_freq"`
	MaxFreq   float64       `yaml:"max_freq"`
	Normalize bool          `yaml:"normalize"`
}

// Extractor returns the extractor configuration for sampleRate.
func (f FeaturesConfig) Extractor(sampleRate int) features.Config {
	return features.Config{
		SampleRate:        sampleRate,
		WindowSize:        f.Window,
		HopSize:           f.Hop,
		MelBins:           f.MelBins,
		MinFreq:           f.MinFreq,
		MaxFreq:           f.MaxFreq,
		NormalizePerFrame: f.Normalize,
	}
}

// SupervisorConfig controls engine restarts after capture failures.
type SupervisorConfig struct {
	Enabled        bool          `yaml:"enabled"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`

	// MaxRetries is the consecutive failed restarts before giving up. Zero
	// retries forever.
	MaxRetries int `yaml:"max_retries"`
}

// Default returns the stock configuration.
func Default() *Config {
	feat := features.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			ListenAddr: "127.0.0.1:8089",
			LogLevel:   LogInfo,
		},
		Audio: AudioConfig{
			SampleRate: audio.DefaultSampleRate,
			Capture:    CaptureEntry{Name: CaptureArecord, Device: "default"},
			Output:     OutputEntry{Name: OutputAplay, Device: "default"},
			AssetDir:   "./assets",
			DataDir:    "./data",
		},
		Automation: AutomationConfig(engine.DefaultConfig()),
		Classifier: ClassifierConfig{
			Backend: BackendEnergy,
			Energy:  classifier.DefaultEnergyConfig(),
			ONNX:    ONNXEntry{CryThreshold: 0.5},
		},
		Features: FeaturesConfig{
			Window:    feat.WindowSize,
			Hop:       feat.HopSize,
			MelBins:   feat.MelBins,
			MinFreq:   feat.MinFreq,
			MaxFreq:   feat.MaxFreq,
			Normalize: feat.NormalizePerFrame,
		},
		Supervisor: SupervisorConfig{
			Enabled:        true,
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
		},
	}
}
