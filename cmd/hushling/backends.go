package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/MrWong99/hushling/internal/app"
	"github.com/MrWong99/hushling/internal/config"
	"github.com/MrWong99/hushling/internal/observe"
	"github.com/MrWong99/hushling/internal/resilience"
	"github.com/MrWong99/hushling/pkg/audio"
	"github.com/MrWong99/hushling/pkg/audio/pipe"
	"github.com/MrWong99/hushling/pkg/classifier"
)

// registerBuiltinBackends registers every classifier, capture and output
// implementation that ships with hushling.
func registerBuiltinBackends(reg *config.Registry) {
	// ── Classifiers ──────────────────────────────────────────────────────────

	reg.RegisterClassifier(config.BackendEnergy, func(cfg *config.Config) (classifier.Classifier, error) {
		return classifier.NewEnergy(cfg.Classifier.Energy), nil
	})

	reg.RegisterClassifier(config.BackendONNX, func(cfg *config.Config) (classifier.Classifier, error) {
		return classifier.NewONNX(classifier.ONNXConfig{
			ModelPath:    cfg.Classifier.ONNX.ModelPath,
			LibraryPath:  cfg.Classifier.ONNX.LibraryPath,
			CryThreshold: cfg.Classifier.ONNX.CryThreshold,
			Bins:         cfg.Features.MelBins,
		})
	})

	// ── Capture ──────────────────────────────────────────────────────────────

	reg.RegisterCapture(config.CaptureArecord, func(a config.AudioConfig) (audio.Capture, error) {
		return pipe.NewCommandCapture(a.Capture.Device, a.SampleRate, slog.Default()), nil
	})

	reg.RegisterCapture(config.CaptureReader, func(a config.AudioConfig) (audio.Capture, error) {
		if a.Capture.Path == "" {
			return nil, errors.New("reader capture requires audio.capture.path")
		}
		var opts []pipe.CaptureOption
		if a.Capture.Realtime {
			opts = append(opts, pipe.WithRealtime())
		}
		return pipe.NewFileCapture(a.Capture.Path, a.SampleRate, opts...), nil
	})

	// ── Output ───────────────────────────────────────────────────────────────

	reg.RegisterOutput(config.OutputAplay, func(a config.AudioConfig) (audio.Sink, error) {
		opts, err := sinkOptions(a)
		if err != nil {
			return nil, err
		}
		return pipe.StartCommandSink(a.Output.Device, slog.Default(), opts...)
	})

	reg.RegisterOutput(config.OutputDiscard, func(a config.AudioConfig) (audio.Sink, error) {
		opts, err := sinkOptions(a)
		if err != nil {
			return nil, err
		}
		return pipe.NewSink(io.Discard, opts...), nil
	})
}

// sinkOptions translates the output section. The optional "chunk" option
// sets the paced write size, e.g. "40ms".
func sinkOptions(a config.AudioConfig) ([]pipe.SinkOption, error) {
	opts := []pipe.SinkOption{pipe.WithSinkRate(a.SampleRate)}
	if s := optString(a.Output.Options, "chunk"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("audio.output.options.chunk: %w", err)
		}
		opts = append(opts, pipe.WithChunk(d))
	}
	return opts, nil
}

// buildBackends instantiates the backends named in cfg using the registry.
// The output and the classifier are built on demand: the engine opens one
// output per playback device and a fresh classifier after every cycle.
func buildBackends(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*app.Backends, error) {
	capture, err := reg.CreateCapture(cfg.Audio)
	if err != nil {
		return nil, fmt.Errorf("create capture %q: %w", cfg.Audio.Capture.Name, err)
	}
	slog.Info("backend created", "kind", "capture", "name", cfg.Audio.Capture.Name)

	// Fail fast on an unknown or broken classifier instead of at first start.
	probe, err := newClassifier(cfg, reg, m)
	if err != nil {
		return nil, err
	}
	if err := probe.Release(); err != nil {
		slog.Warn("classifier probe release failed", "err", err)
	}

	return &app.Backends{
		Capture: capture,
		NewOutput: func() (audio.Sink, error) {
			return reg.CreateOutput(cfg.Audio)
		},
		NewClassifier: func() (classifier.Classifier, error) {
			return newClassifier(cfg, reg, m)
		},
	}, nil
}

// newClassifier builds the primary classifier and, when a distinct fallback
// is configured, wraps both in a circuit-breaking fallback group.
func newClassifier(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (classifier.Classifier, error) {
	name := cfg.Classifier.Backend
	primary, err := reg.CreateClassifier(name, cfg)
	if err != nil {
		return nil, fmt.Errorf("create classifier %q: %w", name, err)
	}
	fb := cfg.Classifier.Fallback
	if fb == "" || fb == name {
		return primary, nil
	}
	secondary, err := reg.CreateClassifier(fb, cfg)
	if err != nil {
		_ = primary.Release()
		return nil, fmt.Errorf("create fallback classifier %q: %w", fb, err)
	}
	group := resilience.NewClassifierFallback(name, primary,
		resilience.BreakerConfig{Name: "classifier"},
		resilience.WithFallbackMetrics(m),
	)
	group.AddFallback(fb, secondary)
	return group, nil
}

// optString extracts a string value from a backend Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}
