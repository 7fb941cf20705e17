package classifier

import (
	"context"
	"log/slog"
	"math"

	"github.com/MrWong99/hushling/pkg/features"
)

// EnergyConfig holds the calibration constants of the [Energy] classifier.
// The zero value is not useful; start from [DefaultEnergyConfig].
type EnergyConfig struct {
	// Mel range the feature matrix was built with, used to locate the band.
	MelMinHz float64 `yaml:"mel_min_hz"`
	MelMaxHz float64 `yaml:"mel_max_hz"`

	// Frequency band whose energy is tracked.
	BandLowHz  float64 `yaml:"band_low_hz"`
	BandHighHz float64 `yaml:"band_high_hz"`

	// Log-mel level mapped to 0 and 1 respectively.
	DBFloor float64 `yaml:"db_floor"`
	DBCeil  float64 `yaml:"db_ceil"`

	// EMAAlpha is the weight of the previous noise floor when relaxing it
	// downwards below threshold.
	EMAAlpha float64 `yaml:"ema_alpha"`

	// EnergyFactor multiplies the noise floor to form the threshold.
	EnergyFactor float64 `yaml:"energy_factor"`

	// SteadyDeltaGate is the largest window-to-window change still considered
	// a steady background.
	SteadyDeltaGate float64 `yaml:"steady_delta_gate"`

	// SteadyAdaptAlpha is how fast the floor rises toward a steady loud
	// background.
	SteadyAdaptAlpha float64 `yaml:"steady_adapt_alpha"`

	// MinConsecutiveWindows hits are needed before CRY is reported.
	MinConsecutiveWindows int `yaml:"min_consecutive_windows"`

	// WarmupWindows calls only calibrate and always return SILENCE.
	WarmupWindows int `yaml:"warmup_windows"`

	// Threshold bounds.
	MinThreshold float64 `yaml:"min_threshold"`
	MaxThreshold float64 `yaml:"max_threshold"`

	// RiseGate is the delta that counts as a sharp onset.
	RiseGate float64 `yaml:"rise_gate"`

	// MarginGate is the energy/threshold ratio that counts as a strong hit.
	MarginGate float64 `yaml:"margin_gate"`

	// NoiseDeltaMin is the smallest delta reported as NOISE.
	NoiseDeltaMin float64 `yaml:"noise_delta_min"`

	// InitialNoiseEMA seeds the floor before warm-up completes.
	InitialNoiseEMA float64 `yaml:"initial_noise_ema"`

	// SmootherWindow is the temporal smoother length. Values below 3
	// effectively disable smoothing.
	SmootherWindow int `yaml:"smoother_window"`
}

// DefaultEnergyConfig returns the calibration used in production.
func DefaultEnergyConfig() EnergyConfig {
	return EnergyConfig{
		MelMinHz:              80,
		MelMaxHz:              8000,
		BandLowHz:             500,
		BandHighHz:            5000,
		DBFloor:               0,
		DBCeil:                6.5,
		EMAAlpha:              0.985,
		EnergyFactor:          2.0,
		SteadyDeltaGate:       0.04,
		SteadyAdaptAlpha:      0.08,
		MinConsecutiveWindows: 2,
		WarmupWindows:         4,
		MinThreshold:          0.01,
		MaxThreshold:          0.90,
		RiseGate:              0.10,
		MarginGate:            1.02,
		NoiseDeltaMin:         0.05,
		InitialNoiseEMA:       0.10,
		SmootherWindow:        5,
	}
}

// Energy is the adaptive, model-free cry classifier. It tracks the mean
// log-mel energy of a frequency band, keeps an exponential moving average of
// the background level and reports CRY when the band rises clearly above it
// for several consecutive windows.
//
// State lives for the lifetime of the instance; construct a new one to reset.
// Energy is not safe for concurrent use.
type Energy struct {
	cfg      EnergyConfig
	smoother *Smoother
	log      *slog.Logger

	noiseEMA    float64
	lastAvgE    float64
	hasLast     bool
	prevStrong  bool
	consecutive int

	warmupCount int
	warmupSum   float64
	warmupMin   float64
	warmupMax   float64
}

// EnergyOption configures an [Energy] classifier.
type EnergyOption func(*Energy)

// WithLogger sets the logger used for per-window debug output.
func WithLogger(l *slog.Logger) EnergyOption {
	return func(e *Energy) { e.log = l }
}

// NewEnergy returns a fresh classifier with cfg.
func NewEnergy(cfg EnergyConfig, opts ...EnergyOption) *Energy {
	e := &Energy{
		cfg:       cfg,
		smoother:  NewSmoother(cfg.SmootherWindow),
		log:       slog.Default(),
		noiseEMA:  cfg.InitialNoiseEMA,
		warmupMin: 1,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Initialize implements [Classifier]. The energy classifier has nothing to load.
func (e *Energy) Initialize(context.Context) error { return nil }

// Release implements [Classifier].
func (e *Energy) Release() error { return nil }

// NoiseFloor returns the current background estimate in [0,1].
func (e *Energy) NoiseFloor() float64 { return e.noiseEMA }

// Threshold returns the current detection threshold.
func (e *Energy) Threshold() float64 { return e.threshold() }

// Classify implements [Classifier]. Warm-up results bypass the smoother so
// calibration windows do not outvote the first real detections.
func (e *Energy) Classify(_ context.Context, m features.Matrix) (Result, error) {
	if len(m) == 0 || len(m[0]) == 0 {
		return silenceResult(), nil
	}

	bins := len(m[0])
	lo := MelBinFor(e.cfg.BandLowHz, e.cfg, bins)
	hi := max(lo, MelBinFor(e.cfg.BandHighHz, e.cfg, bins))

	var sum float64
	for _, f := range m {
		sum += bandMean(f, lo, hi)
	}
	avgE := e.normalize(sum / float64(len(m)))

	var delta float64
	if e.hasLast {
		delta = math.Abs(avgE - e.lastAvgE)
	}

	if e.warmupCount < e.cfg.WarmupWindows {
		e.warmup(avgE)
		e.lastAvgE, e.hasLast = avgE, true
		e.prevStrong = false
		return silenceResult(), nil
	}

	thr := e.threshold()
	if avgE > thr && delta < e.cfg.SteadyDeltaGate {
		e.noiseEMA = lerp(e.noiseEMA, avgE, e.cfg.SteadyAdaptAlpha)
		thr = e.threshold()
	}
	if avgE < thr {
		e.noiseEMA = e.cfg.EMAAlpha*e.noiseEMA + (1-e.cfg.EMAAlpha)*avgE
	}

	energyOK := avgE > thr
	var ratio float64
	if thr > 0 {
		ratio = avgE / thr
	}
	strongMargin := thr > 0 && ratio >= e.cfg.MarginGate
	strongRise := delta >= e.cfg.RiseGate
	sustained := energyOK && e.prevStrong && avgE >= thr*1.005

	if energyOK && (strongRise || strongMargin || sustained) {
		e.consecutive++
	} else {
		e.consecutive = 0
	}
	isCry := e.consecutive >= e.cfg.MinConsecutiveWindows
	isNoise := energyOK && !isCry && delta >= e.cfg.NoiseDeltaMin && delta <= e.cfg.RiseGate

	e.lastAvgE, e.hasLast = avgE, true
	e.prevStrong = energyOK && (strongRise || strongMargin)

	var raw Result
	switch {
	case isCry:
		raw = cryResult(0.55*clamp(ratio, 0, 3)/3 + 0.45*delta)
	case isNoise:
		raw = noiseResult(0.25 + 0.5*clamp(ratio, 0, 3)/3)
	default:
		raw = silenceResult()
	}

	e.log.Debug("energy window",
		"avg_e", avgE,
		"threshold", thr,
		"delta", delta,
		"ratio", ratio,
		"consecutive", e.consecutive,
		"class", raw.Class.String(),
	)
	return e.smoother.Smooth(raw), nil
}

func (e *Energy) warmup(avgE float64) {
	e.warmupCount++
	e.warmupSum += avgE
	e.warmupMin = min(e.warmupMin, avgE)
	e.warmupMax = max(e.warmupMax, avgE)
	rough := clamp(e.warmupSum/float64(e.warmupCount), e.warmupMin, e.warmupMax)
	e.noiseEMA = clamp(rough, 0.02, 0.60)
	e.log.Debug("energy warm-up",
		"window", e.warmupCount,
		"of", e.cfg.WarmupWindows,
		"avg_e", avgE,
		"floor", e.noiseEMA,
	)
}

func (e *Energy) threshold() float64 {
	return clamp(e.noiseEMA*e.cfg.EnergyFactor, e.cfg.MinThreshold, e.cfg.MaxThreshold)
}

func (e *Energy) normalize(db float64) float64 {
	span := e.cfg.DBCeil - e.cfg.DBFloor
	if span <= 0 {
		return 0
	}
	return clamp((db-e.cfg.DBFloor)/span, 0, 1)
}

func lerp(a, b, t float64) float64 { return a + (b-a)*t }

var _ Classifier = (*Energy)(nil)
