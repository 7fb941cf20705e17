// Package features turns PCM windows into log-scaled mel-band energy frames.
//
// An [Extractor] slides a Hann-tapered analysis window over the input with a
// fixed hop, takes the magnitude spectrum of each zero-padded frame and
// projects it onto a triangular mel filterbank. Each band is reported as
// ln(1 + energy), an absolute and always non-negative value, so energy levels
// stay comparable from one frame to the next. Per-frame normalisation exists
// but is off by default because the energy classifier relies on absolute
// levels.
package features

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/MrWong99/hushling/pkg/audio"
)

// Frame holds the mel-band energies of one analysis frame, lowest band first.
type Frame []float64

// Matrix is the ordered sequence of frames extracted from one window.
type Matrix []Frame

// Bins returns the band count of the first frame, or 0 for an empty matrix.
func (m Matrix) Bins() int {
	if len(m) == 0 {
		return 0
	}
	return len(m[0])
}

// Config describes the analysis geometry.
type Config struct {
	// SampleRate of the input in Hz.
	SampleRate int

	// WindowSize is the length of one analysis frame.
	WindowSize time.Duration

	// HopSize is the step between consecutive frames.
	HopSize time.Duration

	// MelBins is the number of triangular mel filters.
	MelBins int

	// MinFreq and MaxFreq bound the filterbank in Hz.
	MinFreq float64
	MaxFreq float64

	// NormalizePerFrame rescales every frame to zero mean and unit variance.
	// Leave it off for the energy classifier.
	NormalizePerFrame bool
}

// DefaultConfig returns the analysis geometry used by the detection pipeline:
// 16 kHz, 1 s frames with a 500 ms hop, 64 bands between 80 Hz and 8 kHz.
func DefaultConfig() Config {
	return Config{
		SampleRate: audio.DefaultSampleRate,
		WindowSize: time.Second,
		HopSize:    500 * time.Millisecond,
		MelBins:    64,
		MinFreq:    80,
		MaxFreq:    8000,
	}
}

// ErrInvalidConfig is returned by [NewExtractor] for an unusable geometry.
var ErrInvalidConfig = errors.New("features: invalid config")

// Extractor computes mel feature matrices. It is safe for concurrent use:
// the filterbank and window are read-only after construction and per-call
// scratch space is allocated on each call.
type Extractor struct {
	cfg        Config
	windowSize int // samples per frame
	hopSize    int // samples per hop
	fftSize    int
	hann       []float64
	filters    [][]float64 // [MelBins][fftSize/2+1]
}

// NewExtractor validates cfg and precomputes the Hann window and filterbank.
func NewExtractor(cfg Config) (*Extractor, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrInvalidConfig, cfg.SampleRate)
	}
	if cfg.MelBins <= 0 {
		return nil, fmt.Errorf("%w: mel bins %d", ErrInvalidConfig, cfg.MelBins)
	}
	if cfg.MinFreq < 0 || cfg.MaxFreq <= cfg.MinFreq {
		return nil, fmt.Errorf("%w: frequency range [%g, %g]", ErrInvalidConfig, cfg.MinFreq, cfg.MaxFreq)
	}
	if cfg.MaxFreq > float64(cfg.SampleRate)/2 {
		return nil, fmt.Errorf("%w: max frequency %g above Nyquist for %d Hz", ErrInvalidConfig, cfg.MaxFreq, cfg.SampleRate)
	}

	e := &Extractor{
		cfg:        cfg,
		windowSize: max(1, audio.SamplesFor(cfg.WindowSize, cfg.SampleRate)),
		hopSize:    max(1, audio.SamplesFor(cfg.HopSize, cfg.SampleRate)),
	}
	e.fftSize = nextPowerOfTwo(e.windowSize)
	e.hann = hannWindow(e.windowSize)
	e.filters = melFilterBank(cfg.MelBins, e.fftSize, cfg.SampleRate, cfg.MinFreq, cfg.MaxFreq)
	return e, nil
}

// Config returns the geometry the extractor was built with.
func (e *Extractor) Config() Config { return e.cfg }

// FrameCount returns how many frames [Extractor.Extract] yields for a window
// of n samples: floor((n-W)/H)+1, or 0 when n < W.
func (e *Extractor) FrameCount(n int) int {
	if n < e.windowSize {
		return 0
	}
	return (n-e.windowSize)/e.hopSize + 1
}

// Extract returns one [Frame] per analysis position. An input shorter than
// the window yields an empty (nil) matrix, which callers treat as "no data".
func (e *Extractor) Extract(w audio.Window) Matrix {
	count := e.FrameCount(len(w))
	if count == 0 {
		return nil
	}

	fft := fourier.NewFFT(e.fftSize)
	padded := make([]float64, e.fftSize)
	coeffs := make([]complex128, e.fftSize/2+1)
	spectrum := make([]float64, e.fftSize/2+1)

	out := make(Matrix, 0, count)
	for pos := 0; pos+e.windowSize <= len(w); pos += e.hopSize {
		for i := range padded {
			padded[i] = 0
		}
		for i, s := range w[pos : pos+e.windowSize] {
			padded[i] = float64(s) / 32768 * e.hann[i]
		}

		coeffs = fft.Coefficients(coeffs, padded)
		for k, c := range coeffs {
			spectrum[k] = cmplx.Abs(c)
		}

		out = append(out, e.project(spectrum))
	}
	return out
}

// project applies the filterbank and log compression to one magnitude spectrum.
func (e *Extractor) project(spectrum []float64) Frame {
	frame := make(Frame, len(e.filters))
	for b, filter := range e.filters {
		var energy float64
		for k, weight := range filter {
			if weight != 0 {
				energy += spectrum[k] * weight
			}
		}
		frame[b] = math.Log1p(energy)
	}
	if e.cfg.NormalizePerFrame {
		normalize(frame)
	}
	return frame
}

// normalize rescales f in place to zero mean and unit variance. Flat frames
// (std <= 1e-6) are left untouched.
func normalize(f Frame) {
	var mean float64
	for _, v := range f {
		mean += v
	}
	mean /= float64(len(f))

	var variance float64
	for _, v := range f {
		d := v - mean
		variance += d * d
	}
	std := math.Sqrt(variance / float64(len(f)))
	if std <= 1e-6 {
		return
	}
	for i := range f {
		f[i] = (f[i] - mean) / std
	}
}

func hannWindow(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
