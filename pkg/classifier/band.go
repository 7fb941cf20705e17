package classifier

import "github.com/MrWong99/hushling/pkg/features"

// Energies are whole-matrix loudness figures used outside the classifier,
// both normalised to [0,1] by the configured ceiling.
type Energies struct {
	// Global is the mean over every band and frame.
	Global float64

	// Band is the mean over the tracked frequency band.
	Band float64
}

// MelBinFor maps hz to a band index of a bins-wide matrix built over
// cfg.MelMinHz..cfg.MelMaxHz.
func MelBinFor(hz float64, cfg EnergyConfig, bins int) int {
	return features.MelBin(hz, cfg.MelMinHz, cfg.MelMaxHz, bins)
}

// MeasureEnergy returns the global and banded loudness of m. An empty matrix
// measures zero.
func MeasureEnergy(m features.Matrix, cfg EnergyConfig) Energies {
	if len(m) == 0 || len(m[0]) == 0 {
		return Energies{}
	}
	ceil := cfg.DBCeil
	if ceil <= 0 {
		ceil = DefaultEnergyConfig().DBCeil
	}

	bins := len(m[0])
	lo := MelBinFor(cfg.BandLowHz, cfg, bins)
	hi := max(lo, MelBinFor(cfg.BandHighHz, cfg, bins))

	var global, band float64
	var n int
	for _, f := range m {
		for _, v := range f {
			global += v
			n++
		}
		band += bandMean(f, lo, hi)
	}
	if n > 0 {
		global /= float64(n)
	}
	band /= float64(len(m))

	return Energies{
		Global: clamp(global/ceil, 0, 1),
		Band:   clamp(band/ceil, 0, 1),
	}
}

// bandMean averages f over [lo, hi], clamped to the frame.
func bandMean(f features.Frame, lo, hi int) float64 {
	if len(f) == 0 {
		return 0
	}
	last := len(f) - 1
	l := min(max(lo, 0), last)
	h := min(max(hi, l), last)
	var s float64
	for i := l; i <= h; i++ {
		s += f[i]
	}
	return s / float64(h-l+1)
}
