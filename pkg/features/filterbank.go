package features

import "math"

// HzToMel converts a frequency to the mel scale (HTK formula).
func HzToMel(hz float64) float64 {
	return 2595 * math.Log10(1+hz/700)
}

// MelToHz is the inverse of [HzToMel].
func MelToHz(mel float64) float64 {
	return 700 * (math.Pow(10, mel/2595) - 1)
}

// MelBin maps hz to the nearest band index of a bins-wide filterbank spanning
// [minHz, maxHz]. Frequencies outside the range clamp to the first or last band.
func MelBin(hz, minHz, maxHz float64, bins int) int {
	if bins <= 1 {
		return 0
	}
	mMin, mMax := HzToMel(minHz), HzToMel(maxHz)
	r := (HzToMel(hz) - mMin) / (mMax - mMin)
	r = min(max(r, 0), 1)
	return int(math.Round(r * float64(bins-1)))
}

// melFilterBank builds bins triangular filters over the fftSize/2+1 magnitude
// bins. Filter centres are spaced evenly on the mel scale; each filter peaks
// at exactly 1 on its centre bin and both slopes are at least one bin wide.
func melFilterBank(bins, fftSize, sampleRate int, minHz, maxHz float64) [][]float64 {
	width := fftSize/2 + 1
	filters := make([][]float64, bins)
	for i := range filters {
		filters[i] = make([]float64, width)
	}

	mMin, mMax := HzToMel(minHz), HzToMel(maxHz)
	points := make([]int, bins+2)
	for i := range points {
		mel := mMin + (mMax-mMin)*float64(i)/float64(bins+1)
		points[i] = int(MelToHz(mel) * float64(fftSize) / float64(sampleRate))
	}

	for m := 1; m <= bins; m++ {
		left, center, right := points[m-1], points[m], points[m+1]
		leftWidth := max(center-left, 1)
		rightWidth := max(right-center, 1)

		for k := left; k <= right; k++ {
			if k < 0 || k >= width {
				continue
			}
			var v float64
			switch {
			case k < center:
				v = float64(k-left) / float64(leftWidth)
			case k == center:
				v = 1
			default:
				v = float64(right-k) / float64(rightWidth)
			}
			filters[m-1][k] = max(v, 0)
		}
	}
	return filters
}
