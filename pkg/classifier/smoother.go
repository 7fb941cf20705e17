package classifier

// minSmoothed is how many results the smoother must hold before it starts
// voting. Fewer than this and the input passes through unchanged.
const minSmoothed = 3

// Smoother suppresses flicker by voting over the last few results.
// It is not safe for concurrent use.
type Smoother struct {
	window int
	recent []Result
}

// NewSmoother returns a smoother over the last window results. A window
// below 1 is treated as 1, which disables smoothing.
func NewSmoother(window int) *Smoother {
	window = max(window, 1)
	return &Smoother{window: window, recent: make([]Result, 0, window)}
}

// Smooth records r and returns the smoothed result: the majority class over
// the window and the mean of each probability. Ties go to the class that
// appears first in the window.
func (s *Smoother) Smooth(r Result) Result {
	if len(s.recent) == s.window {
		copy(s.recent, s.recent[1:])
		s.recent = s.recent[:len(s.recent)-1]
	}
	s.recent = append(s.recent, r)

	if len(s.recent) < minSmoothed {
		return r
	}

	var counts [3]int
	order := make([]Class, 0, len(counts))
	var out Result
	for _, h := range s.recent {
		if h.Class >= ClassSilence && h.Class <= ClassCry {
			if counts[h.Class] == 0 {
				order = append(order, h.Class)
			}
			counts[h.Class]++
		}
		out.Silence += h.Silence
		out.Noise += h.Noise
		out.Cry += h.Cry
	}
	n := float64(len(s.recent))
	out.Silence /= n
	out.Noise /= n
	out.Cry /= n

	out.Class = r.Class
	best := 0
	for _, c := range order {
		if counts[c] > best {
			out.Class, best = c, counts[c]
		}
	}
	return out
}

// Len reports how many results are currently held.
func (s *Smoother) Len() int { return len(s.recent) }

// Reset drops the history.
func (s *Smoother) Reset() { s.recent = s.recent[:0] }
