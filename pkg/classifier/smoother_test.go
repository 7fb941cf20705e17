package classifier_test

import (
	"math"
	"testing"

	"github.com/MrWong99/hushling/pkg/classifier"
)

var (
	cryResult     = classifier.Result{Silence: 0.1, Noise: 0.2, Cry: 0.7, Class: classifier.ClassCry}
	silenceResult = classifier.Result{Silence: 0.8, Noise: 0.1, Cry: 0.1, Class: classifier.ClassSilence}
	noiseResult   = classifier.Result{Silence: 0.3, Noise: 0.6, Cry: 0.1, Class: classifier.ClassNoise}
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestSmoother_PassThroughUntilThree(t *testing.T) {
	t.Parallel()
	s := classifier.NewSmoother(5)

	if got := s.Smooth(silenceResult); got != silenceResult {
		t.Errorf("first: got %+v, want input unchanged", got)
	}
	if got := s.Smooth(cryResult); got != cryResult {
		t.Errorf("second: got %+v, want input unchanged", got)
	}
	if got := s.Smooth(cryResult); got == cryResult {
		t.Error("third: expected averaged result")
	}
}

func TestSmoother_MajorityVote(t *testing.T) {
	t.Parallel()
	s := classifier.NewSmoother(5)
	for range 4 {
		s.Smooth(cryResult)
	}
	got := s.Smooth(silenceResult)
	if got.Class != classifier.ClassCry {
		t.Errorf("class: got %s, want CRY", got.Class)
	}
	if want := (4*0.7 + 0.1) / 5; !near(got.Cry, want) {
		t.Errorf("cry: got %f, want %f", got.Cry, want)
	}
}

func TestSmoother_AveragesProbabilities(t *testing.T) {
	t.Parallel()
	s := classifier.NewSmoother(3)
	s.Smooth(classifier.Result{Silence: 0.6, Noise: 0.2, Cry: 0.2})
	s.Smooth(classifier.Result{Silence: 0.4, Noise: 0.3, Cry: 0.3})
	got := s.Smooth(classifier.Result{Silence: 0.5, Noise: 0.25, Cry: 0.25})

	if !near(got.Silence, 0.5) || !near(got.Noise, 0.25) || !near(got.Cry, 0.25) {
		t.Errorf("got %+v, want 0.5/0.25/0.25", got)
	}
}

func TestSmoother_EvictsOldest(t *testing.T) {
	t.Parallel()
	s := classifier.NewSmoother(3)
	s.Smooth(cryResult)
	s.Smooth(cryResult)
	s.Smooth(cryResult)
	s.Smooth(silenceResult)
	got := s.Smooth(silenceResult)

	if s.Len() != 3 {
		t.Fatalf("Len: got %d, want 3", s.Len())
	}
	if got.Class != classifier.ClassSilence {
		t.Errorf("class: got %s, want SILENCE after two of three cry results were evicted", got.Class)
	}
}

func TestSmoother_TieBreak(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		in     []classifier.Result
		want   classifier.Class
		window int
	}{
		{name: "cry seen before noise", in: []classifier.Result{cryResult, noiseResult, cryResult, noiseResult}, want: classifier.ClassCry},
		{name: "noise seen before cry", in: []classifier.Result{noiseResult, cryResult, noiseResult, cryResult}, want: classifier.ClassNoise},
		{name: "first seen wins over first to reach count", in: []classifier.Result{cryResult, silenceResult, silenceResult, cryResult}, want: classifier.ClassCry},
		{name: "two two one", in: []classifier.Result{cryResult, cryResult, silenceResult, silenceResult, noiseResult}, want: classifier.ClassCry, window: 5},
		{name: "two two one silence first", in: []classifier.Result{silenceResult, cryResult, noiseResult, cryResult, silenceResult}, want: classifier.ClassSilence, window: 5},
		{name: "evicted class no longer first", in: []classifier.Result{cryResult, noiseResult, silenceResult, noiseResult, silenceResult}, want: classifier.ClassNoise, window: 4},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			window := tc.window
			if window == 0 {
				window = 4
			}
			s := classifier.NewSmoother(window)
			var got classifier.Result
			for _, r := range tc.in {
				got = s.Smooth(r)
			}
			if got.Class != tc.want {
				t.Errorf("class: got %s, want %s", got.Class, tc.want)
			}
		})
	}
}

func TestSmoother_Reset(t *testing.T) {
	t.Parallel()
	s := classifier.NewSmoother(5)
	for range 5 {
		s.Smooth(cryResult)
	}
	s.Reset()
	if got := s.Smooth(silenceResult); got != silenceResult {
		t.Errorf("after Reset: got %+v, want input unchanged", got)
	}
}
