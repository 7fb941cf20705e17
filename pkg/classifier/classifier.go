// Package classifier defines the cry classification contract and its
// backends.
//
// A [Classifier] turns one [features.Matrix] into a [Result]: three
// probabilities in [0,1] and a discrete [Class]. The default backend is the
// adaptive [Energy] classifier, which needs no trained model and calibrates a
// noise floor from the room it listens to. An ONNX backend is available when
// the binary is built with the "onnx" tag.
//
// Classifiers are stateful and not safe for concurrent use. Callers serialise
// Classify and recreate the instance to reset its state.
package classifier

import (
	"context"
	"fmt"

	"github.com/MrWong99/hushling/pkg/features"
)

// Class is the discrete label a classifier assigns to a window.
type Class int

const (
	// ClassSilence means nothing noteworthy was heard.
	ClassSilence Class = iota

	// ClassNoise means elevated but non-cry sound.
	ClassNoise

	// ClassCry means an infant cry.
	ClassCry
)

// String returns the upper-case label of c.
func (c Class) String() string {
	switch c {
	case ClassSilence:
		return "SILENCE"
	case ClassNoise:
		return "NOISE"
	case ClassCry:
		return "CRY"
	default:
		return fmt.Sprintf("Class(%d)", int(c))
	}
}

// Result is the outcome of classifying one feature matrix. The probabilities
// each lie in [0,1] but need not sum to exactly 1.
type Result struct {
	Silence float64
	Noise   float64
	Cry     float64
	Class   Class
}

// Classifier is the contract every backend implements.
type Classifier interface {
	// Initialize prepares the backend. It must be called once before Classify.
	Initialize(ctx context.Context) error

	// Classify labels one feature matrix. Degenerate input (an empty matrix or
	// empty frames) yields a SILENCE result and a nil error.
	Classify(ctx context.Context, m features.Matrix) (Result, error)

	// Release frees backend resources. The instance is unusable afterwards.
	Release() error
}

// silenceResult is the fixed result for quiet or degenerate input.
func silenceResult() Result {
	return Result{Silence: 0.94, Noise: 0.05, Cry: 0.01, Class: ClassSilence}
}

// noiseResult grades a NOISE decision; c is the raw confidence.
func noiseResult(c float64) Result {
	x := clamp(c, 0, 1)
	return Result{
		Silence: clamp(0.65-0.35*x, 0.10, 0.75),
		Noise:   clamp(0.30+0.60*x, 0.20, 0.85),
		Cry:     clamp(0.05+0.10*x, 0.02, 0.20),
		Class:   ClassNoise,
	}
}

// cryResult grades a CRY decision; c is the raw confidence before the small
// boost that keeps cry probability within [0.70, 0.99].
func cryResult(c float64) Result {
	x := clamp(c+0.10, 0.70, 0.99)
	return Result{
		Silence: clamp(0.06-0.04*x, 0.01, 0.20),
		Noise:   clamp(0.12-0.08*x, 0.03, 0.25),
		Cry:     x,
		Class:   ClassCry,
	}
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}
