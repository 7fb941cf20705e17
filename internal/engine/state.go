package engine

import (
	"fmt"
	"time"
)

// StateKind discriminates the variants of [State].
type StateKind int

const (
	// KindStopped means the engine is not capturing.
	KindStopped StateKind = iota

	// KindListening means the engine is capturing and analysing.
	KindListening

	// KindCryingPending means confirmation windows are accumulating.
	KindCryingPending

	// KindPlaying means a playback cycle is running.
	KindPlaying

	// KindFadingOut means the scheduled fade-out of a cycle has started.
	KindFadingOut
)

// String returns the name of the kind.
func (k StateKind) String() string {
	switch k {
	case KindStopped:
		return "stopped"
	case KindListening:
		return "listening"
	case KindCryingPending:
		return "crying_pending"
	case KindPlaying:
		return "playing"
	case KindFadingOut:
		return "fading_out"
	default:
		return fmt.Sprintf("StateKind(%d)", int(k))
	}
}

// State is the observable automation state. It is a comparable value;
// Pending is only meaningful for KindCryingPending and Remaining only for
// KindFadingOut.
type State struct {
	Kind      StateKind
	Pending   int
	Remaining time.Duration
}

// Listening returns the listening state.
func Listening() State { return State{Kind: KindListening} }

// CryingPending returns the state for n confirmed windows.
func CryingPending(n int) State { return State{Kind: KindCryingPending, Pending: n} }

// Playing returns the playing state.
func Playing() State { return State{Kind: KindPlaying} }

// FadingOut returns the state for a fade-out with remaining time left.
func FadingOut(remaining time.Duration) State {
	return State{Kind: KindFadingOut, Remaining: remaining}
}

// Stopped returns the stopped state.
func Stopped() State { return State{Kind: KindStopped} }

// String renders the state for humans, e.g. "Crying Detected (2)".
func (s State) String() string {
	switch s.Kind {
	case KindStopped:
		return "Stopped"
	case KindListening:
		return "Listening"
	case KindCryingPending:
		return fmt.Sprintf("Crying Detected (%d)", s.Pending)
	case KindPlaying:
		return "Playing"
	case KindFadingOut:
		return fmt.Sprintf("Fading Out (%dms)", s.Remaining.Milliseconds())
	default:
		return s.Kind.String()
	}
}

// Active reports whether the state belongs to a playback cycle.
func (s State) Active() bool {
	return s.Kind == KindPlaying || s.Kind == KindFadingOut
}
