package engine

import (
	"math"
	"time"
)

// Config holds the automation parameters. The engine keeps the latest value
// in an atomic pointer: ticks and playback cycles read a fresh snapshot, and
// a volume change reaches the player immediately.
type Config struct {
	// FadeIn ramps the track from silence to TargetVolume.
	FadeIn time.Duration

	// FadeOut is the length of the fade that ends with the last loop.
	FadeOut time.Duration

	// TargetVolume is the playback volume in [0, 1].
	TargetVolume float64

	// Track is an asset:///, file:// or bare path reference.
	Track string

	// SamplePeriod is the interval between analysis ticks.
	SamplePeriod time.Duration

	// LoopCount is how many times the track plays per cycle.
	LoopCount int

	// Cooldown suppresses triggers after a cycle ends.
	Cooldown time.Duration

	// MinEnergyForTrigger is the global energy below which a window never
	// counts as a hit.
	MinEnergyForTrigger float64

	// BandEnergyTrigger makes a window a hit on cry-band energy alone.
	BandEnergyTrigger float64

	// TriggerConfirmFrames is how many consecutive hits start playback.
	TriggerConfirmFrames int
}

// DefaultTrack is the bundled shush loop.
const DefaultTrack = "asset:///shhh_loop.opus"

// DefaultConfig returns the stock automation parameters.
func DefaultConfig() Config {
	return Config{
		FadeIn:               10 * time.Second,
		FadeOut:              10 * time.Second,
		TargetVolume:         0.7,
		Track:                DefaultTrack,
		SamplePeriod:         time.Second,
		LoopCount:            3,
		Cooldown:             1500 * time.Millisecond,
		MinEnergyForTrigger:  0.32,
		BandEnergyTrigger:    0.70,
		TriggerConfirmFrames: 1,
	}
}

// confirmFrames returns TriggerConfirmFrames, at least 1.
func (c Config) confirmFrames() int {
	return max(1, c.TriggerConfirmFrames)
}

// CooldownTicks converts a cooldown into whole analysis ticks, rounding up.
// The result is at least 1, and exactly 1 when period is not positive.
func CooldownTicks(cooldown, period time.Duration) int {
	if period <= 0 {
		return 1
	}
	n := int(math.Ceil(float64(cooldown) / float64(period)))
	return max(1, n)
}
