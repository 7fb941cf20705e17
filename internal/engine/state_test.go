package engine_test

import (
	"testing"
	"time"

	"github.com/MrWong99/hushling/internal/engine"
)

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state engine.State
		want  string
	}{
		{engine.Stopped(), "Stopped"},
		{engine.Listening(), "Listening"},
		{engine.CryingPending(2), "Crying Detected (2)"},
		{engine.Playing(), "Playing"},
		{engine.FadingOut(5 * time.Second), "Fading Out (5000ms)"},
	}
	for _, tc := range tests {
		t.Run(tc.want, func(t *testing.T) {
			t.Parallel()
			if got := tc.state.String(); got != tc.want {
				t.Errorf("String() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestState_Comparable(t *testing.T) {
	t.Parallel()

	if engine.CryingPending(1) == engine.CryingPending(2) {
		t.Error("pending states with different counts compare equal")
	}
	if engine.FadingOut(time.Second) != engine.FadingOut(time.Second) {
		t.Error("identical fading states compare unequal")
	}
	if !engine.Playing().Active() || !engine.FadingOut(0).Active() {
		t.Error("playback states not active")
	}
	if engine.Listening().Active() || engine.CryingPending(1).Active() {
		t.Error("non-playback states reported active")
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := engine.DefaultConfig()
	if cfg.FadeIn != 10*time.Second || cfg.FadeOut != 10*time.Second {
		t.Errorf("fades = %v/%v, want 10s/10s", cfg.FadeIn, cfg.FadeOut)
	}
	if cfg.TargetVolume != 0.7 || cfg.LoopCount != 3 || cfg.TriggerConfirmFrames != 1 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Track != engine.DefaultTrack {
		t.Errorf("Track = %q, want %q", cfg.Track, engine.DefaultTrack)
	}
	if got := engine.CooldownTicks(cfg.Cooldown, cfg.SamplePeriod); got != 2 {
		t.Errorf("default cooldown ticks = %d, want 2", got)
	}
}
