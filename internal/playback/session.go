package playback

import (
	"context"
	"time"
)

// session tracks one PlayLoops call. All fields except done and err are owned
// by the player goroutine; err is safe to read once done is closed.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc

	desired   int
	completed int
	duration  time.Duration // 0 until the sink reports ready

	fadeOut       time.Duration
	needsSchedule bool
	fadeStarted   bool
	fadingIn      bool
	onFadeOut     func(time.Duration)

	done     chan struct{}
	err      error
	finished bool
}

func newSession(req Request) *session {
	ctx, cancel := context.WithCancel(context.Background())
	fadeOut := max(req.FadeOut, 0)
	return &session{
		ctx:           ctx,
		cancel:        cancel,
		desired:       req.Loops,
		fadeOut:       fadeOut,
		needsSchedule: fadeOut > 0,
		onFadeOut:     req.OnFadeOut,
		done:          make(chan struct{}),
	}
}

// finish completes the session once; later calls are ignored.
func (s *session) finish(err error) {
	if s.finished {
		return
	}
	s.finished = true
	s.err = err
	s.cancel()
	close(s.done)
}

// FadeOutPlan returns when the scheduled fade-out starts and how long it
// lasts for a track of the given duration played loops times: the fade is
// capped at the combined length and ends exactly when the last loop does.
func FadeOutPlan(duration time.Duration, loops int, fadeOut time.Duration) (delay, fade time.Duration) {
	if duration <= 0 || loops <= 0 || fadeOut <= 0 {
		return 0, 0
	}
	total := duration * time.Duration(loops)
	fade = min(fadeOut, total)
	delay = max(total-fade, 0)
	return delay, fade
}
