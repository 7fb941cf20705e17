package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/hushling/internal/engine"
	"github.com/MrWong99/hushling/internal/recorder"
	"github.com/MrWong99/hushling/internal/supervisor"
)

// ErrNoRecording is returned by [Controller.UseRecording] when no shush
// sample has been recorded yet.
var ErrNoRecording = errors.New("app: no recording")

// StateView is the JSON form of an [engine.State].
type StateView struct {
	State       string `json:"state"`
	Kind        string `json:"kind"`
	Pending     int    `json:"pending,omitempty"`
	RemainingMS int64  `json:"remaining_ms,omitempty"`
	CycleID     string `json:"cycle_id,omitempty"`
}

// Status is the full snapshot served on GET /state.
type Status struct {
	StateView
	Volume       float64 `json:"volume"`
	Track        string  `json:"track"`
	Recording    bool    `json:"recording"`
	Previewing   bool    `json:"previewing"`
	HasRecording bool    `json:"has_recording"`
}

// Controller is the single entry point for user actions on a running
// pipeline. Start and Stop keep the supervisor in step so a stop the user
// asked for is never undone by a restart.
type Controller struct {
	eng     *engine.Engine
	sup     *supervisor.Supervisor
	rec     *recorder.Recorder
	preview *recorder.Previewer
	log     *slog.Logger

	// mu serialises Start, Stop and Record.
	mu sync.Mutex
}

// NewController returns a controller. sup may be nil when restarts are
// disabled.
func NewController(eng *engine.Engine, sup *supervisor.Supervisor, rec *recorder.Recorder, preview *recorder.Previewer) *Controller {
	return &Controller{
		eng:     eng,
		sup:     sup,
		rec:     rec,
		preview: preview,
		log:     slog.Default(),
	}
}

// Start starts automation and arms the supervisor.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked(ctx)
}

func (c *Controller) startLocked(ctx context.Context) error {
	if err := c.eng.Start(ctx); err != nil {
		return err
	}
	if c.sup != nil {
		c.sup.Arm()
	}
	return nil
}

// Stop disarms the supervisor and stops automation.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Controller) stopLocked() {
	if c.sup != nil {
		c.sup.Disarm()
	}
	c.eng.Stop()
}

// Trigger starts a playback cycle now.
func (c *Controller) Trigger() error {
	return c.eng.Trigger()
}

// State returns the engine state.
func (c *Controller) State() engine.State {
	return c.eng.State()
}

// Subscribe forwards to [engine.Engine.Subscribe].
func (c *Controller) Subscribe() (<-chan engine.State, func()) {
	return c.eng.Subscribe()
}

// View renders s with the running cycle's ID.
func (c *Controller) View(s engine.State) StateView {
	v := StateView{
		State:       s.String(),
		Kind:        s.Kind.String(),
		Pending:     s.Pending,
		RemainingMS: s.Remaining.Milliseconds(),
	}
	if s.Active() {
		v.CycleID = c.eng.CycleID()
	}
	return v
}

// Status returns a snapshot of the engine and recorder.
func (c *Controller) Status() Status {
	cfg := c.eng.Config()
	return Status{
		StateView:    c.View(c.eng.State()),
		Volume:       cfg.TargetVolume,
		Track:        cfg.Track,
		Recording:    c.rec.Recording(),
		Previewing:   c.preview.Playing(),
		HasRecording: c.rec.HasRecording(),
	}
}

// SetVolume changes the target volume, clamped to [0, 1]. A running cycle
// follows at once.
func (c *Controller) SetVolume(v float64) {
	cfg := c.eng.Config()
	cfg.TargetVolume = min(max(v, 0), 1)
	c.eng.UpdateConfig(cfg)
}

// UpdateConfig replaces the automation config.
func (c *Controller) UpdateConfig(cfg engine.Config) {
	c.eng.UpdateConfig(cfg)
}

// UseRecording makes the recorded sample the shush track.
func (c *Controller) UseRecording() error {
	uri, ok := c.rec.RecordingURI()
	if !ok {
		return ErrNoRecording
	}
	cfg := c.eng.Config()
	cfg.Track = uri
	c.eng.UpdateConfig(cfg)
	c.log.Info("app: using recorded shush sample", "track", uri)
	return nil
}

// Record captures a new shush sample. Automation shares the capture device,
// so a running engine is stopped for the recording and started again
// afterwards. Recording during a playback cycle is refused with
// [engine.ErrPlaybackActive].
func (c *Controller) Record(ctx context.Context, d time.Duration) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.eng.State()
	if st.Active() {
		return "", engine.ErrPlaybackActive
	}
	if c.rec.Recording() {
		return "", recorder.ErrBusy
	}
	resume := st.Kind != engine.KindStopped
	if resume {
		c.log.Info("app: pausing automation for recording")
		c.stopLocked()
	}

	uri, err := c.rec.Record(ctx, d)

	if resume {
		if serr := c.startLocked(context.WithoutCancel(ctx)); serr != nil {
			err = errors.Join(err, serr)
		}
	}
	return uri, err
}

// StopRecording ends a running recording early, keeping what was captured.
func (c *Controller) StopRecording() {
	c.rec.Stop()
}

// Preview plays the recording once and blocks until it ends. It reports
// false when nothing has been recorded. Previewing during a playback cycle
// is refused with [engine.ErrPlaybackActive].
func (c *Controller) Preview(ctx context.Context) (bool, error) {
	if c.eng.State().Active() {
		return false, engine.ErrPlaybackActive
	}
	return c.preview.Play(ctx)
}

// StopPreview ends a running preview.
func (c *Controller) StopPreview() {
	c.preview.Stop()
}
