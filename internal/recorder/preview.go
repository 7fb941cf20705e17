package recorder

import (
	"context"
	"sync"

	"github.com/MrWong99/hushling/internal/playback"
)

// Player is the part of [playback.Player] a [Previewer] needs.
type Player interface {
	PlayLoops(ctx context.Context, req playback.Request) error
	Stop()
}

// Previewer plays the current recording once on its own player, separate
// from the automation engine.
type Previewer struct {
	rec    *Recorder
	player Player
	volume float64

	mu     sync.Mutex
	cancel context.CancelFunc
	gen    int
}

// NewPreviewer returns a previewer for rec's recording at volume.
func NewPreviewer(rec *Recorder, player Player, volume float64) *Previewer {
	return &Previewer{rec: rec, player: player, volume: volume}
}

// Play plays the recording once and blocks until it ends, is stopped or ctx
// is done. It reports false, without error, when there is no recording. A
// preview already running is stopped first.
func (p *Previewer) Play(ctx context.Context) (bool, error) {
	uri, ok := p.rec.RecordingURI()
	if !ok {
		return false, nil
	}
	p.Stop()

	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.gen++
	gen := p.gen
	p.mu.Unlock()
	defer func() {
		cancel()
		p.mu.Lock()
		if p.gen == gen {
			p.cancel = nil
		}
		p.mu.Unlock()
	}()

	err := p.player.PlayLoops(ctx, playback.Request{
		Track:        uri,
		Loops:        1,
		TargetVolume: p.volume,
	})
	p.player.Stop()
	if err != nil && ctx.Err() != nil {
		// Stopped on purpose.
		return true, nil
	}
	return true, err
}

// Stop ends a running preview.
func (p *Previewer) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Playing reports whether a preview is running.
func (p *Previewer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}
