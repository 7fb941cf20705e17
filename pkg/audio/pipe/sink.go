package pipe

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/hushling/pkg/audio"
)

// ErrNoTrack is returned by Play before a track is loaded.
var ErrNoTrack = errors.New("pipe: no track loaded")

// ErrClosed is returned by every operation on a closed sink.
var ErrClosed = errors.New("pipe: sink closed")

const defaultChunk = 20 * time.Millisecond

// SinkOption configures a [Sink].
type SinkOption func(*Sink)

// WithSinkRate sets the output sample rate. Tracks are resampled to it.
func WithSinkRate(rate int) SinkOption {
	return func(s *Sink) {
		if rate > 0 {
			s.rate = rate
		}
	}
}

// WithChunk sets the duration of each paced write.
func WithChunk(d time.Duration) SinkOption {
	return func(s *Sink) {
		if d > 0 {
			s.chunk = d
		}
	}
}

// WithSinkLogger sets the logger. Defaults to slog.Default().
func WithSinkLogger(l *slog.Logger) SinkOption {
	return func(s *Sink) { s.log = l }
}

// Sink plays decoded tracks in real time by writing paced, volume-scaled
// PCM chunks to a writer. It implements [audio.Sink].
type Sink struct {
	w       io.Writer
	onClose func() error
	rate    int
	chunk   time.Duration
	log     *slog.Logger

	mu       sync.Mutex
	pcm      []int16
	pos      int
	volume   float64
	listener func(audio.SinkEvent)
	run      *sinkRun
	closed   bool
}

// sinkRun is one stretch of continuous playback.
type sinkRun struct {
	stop chan struct{}
	done chan struct{}
}

// NewSink returns a sink writing s16le mono to w.
func NewSink(w io.Writer, opts ...SinkOption) *Sink {
	s := &Sink{
		w:      w,
		rate:   audio.DefaultSampleRate,
		chunk:  defaultChunk,
		log:    slog.Default(),
		volume: 1,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// StartCommandSink starts aplay on device and returns a sink feeding it.
// Closing the sink ends the process.
func StartCommandSink(device string, log *slog.Logger, opts ...SinkOption) (*Sink, error) {
	if log == nil {
		log = slog.Default()
	}
	s := NewSink(nil, append([]SinkOption{WithSinkLogger(log)}, opts...)...)

	proc, err := startProcess("aplay", alsaArgs(device, s.rate), log)
	if err != nil {
		return nil, fmt.Errorf("pipe: start aplay: %w", err)
	}
	stdin, err := proc.cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("pipe: aplay stdin: %w", err)
	}
	if err := proc.start(); err != nil {
		return nil, fmt.Errorf("pipe: start aplay: %w", err)
	}
	s.w = stdin
	s.onClose = func() error { return proc.closeInputAndWait(stdin) }
	log.Info("pipe: playback device opened", "cmd", "aplay", "device", device, "rate", s.rate)
	return s, nil
}

// Load decodes the track at path and reports its duration through a
// SinkReady event. Playback of a previous track stops.
func (s *Sink) Load(path string) error {
	s.halt()

	pcm, err := DecodeTrack(path, s.rate)
	if err != nil {
		return err
	}
	if len(pcm) == 0 {
		return fmt.Errorf("pipe: track %s is empty", path)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.pcm = pcm
	s.pos = 0
	d := audio.Window(pcm).Duration(s.rate)
	s.mu.Unlock()

	s.log.Debug("pipe: track loaded", "path", path, "duration", d)
	s.emit(audio.SinkEvent{Type: audio.SinkReady, Duration: d})
	return nil
}

// Play starts or resumes playback from the current position.
func (s *Sink) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.pcm == nil {
		return ErrNoTrack
	}
	if s.run != nil {
		return nil
	}
	r := &sinkRun{stop: make(chan struct{}), done: make(chan struct{})}
	s.run = r
	go s.stream(r)
	return nil
}

// Pause halts playback, keeping the position.
func (s *Sink) Pause() error {
	s.halt()
	return nil
}

// Stop halts playback and unloads the track.
func (s *Sink) Stop() error {
	s.halt()
	s.mu.Lock()
	s.pcm = nil
	s.pos = 0
	s.mu.Unlock()
	return nil
}

// SeekToStart rewinds to the beginning of the track.
func (s *Sink) SeekToStart() error {
	s.mu.Lock()
	s.pos = 0
	s.mu.Unlock()
	return nil
}

// SetVolume sets the output gain, clamped to [0, 1].
func (s *Sink) SetVolume(v float64) error {
	s.mu.Lock()
	s.volume = min(max(v, 0), 1)
	s.mu.Unlock()
	return nil
}

// SetListener registers the event listener.
func (s *Sink) SetListener(fn func(audio.SinkEvent)) {
	s.mu.Lock()
	s.listener = fn
	s.mu.Unlock()
}

// Close stops playback and releases the output.
func (s *Sink) Close() error {
	s.halt()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.pcm = nil
	s.mu.Unlock()
	if s.onClose != nil {
		return s.onClose()
	}
	return nil
}

// halt stops the playback goroutine and waits for it.
func (s *Sink) halt() {
	s.mu.Lock()
	r := s.run
	s.run = nil
	s.mu.Unlock()
	if r != nil {
		close(r.stop)
		<-r.done
	}
}

func (s *Sink) emit(ev audio.SinkEvent) {
	s.mu.Lock()
	fn := s.listener
	s.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// stream writes one chunk per tick until the track ends or r is stopped.
func (s *Sink) stream(r *sinkRun) {
	defer close(r.done)
	n := audio.SamplesFor(s.chunk, s.rate)
	t := time.NewTicker(s.chunk)
	defer t.Stop()

	for {
		s.mu.Lock()
		if s.run != r {
			s.mu.Unlock()
			return
		}
		if s.pos >= len(s.pcm) {
			s.run = nil
			s.mu.Unlock()
			s.emit(audio.SinkEvent{Type: audio.SinkEnded})
			return
		}
		end := min(s.pos+n, len(s.pcm))
		out := audio.ApplyGain(s.pcm[s.pos:end], s.volume)
		s.pos = end
		s.mu.Unlock()

		if _, err := s.w.Write(audio.SamplesToBytes(out)); err != nil {
			s.mu.Lock()
			if s.run == r {
				s.run = nil
			}
			s.mu.Unlock()
			s.log.Warn("pipe: output write failed", "err", err)
			s.emit(audio.SinkEvent{Type: audio.SinkError, Err: fmt.Errorf("pipe: write: %w", err)})
			return
		}

		select {
		case <-r.stop:
			return
		case <-t.C:
		}
	}
}

var _ audio.Sink = (*Sink)(nil)
