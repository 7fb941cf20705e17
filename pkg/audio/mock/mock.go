// Package mock provides in-memory mock implementations of the [audio.Capture],
// [audio.Stream], and [audio.Sink] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	stream := mock.NewStream(8)
//	stream.Chunks <- loudSamples
//	capture := &mock.Capture{StreamResult: stream}
//	sink := &mock.Sink{ReadyDuration: 10 * time.Second}
package mock

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/MrWong99/hushling/pkg/audio"
)

// ─── Capture ──────────────────────────────────────────────────────────────────

// Capture is a mock implementation of [audio.Capture].
type Capture struct {
	mu sync.Mutex

	// StreamResult is returned by Open. When nil, Open returns a new Stream
	// whose Chunks channel is never fed.
	StreamResult audio.Stream

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// Rate is returned by SampleRate. Zero means [audio.DefaultSampleRate].
	Rate int

	// CallCountOpen records how many times Open was called.
	CallCountOpen int
}

// Open records the call and returns StreamResult, OpenErr.
func (c *Capture) Open(_ context.Context) (audio.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountOpen++
	if c.OpenErr != nil {
		return nil, c.OpenErr
	}
	if c.StreamResult != nil {
		return c.StreamResult, nil
	}
	return NewStream(0), nil
}

// SampleRate returns Rate or the default working rate.
func (c *Capture) SampleRate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Rate > 0 {
		return c.Rate
	}
	return audio.DefaultSampleRate
}

// OpenCount returns CallCountOpen. Thread-safe.
func (c *Capture) OpenCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountOpen
}

var _ audio.Capture = (*Capture)(nil)

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream]. Samples are served from
// Generate when set, otherwise from the Chunks channel.
type Stream struct {
	// Chunks supplies the samples returned by Read. Closing it makes Read
	// return io.EOF once buffered chunks are consumed.
	Chunks chan []int16

	// Generate, when non-nil, fills every Read buffer completely. Pace is
	// slept before each generated read so a reader loop does not spin.
	Generate func(p []int16)
	Pace     time.Duration

	mu sync.Mutex

	// ReadErr, if non-nil, is returned by the next Read (once).
	ReadErr error

	// CallCountRead and CallCountClose record method invocations.
	CallCountRead  int
	CallCountClose int

	pending   []int16
	done      chan struct{}
	closeOnce sync.Once
}

// NewStream returns a Stream whose Chunks channel has the given buffer size.
func NewStream(buffer int) *Stream {
	return &Stream{
		Chunks: make(chan []int16, buffer),
		done:   make(chan struct{}),
	}
}

// Read serves samples until the stream is closed or the chunks run out.
func (s *Stream) Read(p []int16) (int, error) {
	s.mu.Lock()
	s.CallCountRead++
	if s.ReadErr != nil {
		err := s.ReadErr
		s.ReadErr = nil
		s.mu.Unlock()
		return 0, err
	}
	if len(s.pending) > 0 {
		n := copy(p, s.pending)
		s.pending = s.pending[n:]
		s.mu.Unlock()
		return n, nil
	}
	gen, pace := s.Generate, s.Pace
	s.mu.Unlock()

	if gen != nil {
		if pace > 0 {
			select {
			case <-s.done:
				return 0, io.EOF
			case <-time.After(pace):
			}
		}
		select {
		case <-s.done:
			return 0, io.EOF
		default:
		}
		gen(p)
		return len(p), nil
	}

	select {
	case <-s.done:
		return 0, io.EOF
	case chunk, ok := <-s.Chunks:
		if !ok {
			return 0, io.EOF
		}
		n := copy(p, chunk)
		if n < len(chunk) {
			s.mu.Lock()
			s.pending = append(s.pending, chunk[n:]...)
			s.mu.Unlock()
		}
		return n, nil
	}
}

// Close unblocks pending reads. Subsequent calls are no-ops.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.CallCountClose++
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// Closed reports whether Close has been called. Thread-safe.
func (s *Stream) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

var _ audio.Stream = (*Stream)(nil)

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a mock implementation of [audio.Sink].
//
// When ReadyDuration is positive, Load emits a SinkReady event carrying it.
// When AutoEnd is positive, every Play schedules a SinkEnded event after that
// delay; Stop, Pause, SeekToStart and Close cancel the pending event.
type Sink struct {
	mu sync.Mutex

	// ReadyDuration is reported through SinkReady after Load.
	ReadyDuration time.Duration

	// AutoEnd is the simulated playback length per Play call.
	AutoEnd time.Duration

	// LoadErr and PlayErr, if non-nil, are returned by Load and Play.
	LoadErr error
	PlayErr error

	// LoadCalls records every path passed to Load.
	LoadCalls []string

	// Volumes records every value passed to SetVolume, in order.
	Volumes []float64

	CallCountPlay  int
	CallCountPause int
	CallCountStop  int
	CallCountSeek  int
	CallCountClose int

	listener func(audio.SinkEvent)
	endTimer *time.Timer
}

// Load records the path and emits SinkReady when ReadyDuration is set.
func (s *Sink) Load(path string) error {
	s.mu.Lock()
	s.LoadCalls = append(s.LoadCalls, path)
	if s.LoadErr != nil {
		err := s.LoadErr
		s.mu.Unlock()
		return err
	}
	d := s.ReadyDuration
	s.mu.Unlock()

	if d > 0 {
		s.Emit(audio.SinkEvent{Type: audio.SinkReady, Duration: d})
	}
	return nil
}

// Play records the call and arms the AutoEnd timer.
func (s *Sink) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountPlay++
	if s.PlayErr != nil {
		return s.PlayErr
	}
	s.stopTimerLocked()
	if s.AutoEnd > 0 {
		s.endTimer = time.AfterFunc(s.AutoEnd, func() {
			s.Emit(audio.SinkEvent{Type: audio.SinkEnded})
		})
	}
	return nil
}

// Pause records the call.
func (s *Sink) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountPause++
	s.stopTimerLocked()
	return nil
}

// Stop records the call.
func (s *Sink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	s.stopTimerLocked()
	return nil
}

// SeekToStart records the call.
func (s *Sink) SeekToStart() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountSeek++
	s.stopTimerLocked()
	return nil
}

// SetVolume records v.
func (s *Sink) SetVolume(v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Volumes = append(s.Volumes, v)
	return nil
}

// SetListener stores fn for [Sink.Emit].
func (s *Sink) SetListener(fn func(audio.SinkEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = fn
}

// Close records the call.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.stopTimerLocked()
	s.listener = nil
	return nil
}

// Emit delivers ev to the registered listener, if any.
func (s *Sink) Emit(ev audio.SinkEvent) {
	s.mu.Lock()
	fn := s.listener
	s.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// LastVolume returns the most recent SetVolume value, or -1 if none.
func (s *Sink) LastVolume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Volumes) == 0 {
		return -1
	}
	return s.Volumes[len(s.Volumes)-1]
}

// VolumeHistory returns a copy of Volumes. Thread-safe.
func (s *Sink) VolumeHistory() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.Volumes))
	copy(out, s.Volumes)
	return out
}

// Counts returns a consistent copy of the call counters: play, seek, stop,
// close.
func (s *Sink) Counts() (play, seek, stop, closeN int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountPlay, s.CallCountSeek, s.CallCountStop, s.CallCountClose
}

// Loads returns a copy of LoadCalls. Thread-safe.
func (s *Sink) Loads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.LoadCalls))
	copy(out, s.LoadCalls)
	return out
}

func (s *Sink) stopTimerLocked() {
	if s.endTimer != nil {
		s.endTimer.Stop()
		s.endTimer = nil
	}
}

var _ audio.Sink = (*Sink)(nil)
