// Package pipe implements capture and playback over byte streams: files,
// standard input and output, and the ALSA command-line tools arecord and
// aplay. All audio crosses the pipe as signed 16-bit little-endian mono PCM.
package pipe

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/hushling/pkg/audio"
)

// OpenFunc opens the byte source of a [ReaderCapture].
type OpenFunc func() (io.ReadCloser, error)

// ReaderCapture captures raw PCM from an [io.Reader]. Every Open calls the
// open function again, so a file capture restarts from the beginning.
type ReaderCapture struct {
	open     OpenFunc
	rate     int
	realtime bool
}

// CaptureOption configures a [ReaderCapture].
type CaptureOption func(*ReaderCapture)

// WithRealtime paces reads to the sample rate, so a file plays back like a
// live microphone instead of draining at disk speed.
func WithRealtime() CaptureOption {
	return func(c *ReaderCapture) { c.realtime = true }
}

// NewReaderCapture returns a capture reading rate-Hz PCM from sources made
// by open.
func NewReaderCapture(open OpenFunc, rate int, opts ...CaptureOption) *ReaderCapture {
	if rate <= 0 {
		rate = audio.DefaultSampleRate
	}
	c := &ReaderCapture{open: open, rate: rate}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NewFileCapture reads raw PCM from path. The path "-" reads standard input,
// which can only be opened once.
func NewFileCapture(path string, rate int, opts ...CaptureOption) *ReaderCapture {
	open := func() (io.ReadCloser, error) {
		if path == "-" {
			return io.NopCloser(os.Stdin), nil
		}
		return os.Open(path)
	}
	return NewReaderCapture(open, rate, opts...)
}

// Open implements [audio.Capture].
func (c *ReaderCapture) Open(_ context.Context) (audio.Stream, error) {
	rc, err := c.open()
	if err != nil {
		return nil, fmt.Errorf("pipe: open capture: %w", err)
	}
	s := newReaderStream(rc, nil)
	if c.realtime {
		s.rate = c.rate
	}
	return s, nil
}

// SampleRate implements [audio.Capture].
func (c *ReaderCapture) SampleRate() int { return c.rate }

var _ audio.Capture = (*ReaderCapture)(nil)

// readerStream decodes s16le from rc.
type readerStream struct {
	rc      io.ReadCloser
	onClose func() error

	// rate, when positive, paces reads to real time.
	rate  int
	start time.Time
	read  int64

	buf   []byte
	carry []byte

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newReaderStream(rc io.ReadCloser, onClose func() error) *readerStream {
	return &readerStream{rc: rc, onClose: onClose, closed: make(chan struct{})}
}

// Read implements [audio.Stream].
func (s *readerStream) Read(p []int16) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	select {
	case <-s.closed:
		return 0, io.EOF
	default:
	}
	if err := s.pace(len(p)); err != nil {
		return 0, err
	}

	need := len(p)*2 - len(s.carry)
	if cap(s.buf) < need {
		s.buf = make([]byte, need)
	}
	n, err := s.rc.Read(s.buf[:need])
	data := append(s.carry, s.buf[:n]...)

	samples := len(data) / 2
	for i := range samples {
		p[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	s.carry = append(s.carry[:0], data[samples*2:]...)
	s.read += int64(samples)

	if err != nil && samples > 0 {
		// Deliver what we have; the error repeats on the next call.
		return samples, nil
	}
	return samples, err
}

// pace sleeps until n more samples are due at the stream rate.
func (s *readerStream) pace(n int) error {
	if s.rate <= 0 {
		return nil
	}
	if s.start.IsZero() {
		s.start = time.Now()
		return nil
	}
	due := s.start.Add(time.Duration(s.read) * time.Second / time.Duration(s.rate))
	wait := time.Until(due)
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-s.closed:
		return io.EOF
	case <-t.C:
		return nil
	}
}

// Close implements [audio.Stream].
func (s *readerStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		err := s.rc.Close()
		if s.onClose != nil {
			err = errors.Join(err, s.onClose())
		}
		s.closeErr = err
	})
	return s.closeErr
}

// CommandCapture records from an external process printing raw PCM to its
// standard output, arecord by default.
type CommandCapture struct {
	path   string
	device string
	rate   int
	log    *slog.Logger
}

// NewCommandCapture returns an arecord capture on device at rate. An empty
// device or "default" uses the ALSA default device.
func NewCommandCapture(device string, rate int, log *slog.Logger) *CommandCapture {
	if rate <= 0 {
		rate = audio.DefaultSampleRate
	}
	if log == nil {
		log = slog.Default()
	}
	return &CommandCapture{path: "arecord", device: device, rate: rate, log: log}
}

// Args returns the arecord command line for this capture.
func (c *CommandCapture) Args() []string {
	return alsaArgs(c.device, c.rate)
}

// Open starts the recorder process. The process lives until the stream is
// closed; ctx only bounds its startup.
func (c *CommandCapture) Open(ctx context.Context) (audio.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	proc, err := startProcess(c.path, c.Args(), c.log)
	if err != nil {
		return nil, fmt.Errorf("pipe: start %s: %w", c.path, err)
	}
	stdout, err := proc.cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("pipe: %s stdout: %w", c.path, err)
	}
	if err := proc.start(); err != nil {
		return nil, fmt.Errorf("pipe: start %s: %w", c.path, err)
	}
	c.log.Info("pipe: capture started", "cmd", c.path, "device", c.device, "rate", c.rate)
	return newReaderStream(stdout, proc.stop), nil
}

// SampleRate implements [audio.Capture].
func (c *CommandCapture) SampleRate() int { return c.rate }

var _ audio.Capture = (*CommandCapture)(nil)

// alsaArgs builds the shared arecord/aplay arguments for raw mono s16le.
func alsaArgs(device string, rate int) []string {
	args := []string{"-q", "-t", "raw", "-f", "S16_LE", "-c", "1", "-r", fmt.Sprint(rate)}
	if device != "" && device != "default" {
		args = append(args, "-D", device)
	}
	return args
}
