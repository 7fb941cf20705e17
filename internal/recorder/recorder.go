// Package recorder captures the parent's own shush sample and plays it back
// for preview.
//
// A recording is a fixed-length capture encoded into an Opus packet file at
// a well-known path in the data directory. Each new recording replaces the
// previous one atomically.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MrWong99/hushling/internal/observe"
	"github.com/MrWong99/hushling/pkg/audio"
	"github.com/MrWong99/hushling/pkg/audio/opus"
)

const (
	// FileName is the name of the recording inside the data directory.
	FileName = "shush_sample.opus"

	// DefaultDuration is the length of a recording.
	DefaultDuration = 10 * time.Second

	// encodeRate is the rate recordings are stored at.
	encodeRate = audio.DefaultSampleRate
)

var (
	// ErrBusy is returned when a recording is already in progress.
	ErrBusy = errors.New("recorder: already recording")

	// ErrEmpty is returned when nothing was captured.
	ErrEmpty = errors.New("recorder: nothing captured")
)

// Option configures a [Recorder].
type Option func(*Recorder)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.log = l }
}

// Recorder records shush samples from a capture source.
type Recorder struct {
	capture audio.Capture
	path    string
	metrics *observe.Metrics
	log     *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New returns a recorder writing to [FileName] in dataDir.
func New(capture audio.Capture, dataDir string, opts ...Option) *Recorder {
	r := &Recorder{
		capture: capture,
		path:    filepath.Join(dataDir, FileName),
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Path returns the recording's file path.
func (r *Recorder) Path() string { return r.path }

// HasRecording reports whether a recording exists.
func (r *Recorder) HasRecording() bool {
	fi, err := os.Stat(r.path)
	return err == nil && fi.Mode().IsRegular() && fi.Size() > 0
}

// RecordingURI returns a file:// URI of the recording, if one exists.
func (r *Recorder) RecordingURI() (string, bool) {
	if !r.HasRecording() {
		return "", false
	}
	abs, err := filepath.Abs(r.path)
	if err != nil {
		return "", false
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String(), true
}

// Recording reports whether a recording is in progress.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

// Record captures d of audio (DefaultDuration when d ≤ 0) and stores it,
// replacing any earlier recording. It returns the recording's URI. When
// ctx ends or [Recorder.Stop] is called early, whatever was captured so far
// is kept.
func (r *Recorder) Record(ctx context.Context, d time.Duration) (uri string, err error) {
	if d <= 0 {
		d = DefaultDuration
	}

	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return "", ErrBusy
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	ctx, span := observe.StartSpan(ctx, "recorder.record")
	defer func() {
		cancel()
		r.mu.Lock()
		r.cancel = nil
		r.mu.Unlock()

		status := "ok"
		if err != nil {
			status = "error"
		}
		r.metrics.RecordRecording(context.WithoutCancel(ctx), status)
		observe.EndSpan(span, err)
	}()

	pcm, err := r.capturePCM(ctx, d)
	if err != nil {
		return "", err
	}
	if len(pcm) < opus.FrameSize(encodeRate) {
		return "", ErrEmpty
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return "", fmt.Errorf("recorder: create data dir: %w", err)
	}
	if err := opus.EncodeFile(r.path, pcm, encodeRate); err != nil {
		return "", fmt.Errorf("recorder: %w", err)
	}

	uri, _ = r.RecordingURI()
	r.log.Info("recorder: shush sample saved",
		"path", r.path,
		"duration", audio.Window(pcm).Duration(encodeRate),
	)
	return uri, nil
}

// Stop ends a recording in progress. It is a no-op otherwise.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

// capturePCM reads up to d of audio at encodeRate.
func (r *Recorder) capturePCM(ctx context.Context, d time.Duration) ([]int16, error) {
	stream, err := r.capture.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("recorder: open capture: %w", err)
	}
	rate := r.capture.SampleRate()
	want := audio.SamplesFor(d, rate)

	// Closing the stream unblocks a pending Read when ctx ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = stream.Close()
		case <-done:
		}
	}()
	defer stream.Close()

	r.log.Info("recorder: recording", "duration", d, "rate", rate)
	pcm := make([]int16, 0, want)
	chunk := make([]int16, 320)
	for len(pcm) < want {
		n, err := stream.Read(chunk[:min(len(chunk), want-len(pcm))])
		pcm = append(pcm, chunk[:n]...)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if len(pcm) == 0 {
				return nil, fmt.Errorf("recorder: read: %w", err)
			}
			r.log.Warn("recorder: capture ended early", "err", err, "samples", len(pcm))
			break
		}
	}
	return audio.ResampleMono16(pcm, rate, encodeRate), nil
}
