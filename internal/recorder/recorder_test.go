package recorder_test

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/hushling/internal/observe"
	"github.com/MrWong99/hushling/internal/playback"
	"github.com/MrWong99/hushling/internal/recorder"
	audiomock "github.com/MrWong99/hushling/pkg/audio/mock"
	"github.com/MrWong99/hushling/pkg/audio/opus"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func toneStream(rate int) *audiomock.Stream {
	s := audiomock.NewStream(0)
	var n int
	s.Generate = func(p []int16) {
		for i := range p {
			p[i] = int16(6000 * math.Sin(2*math.Pi*400*float64(n)/float64(rate)))
			n++
		}
	}
	return s
}

func newRecorder(t *testing.T, capture *audiomock.Capture) (*recorder.Recorder, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "data")
	return recorder.New(capture, dir, recorder.WithMetrics(testMetrics(t))), dir
}

func TestRecord_WritesOpusFile(t *testing.T) {
	t.Parallel()

	rec, dir := newRecorder(t, &audiomock.Capture{StreamResult: toneStream(16000)})
	if rec.HasRecording() {
		t.Fatal("HasRecording before recording")
	}
	if _, ok := rec.RecordingURI(); ok {
		t.Fatal("RecordingURI before recording")
	}

	uri, err := rec.Record(context.Background(), 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !strings.HasPrefix(uri, "file://") || !strings.HasSuffix(uri, recorder.FileName) {
		t.Errorf("uri = %q", uri)
	}
	if rec.Path() != filepath.Join(dir, recorder.FileName) {
		t.Errorf("Path = %q", rec.Path())
	}
	if !rec.HasRecording() {
		t.Error("HasRecording = false after recording")
	}

	pcm, rate, err := opus.DecodeFile(rec.Path())
	if err != nil {
		t.Fatalf("DecodeFile: %v", err)
	}
	if rate != 16000 || len(pcm) != 3200 {
		t.Errorf("decoded %d samples @ %d, want 3200 @ 16000", len(pcm), rate)
	}

	// The URI resolves to the same file.
	path, err := playback.ResolveTrack(uri, "")
	if err != nil {
		t.Fatalf("ResolveTrack(%q): %v", uri, err)
	}
	if path != rec.Path() {
		abs, _ := filepath.Abs(rec.Path())
		if path != abs {
			t.Errorf("resolved %q, want %q", path, abs)
		}
	}
}

func TestRecord_ResamplesCaptureRate(t *testing.T) {
	t.Parallel()

	rec, _ := newRecorder(t, &audiomock.Capture{StreamResult: toneStream(8000), Rate: 8000})
	if _, err := rec.Record(context.Background(), 100*time.Millisecond); err != nil {
		t.Fatalf("Record: %v", err)
	}
	pcm, _, err := opus.DecodeFile(rec.Path())
	if err != nil {
		t.Fatalf("DecodeFile: %v", err)
	}
	if len(pcm) != 1600 {
		t.Errorf("decoded %d samples, want 1600", len(pcm))
	}
}

func TestRecord_OpenError(t *testing.T) {
	t.Parallel()

	openErr := errors.New("mic busy")
	rec, _ := newRecorder(t, &audiomock.Capture{OpenErr: openErr})
	if _, err := rec.Record(context.Background(), time.Second); !errors.Is(err, openErr) {
		t.Errorf("err = %v, want open error", err)
	}
	if rec.HasRecording() {
		t.Error("failed recording left a file behind")
	}
}

func TestRecord_BusyAndStop(t *testing.T) {
	t.Parallel()

	stream := audiomock.NewStream(1)
	rec, _ := newRecorder(t, &audiomock.Capture{StreamResult: stream})

	type result struct {
		uri string
		err error
	}
	done := make(chan result, 1)
	go func() {
		uri, err := rec.Record(context.Background(), 10*time.Second)
		done <- result{uri, err}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !rec.Recording() {
		if time.Now().After(deadline) {
			t.Fatal("recording never started")
		}
		time.Sleep(time.Millisecond)
	}
	if _, err := rec.Record(context.Background(), time.Second); !errors.Is(err, recorder.ErrBusy) {
		t.Errorf("second Record = %v, want ErrBusy", err)
	}

	stream.Chunks <- make([]int16, 1000)
	for len(stream.Chunks) > 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	rec.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("Record after Stop: %v", res.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Record did not return after Stop")
	}
	pcm, _, err := opus.DecodeFile(rec.Path())
	if err != nil {
		t.Fatalf("DecodeFile: %v", err)
	}
	// 1000 samples round up to four 320-sample frames.
	if len(pcm) != 1280 {
		t.Errorf("decoded %d samples, want 1280", len(pcm))
	}
	if rec.Recording() {
		t.Error("still recording after Stop")
	}
}

func TestRecord_NothingCaptured(t *testing.T) {
	t.Parallel()

	stream := audiomock.NewStream(0)
	rec, _ := newRecorder(t, &audiomock.Capture{StreamResult: stream})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := rec.Record(ctx, time.Second); !errors.Is(err, recorder.ErrEmpty) {
		t.Errorf("err = %v, want ErrEmpty", err)
	}
}

// ─── preview ──────────────────────────────────────────────────────────────────

type fakePlayer struct {
	mu       sync.Mutex
	requests []playback.Request
	stops    int
	block    bool
}

func (p *fakePlayer) PlayLoops(ctx context.Context, req playback.Request) error {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	block := p.block
	p.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (p *fakePlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
}

func TestPreview_NoRecording(t *testing.T) {
	t.Parallel()

	rec, _ := newRecorder(t, &audiomock.Capture{})
	player := &fakePlayer{}
	ok, err := recorder.NewPreviewer(rec, player, 0.7).Play(context.Background())
	if ok || err != nil {
		t.Errorf("Play = %v, %v; want false, nil", ok, err)
	}
	if len(player.requests) != 0 {
		t.Error("player used without a recording")
	}
}

func writeRecording(t *testing.T, rec *recorder.Recorder) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(rec.Path()), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := opus.EncodeFile(rec.Path(), make([]int16, 3200), 16000); err != nil {
		t.Fatal(err)
	}
}

func TestPreview_PlaysOnce(t *testing.T) {
	t.Parallel()

	rec, _ := newRecorder(t, &audiomock.Capture{})
	writeRecording(t, rec)
	player := &fakePlayer{}

	ok, err := recorder.NewPreviewer(rec, player, 0.4).Play(context.Background())
	if !ok || err != nil {
		t.Fatalf("Play = %v, %v; want true, nil", ok, err)
	}
	uri, _ := rec.RecordingURI()
	req := player.requests[0]
	if req.Track != uri || req.Loops != 1 || req.TargetVolume != 0.4 {
		t.Errorf("request = %+v", req)
	}
	if player.stops != 1 {
		t.Errorf("player stopped %d times, want 1", player.stops)
	}
}

func TestPreview_Stop(t *testing.T) {
	t.Parallel()

	rec, _ := newRecorder(t, &audiomock.Capture{})
	writeRecording(t, rec)
	player := &fakePlayer{block: true}
	pv := recorder.NewPreviewer(rec, player, 0.7)

	done := make(chan error, 1)
	go func() {
		_, err := pv.Play(context.Background())
		done <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for !pv.Playing() {
		if time.Now().After(deadline) {
			t.Fatal("preview never started")
		}
		time.Sleep(time.Millisecond)
	}
	pv.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Play after Stop = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Play did not return after Stop")
	}
	if pv.Playing() {
		t.Error("Playing = true after Stop")
	}
}
