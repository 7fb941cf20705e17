package resilience_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/hushling/internal/observe"
	"github.com/MrWong99/hushling/internal/resilience"
	"github.com/MrWong99/hushling/pkg/classifier"
	classifiermock "github.com/MrWong99/hushling/pkg/classifier/mock"
	"github.com/MrWong99/hushling/pkg/features"
)

var errModel = errors.New("model failed")

func newFallback(t *testing.T, primary, fallback classifier.Classifier) (*resilience.ClassifierFallback, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	f := resilience.NewClassifierFallback("onnx", primary,
		resilience.BreakerConfig{MaxFailures: 2, CoolOff: time.Hour},
		resilience.WithFallbackMetrics(m),
	)
	f.AddFallback("energy", fallback)
	return f, reader
}

func fallbackCount(t *testing.T, reader *sdkmetric.ManualReader) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "hushling.classifier.fallbacks" {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

var matrix = features.Matrix{{1, 2, 3}}

func TestClassifierFallback_PrimaryServes(t *testing.T) {
	t.Parallel()

	primary := &classifiermock.Classifier{Result: classifier.Result{Cry: 0.9, Class: classifier.ClassCry}}
	secondary := &classifiermock.Classifier{}
	f, reader := newFallback(t, primary, secondary)

	if err := f.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	res, err := f.Classify(context.Background(), matrix)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Class != classifier.ClassCry {
		t.Errorf("class = %v, want CRY", res.Class)
	}
	if f.Served() != "onnx" {
		t.Errorf("Served = %q, want onnx", f.Served())
	}
	if secondary.Calls() != 0 {
		t.Error("fallback called while primary healthy")
	}
	if n := fallbackCount(t, reader); n != 0 {
		t.Errorf("fallbacks = %d, want 0", n)
	}
}

func TestClassifierFallback_FailsOver(t *testing.T) {
	t.Parallel()

	primary := &classifiermock.Classifier{ClassifyErr: errModel}
	secondary := &classifiermock.Classifier{Result: classifier.Result{Noise: 0.8, Class: classifier.ClassNoise}}
	f, reader := newFallback(t, primary, secondary)
	if err := f.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	for range 4 {
		res, err := f.Classify(context.Background(), matrix)
		if err != nil {
			t.Fatalf("Classify: %v", err)
		}
		if res.Class != classifier.ClassNoise {
			t.Errorf("class = %v, want NOISE", res.Class)
		}
	}
	if f.Served() != "energy" {
		t.Errorf("Served = %q, want energy", f.Served())
	}
	// The breaker opens after two failures, so the primary sees no more.
	if primary.Calls() != 2 {
		t.Errorf("primary calls = %d, want 2", primary.Calls())
	}
	if n := fallbackCount(t, reader); n != 4 {
		t.Errorf("fallbacks = %d, want 4", n)
	}
}

func TestClassifierFallback_AllFail(t *testing.T) {
	t.Parallel()

	f, _ := newFallback(t,
		&classifiermock.Classifier{ClassifyErr: errModel},
		&classifiermock.Classifier{ClassifyErr: errModel},
	)
	if err := f.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	_, err := f.Classify(context.Background(), matrix)
	if !errors.Is(err, resilience.ErrAllFailed) || !errors.Is(err, errModel) {
		t.Errorf("err = %v, want ErrAllFailed wrapping errModel", err)
	}
}

func TestClassifierFallback_InitializeDropsBrokenBackend(t *testing.T) {
	t.Parallel()

	primary := &classifiermock.Classifier{InitErr: errModel}
	secondary := &classifiermock.Classifier{}
	f, _ := newFallback(t, primary, secondary)

	if err := f.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if got := f.Backends(); !slices.Equal(got, []string{"energy"}) {
		t.Errorf("Backends = %v, want [energy]", got)
	}
	if !primary.Released() {
		t.Error("broken backend not released")
	}
	if f.Served() != "energy" {
		t.Errorf("Served = %q, want energy", f.Served())
	}
	if _, err := f.Classify(context.Background(), matrix); err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if primary.Calls() != 0 {
		t.Error("dropped backend was called")
	}
}

func TestClassifierFallback_InitializeAllBroken(t *testing.T) {
	t.Parallel()

	f, _ := newFallback(t,
		&classifiermock.Classifier{InitErr: errModel},
		&classifiermock.Classifier{InitErr: errors.New("other")},
	)
	if err := f.Initialize(context.Background()); !errors.Is(err, errModel) {
		t.Errorf("err = %v, want errModel", err)
	}
}

func TestClassifierFallback_ReleaseAll(t *testing.T) {
	t.Parallel()

	primary := &classifiermock.Classifier{}
	secondary := &classifiermock.Classifier{}
	f, _ := newFallback(t, primary, secondary)
	if err := f.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if !primary.Released() || !secondary.Released() {
		t.Error("not every backend released")
	}
}
