package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/hushling/internal/observe"
	"github.com/MrWong99/hushling/pkg/classifier"
	"github.com/MrWong99/hushling/pkg/features"
)

// ClassifierFallback implements [classifier.Classifier] over a [Group] of
// backends. Each call is served by the first backend whose breaker admits
// it and which classifies without error.
//
// Fallback backends only see the windows the primary failed on, so a
// stateful fallback such as the energy classifier calibrates on those.
type ClassifierFallback struct {
	group   *Group[classifier.Classifier]
	metrics *observe.Metrics
	log     *slog.Logger

	mu     sync.Mutex
	served string
}

var _ classifier.Classifier = (*ClassifierFallback)(nil)

// ClassifierFallbackOption configures a [ClassifierFallback].
type ClassifierFallbackOption func(*ClassifierFallback)

// WithFallbackMetrics sets the metrics sink. Defaults to
// [observe.DefaultMetrics].
func WithFallbackMetrics(m *observe.Metrics) ClassifierFallbackOption {
	return func(f *ClassifierFallback) { f.metrics = m }
}

// NewClassifierFallback returns a fallback classifier with primary as the
// preferred backend.
func NewClassifierFallback(primaryName string, primary classifier.Classifier, cfg BreakerConfig, opts ...ClassifierFallbackOption) *ClassifierFallback {
	f := &ClassifierFallback{
		group:  NewGroup(primaryName, primary, cfg),
		log:    cfg.Logger,
		served: primaryName,
	}
	for _, o := range opts {
		o(f)
	}
	if f.metrics == nil {
		f.metrics = observe.DefaultMetrics()
	}
	if f.log == nil {
		f.log = slog.Default()
	}
	return f
}

// AddFallback registers another backend, tried after those already added.
func (f *ClassifierFallback) AddFallback(name string, c classifier.Classifier) {
	f.group.Add(name, c)
}

// Backends lists the backend names in the order they are tried.
func (f *ClassifierFallback) Backends() []string { return f.group.Names() }

// Served returns the name of the backend that served the latest call.
func (f *ClassifierFallback) Served() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.served
}

// Initialize initialises every backend. Backends that fail are released and
// dropped from the group. It fails only when none initialised.
func (f *ClassifierFallback) Initialize(ctx context.Context) error {
	var (
		failed []string
		errs   []error
	)
	f.group.Each(func(name string, c classifier.Classifier) {
		if err := c.Initialize(ctx); err != nil {
			f.log.Warn("resilience: classifier backend unavailable", "backend", name, "err", err)
			failed = append(failed, name)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			_ = c.Release()
		}
	})
	for _, name := range failed {
		f.group.Remove(name)
	}
	if f.group.Len() == 0 {
		return fmt.Errorf("resilience: no classifier backend initialised: %w", errors.Join(errs...))
	}
	names := f.group.Names()
	f.mu.Lock()
	f.served = names[0]
	f.mu.Unlock()
	return nil
}

// Classify labels m using the first healthy backend.
func (f *ClassifierFallback) Classify(ctx context.Context, m features.Matrix) (classifier.Result, error) {
	res, name, fellBack, err := Call(f.group, func(c classifier.Classifier) (classifier.Result, error) {
		return c.Classify(ctx, m)
	})
	if err != nil {
		return classifier.Result{}, err
	}
	if fellBack {
		f.metrics.RecordClassifierFallback(ctx, name)
	}
	f.mu.Lock()
	prev := f.served
	f.served = name
	f.mu.Unlock()
	if prev != name {
		f.log.Info("resilience: classifier backend switched", "from", prev, "to", name)
	}
	return res, nil
}

// Release releases every backend.
func (f *ClassifierFallback) Release() error {
	var errs []error
	f.group.Each(func(name string, c classifier.Classifier) {
		if err := c.Release(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	})
	return errors.Join(errs...)
}
