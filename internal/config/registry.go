package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/hushling/pkg/audio"
	"github.com/MrWong99/hushling/pkg/classifier"
)

// ErrBackendNotRegistered is returned by the Create methods when no factory
// has been registered under the requested name.
var ErrBackendNotRegistered = errors.New("config: backend not registered")

// ClassifierFactory builds an uninitialised classifier from the full config.
type ClassifierFactory func(cfg *Config) (classifier.Classifier, error)

// CaptureFactory builds a capture source.
type CaptureFactory func(cfg AudioConfig) (audio.Capture, error)

// OutputFactory builds a playback sink.
type OutputFactory func(cfg AudioConfig) (audio.Sink, error)

// Registry maps backend names to their constructors. It is safe for
// concurrent use.
type Registry struct {
	mu          sync.RWMutex
	classifiers map[string]ClassifierFactory
	captures    map[string]CaptureFactory
	outputs     map[string]OutputFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		classifiers: make(map[string]ClassifierFactory),
		captures:    make(map[string]CaptureFactory),
		outputs:     make(map[string]OutputFactory),
	}
}

// RegisterClassifier registers a classifier factory under name. A later
// registration with the same name replaces the earlier one.
func (r *Registry) RegisterClassifier(name string, f ClassifierFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classifiers[name] = f
}

// RegisterCapture registers a capture factory under name.
func (r *Registry) RegisterCapture(name string, f CaptureFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.captures[name] = f
}

// RegisterOutput registers a playback sink factory under name.
func (r *Registry) RegisterOutput(name string, f OutputFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs[name] = f
}

// CreateClassifier builds the classifier registered under name.
func (r *Registry) CreateClassifier(name string, cfg *Config) (classifier.Classifier, error) {
	r.mu.RLock()
	f, ok := r.classifiers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: classifier/%q", ErrBackendNotRegistered, name)
	}
	return f(cfg)
}

// CreateCapture builds the capture source named in cfg.Capture.
func (r *Registry) CreateCapture(cfg AudioConfig) (audio.Capture, error) {
	r.mu.RLock()
	f, ok := r.captures[cfg.Capture.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: capture/%q", ErrBackendNotRegistered, cfg.Capture.Name)
	}
	return f(cfg)
}

// CreateOutput builds the playback sink named in cfg.Output.
func (r *Registry) CreateOutput(cfg AudioConfig) (audio.Sink, error) {
	r.mu.RLock()
	f, ok := r.outputs[cfg.Output.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: output/%q", ErrBackendNotRegistered, cfg.Output.Name)
	}
	return f(cfg)
}

// Classifiers returns the registered classifier names, sorted.
func (r *Registry) Classifiers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.classifiers))
	for n := range r.classifiers {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
