// Package mock provides a test double for the classifier.Classifier interface.
//
// Results are served from Results in order; once exhausted, Result is
// returned for every further call. Every call is recorded.
//
// Example:
//
//	c := &mock.Classifier{
//	    Results: []classifier.Result{{Class: classifier.ClassCry, Cry: 0.9}},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hushling/pkg/classifier"
	"github.com/MrWong99/hushling/pkg/features"
)

// Classifier is a mock implementation of classifier.Classifier.
type Classifier struct {
	mu sync.Mutex

	// Results are returned by successive Classify calls.
	Results []classifier.Result

	// Result is returned once Results is exhausted. The zero value is a
	// SILENCE result with all probabilities zero.
	Result classifier.Result

	// ClassifyErr, if non-nil, is returned from every Classify call.
	ClassifyErr error

	// InitErr, if non-nil, is returned from Initialize.
	InitErr error

	// OnClassify, if set, is invoked on every Classify call before the
	// result is chosen.
	OnClassify func(features.Matrix)

	// ClassifyCalls records the matrix of every Classify call.
	ClassifyCalls []features.Matrix

	// CallCountInitialize and CallCountRelease count lifecycle calls.
	CallCountInitialize int
	CallCountRelease    int
}

// Initialize records the call and returns InitErr.
func (c *Classifier) Initialize(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountInitialize++
	return c.InitErr
}

// Classify records the call and returns the next scripted result.
func (c *Classifier) Classify(_ context.Context, m features.Matrix) (classifier.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ClassifyCalls = append(c.ClassifyCalls, m)
	if c.OnClassify != nil {
		c.OnClassify(m)
	}
	if c.ClassifyErr != nil {
		return classifier.Result{}, c.ClassifyErr
	}
	if len(c.Results) > 0 {
		r := c.Results[0]
		c.Results = c.Results[1:]
		return r, nil
	}
	return c.Result, nil
}

// Release records the call.
func (c *Classifier) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountRelease++
	return nil
}

// Calls returns how many times Classify was called. Thread-safe.
func (c *Classifier) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ClassifyCalls)
}

// Released reports whether Release was called. Thread-safe.
func (c *Classifier) Released() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountRelease > 0
}

// Ensure Classifier implements classifier.Classifier at compile time.
var _ classifier.Classifier = (*Classifier)(nil)
