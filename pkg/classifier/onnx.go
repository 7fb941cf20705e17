//go:build onnx

package classifier

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/MrWong99/hushling/pkg/features"
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// ONNXAvailable reports whether the ONNX backend is compiled in.
func ONNXAvailable() bool { return true }

// ONNX classifies feature matrices with a trained model through ONNX Runtime.
// The model takes a [1, frames, bins] float32 tensor and returns
// [silence, noise, cry] probabilities.
type ONNX struct {
	cfg      ONNXConfig
	smoother *Smoother

	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// NewONNX returns an uninitialised ONNX classifier. The model is loaded by
// [ONNX.Initialize].
func NewONNX(cfg ONNXConfig) (Classifier, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("classifier: onnx: model path is required")
	}
	cfg.applyDefaults()
	return &ONNX{cfg: cfg, smoother: NewSmoother(cfg.SmootherWindow)}, nil
}

// Initialize loads the runtime (once per process) and the model.
func (o *ONNX) Initialize(context.Context) error {
	ortInitOnce.Do(func() {
		lib, err := ResolveRuntimeLibrary(o.cfg.LibraryPath)
		if err != nil {
			ortInitErr = err
			return
		}
		ort.SetSharedLibraryPath(lib)
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return fmt.Errorf("classifier: onnx: %w", ortInitErr)
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(o.cfg.Frames), int64(o.cfg.Bins)))
	if err != nil {
		return fmt.Errorf("classifier: onnx: create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3))
	if err != nil {
		input.Destroy()
		return fmt.Errorf("classifier: onnx: create output tensor: %w", err)
	}
	session, err := ort.NewAdvancedSession(
		o.cfg.ModelPath,
		[]string{o.cfg.InputName},
		[]string{o.cfg.OutputName},
		[]ort.Value{input},
		[]ort.Value{output},
		nil,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return fmt.Errorf("classifier: onnx: create session: %w", err)
	}

	o.input, o.output, o.session = input, output, session
	return nil
}

// Classify runs one inference.
func (o *ONNX) Classify(_ context.Context, m features.Matrix) (Result, error) {
	if len(m) == 0 || len(m[0]) == 0 {
		return silenceResult(), nil
	}
	if o.session == nil {
		return Result{}, fmt.Errorf("classifier: onnx: not initialised")
	}

	fitMatrix(o.input.GetData(), o.cfg.Frames, o.cfg.Bins, m)
	if err := o.session.Run(); err != nil {
		return Result{}, fmt.Errorf("classifier: onnx: inference: %w", err)
	}
	return o.smoother.Smooth(decideONNX(o.output.GetData(), o.cfg.CryThreshold)), nil
}

// Release destroys the session and tensors. Safe to call more than once.
func (o *ONNX) Release() error {
	if o.session != nil {
		o.session.Destroy()
		o.session = nil
	}
	if o.input != nil {
		o.input.Destroy()
		o.input = nil
	}
	if o.output != nil {
		o.output.Destroy()
		o.output = nil
	}
	return nil
}

var _ Classifier = (*ONNX)(nil)
