//go:build !onnx

package classifier

// ONNXAvailable reports whether the ONNX backend is compiled in.
func ONNXAvailable() bool { return false }

// NewONNX returns [ErrONNXUnavailable] when built without the onnx tag.
func NewONNX(ONNXConfig) (Classifier, error) {
	return nil, ErrONNXUnavailable
}
