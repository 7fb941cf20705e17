package classifier

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/MrWong99/hushling/pkg/features"
)

// ErrONNXUnavailable is returned by [NewONNX] when the binary was built
// without the "onnx" tag.
var ErrONNXUnavailable = errors.New("classifier: onnx backend not available (build without -tags onnx)")

// ORTLibEnv overrides the ONNX Runtime shared library location.
const ORTLibEnv = "HUSHLING_ORT_LIB_PATH"

// ONNXConfig configures the ONNX backend.
type ONNXConfig struct {
	// ModelPath is the .onnx file to load. Required.
	ModelPath string

	// LibraryPath is the ONNX Runtime shared library. Empty means resolve it
	// with [ResolveRuntimeLibrary].
	LibraryPath string

	// InputName and OutputName are the graph tensor names. Default "input"
	// and "output".
	InputName  string
	OutputName string

	// CryThreshold is the cry probability above which CRY is reported.
	// Default 0.5.
	CryThreshold float64

	// Frames and Bins fix the model input shape [1, Frames, Bins]. Matrices
	// with a different shape are truncated or zero-padded to fit.
	Frames int
	Bins   int

	// SmootherWindow is the temporal smoother length. Default 5.
	SmootherWindow int
}

func (c *ONNXConfig) applyDefaults() {
	if c.InputName == "" {
		c.InputName = "input"
	}
	if c.OutputName == "" {
		c.OutputName = "output"
	}
	if c.CryThreshold <= 0 {
		c.CryThreshold = 0.5
	}
	if c.Frames <= 0 {
		c.Frames = 1
	}
	if c.Bins <= 0 {
		c.Bins = 64
	}
	if c.SmootherWindow <= 0 {
		c.SmootherWindow = 5
	}
}

// decideONNX maps raw model outputs [silence, noise, cry] to a [Result].
func decideONNX(probs []float32, cryThreshold float64) Result {
	if len(probs) < 3 {
		return silenceResult()
	}
	r := Result{
		Silence: clamp(float64(probs[0]), 0, 1),
		Noise:   clamp(float64(probs[1]), 0, 1),
		Cry:     clamp(float64(probs[2]), 0, 1),
	}
	switch {
	case r.Cry > cryThreshold:
		r.Class = ClassCry
	case r.Noise > r.Silence:
		r.Class = ClassNoise
	default:
		r.Class = ClassSilence
	}
	return r
}

// fitMatrix copies m into dst laid out as frames×bins, truncating or
// zero-padding in both dimensions.
func fitMatrix(dst []float32, frames, bins int, m features.Matrix) {
	clear(dst)
	for f := 0; f < frames && f < len(m); f++ {
		row := m[f]
		for b := 0; b < bins && b < len(row); b++ {
			dst[f*bins+b] = float32(row[b])
		}
	}
}

// ResolveRuntimeLibrary returns the ONNX Runtime shared library path.
// Search order: explicit, the HUSHLING_ORT_LIB_PATH environment variable,
// then lib/<goos>-<goarch>/ and ../lib/<goos>-<goarch>/ next to the
// executable. The working directory is never searched.
func ResolveRuntimeLibrary(explicit string) (string, error) {
	if explicit != "" {
		return checkLibFile(explicit, "library_path")
	}
	if env := os.Getenv(ORTLibEnv); env != "" {
		return checkLibFile(env, ORTLibEnv)
	}

	name := runtimeLibName()
	dir := filepath.Join("lib", runtime.GOOS+"-"+runtime.GOARCH)
	if exe, err := os.Executable(); err == nil {
		base := filepath.Dir(exe)
		for _, rel := range []string{filepath.Join(dir, name), filepath.Join("..", dir, name)} {
			p := filepath.Join(base, rel)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
	}
	return "", fmt.Errorf("classifier: onnx runtime library %s not found next to executable (set %s to override)", name, ORTLibEnv)
}

func checkLibFile(path, source string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("classifier: %s=%q: %w", source, path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("classifier: %s=%q is a directory, expected a file", source, path)
	}
	return path, nil
}

func runtimeLibName() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}
