package classifier

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dj-oyu/lesion-detector/internal/tensor"
)

// Model is a loaded classifier artifact with a declared input and output
// contract. Implementations are not required to be safe for concurrent Run
// calls.
type Model interface {
	// InputSpec returns the NHWC input contract [1, H, W, 3].
	InputSpec() tensor.Spec
	// OutputSpec returns the output contract [1, numClasses].
	OutputSpec() tensor.Spec
	// Run executes one forward pass from in into out. Both tensors match
	// the declared specs.
	Run(in, out *tensor.Tensor) error
	Close() error
}

// Backend selects a Model implementation
type Backend string

const (
	BackendAuto   Backend = ""
	BackendTFLite Backend = "tflite"
	BackendONNX   Backend = "onnx"
	BackendDNN    Backend = "dnn"
	BackendDense  Backend = "dense"
)

// Options configures model loading
type Options struct {
	Backend    Backend
	NumThreads int
	// InputHeight, InputWidth and InputDType describe the input when the
	// artifact does not declare it (OpenCV DNN, dynamic ONNX dimensions).
	InputHeight int
	InputWidth  int
	InputDType  tensor.DType
	// ONNXLibrary is the onnxruntime shared library path.
	ONNXLibrary string
}

// DefaultOptions returns options for a 224x224 float32 model.
func DefaultOptions() Options {
	return Options{
		NumThreads:  2,
		InputHeight: 224,
		InputWidth:  224,
		InputDType:  tensor.Float32,
	}
}

// DetectBackend picks a backend from the model file extension.
func DetectBackend(path string) Backend {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tflite":
		return BackendTFLite
	case ".onnx":
		return BackendONNX
	case ".json":
		return BackendDense
	default:
		return BackendDNN
	}
}

// Opener loads a model file for one backend.
type Opener func(path string, opts Options) (Model, error)

var (
	backendsMu sync.RWMutex
	backends   = map[Backend]Opener{
		BackendDense: func(path string, _ Options) (Model, error) { return LoadDenseFile(path) },
	}
)

// Register makes a backend available to Open. Native backends live in
// their own packages and register from init, so importing one links its
// runtime:
//
//	import _ "github.com/dj-oyu/lesion-detector/internal/classifier/tflite"
func Register(b Backend, open Opener) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	if open == nil {
		panic("classifier: Register opener is nil")
	}
	if _, dup := backends[b]; dup {
		panic("classifier: Register called twice for backend " + string(b))
	}
	backends[b] = open
}

// Backends returns the registered backends.
func Backends() []Backend {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	out := make([]Backend, 0, len(backends))
	for b := range backends {
		out = append(out, b)
	}
	return out
}

// Open loads the model at path with the requested (or detected) backend.
func Open(path string, opts Options) (Model, error) {
	backend := opts.Backend
	if backend == BackendAuto {
		backend = DetectBackend(path)
	}

	backendsMu.RLock()
	open, ok := backends[backend]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: backend %q is not linked into this binary", ErrConfig, backend)
	}
	return open(path, opts)
}

// CheckImageInput verifies an NHWC [1, H, W, 3] input contract.
func CheckImageInput(spec tensor.Spec) error {
	s := spec.Shape
	if len(s) != 4 || s[0] != 1 || s[1] <= 0 || s[2] <= 0 || s[3] != 3 {
		return fmt.Errorf("%w: input shape %s, want [1,H,W,3]", ErrConfig, s)
	}
	if spec.DType != tensor.Float32 && spec.DType != tensor.Uint8 {
		return fmt.Errorf("%w: input dtype %s", ErrConfig, spec.DType)
	}
	return nil
}

// classesOf returns numClasses of a [1, numClasses] output contract.
func classesOf(spec tensor.Spec) (int, error) {
	s := spec.Shape
	if len(s) != 2 || s[0] != 1 || s[1] <= 0 {
		return 0, fmt.Errorf("%w: output shape %s, want [1,numClasses]", ErrConfig, s)
	}
	if spec.DType != tensor.Float32 && spec.DType != tensor.Uint8 {
		return 0, fmt.Errorf("%w: output dtype %s", ErrConfig, spec.DType)
	}
	return s[1], nil
}

// ToNCHW transposes an NHWC image into channel-planar order.
func ToNCHW[T float32 | uint8](dst, src []T, height, width int) {
	plane := height * width
	for i := 0; i < plane; i++ {
		dst[i] = src[i*3]
		dst[plane+i] = src[i*3+1]
		dst[2*plane+i] = src[i*3+2]
	}
}
