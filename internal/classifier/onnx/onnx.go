// Package onnx registers the ONNX Runtime backend. The onnxruntime shared
// library is loaded on first use.
package onnx

import (
	"errors"
	"fmt"
	"os"
	"sync"

	onnxrt "github.com/yalue/onnxruntime_go"

	"github.com/dj-oyu/lesion-detector/internal/classifier"
	"github.com/dj-oyu/lesion-detector/internal/logger"
	"github.com/dj-oyu/lesion-detector/internal/tensor"
)

func init() {
	classifier.Register(classifier.BackendONNX, func(path string, opts classifier.Options) (classifier.Model, error) {
		m, err := Open(path, opts)
		if err != nil {
			return nil, err
		}
		return m, nil
	})
}

// ErrNoLibrary reports that no onnxruntime shared library was found.
var ErrNoLibrary = errors.New("onnxruntime shared library not found")

var libraryPaths = []string{
	"/usr/local/lib/libonnxruntime.so",
	"/usr/lib/libonnxruntime.so",
	"/usr/lib/aarch64-linux-gnu/libonnxruntime.so",
	"/opt/onnxruntime/cpu/lib/libonnxruntime.so",
}

var initMu sync.Mutex

// Model runs an ONNX graph through onnxruntime. Inputs declared as NCHW
// are transposed from the NHWC contract on every run.
type Model struct {
	session *onnxrt.DynamicAdvancedSession
	in      tensor.Spec
	out     tensor.Spec
	nchw    bool
	shape   onnxrt.Shape
	f32     []float32
	u8      []uint8
}

func initRuntime(library string) error {
	initMu.Lock()
	defer initMu.Unlock()

	if onnxrt.IsInitialized() {
		return nil
	}
	if library == "" {
		for _, p := range libraryPaths {
			if _, err := os.Stat(p); err == nil {
				library = p
				break
			}
		}
	}
	if library == "" {
		return ErrNoLibrary
	}
	onnxrt.SetSharedLibraryPath(library)
	if err := onnxrt.InitializeEnvironment(); err != nil {
		return fmt.Errorf("init onnx: %w", err)
	}
	return nil
}

func dtypeOf(t onnxrt.TensorElementDataType) (tensor.DType, error) {
	switch t {
	case onnxrt.TensorElementDataTypeFloat:
		return tensor.Float32, nil
	case onnxrt.TensorElementDataTypeUint8:
		return tensor.Uint8, nil
	default:
		return 0, fmt.Errorf("%w: unsupported onnx element type %v", classifier.ErrConfig, t)
	}
}

// dim resolves a possibly dynamic dimension.
func dim(d int64, fallback int) int {
	if d > 0 {
		return int(d)
	}
	return fallback
}

// Open loads path. Dynamic height and width fall back to
// opts.InputHeight and opts.InputWidth.
func Open(path string, opts classifier.Options) (*Model, error) {
	if err := initRuntime(opts.ONNXLibrary); err != nil {
		return nil, fmt.Errorf("%w: %w", classifier.ErrConfig, err)
	}

	inputs, outputs, err := onnxrt.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("%w: io info: %v", classifier.ErrConfig, err)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return nil, fmt.Errorf("%w: unexpected io (in:%d out:%d)", classifier.ErrConfig, len(inputs), len(outputs))
	}
	inInfo, outInfo := inputs[0], outputs[0]
	if len(inInfo.Dimensions) != 4 {
		return nil, fmt.Errorf("%w: expected 4D input, got %dD", classifier.ErrConfig, len(inInfo.Dimensions))
	}

	m := &Model{}
	inType, err := dtypeOf(inInfo.DataType)
	if err != nil {
		return nil, err
	}
	d := inInfo.Dimensions
	var h, w int
	if d[1] == 3 && d[3] != 3 {
		m.nchw = true
		h, w = dim(d[2], opts.InputHeight), dim(d[3], opts.InputWidth)
		m.shape = onnxrt.NewShape(1, 3, int64(h), int64(w))
	} else {
		h, w = dim(d[1], opts.InputHeight), dim(d[2], opts.InputWidth)
		m.shape = onnxrt.NewShape(1, int64(h), int64(w), 3)
	}
	m.in = tensor.ImageSpec(h, w, inType)
	if m.nchw {
		if inType == tensor.Uint8 {
			m.u8 = make([]uint8, m.in.Shape.Elements())
		} else {
			m.f32 = make([]float32, m.in.Shape.Elements())
		}
	}

	outType, err := dtypeOf(outInfo.DataType)
	if err != nil {
		return nil, err
	}
	classes := 1
	for _, c := range outInfo.Dimensions {
		classes *= dim(c, 1)
	}
	m.out = tensor.Spec{Shape: tensor.Shape{1, classes}, DType: outType}

	sessOpts, err := onnxrt.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session opts: %w", err)
	}
	defer sessOpts.Destroy()
	if opts.NumThreads > 0 {
		if err := sessOpts.SetIntraOpNumThreads(opts.NumThreads); err != nil {
			logger.Warn("ONNX", "Failed to set %d intra-op threads, using the runtime default: %v", opts.NumThreads, err)
		}
	}

	m.session, err = onnxrt.NewDynamicAdvancedSession(path, []string{inInfo.Name}, []string{outInfo.Name}, sessOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: session: %v", classifier.ErrConfig, err)
	}
	return m, nil
}

func (m *Model) InputSpec() tensor.Spec {
	return m.in
}

func (m *Model) OutputSpec() tensor.Spec {
	return m.out
}

func (m *Model) Run(in, out *tensor.Tensor) error {
	h, w := m.in.Shape[1], m.in.Shape[2]

	var input onnxrt.Value
	var err error
	switch in.DType {
	case tensor.Uint8:
		data := in.U8
		if m.nchw {
			classifier.ToNCHW(m.u8, in.U8, h, w)
			data = m.u8
		}
		input, err = onnxrt.NewTensor(m.shape, data)
	default:
		data := in.F32
		if m.nchw {
			classifier.ToNCHW(m.f32, in.F32, h, w)
			data = m.f32
		}
		input, err = onnxrt.NewTensor(m.shape, data)
	}
	if err != nil {
		return fmt.Errorf("tensor: %w", err)
	}
	defer input.Destroy()

	outputs := []onnxrt.Value{nil}
	if err := m.session.Run([]onnxrt.Value{input}, outputs); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	switch t := outputs[0].(type) {
	case *onnxrt.Tensor[float32]:
		if out.DType != tensor.Float32 {
			return fmt.Errorf("unexpected output type %T", outputs[0])
		}
		copy(out.F32, t.GetData())
	case *onnxrt.Tensor[uint8]:
		if out.DType != tensor.Uint8 {
			return fmt.Errorf("unexpected output type %T", outputs[0])
		}
		copy(out.U8, t.GetData())
	default:
		return fmt.Errorf("unexpected output type %T", outputs[0])
	}
	return nil
}

func (m *Model) Close() error {
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}
