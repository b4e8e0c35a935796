// Package tflite registers the TensorFlow Lite backend. It links
// libtensorflowlite_c.
package tflite

import (
	"fmt"

	tfl "github.com/mattn/go-tflite"

	"github.com/dj-oyu/lesion-detector/internal/classifier"
	"github.com/dj-oyu/lesion-detector/internal/tensor"
)

func init() {
	classifier.Register(classifier.BackendTFLite, func(path string, opts classifier.Options) (classifier.Model, error) {
		m, err := Open(path, opts)
		if err != nil {
			return nil, err
		}
		return m, nil
	})
}

// Model runs a TensorFlow Lite flatbuffer.
type Model struct {
	model   *tfl.Model
	options *tfl.InterpreterOptions
	interp  *tfl.Interpreter
	in      tensor.Spec
	out     tensor.Spec
}

// Open loads path and allocates the interpreter tensors. The input and
// output contracts are read from the flatbuffer.
func Open(path string, opts classifier.Options) (*Model, error) {
	model := tfl.NewModelFromFile(path)
	if model == nil {
		return nil, fmt.Errorf("%w: cannot load tflite model %s", classifier.ErrConfig, path)
	}

	options := tfl.NewInterpreterOptions()
	if opts.NumThreads > 0 {
		options.SetNumThread(opts.NumThreads)
	}

	m := &Model{model: model, options: options}
	m.interp = tfl.NewInterpreter(model, options)
	if m.interp == nil {
		m.Close()
		return nil, fmt.Errorf("%w: cannot create tflite interpreter", classifier.ErrConfig)
	}
	if status := m.interp.AllocateTensors(); status != tfl.OK {
		m.Close()
		return nil, fmt.Errorf("%w: allocate tensors: status %d", classifier.ErrConfig, status)
	}

	var err error
	if m.in, err = specOf(m.interp.GetInputTensor(0)); err != nil {
		m.Close()
		return nil, fmt.Errorf("input: %w", err)
	}
	if m.out, err = specOf(m.interp.GetOutputTensor(0)); err != nil {
		m.Close()
		return nil, fmt.Errorf("output: %w", err)
	}
	return m, nil
}

func specOf(t *tfl.Tensor) (tensor.Spec, error) {
	if t == nil {
		return tensor.Spec{}, fmt.Errorf("%w: missing tensor", classifier.ErrConfig)
	}
	shape := make(tensor.Shape, t.NumDims())
	for i := range shape {
		shape[i] = t.Dim(i)
	}
	switch t.Type() {
	case tfl.Float32:
		return tensor.Spec{Shape: shape, DType: tensor.Float32}, nil
	case tfl.UInt8:
		return tensor.Spec{Shape: shape, DType: tensor.Uint8}, nil
	default:
		return tensor.Spec{}, fmt.Errorf("%w: unsupported tflite type %v", classifier.ErrConfig, t.Type())
	}
}

func (m *Model) InputSpec() tensor.Spec {
	return m.in
}

func (m *Model) OutputSpec() tensor.Spec {
	return m.out
}

func (m *Model) Run(in, out *tensor.Tensor) error {
	input := m.interp.GetInputTensor(0)
	switch in.DType {
	case tensor.Uint8:
		copy(input.UInt8s(), in.U8)
	default:
		copy(input.Float32s(), in.F32)
	}

	if status := m.interp.Invoke(); status != tfl.OK {
		return fmt.Errorf("tflite invoke: status %d", status)
	}

	output := m.interp.GetOutputTensor(0)
	switch out.DType {
	case tensor.Uint8:
		copy(out.U8, output.UInt8s())
	default:
		copy(out.F32, output.Float32s())
	}
	return nil
}

func (m *Model) Close() error {
	if m.interp != nil {
		m.interp.Delete()
		m.interp = nil
	}
	if m.options != nil {
		m.options.Delete()
		m.options = nil
	}
	if m.model != nil {
		m.model.Delete()
		m.model = nil
	}
	return nil
}
