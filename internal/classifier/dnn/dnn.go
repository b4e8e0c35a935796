// Package dnn registers the OpenCV DNN backend. It links OpenCV through
// gocv.
package dnn

import (
	"fmt"
	"image"
	"unsafe"

	"gocv.io/x/gocv"

	"github.com/dj-oyu/lesion-detector/internal/classifier"
	"github.com/dj-oyu/lesion-detector/internal/tensor"
)

func init() {
	classifier.Register(classifier.BackendDNN, func(path string, opts classifier.Options) (classifier.Model, error) {
		m, err := Open(path, opts)
		if err != nil {
			return nil, err
		}
		return m, nil
	})
}

// Model runs any network OpenCV can read (Caffe, TensorFlow, Darknet,
// ONNX). The input size comes from Options; the class count is discovered
// with one forward pass at load time.
type Model struct {
	net gocv.Net
	in  tensor.Spec
	out tensor.Spec
}

// Open loads path with gocv.ReadNet.
func Open(path string, opts classifier.Options) (*Model, error) {
	in := tensor.ImageSpec(opts.InputHeight, opts.InputWidth, opts.InputDType)
	if err := classifier.CheckImageInput(in); err != nil {
		return nil, err
	}

	net := gocv.ReadNet(path, "")
	if net.Empty() {
		return nil, fmt.Errorf("%w: failed to load network %s", classifier.ErrConfig, path)
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, fmt.Errorf("set backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, fmt.Errorf("set target: %w", err)
	}

	m := &Model{net: net, in: in}
	blank := tensor.New(in)
	output, err := m.forward(blank)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("%w: sizing forward pass: %v", classifier.ErrConfig, err)
	}
	classes := int(output.Total())
	output.Close()
	if classes <= 0 {
		m.Close()
		return nil, fmt.Errorf("%w: network has an empty output", classifier.ErrConfig)
	}
	m.out = tensor.Spec{Shape: tensor.Shape{1, classes}, DType: tensor.Float32}
	return m, nil
}

func (m *Model) forward(in *tensor.Tensor) (gocv.Mat, error) {
	h, w := m.in.Shape[1], m.in.Shape[2]

	var mat gocv.Mat
	var err error
	switch in.DType {
	case tensor.Uint8:
		mat, err = gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC3, in.U8)
	default:
		raw := unsafe.Slice((*byte)(unsafe.Pointer(&in.F32[0])), len(in.F32)*4)
		mat, err = gocv.NewMatFromBytes(h, w, gocv.MatTypeCV32FC3, raw)
	}
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("input mat: %w", err)
	}
	defer mat.Close()

	// Values are already normalized and in RGB order.
	blob := gocv.BlobFromImage(mat, 1.0, image.Pt(w, h), gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	m.net.SetInput(blob, "")
	output := m.net.Forward("")
	if output.Empty() {
		output.Close()
		return gocv.Mat{}, fmt.Errorf("empty output")
	}
	return output, nil
}

func (m *Model) InputSpec() tensor.Spec {
	return m.in
}

func (m *Model) OutputSpec() tensor.Spec {
	return m.out
}

func (m *Model) Run(in, out *tensor.Tensor) error {
	output, err := m.forward(in)
	if err != nil {
		return err
	}
	defer output.Close()

	flat := output.Reshape(1, 1)
	defer flat.Close()
	if n := flat.Cols(); n != len(out.F32) {
		return fmt.Errorf("output has %d values, want %d", n, len(out.F32))
	}
	for i := range out.F32 {
		out.F32[i] = flat.GetFloatAt(0, i)
	}
	return nil
}

func (m *Model) Close() error {
	return m.net.Close()
}
