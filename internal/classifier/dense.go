package classifier

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/dj-oyu/lesion-detector/internal/tensor"
)

// DenseModel is a single fully connected layer over the flattened input,
// optionally followed by softmax. It needs no native runtime.
type DenseModel struct {
	in      tensor.Spec
	weights [][]float32
	bias    []float32
	softmax bool
}

// denseFile is the JSON layout of a dense model.
type denseFile struct {
	Input struct {
		Height int    `json:"height"`
		Width  int    `json:"width"`
		DType  string `json:"dtype"`
	} `json:"input"`
	Weights    [][]float32 `json:"weights"`
	Bias       []float32   `json:"bias"`
	Activation string      `json:"activation"`
}

// NewDenseModel builds a dense model. weights holds one row of H*W*3
// coefficients per class; bias holds one value per class.
func NewDenseModel(in tensor.Spec, weights [][]float32, bias []float32, softmax bool) (*DenseModel, error) {
	if err := CheckImageInput(in); err != nil {
		return nil, err
	}
	if len(bias) == 0 {
		return nil, fmt.Errorf("%w: dense model has no classes", ErrConfig)
	}
	if weights != nil && len(weights) != len(bias) {
		return nil, fmt.Errorf("%w: %d weight rows for %d classes", ErrConfig, len(weights), len(bias))
	}
	n := in.Shape.Elements()
	for k, row := range weights {
		if len(row) != n {
			return nil, fmt.Errorf("%w: weight row %d has %d values, want %d", ErrConfig, k, len(row), n)
		}
	}
	return &DenseModel{in: in, weights: weights, bias: bias, softmax: softmax}, nil
}

// LoadDense decodes a dense model from JSON.
func LoadDense(r io.Reader) (*DenseModel, error) {
	var f denseFile
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: decode dense model: %v", ErrConfig, err)
	}
	dtype := tensor.Float32
	if f.Input.DType != "" {
		d, err := tensor.ParseDType(f.Input.DType)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		dtype = d
	}

	var softmax bool
	switch f.Activation {
	case "", "linear", "none":
	case "softmax":
		softmax = true
	default:
		return nil, fmt.Errorf("%w: unknown activation %q", ErrConfig, f.Activation)
	}
	return NewDenseModel(tensor.ImageSpec(f.Input.Height, f.Input.Width, dtype), f.Weights, f.Bias, softmax)
}

// LoadDenseFile reads a dense model from path.
func LoadDenseFile(path string) (*DenseModel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model: %w", err)
	}
	defer f.Close()
	return LoadDense(f)
}

func (m *DenseModel) InputSpec() tensor.Spec {
	return m.in
}

func (m *DenseModel) OutputSpec() tensor.Spec {
	return tensor.Spec{Shape: tensor.Shape{1, len(m.bias)}, DType: tensor.Float32}
}

func (m *DenseModel) Run(in, out *tensor.Tensor) error {
	if !m.in.Matches(in) || !m.OutputSpec().Matches(out) {
		return fmt.Errorf("%w: dense model tensors %s -> %s", ErrConfig, specString(in), specString(out))
	}

	logits := out.F32
	for k, b := range m.bias {
		acc := b
		if m.weights != nil {
			row := m.weights[k]
			for i := range row {
				acc += row[i] * in.Float(i)
			}
		}
		logits[k] = acc
	}
	if m.softmax {
		softmax(logits)
	}
	return nil
}

func (m *DenseModel) Close() error {
	return nil
}

func specString(t *tensor.Tensor) string {
	if t == nil {
		return "nil"
	}
	return t.Spec().String()
}

func softmax(v []float32) {
	maxv := v[0]
	for _, x := range v[1:] {
		if x > maxv {
			maxv = x
		}
	}
	var sum float64
	for i, x := range v {
		e := math.Exp(float64(x - maxv))
		v[i] = float32(e)
		sum += e
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / sum)
	}
}
