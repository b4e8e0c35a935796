package classifier

import (
	"errors"
	"fmt"
	"math"

	"github.com/dj-oyu/lesion-detector/internal/tensor"
	"github.com/dj-oyu/lesion-detector/pkg/types"
)

// ErrConfig reports a mismatch between the model, its labels and the
// tensors handed to it. It is never recoverable at runtime.
var ErrConfig = errors.New("classifier configuration error")

// Option customizes an Engine
type Option func(*Engine)

// WithOutputNormalization sets the (raw - mean) / std applied to every
// output score. The default is mean 0, std 1.
func WithOutputNormalization(mean, std float32) Option {
	return func(e *Engine) {
		e.probMean = mean
		e.probStd = std
	}
}

// Engine runs a Model and maps its output onto labels. Its configuration is
// fixed at construction. Classify must not be called concurrently.
type Engine struct {
	model    Model
	labels   []string
	in       tensor.Spec
	out      *tensor.Tensor
	probMean float32
	probStd  float32
}

// NewEngine validates model and labels and returns an Engine. The label
// count must equal the model's class count.
func NewEngine(model Model, labels []string, opts ...Option) (*Engine, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: nil model", ErrConfig)
	}
	in := model.InputSpec()
	if err := CheckImageInput(in); err != nil {
		return nil, err
	}
	outSpec := model.OutputSpec()
	classes, err := classesOf(outSpec)
	if err != nil {
		return nil, err
	}
	if len(labels) != classes {
		return nil, fmt.Errorf("%w: %d labels for %d classes", ErrConfig, len(labels), classes)
	}
	seen := make(map[string]struct{}, len(labels))
	for i, l := range labels {
		if _, dup := seen[l]; dup {
			return nil, fmt.Errorf("%w: duplicate label %q at line %d", ErrConfig, l, i+1)
		}
		seen[l] = struct{}{}
	}

	e := &Engine{
		model:   model,
		labels:  append([]string(nil), labels...),
		in:      in,
		out:     tensor.New(outSpec),
		probStd: 1,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.probStd == 0 || math.IsNaN(float64(e.probStd)) {
		return nil, fmt.Errorf("%w: output std %v", ErrConfig, e.probStd)
	}
	return e, nil
}

// InputSpec returns the tensor contract Classify accepts.
func (e *Engine) InputSpec() tensor.Spec {
	return e.in
}

// Labels returns a copy of the label list in output order.
func (e *Engine) Labels() []string {
	return append([]string(nil), e.labels...)
}

// NumClasses returns the number of output classes.
func (e *Engine) NumClasses() int {
	return len(e.labels)
}

// Classify runs one forward pass and returns a score per label in label
// order. A tensor that does not match InputSpec fails with ErrConfig.
func (e *Engine) Classify(in *tensor.Tensor) (types.LabelScores, error) {
	if !e.in.Matches(in) {
		return nil, fmt.Errorf("%w: input tensor %s, model expects %s", ErrConfig, specString(in), e.in)
	}

	if err := e.model.Run(in, e.out); err != nil {
		return nil, fmt.Errorf("forward pass: %w", err)
	}

	scores := make(types.LabelScores, len(e.labels))
	for i, label := range e.labels {
		scores[i] = types.LabelScore{
			Label: label,
			Score: (e.out.Float(i) - e.probMean) / e.probStd,
		}
	}
	return scores, nil
}

// Close releases the model.
func (e *Engine) Close() error {
	return e.model.Close()
}

// Load opens the model at modelPath and the label file at labelPath and
// builds an Engine from them.
func Load(modelPath, labelPath string, opts Options, engineOpts ...Option) (*Engine, error) {
	labels, err := LoadLabelFile(labelPath)
	if err != nil {
		return nil, err
	}
	model, err := Open(modelPath, opts)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", modelPath, err)
	}
	e, err := NewEngine(model, labels, engineOpts...)
	if err != nil {
		model.Close()
		return nil, err
	}
	return e, nil
}
