package tensor

import (
	"fmt"
	"strings"
)

// DType is the element type of a tensor
type DType int

const (
	Float32 DType = iota
	Uint8
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Uint8:
		return "uint8"
	default:
		return fmt.Sprintf("dtype(%d)", int(d))
	}
}

// ParseDType parses "float32" or "uint8".
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(s) {
	case "float32", "float", "f32":
		return Float32, nil
	case "uint8", "u8", "quantized":
		return Uint8, nil
	default:
		return Float32, fmt.Errorf("invalid dtype: %s", s)
	}
}

// Shape lists tensor dimensions, outermost first
type Shape []int

// Elements returns the product of all dimensions.
func (s Shape) Elements() int {
	if len(s) == 0 {
		return 0
	}
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Equal reports whether both shapes have the same dimensions.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = fmt.Sprint(d)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Spec is the declared contract of a model input or output
type Spec struct {
	Shape Shape
	DType DType
}

func (s Spec) String() string {
	return fmt.Sprintf("%s%s", s.DType, s.Shape)
}

// Matches reports whether t has exactly this shape and dtype.
func (s Spec) Matches(t *Tensor) bool {
	return t != nil && t.DType == s.DType && s.Shape.Equal(t.Shape)
}

// ImageSpec describes an NHWC image input [1, H, W, 3].
func ImageSpec(height, width int, dtype DType) Spec {
	return Spec{Shape: Shape{1, height, width, 3}, DType: dtype}
}

// Tensor is a dense, fixed-shape buffer. Exactly one of F32 and U8 is in
// use, selected by DType.
type Tensor struct {
	Shape Shape
	DType DType
	F32   []float32
	U8    []uint8
}

// New allocates a zeroed tensor for spec.
func New(spec Spec) *Tensor {
	t := &Tensor{Shape: append(Shape(nil), spec.Shape...), DType: spec.DType}
	switch spec.DType {
	case Uint8:
		t.U8 = make([]uint8, spec.Shape.Elements())
	default:
		t.F32 = make([]float32, spec.Shape.Elements())
	}
	return t
}

// Spec returns the shape and dtype of t.
func (t *Tensor) Spec() Spec {
	return Spec{Shape: t.Shape, DType: t.DType}
}

// Len returns the number of elements held.
func (t *Tensor) Len() int {
	if t.DType == Uint8 {
		return len(t.U8)
	}
	return len(t.F32)
}

// Float returns element i widened to float32.
func (t *Tensor) Float(i int) float32 {
	if t.DType == Uint8 {
		return float32(t.U8[i])
	}
	return t.F32[i]
}

// Zero resets every element.
func (t *Tensor) Zero() {
	for i := range t.F32 {
		t.F32[i] = 0
	}
	for i := range t.U8 {
		t.U8[i] = 0
	}
}
