package onnx

import (
	"errors"
	"os"
	"testing"

	"github.com/dj-oyu/lesion-detector/internal/classifier"
	"github.com/dj-oyu/lesion-detector/internal/tensor"
)

// openTestModel skips unless LESION_TEST_ONNX_MODEL names a model file.
func openTestModel(t *testing.T) *Model {
	t.Helper()
	path := os.Getenv("LESION_TEST_ONNX_MODEL")
	if path == "" {
		t.Skip("LESION_TEST_ONNX_MODEL not set")
	}
	opts := classifier.DefaultOptions()
	opts.Backend = classifier.BackendONNX
	opts.ONNXLibrary = os.Getenv("ONNXRUNTIME_LIB")
	m, err := Open(path, opts)
	if err != nil {
		if errors.Is(err, ErrNoLibrary) {
			t.Skipf("onnxruntime not installed: %v", err)
		}
		t.Fatalf("Open %s: %v", path, err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestModelContract(t *testing.T) {
	m := openTestModel(t)
	if err := classifier.CheckImageInput(m.InputSpec()); err != nil {
		t.Fatalf("input spec: %v", err)
	}
	out := m.OutputSpec()
	if len(out.Shape) != 2 || out.Shape[0] != 1 || out.Shape[1] <= 0 {
		t.Fatalf("output spec = %s", out)
	}

	in := tensor.New(m.InputSpec())
	res := tensor.New(out)
	for i := 0; i < 2; i++ {
		if err := m.Run(in, res); err != nil {
			t.Fatalf("Run %d: %v", i, err)
		}
	}
}

func TestRegistered(t *testing.T) {
	for _, b := range classifier.Backends() {
		if b == classifier.BackendONNX {
			return
		}
	}
	t.Fatalf("backend %q not registered", classifier.BackendONNX)
}

func TestOpenWithoutRuntimeIsConfigError(t *testing.T) {
	opts := classifier.DefaultOptions()
	opts.ONNXLibrary = t.TempDir() + "/libonnxruntime.so"
	if _, err := Open(t.TempDir()+"/missing.onnx", opts); !errors.Is(err, classifier.ErrConfig) {
		t.Fatalf("err = %v, want ErrConfig", err)
	}
}
