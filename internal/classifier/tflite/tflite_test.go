package tflite

import (
	"errors"
	"os"
	"testing"

	"github.com/dj-oyu/lesion-detector/internal/classifier"
	"github.com/dj-oyu/lesion-detector/internal/tensor"
)

// openTestModel skips unless LESION_TEST_TFLITE_MODEL names a model file.
func openTestModel(t *testing.T) *Model {
	t.Helper()
	path := os.Getenv("LESION_TEST_TFLITE_MODEL")
	if path == "" {
		t.Skip("LESION_TEST_TFLITE_MODEL not set")
	}
	opts := classifier.DefaultOptions()
	opts.Backend = classifier.BackendTFLite
	m, err := Open(path, opts)
	if err != nil {
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
		if b == classifier.BackendTFLite {
			return
		}
	}
	t.Fatalf("backend %q not registered", classifier.BackendTFLite)
}

func TestOpenMissingFile(t *testing.T) {
	_, err := classifier.Open(t.TempDir()+"/missing.tflite", classifier.DefaultOptions())
	if !errors.Is(err, classifier.ErrConfig) {
		t.Fatalf("err = %v, want ErrConfig", err)
	}
}
