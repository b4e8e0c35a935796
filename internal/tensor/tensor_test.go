package tensor

import "testing"

func TestNewAllocatesBySpec(t *testing.T) {
	f := New(ImageSpec(4, 6, Float32))
	if f.Len() != 72 || f.U8 != nil {
		t.Fatalf("float tensor len=%d u8=%v", f.Len(), f.U8)
	}
	u := New(ImageSpec(4, 6, Uint8))
	if u.Len() != 72 || u.F32 != nil {
		t.Fatalf("uint8 tensor len=%d f32=%v", u.Len(), u.F32)
	}
	u.U8[3] = 200
	if u.Float(3) != 200 {
		t.Fatalf("Float(3) = %v", u.Float(3))
	}
}

func TestSpecMatches(t *testing.T) {
	spec := ImageSpec(2, 2, Float32)
	if !spec.Matches(New(spec)) {
		t.Fatalf("spec does not match its own tensor")
	}
	if spec.Matches(New(ImageSpec(2, 2, Uint8))) {
		t.Fatalf("dtype mismatch accepted")
	}
	if spec.Matches(New(ImageSpec(2, 3, Float32))) {
		t.Fatalf("shape mismatch accepted")
	}
	if spec.Matches(nil) {
		t.Fatalf("nil tensor accepted")
	}
}

func TestParseDType(t *testing.T) {
	for in, want := range map[string]DType{"float32": Float32, "UINT8": Uint8, "quantized": Uint8} {
		got, err := ParseDType(in)
		if err != nil || got != want {
			t.Fatalf("ParseDType(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseDType("int64"); err == nil {
		t.Fatalf("expected error for int64")
	}
}

func TestShapeString(t *testing.T) {
	if got := (Shape{1, 224, 224, 3}).String(); got != "[1,224,224,3]" {
		t.Fatalf("String() = %q", got)
	}
}
