package yuv

import (
	"errors"
	"testing"

	"github.com/dj-oyu/lesion-detector/pkg/types"
)

func solidPlanes(width, height int, y, u, v byte) (yp, up, vp []byte) {
	cw, ch := (width+1)/2, (height+1)/2
	yp = fill(width*height, y)
	up = fill(cw*ch, u)
	vp = fill(cw*ch, v)
	return
}

func fill(n int, b byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}

func channelsWithin(t *testing.T, got, want uint32, tol int) {
	t.Helper()
	for shift := 0; shift <= 24; shift += 8 {
		g := int((got >> shift) & 0xff)
		w := int((want >> shift) & 0xff)
		if d := g - w; d > tol || d < -tol {
			t.Fatalf("pixel %#08x, want %#08x (+/-%d)", got, want, tol)
		}
	}
}

func TestToARGBSolidColors(t *testing.T) {
	tests := []struct {
		name    string
		y, u, v byte
		want    uint32
	}{
		{"white", 255, 128, 128, 0xffffffff},
		{"black", 16, 128, 128, 0xff000000},
		{"below black", 0, 128, 128, 0xff000000},
		{"grey", 128, 128, 128, 0xff828282},
		{"red", 81, 90, 240, 0xffff0000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			yp, up, vp := solidPlanes(8, 6, tt.y, tt.u, tt.v)
			pix, err := ToARGB(yp, up, vp, 8, 6, 8, 4, 1)
			if err != nil {
				t.Fatalf("ToARGB: %v", err)
			}
			if len(pix) != 48 {
				t.Fatalf("len = %d, want 48", len(pix))
			}
			for i, p := range pix {
				if p>>24 != 0xff {
					t.Fatalf("pixel %d alpha = %#x", i, p>>24)
				}
				channelsWithin(t, p, tt.want, 1)
			}
		})
	}
}

// logical test pattern: every sample distinct
func pattern(width, height int) (yp, up, vp []byte) {
	cw, ch := (width+1)/2, (height+1)/2
	yp = make([]byte, width*height)
	for i := range yp {
		yp[i] = byte(16 + (i*37)%220)
	}
	up = make([]byte, cw*ch)
	vp = make([]byte, cw*ch)
	for i := range up {
		up[i] = byte(60 + (i*53)%130)
		vp[i] = byte(200 - (i*29)%140)
	}
	return
}

// pad copies rows of width bytes into rows of stride bytes, padding with junk.
func pad(src []byte, width, rows, stride int) []byte {
	out := fill(stride*rows, 0xee)
	for r := 0; r < rows; r++ {
		copy(out[r*stride:], src[r*width:(r+1)*width])
	}
	return out
}

func TestToARGBRowStrideIndependent(t *testing.T) {
	for _, size := range [][2]int{{6, 4}, {5, 3}, {16, 9}} {
		w, h := size[0], size[1]
		cw, ch := (w+1)/2, (h+1)/2
		yp, up, vp := pattern(w, h)

		tight, err := ToARGB(yp, up, vp, w, h, w, cw, 1)
		if err != nil {
			t.Fatalf("%dx%d tight: %v", w, h, err)
		}

		yPad := pad(yp, w, h, w+13)
		uPad := pad(up, cw, ch, cw+7)
		vPad := pad(vp, cw, ch, cw+7)
		padded, err := ToARGB(yPad, uPad, vPad, w, h, w+13, cw+7, 1)
		if err != nil {
			t.Fatalf("%dx%d padded: %v", w, h, err)
		}

		for i := range tight {
			if tight[i] != padded[i] {
				t.Fatalf("%dx%d pixel %d: tight %#08x padded %#08x", w, h, i, tight[i], padded[i])
			}
		}
	}
}

func TestToARGBPixelStride(t *testing.T) {
	w, h := 6, 4
	cw, ch := 3, 2
	yp, up, vp := pattern(w, h)
	want, err := ToARGB(yp, up, vp, w, h, w, cw, 1)
	if err != nil {
		t.Fatalf("planar: %v", err)
	}

	// Interleave chroma as NV12 and address it with pixel stride 2.
	uv := make([]byte, 2*cw*ch)
	for i := range up {
		uv[2*i] = up[i]
		uv[2*i+1] = vp[i]
	}
	got, err := ToARGB(yp, uv, uv[1:], w, h, w, 2*cw, 2)
	if err != nil {
		t.Fatalf("semi-planar: %v", err)
	}
	for i := range want {
		if want[i] != got[i] {
			t.Fatalf("pixel %d: planar %#08x semi-planar %#08x", i, want[i], got[i])
		}
	}
}

func TestToARGBDeterministic(t *testing.T) {
	yp, up, vp := pattern(10, 8)
	a, _ := ToARGB(yp, up, vp, 10, 8, 10, 5, 1)
	b, _ := ToARGB(yp, up, vp, 10, 8, 10, 5, 1)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("pixel %d differs between calls", i)
		}
	}
}

func TestToARGBMalformed(t *testing.T) {
	yp, up, vp := solidPlanes(8, 6, 100, 128, 128)

	tests := []struct {
		name string
		run  func() error
	}{
		{"short y", func() error {
			_, err := ToARGB(yp[:20], up, vp, 8, 6, 8, 4, 1)
			return err
		}},
		{"short v", func() error {
			_, err := ToARGB(yp, up, vp[:3], 8, 6, 8, 4, 1)
			return err
		}},
		{"stride below width", func() error {
			_, err := ToARGB(yp, up, vp, 8, 6, 7, 4, 1)
			return err
		}},
		{"zero size", func() error {
			_, err := ToARGB(yp, up, vp, 0, 6, 8, 4, 1)
			return err
		}},
		{"small destination", func() error {
			return ToARGBInto(make([]uint32, 10), yp, up, vp, 8, 6, 8, 4, 1)
		}},
	}
	for _, tt := range tests {
		if err := tt.run(); !errors.Is(err, ErrMalformedFrame) {
			t.Fatalf("%s: err = %v, want ErrMalformedFrame", tt.name, err)
		}
	}
}

func TestPlaneReaderReuse(t *testing.T) {
	r := NewPlaneReader()
	planes := []types.Plane{
		{Data: fill(64, 1)},
		{Data: fill(16, 2)},
		{Data: fill(16, 3)},
	}

	bufs, err := r.Read(planes)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if r.Reallocs() != 3 {
		t.Fatalf("reallocs = %d, want 3", r.Reallocs())
	}
	if bufs[2][0] != 3 || len(bufs[0]) != 64 {
		t.Fatalf("unexpected copy: len=%d first=%d", len(bufs[0]), bufs[2][0])
	}

	// Buffers are owned: mutating the source must not change them.
	planes[0].Data[0] = 99
	if bufs[0][0] != 1 {
		t.Fatalf("buffer aliases source plane")
	}

	// Smaller planes reuse the existing allocation.
	if _, err := r.Read([]types.Plane{{Data: fill(32, 4)}, {Data: fill(8, 5)}, {Data: fill(8, 6)}}); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if r.Reallocs() != 3 {
		t.Fatalf("reallocs after smaller frame = %d, want 3", r.Reallocs())
	}
	if r.Capacity(0) != 64 {
		t.Fatalf("capacity(0) = %d, want 64", r.Capacity(0))
	}

	// A larger plane grows only that buffer.
	if _, err := r.Read([]types.Plane{{Data: fill(128, 7)}, {Data: fill(8, 5)}, {Data: fill(8, 6)}}); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if r.Reallocs() != 4 {
		t.Fatalf("reallocs after larger frame = %d, want 4", r.Reallocs())
	}
}

func TestPlaneReaderRejectsPlaneCount(t *testing.T) {
	r := NewPlaneReader()
	if _, err := r.Read(nil); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("no planes: err = %v", err)
	}
	four := make([]types.Plane, 4)
	if _, err := r.Read(four); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("four planes: err = %v", err)
	}
}

func TestToARGBRejectsSizeBeyondPlanes(t *testing.T) {
	y, u, v := fill(16, 0), fill(4, 0), fill(4, 0)
	if _, err := ToARGB(y, u, v, 1<<24, 1<<24, 1<<24, 1<<23, 1); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("err = %v, want ErrMalformedFrame", err)
	}
}
