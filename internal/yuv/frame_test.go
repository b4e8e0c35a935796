package yuv

import (
	"errors"
	"image/color"
	"math"
	"testing"

	"github.com/dj-oyu/lesion-detector/pkg/types"
)

func i420Buffer(w, h int) []byte {
	yp, up, vp := pattern(w, h)
	buf := make([]byte, 0, I420Size(w, h))
	buf = append(buf, yp...)
	buf = append(buf, up...)
	return append(buf, vp...)
}

func nv12Buffer(w, h int) []byte {
	yp, up, vp := pattern(w, h)
	buf := make([]byte, 0, I420Size(w, h))
	buf = append(buf, yp...)
	for i := range up {
		buf = append(buf, up[i], vp[i])
	}
	return buf
}

func TestFrameConverterLayoutsAgree(t *testing.T) {
	w, h := 12, 8
	i420, err := I420Planes(i420Buffer(w, h), w, h)
	if err != nil {
		t.Fatalf("I420Planes: %v", err)
	}
	nv12, err := NV12Planes(nv12Buffer(w, h), w, h)
	if err != nil {
		t.Fatalf("NV12Planes: %v", err)
	}

	c := NewFrameConverter()
	a, err := c.Convert(&types.Frame{Width: w, Height: h, Planes: i420})
	if err != nil {
		t.Fatalf("convert i420: %v", err)
	}
	first := a.Clone()

	b, err := c.Convert(&types.Frame{Width: w, Height: h, Planes: nv12})
	if err != nil {
		t.Fatalf("convert nv12: %v", err)
	}
	for i := range first.Pix {
		if first.Pix[i] != b.Pix[i] {
			t.Fatalf("pixel %d: i420 %#08x nv12 %#08x", i, first.Pix[i], b.Pix[i])
		}
	}
}

func TestFrameConverterReusesBuffers(t *testing.T) {
	w, h := 16, 10
	planes, _ := I420Planes(i420Buffer(w, h), w, h)
	frame := &types.Frame{Width: w, Height: h, Planes: planes}

	c := NewFrameConverter()
	img, err := c.Convert(frame)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	reallocs := c.Reallocs()
	for i := 0; i < 20; i++ {
		next, err := c.Convert(frame)
		if err != nil {
			t.Fatalf("Convert %d: %v", i, err)
		}
		if &next.Pix[0] != &img.Pix[0] {
			t.Fatalf("bitmap reallocated on frame %d", i)
		}
	}
	if c.Reallocs() != reallocs {
		t.Fatalf("reallocs grew from %d to %d", reallocs, c.Reallocs())
	}
}

func TestFrameConverterLumaOnly(t *testing.T) {
	frame := &types.Frame{
		Width:  4,
		Height: 2,
		Planes: []types.Plane{{Data: fill(8, 255), RowStride: 4}},
	}
	img, err := NewFrameConverter().Convert(frame)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	for i, p := range img.Pix {
		if p != 0xffffffff {
			t.Fatalf("pixel %d = %#08x, want white", i, p)
		}
	}
}

func TestFrameConverterMalformed(t *testing.T) {
	c := NewFrameConverter()
	tests := []*types.Frame{
		nil,
		{Width: 4, Height: 4},
		{Width: 4, Height: 4, Planes: []types.Plane{{Data: fill(4, 0)}}},
		{Width: 0, Height: 4, Planes: []types.Plane{{Data: fill(16, 0)}}},
		{Width: 4, Height: 4, Planes: []types.Plane{{Data: fill(16, 0)}, {Data: fill(1, 0)}}},
	}
	for i, f := range tests {
		if _, err := c.Convert(f); !errors.Is(err, ErrMalformedFrame) {
			t.Fatalf("case %d: err = %v, want ErrMalformedFrame", i, err)
		}
	}
}

func TestFrameConverterRejectsOversizedFrame(t *testing.T) {
	c := NewFrameConverter()
	i420 := []types.Plane{{Data: fill(16, 0)}, {Data: fill(4, 0)}, {Data: fill(4, 0)}}
	nv12 := []types.Plane{{Data: fill(16, 0)}, {Data: fill(8, 0), PixelStride: 2}}
	luma := []types.Plane{{Data: fill(16, 0)}}

	tests := []struct {
		name   string
		width  int
		height int
		planes []types.Plane
	}{
		{"i420 huge", 1 << 24, 1 << 24, i420},
		{"nv12 huge", 1 << 24, 1 << 24, nv12},
		{"luma huge", 1 << 24, 1 << 24, luma},
		{"i420 tall", 4, 1 << 20, i420},
		{"size overflow", math.MaxInt, math.MaxInt, i420},
		{"stride overflow", 4, 4, []types.Plane{{Data: fill(16, 0), RowStride: math.MaxInt}, {Data: fill(4, 0)}, {Data: fill(4, 0)}}},
		{"chroma stride overflow", 4, 4, []types.Plane{{Data: fill(16, 0)}, {Data: fill(4, 0), RowStride: math.MaxInt, PixelStride: math.MaxInt}, {Data: fill(4, 0)}}},
	}
	for _, tt := range tests {
		f := &types.Frame{Width: tt.width, Height: tt.height, Planes: tt.planes}
		if _, err := c.Convert(f); !errors.Is(err, ErrMalformedFrame) {
			t.Fatalf("%s: err = %v, want ErrMalformedFrame", tt.name, err)
		}
		if c.img != nil {
			t.Fatalf("%s: bitmap allocated for a rejected frame", tt.name)
		}
	}

	// A valid frame still converts afterwards.
	img, err := c.Convert(&types.Frame{Width: 4, Height: 4, Planes: i420})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if len(img.Pix) != 16 {
		t.Fatalf("bitmap has %d pixels, want 16", len(img.Pix))
	}
}

func TestARGBImageColors(t *testing.T) {
	img := NewARGBImage(2, 1)
	img.Pix[0] = 0xff102030
	img.Pix[1] = 0xffffffff

	got := img.At(0, 0).(color.RGBA)
	if got != (color.RGBA{R: 0x10, G: 0x20, B: 0x30, A: 0xff}) {
		t.Fatalf("At(0,0) = %+v", got)
	}

	rgba := img.ToRGBA()
	if rgba.Pix[0] != 0x10 || rgba.Pix[1] != 0x20 || rgba.Pix[2] != 0x30 || rgba.Pix[3] != 0xff {
		t.Fatalf("ToRGBA first pixel = %v", rgba.Pix[:4])
	}
}

func TestLayoutRejectsShortBuffers(t *testing.T) {
	if _, err := I420Planes(make([]byte, 10), 4, 4); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("I420Planes: err = %v", err)
	}
	if _, err := NV12Planes(make([]byte, 10), 4, 4); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("NV12Planes: err = %v", err)
	}
}
