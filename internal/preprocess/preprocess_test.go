package preprocess

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/dj-oyu/lesion-detector/internal/tensor"
)

var (
	red   = color.RGBA{R: 255, A: 255}
	green = color.RGBA{G: 255, A: 255}
	blue  = color.RGBA{B: 255, A: 255}
	white = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func newPre(t *testing.T, cfg Config) *Preprocessor {
	t.Helper()
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

// rgbAt reads the three channels of pixel (x, y) from an NHWC tensor.
func rgbAt(t *tensor.Tensor, x, y int) [3]float32 {
	w := t.Shape[2]
	i := (y*w + x) * 3
	return [3]float32{t.Float(i), t.Float(i + 1), t.Float(i + 2)}
}

func TestCenterSquare(t *testing.T) {
	tests := []struct {
		w, h int
		want image.Rectangle
	}{
		{4, 4, image.Rect(0, 0, 4, 4)},
		{5, 3, image.Rect(1, 0, 4, 3)},
		{6, 3, image.Rect(1, 0, 4, 3)}, // odd excess: 1 left, 2 right
		{3, 6, image.Rect(0, 1, 3, 4)}, // odd excess: 1 top, 2 bottom
		{640, 480, image.Rect(80, 0, 560, 480)},
	}
	for _, tt := range tests {
		got := CenterSquare(tt.w, tt.h)
		if got != tt.want {
			t.Fatalf("CenterSquare(%d,%d) = %v, want %v", tt.w, tt.h, got, tt.want)
		}
		if got.Dx() != got.Dy() || got.Dx() != min(tt.w, tt.h) {
			t.Fatalf("CenterSquare(%d,%d) not a min-side square: %v", tt.w, tt.h, got)
		}
		left, right := got.Min.X, tt.w-got.Max.X
		top, bottom := got.Min.Y, tt.h-got.Max.Y
		if right-left < 0 || right-left > 1 || bottom-top < 0 || bottom-top > 1 {
			t.Fatalf("CenterSquare(%d,%d) margins l=%d r=%d t=%d b=%d", tt.w, tt.h, left, right, top, bottom)
		}
	}
}

func TestProcessShapeIndependentOfAspect(t *testing.T) {
	sizes := [][2]int{{640, 480}, {480, 640}, {7, 3}, {1, 1}, {224, 224}, {1920, 1080}}
	models := []Config{
		{Width: 4, Height: 4, QuarterTurns: 1},
		{Width: 6, Height: 4, QuarterTurns: 1},
		{Width: 6, Height: 4, QuarterTurns: 2},
		{Width: 3, Height: 5, QuarterTurns: 0, DType: tensor.Uint8},
	}
	for _, cfg := range models {
		p := newPre(t, cfg)
		for _, s := range sizes {
			out, err := p.Process(solid(s[0], s[1], white))
			if err != nil {
				t.Fatalf("Process %dx%d: %v", s[0], s[1], err)
			}
			want := tensor.Shape{1, cfg.Height, cfg.Width, 3}
			if !out.Shape.Equal(want) || out.Len() != want.Elements() {
				t.Fatalf("model %dx%d input %dx%d: shape %v len %d, want %v",
					cfg.Width, cfg.Height, s[0], s[1], out.Shape, out.Len(), want)
			}
		}
	}
}

func TestProcessCropKeepsCenter(t *testing.T) {
	// Columns 1 and 2 survive a 5x2 center crop; everything else is red.
	img := solid(5, 2, red)
	for y := 0; y < 2; y++ {
		img.SetRGBA(1, y, green)
		img.SetRGBA(2, y, green)
	}
	p := newPre(t, Config{Width: 2, Height: 2, Std: 1})
	out, err := p.Process(img)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			if got := rgbAt(out, x, y); got != [3]float32{0, 255, 0} {
				t.Fatalf("pixel (%d,%d) = %v, want green", x, y, got)
			}
		}
	}
}

func TestProcessRotatesCounterClockwise(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.SetRGBA(0, 0, red)
	img.SetRGBA(1, 0, green)
	img.SetRGBA(0, 1, blue)
	img.SetRGBA(1, 1, white)

	p := newPre(t, Config{Width: 2, Height: 2, QuarterTurns: 1, Std: 1})
	out, err := p.Process(img)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	want := map[[2]int][3]float32{
		{0, 0}: {0, 255, 0},     // was top-right
		{1, 0}: {255, 255, 255}, // was bottom-right
		{0, 1}: {255, 0, 0},     // was top-left
		{1, 1}: {0, 0, 255},     // was bottom-left
	}
	for pt, c := range want {
		if got := rgbAt(out, pt[0], pt[1]); got != c {
			t.Fatalf("pixel %v = %v, want %v", pt, got, c)
		}
	}
}

func TestProcessNormalizes(t *testing.T) {
	p := newPre(t, Config{Width: 3, Height: 3, QuarterTurns: 1, Mean: 0, Std: 255})
	out, err := p.Process(solid(10, 8, white))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	for i, v := range out.F32 {
		if v != 1 {
			t.Fatalf("element %d = %v, want 1", i, v)
		}
	}

	p = newPre(t, Config{Width: 3, Height: 3, Mean: 127.5, Std: 127.5})
	out, err = p.Process(solid(4, 4, color.RGBA{A: 255}))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	for i, v := range out.F32 {
		if v != -1 {
			t.Fatalf("element %d = %v, want -1", i, v)
		}
	}
}

func TestProcessUint8DefaultsToIdentity(t *testing.T) {
	p := newPre(t, Config{Width: 2, Height: 2, DType: tensor.Uint8})
	out, err := p.Process(solid(3, 3, color.RGBA{R: 10, G: 20, B: 30, A: 255}))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := rgbAt(out, 1, 1); got != [3]float32{10, 20, 30} {
		t.Fatalf("pixel = %v, want raw values", got)
	}
}

func TestProcessIntoRejectsWrongTensor(t *testing.T) {
	p := newPre(t, Config{Width: 4, Height: 4})
	wrong := tensor.New(tensor.ImageSpec(4, 4, tensor.Uint8))
	if err := p.ProcessInto(wrong, solid(4, 4, white)); !errors.Is(err, ErrConfig) {
		t.Fatalf("err = %v, want ErrConfig", err)
	}
}

func TestConfigValidation(t *testing.T) {
	if _, err := New(Config{Width: 0, Height: 4}); !errors.Is(err, ErrConfig) {
		t.Fatalf("zero width: err = %v", err)
	}
	if _, err := New(Config{Width: 4, Height: 4, DType: tensor.DType(9)}); !errors.Is(err, ErrConfig) {
		t.Fatalf("bad dtype: err = %v", err)
	}

	cfg, err := DefaultConfig().WithInput(tensor.ImageSpec(96, 128, tensor.Uint8))
	if err != nil {
		t.Fatalf("WithInput: %v", err)
	}
	if cfg.Width != 128 || cfg.Height != 96 || cfg.DType != tensor.Uint8 {
		t.Fatalf("WithInput = %+v", cfg)
	}
	if _, err := DefaultConfig().WithInput(tensor.Spec{Shape: tensor.Shape{1, 3, 8, 8}}); !errors.Is(err, ErrConfig) {
		t.Fatalf("NCHW spec accepted: %v", err)
	}
}
