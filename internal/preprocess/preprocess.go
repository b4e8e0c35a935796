package preprocess

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"

	"github.com/dj-oyu/lesion-detector/internal/tensor"
)

// ErrConfig reports an invalid preprocessing configuration.
var ErrConfig = errors.New("invalid preprocess config")

// Config describes the model input and the pixel normalization.
type Config struct {
	Width        int          // Model input width
	Height       int          // Model input height
	DType        tensor.DType // Model input dtype
	QuarterTurns int          // Counter-clockwise 90 degree steps applied after resize
	Mean         float32      // Subtracted from every channel value
	Std          float32      // Divides every channel value; 0 selects the dtype default
}

// DefaultConfig returns the reference normalization for a 224x224 model.
// Std is left at 0, which resolves to 255 for float32 inputs and to 1 for
// quantized inputs.
func DefaultConfig() Config {
	return Config{
		Width:        224,
		Height:       224,
		DType:        tensor.Float32,
		QuarterTurns: 1,
		Mean:         0,
	}
}

// WithInput returns a copy of c sized for the model input spec.
func (c Config) WithInput(spec tensor.Spec) (Config, error) {
	if len(spec.Shape) != 4 || spec.Shape[0] != 1 || spec.Shape[3] != 3 {
		return c, fmt.Errorf("%w: model input %s is not [1,H,W,3]", ErrConfig, spec)
	}
	c.Height = spec.Shape[1]
	c.Width = spec.Shape[2]
	c.DType = spec.DType
	return c, nil
}

func (c Config) std() float32 {
	if c.Std != 0 {
		return c.Std
	}
	if c.DType == tensor.Uint8 {
		return 1
	}
	return 255
}

// Validate checks that c can produce a tensor.
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("%w: size %dx%d", ErrConfig, c.Width, c.Height)
	}
	if c.DType != tensor.Float32 && c.DType != tensor.Uint8 {
		return fmt.Errorf("%w: dtype %s", ErrConfig, c.DType)
	}
	if s := c.std(); math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
		return fmt.Errorf("%w: std %v", ErrConfig, s)
	}
	return nil
}

// Preprocessor turns decoded bitmaps into model input tensors:
// center crop, nearest-neighbor resize, rotation, normalization.
type Preprocessor struct {
	cfg Config
}

// New validates cfg and returns a Preprocessor.
func New(cfg Config) (*Preprocessor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Preprocessor{cfg: cfg}, nil
}

// Config returns the configuration in use.
func (p *Preprocessor) Config() Config {
	return p.cfg
}

// Spec returns the tensor contract produced by Process.
func (p *Preprocessor) Spec() tensor.Spec {
	return tensor.ImageSpec(p.cfg.Height, p.cfg.Width, p.cfg.DType)
}

// Process converts img into a newly allocated tensor.
func (p *Preprocessor) Process(img image.Image) (*tensor.Tensor, error) {
	t := tensor.New(p.Spec())
	if err := p.ProcessInto(t, img); err != nil {
		return nil, err
	}
	return t, nil
}

// ProcessInto writes img into t, which must match Spec.
func (p *Preprocessor) ProcessInto(t *tensor.Tensor, img image.Image) error {
	if !p.Spec().Matches(t) {
		return fmt.Errorf("%w: tensor %s, want %s", ErrConfig, t.Spec(), p.Spec())
	}
	b := img.Bounds()
	if b.Empty() {
		return fmt.Errorf("empty image %v", b)
	}

	// The transform chain depends on the input size, so it is built per call.
	crop := CenterSquare(b.Dx(), b.Dy()).Add(b.Min)
	turns := ((p.cfg.QuarterTurns % 4) + 4) % 4

	rw, rh := p.cfg.Width, p.cfg.Height
	if turns%2 == 1 {
		rw, rh = rh, rw
	}
	resized := image.NewRGBA(image.Rect(0, 0, rw, rh))
	draw.NearestNeighbor.Scale(resized, resized.Bounds(), img, crop, draw.Src, nil)

	pix, stride := resized.Pix, resized.Stride
	switch turns {
	case 1:
		r := imaging.Rotate90(resized)
		pix, stride = r.Pix, r.Stride
	case 2:
		r := imaging.Rotate180(resized)
		pix, stride = r.Pix, r.Stride
	case 3:
		r := imaging.Rotate270(resized)
		pix, stride = r.Pix, r.Stride
	}

	p.normalize(t, pix, stride)
	return nil
}

func (p *Preprocessor) normalize(t *tensor.Tensor, pix []uint8, stride int) {
	mean, std := p.cfg.Mean, p.cfg.std()
	w, h := p.cfg.Width, p.cfg.Height
	i := 0
	for y := 0; y < h; y++ {
		row := pix[y*stride : y*stride+w*4]
		for x := 0; x < w; x++ {
			for c := 0; c < 3; c++ {
				v := (float32(row[x*4+c]) - mean) / std
				if t.DType == tensor.Uint8 {
					t.U8[i] = toUint8(v)
				} else {
					t.F32[i] = v
				}
				i++
			}
		}
	}
}

func toUint8(v float32) uint8 {
	r := math.Round(float64(v))
	if r < 0 {
		return 0
	}
	if r > 255 {
		return 255
	}
	return uint8(r)
}
