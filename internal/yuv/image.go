package yuv

import (
	"image"
	"image/color"
)

// ARGBImage is a width x height bitmap of packed 0xAARRGGBB pixels.
type ARGBImage struct {
	Pix    []uint32
	Width  int
	Height int
}

// NewARGBImage allocates a zeroed (fully transparent) bitmap.
func NewARGBImage(width, height int) *ARGBImage {
	return &ARGBImage{
		Pix:    make([]uint32, width*height),
		Width:  width,
		Height: height,
	}
}

// ColorModel implements image.Image.
func (m *ARGBImage) ColorModel() color.Model { return color.RGBAModel }

// Bounds implements image.Image.
func (m *ARGBImage) Bounds() image.Rectangle { return image.Rect(0, 0, m.Width, m.Height) }

// At implements image.Image.
func (m *ARGBImage) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return color.RGBA{}
	}
	return argbColor(m.Pix[y*m.Width+x])
}

// ARGBAt returns the packed pixel at (x, y).
func (m *ARGBImage) ARGBAt(x, y int) uint32 {
	return m.Pix[y*m.Width+x]
}

// SubImage returns the part of m visible through r as an *image.RGBA copy.
func (m *ARGBImage) SubImage(r image.Rectangle) image.Image {
	r = r.Intersect(m.Bounds())
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	m.copyRGBA(dst, r)
	return dst
}

// ToRGBA copies the bitmap into a new *image.RGBA.
func (m *ARGBImage) ToRGBA() *image.RGBA {
	dst := image.NewRGBA(m.Bounds())
	m.copyRGBA(dst, m.Bounds())
	return dst
}

// Clone returns a deep copy.
func (m *ARGBImage) Clone() *ARGBImage {
	c := &ARGBImage{Width: m.Width, Height: m.Height, Pix: make([]uint32, len(m.Pix))}
	copy(c.Pix, m.Pix)
	return c
}

func (m *ARGBImage) copyRGBA(dst *image.RGBA, r image.Rectangle) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := m.Pix[y*m.Width : (y+1)*m.Width]
		off := dst.PixOffset(0, y-r.Min.Y)
		for x := r.Min.X; x < r.Max.X; x++ {
			p := row[x]
			dst.Pix[off+0] = uint8(p >> 16)
			dst.Pix[off+1] = uint8(p >> 8)
			dst.Pix[off+2] = uint8(p)
			dst.Pix[off+3] = uint8(p >> 24)
			off += 4
		}
	}
}

func argbColor(p uint32) color.RGBA {
	return color.RGBA{R: uint8(p >> 16), G: uint8(p >> 8), B: uint8(p), A: uint8(p >> 24)}
}

// reuse returns m resized to width x height, reallocating only when the
// pixel buffer is too small.
func (m *ARGBImage) reuse(width, height int) *ARGBImage {
	n := width * height
	if m == nil {
		return NewARGBImage(width, height)
	}
	if cap(m.Pix) < n {
		m.Pix = make([]uint32, n)
	}
	m.Pix = m.Pix[:n]
	m.Width = width
	m.Height = height
	return m
}
