package yuv

import (
	"fmt"

	"github.com/dj-oyu/lesion-detector/pkg/types"
)

// FrameConverter turns frames into ARGB bitmaps. It owns the plane buffers
// and the output bitmap, both reused from frame to frame. Not safe for
// concurrent use.
type FrameConverter struct {
	reader *PlaneReader
	img    *ARGBImage
}

// NewFrameConverter creates a converter with empty buffers.
func NewFrameConverter() *FrameConverter {
	return &FrameConverter{reader: NewPlaneReader()}
}

// Convert copies the frame planes and converts them. The returned bitmap is
// overwritten by the next call; Clone it to keep it.
//
// Plane layouts:
//   - 3 planes: Y, U, V (I420 or Android YUV_420_888)
//   - 2 planes: Y, interleaved UV (NV12); V is read one byte after U
//   - 1 plane: luma only, chroma is treated as neutral grey
func (c *FrameConverter) Convert(frame *types.Frame) (*ARGBImage, error) {
	if frame == nil {
		return nil, fmt.Errorf("%w: nil frame", ErrMalformedFrame)
	}
	bufs, err := c.reader.Read(frame.Planes)
	if err != nil {
		return nil, err
	}

	w, h := frame.Width, frame.Height
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: size %dx%d", ErrMalformedFrame, w, h)
	}
	yRowStride := frame.Planes[0].RowStride
	if yRowStride == 0 {
		yRowStride = w
	}

	if len(bufs) == 1 {
		if err := checkLuma(len(bufs[0]), w, h, yRowStride); err != nil {
			return nil, err
		}
		c.img = c.img.reuse(w, h)
		lumaInto(c.img.Pix, bufs[0], w, h, yRowStride)
		return c.img, nil
	}

	chroma := frame.Planes[1]
	u, v := bufs[1], bufs[1]
	uvPixelStride := chroma.PixelStride
	if len(bufs) == 3 {
		v = bufs[2]
		if uvPixelStride == 0 {
			uvPixelStride = 1
		}
	} else {
		if len(u) < 2 {
			return nil, fmt.Errorf("%w: empty chroma plane", ErrMalformedFrame)
		}
		v = u[1:]
		if uvPixelStride == 0 {
			uvPixelStride = 2
		}
	}
	uvRowStride := chroma.RowStride
	if uvRowStride == 0 {
		uvRowStride = (w + 1) / 2 * uvPixelStride
	}

	if err := checkPlanes(len(bufs[0]), len(u), len(v), w, h, yRowStride, uvRowStride, uvPixelStride); err != nil {
		return nil, err
	}
	c.img = c.img.reuse(w, h)
	if err := ToARGBInto(c.img.Pix, bufs[0], u, v, w, h, yRowStride, uvRowStride, uvPixelStride); err != nil {
		return nil, err
	}
	return c.img, nil
}

// Reallocs returns the number of plane buffer allocations so far.
func (c *FrameConverter) Reallocs() uint64 {
	return c.reader.Reallocs()
}

// lumaInto converts a luma-only plane with neutral chroma. The geometry
// must already have passed checkLuma.
func lumaInto(dst []uint32, y []byte, width, height, yRowStride int) {
	out := 0
	for j := 0; j < height; j++ {
		yp := yRowStride * j
		for i := 0; i < width; i++ {
			dst[out] = pixel(int(y[yp]), 128, 128)
			yp++
			out++
		}
	}
}
