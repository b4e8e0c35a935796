package yuv

import "fmt"

// 18-bit fixed point BT.601 limits
const maxChannelValue = 262143

// ToARGB converts YUV 4:2:0 planes to packed 0xAARRGGBB pixels in row-major
// order. Chroma is addressed with uvRowStride and uvPixelStride so both
// planar (I420, pixel stride 1) and semi-planar (NV12/NV21, pixel stride 2)
// layouts are accepted.
func ToARGB(y, u, v []byte, width, height, yRowStride, uvRowStride, uvPixelStride int) ([]uint32, error) {
	if err := checkPlanes(len(y), len(u), len(v), width, height, yRowStride, uvRowStride, uvPixelStride); err != nil {
		return nil, err
	}
	out := make([]uint32, width*height)
	if err := ToARGBInto(out, y, u, v, width, height, yRowStride, uvRowStride, uvPixelStride); err != nil {
		return nil, err
	}
	return out, nil
}

// ToARGBInto is ToARGB writing into dst, which must hold width*height pixels.
func ToARGBInto(dst []uint32, y, u, v []byte, width, height, yRowStride, uvRowStride, uvPixelStride int) error {
	if err := checkGeometry(len(dst), len(y), len(u), len(v), width, height, yRowStride, uvRowStride, uvPixelStride); err != nil {
		return err
	}

	out := 0
	for j := 0; j < height; j++ {
		yp := yRowStride * j
		uvRow := uvRowStride * (j >> 1)
		for i := 0; i < width; i++ {
			uvOff := uvRow + (i>>1)*uvPixelStride
			dst[out] = pixel(int(y[yp]), int(u[uvOff]), int(v[uvOff]))
			yp++
			out++
		}
	}
	return nil
}

// pixel converts one sample triple.
func pixel(y, u, v int) uint32 {
	y -= 16
	if y < 0 {
		y = 0
	}
	u -= 128
	v -= 128

	y1192 := 1192 * y
	r := clamp(y1192 + 1634*v)
	g := clamp(y1192 - 833*v - 400*u)
	b := clamp(y1192 + 2066*u)

	return 0xff000000 |
		uint32((r>>10)&0xff)<<16 |
		uint32((g>>10)&0xff)<<8 |
		uint32((b>>10)&0xff)
}

func clamp(c int) int {
	if c < 0 {
		return 0
	}
	if c > maxChannelValue {
		return maxChannelValue
	}
	return c
}

// checkGeometry verifies that the last sample of every plane is addressable
// and that dst holds the whole bitmap.
func checkGeometry(dstLen, yLen, uLen, vLen, width, height, yRowStride, uvRowStride, uvPixelStride int) error {
	if err := checkPlanes(yLen, uLen, vLen, width, height, yRowStride, uvRowStride, uvPixelStride); err != nil {
		return err
	}
	// width*height cannot overflow once the y plane holds it.
	if dstLen < width*height {
		return fmt.Errorf("%w: destination holds %d pixels, need %d", ErrMalformedFrame, dstLen, width*height)
	}
	return nil
}

// checkPlanes bounds the frame size by the plane lengths. Callers run it
// before sizing anything from width and height.
func checkPlanes(yLen, uLen, vLen, width, height, yRowStride, uvRowStride, uvPixelStride int) error {
	if err := checkLuma(yLen, width, height, yRowStride); err != nil {
		return err
	}
	if uvPixelStride <= 0 || uvRowStride <= 0 {
		return fmt.Errorf("%w: uv strides row=%d pixel=%d", ErrMalformedFrame, uvRowStride, uvPixelStride)
	}
	rows, cols := (height-1)>>1, (width-1)>>1
	if !addressable(rows, uvRowStride, cols, uvPixelStride, uLen) || !addressable(rows, uvRowStride, cols, uvPixelStride, vLen) {
		return fmt.Errorf("%w: chroma planes u=%d v=%d bytes too small for %dx%d", ErrMalformedFrame, uLen, vLen, width, height)
	}
	return nil
}

func checkLuma(yLen, width, height, yRowStride int) error {
	switch {
	case width <= 0 || height <= 0:
		return fmt.Errorf("%w: size %dx%d", ErrMalformedFrame, width, height)
	case yRowStride < width:
		return fmt.Errorf("%w: y row stride %d < width %d", ErrMalformedFrame, yRowStride, width)
	case !addressable(height-1, yRowStride, width-1, 1, yLen):
		return fmt.Errorf("%w: y plane %d bytes too small for %dx%d (row stride %d)", ErrMalformedFrame, yLen, width, height, yRowStride)
	}
	return nil
}

// addressable reports whether rows*rowStride + cols*colStride < n without
// overflowing. Strides must be positive.
func addressable(rows, rowStride, cols, colStride, n int) bool {
	if n <= 0 || rows < 0 || cols < 0 {
		return false
	}
	if cols > (n-1)/colStride {
		return false
	}
	return rows <= (n-1-cols*colStride)/rowStride
}
