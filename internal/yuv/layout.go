package yuv

import (
	"fmt"

	"github.com/dj-oyu/lesion-detector/pkg/types"
)

// I420Size returns the byte size of a tightly packed I420 frame.
func I420Size(width, height int) int {
	cw, ch := (width+1)/2, (height+1)/2
	return width*height + 2*cw*ch
}

// I420Planes splits a tightly packed I420 buffer into Y, U and V planes.
// The planes alias data.
func I420Planes(data []byte, width, height int) ([]types.Plane, error) {
	if len(data) < I420Size(width, height) {
		return nil, fmt.Errorf("%w: i420 buffer %d bytes, need %d", ErrMalformedFrame, len(data), I420Size(width, height))
	}
	ySize := width * height
	cw, ch := (width+1)/2, (height+1)/2
	cSize := cw * ch
	return []types.Plane{
		{Data: data[:ySize], RowStride: width, PixelStride: 1},
		{Data: data[ySize : ySize+cSize], RowStride: cw, PixelStride: 1},
		{Data: data[ySize+cSize : ySize+2*cSize], RowStride: cw, PixelStride: 1},
	}, nil
}

// NV12Planes splits a tightly packed NV12 buffer into a Y plane and an
// interleaved UV plane.
func NV12Planes(data []byte, width, height int) ([]types.Plane, error) {
	if len(data) < I420Size(width, height) {
		return nil, fmt.Errorf("%w: nv12 buffer %d bytes, need %d", ErrMalformedFrame, len(data), I420Size(width, height))
	}
	ySize := width * height
	cw, ch := (width+1)/2, (height+1)/2
	return []types.Plane{
		{Data: data[:ySize], RowStride: width, PixelStride: 1},
		{Data: data[ySize : ySize+2*cw*ch], RowStride: 2 * cw, PixelStride: 2},
	}, nil
}
