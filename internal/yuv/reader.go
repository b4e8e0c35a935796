package yuv

import (
	"errors"
	"fmt"

	"github.com/dj-oyu/lesion-detector/pkg/types"
)

// MaxPlanes is the largest plane count of a YUV 4:2:0 frame.
const MaxPlanes = 3

// ErrMalformedFrame reports a frame that cannot be converted. It only
// affects the frame that carried it.
var ErrMalformedFrame = errors.New("malformed frame")

// PlaneReader copies frame planes into buffers it owns. Buffers are reused
// across frames and only grow when a plane is larger than the current
// allocation. Not safe for concurrent use.
type PlaneReader struct {
	bufs     [MaxPlanes][]byte
	reallocs uint64
}

// NewPlaneReader creates an empty reader. Buffers are allocated lazily.
func NewPlaneReader() *PlaneReader {
	return &PlaneReader{}
}

// Read copies every plane into its owned buffer and returns the buffers,
// each trimmed to the source plane length. The returned slices stay valid
// until the next call.
func (r *PlaneReader) Read(planes []types.Plane) ([][]byte, error) {
	if len(planes) == 0 || len(planes) > MaxPlanes {
		return nil, fmt.Errorf("%w: %d planes", ErrMalformedFrame, len(planes))
	}

	out := make([][]byte, len(planes))
	for i, p := range planes {
		// Capacity varies with device and format, re-read every frame.
		size := len(p.Data)
		if cap(r.bufs[i]) < size {
			r.bufs[i] = make([]byte, size)
			r.reallocs++
		}
		buf := r.bufs[i][:size]
		copy(buf, p.Data)
		out[i] = buf
	}
	return out, nil
}

// Capacity returns the current allocation of plane i.
func (r *PlaneReader) Capacity(i int) int {
	if i < 0 || i >= MaxPlanes {
		return 0
	}
	return cap(r.bufs[i])
}

// Reallocs returns how many times a plane buffer was (re)allocated.
func (r *PlaneReader) Reallocs() uint64 {
	return r.reallocs
}
