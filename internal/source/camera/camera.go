// Package camera captures frames from an OpenCV video device. It links
// OpenCV through gocv.
package camera

import (
	"context"
	"fmt"
	"image"
	"time"

	"gocv.io/x/gocv"

	"github.com/dj-oyu/lesion-detector/internal/logger"
	"github.com/dj-oyu/lesion-detector/internal/source"
	"github.com/dj-oyu/lesion-detector/internal/yuv"
	"github.com/dj-oyu/lesion-detector/pkg/types"
)

// Camera captures from an OpenCV device and converts every frame to I420.
type Camera struct {
	webcam *gocv.VideoCapture
	device int
	seq    uint64
}

var _ source.Source = (*Camera)(nil)

// Open opens device with OpenCV.
func Open(device int) (*Camera, error) {
	webcam, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", device, err)
	}
	webcam.Set(gocv.VideoCaptureBufferSize, 1)
	return &Camera{webcam: webcam, device: device}, nil
}

func (c *Camera) Run(ctx context.Context, emit func(*types.Frame)) error {
	img := gocv.NewMat()
	defer img.Close()
	i420 := gocv.NewMat()
	defer i420.Close()

	logger.Info("Source", "Capturing from camera %d", c.device)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ok := c.webcam.Read(&img); !ok {
			return fmt.Errorf("camera %d: read failed", c.device)
		}
		if img.Empty() || img.Type() != gocv.MatTypeCV8UC3 {
			continue
		}

		frame, err := c.toFrame(img, &i420)
		if err != nil {
			logger.Warn("Source", "Camera frame dropped: %v", err)
			continue
		}
		emit(frame)
	}
}

// toFrame converts a BGR capture to an I420 frame. Odd dimensions are
// trimmed to even ones, as the I420 conversion requires.
func (c *Camera) toFrame(img gocv.Mat, i420 *gocv.Mat) (*types.Frame, error) {
	w, h := img.Cols()&^1, img.Rows()&^1
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("frame too small: %dx%d", img.Cols(), img.Rows())
	}
	src := img
	if w != img.Cols() || h != img.Rows() {
		src = img.Region(image.Rect(0, 0, w, h))
		defer src.Close()
	}
	if err := gocv.CvtColor(src, i420, gocv.ColorBGRToYUVI420); err != nil {
		return nil, fmt.Errorf("cvtcolor: %w", err)
	}
	planes, err := yuv.I420Planes(i420.ToBytes(), w, h)
	if err != nil {
		return nil, err
	}
	c.seq++
	return &types.Frame{Seq: c.seq, Timestamp: time.Now(), Width: w, Height: h, Planes: planes}, nil
}

func (c *Camera) Close() error {
	return c.webcam.Close()
}
