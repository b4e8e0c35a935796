package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dj-oyu/lesion-detector/internal/logger"
	"github.com/dj-oyu/lesion-detector/internal/yuv"
	"github.com/dj-oyu/lesion-detector/pkg/types"
)

// Layout of a raw YUV file
type Layout string

const (
	LayoutI420 Layout = "i420"
	LayoutNV12 Layout = "nv12"
)

// FileConfig describes a raw YUV file source
type FileConfig struct {
	Path   string
	Layout Layout
	Width  int
	Height int
	FPS    int
	Loop   bool // Rewind at end of file
	// RotationToView and RotationToUser are attached to every frame.
	RotationToView int
	RotationToUser int
}

// File replays a file of back-to-back raw frames at a fixed rate.
type File struct {
	cfg       FileConfig
	f         io.ReadSeekCloser
	frameSize int
	seq       uint64
}

// OpenFile opens a raw YUV file.
func OpenFile(cfg FileConfig) (*File, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Layout != LayoutI420 && cfg.Layout != LayoutNV12 {
		return nil, fmt.Errorf("unknown layout %q", cfg.Layout)
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Path, err)
	}
	return &File{cfg: cfg, f: f, frameSize: yuv.I420Size(cfg.Width, cfg.Height)}, nil
}

// Next reads one frame. It returns io.EOF at the end of a non-looping file.
func (s *File) Next() (*types.Frame, error) {
	data := make([]byte, s.frameSize)
	_, err := io.ReadFull(s.f, data)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		if !s.cfg.Loop || s.seq == 0 {
			return nil, io.EOF
		}
		if _, err := s.f.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("rewind: %w", err)
		}
		if _, err = io.ReadFull(s.f, data); err != nil {
			return nil, fmt.Errorf("read after rewind: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}

	var planes []types.Plane
	if s.cfg.Layout == LayoutNV12 {
		planes, err = yuv.NV12Planes(data, s.cfg.Width, s.cfg.Height)
	} else {
		planes, err = yuv.I420Planes(data, s.cfg.Width, s.cfg.Height)
	}
	if err != nil {
		return nil, err
	}
	s.seq++
	return &types.Frame{
		Seq:            s.seq,
		Timestamp:      time.Now(),
		Width:          s.cfg.Width,
		Height:         s.cfg.Height,
		RotationToView: s.cfg.RotationToView,
		RotationToUser: s.cfg.RotationToUser,
		Planes:         planes,
	}, nil
}

// Run emits frames at the configured rate.
func (s *File) Run(ctx context.Context, emit func(*types.Frame)) error {
	logger.Info("Source", "Replaying %s (%s %dx%d @ %d fps, loop=%v)",
		s.cfg.Path, s.cfg.Layout, s.cfg.Width, s.cfg.Height, s.cfg.FPS, s.cfg.Loop)

	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.FPS))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			frame, err := s.Next()
			if errors.Is(err, io.EOF) {
				logger.Info("Source", "End of %s after %d frames", s.cfg.Path, s.seq)
				return nil
			}
			if err != nil {
				return err
			}
			emit(frame)
		}
	}
}

func (s *File) Close() error {
	return s.f.Close()
}
