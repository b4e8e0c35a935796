package source

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dj-oyu/lesion-detector/internal/yuv"
	"github.com/dj-oyu/lesion-detector/pkg/types"
)

// writeFrames writes n 4x2 frames whose bytes all equal the frame index.
func writeFrames(t *testing.T, n int) string {
	t.Helper()
	size := yuv.I420Size(4, 2)
	data := make([]byte, 0, n*size)
	for i := 0; i < n; i++ {
		for j := 0; j < size; j++ {
			data = append(data, byte(i))
		}
	}
	path := filepath.Join(t.TempDir(), "frames.yuv")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestFileNextLayouts(t *testing.T) {
	path := writeFrames(t, 2)

	for _, layout := range []Layout{LayoutI420, LayoutNV12} {
		src, err := OpenFile(FileConfig{Path: path, Layout: layout, Width: 4, Height: 2, RotationToView: 90})
		if err != nil {
			t.Fatalf("OpenFile: %v", err)
		}
		f, err := src.Next()
		if err != nil {
			t.Fatalf("%s Next: %v", layout, err)
		}
		wantPlanes := 3
		if layout == LayoutNV12 {
			wantPlanes = 2
		}
		if len(f.Planes) != wantPlanes || f.Seq != 1 || f.Rotation() != 90 {
			t.Fatalf("%s frame = %+v", layout, f)
		}
		if _, err := yuv.NewFrameConverter().Convert(f); err != nil {
			t.Fatalf("%s frame does not convert: %v", layout, err)
		}
		src.Close()
	}
}

func TestFileEndAndLoop(t *testing.T) {
	path := writeFrames(t, 2)

	src, err := OpenFile(FileConfig{Path: path, Layout: LayoutI420, Width: 4, Height: 2})
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer src.Close()
	for i := 0; i < 2; i++ {
		if _, err := src.Next(); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}
	if _, err := src.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("after last frame: err = %v, want EOF", err)
	}

	loop, err := OpenFile(FileConfig{Path: path, Layout: LayoutI420, Width: 4, Height: 2, Loop: true})
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer loop.Close()
	var last *types.Frame
	for i := 0; i < 3; i++ {
		if last, err = loop.Next(); err != nil {
			t.Fatalf("looped frame %d: %v", i, err)
		}
	}
	if last.Planes[0].Data[0] != 0 || last.Seq != 3 {
		t.Fatalf("third frame did not rewind: seq %d first byte %d", last.Seq, last.Planes[0].Data[0])
	}
}

func TestFileRunEmitsAtRate(t *testing.T) {
	path := writeFrames(t, 3)
	src, err := OpenFile(FileConfig{Path: path, Layout: LayoutNV12, Width: 4, Height: 2, FPS: 200})
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer src.Close()

	var got []uint64
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := src.Run(ctx, func(f *types.Frame) { got = append(got, f.Seq) }); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(got) != 3 || got[2] != 3 {
		t.Fatalf("emitted %v, want 3 frames", got)
	}
}

func TestOpenFileRejectsBadConfig(t *testing.T) {
	if _, err := OpenFile(FileConfig{Path: "x", Layout: LayoutI420}); err == nil {
		t.Fatalf("zero size accepted")
	}
	if _, err := OpenFile(FileConfig{Path: "x", Layout: "yuyv", Width: 2, Height: 2}); err == nil {
		t.Fatalf("unknown layout accepted")
	}
	if _, err := OpenFile(FileConfig{Path: filepath.Join(t.TempDir(), "none"), Layout: LayoutI420, Width: 2, Height: 2}); err == nil {
		t.Fatalf("missing file accepted")
	}
}
