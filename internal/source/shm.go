package source

import (
	"context"
	"errors"
	"time"

	"github.com/dj-oyu/lesion-detector/internal/logger"
	"github.com/dj-oyu/lesion-detector/internal/shm"
	"github.com/dj-oyu/lesion-detector/pkg/types"
)

// SHM reads NV12 frames from the camera daemon's shared-memory ring.
type SHM struct {
	reader  *shm.Reader
	timeout time.Duration
	// OnError is called for read failures; the source keeps running.
	OnError func(error)
}

// OpenSHM opens the ring, waiting up to wait for it to appear.
func OpenSHM(name string, wait time.Duration) (*SHM, error) {
	r, err := shm.NewReader(name, wait)
	if err != nil {
		return nil, err
	}
	return &SHM{reader: r, timeout: time.Second}, nil
}

func (s *SHM) Run(ctx context.Context, emit func(*types.Frame)) error {
	logger.Info("Source", "Reading NV12 frames from shared memory")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.reader.WaitNewFrame(s.timeout); err != nil {
			if errors.Is(err, shm.ErrTimeout) {
				logger.Debug("Source", "No frame within %v", s.timeout)
				continue
			}
			s.report(err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		frame, err := s.reader.ReadLatest()
		if err != nil {
			s.report(err)
			continue
		}
		if frame != nil {
			emit(frame)
		}
	}
}

func (s *SHM) report(err error) {
	logger.Warn("Source", "Read error: %v", err)
	if s.OnError != nil {
		s.OnError(err)
	}
}

func (s *SHM) Close() error {
	return s.reader.Close()
}
