package pipeline

import (
	"github.com/dj-oyu/lesion-detector/internal/logger"
	"github.com/dj-oyu/lesion-detector/internal/yuv"
	"github.com/dj-oyu/lesion-detector/pkg/types"
)

// ResultSink consumes classifications. Deliver runs on the coordinator's
// delivery goroutine and should return quickly.
type ResultSink interface {
	Deliver(types.Classification)
}

// SinkFunc adapts a function to ResultSink
type SinkFunc func(types.Classification)

func (f SinkFunc) Deliver(c types.Classification) { f(c) }

// MultiSink delivers to every sink in order
type MultiSink []ResultSink

func (m MultiSink) Deliver(c types.Classification) {
	for _, s := range m {
		if s != nil {
			s.Deliver(c)
		}
	}
}

// LogSink logs the best label of every result at INFO.
type LogSink struct {
	TopK int
}

func (s LogSink) Deliver(c types.Classification) {
	k := s.TopK
	if k <= 0 {
		k = 1
	}
	top := c.Scores.Top(k)
	if len(top) == 0 {
		return
	}
	logger.Info("Result", "frame=%d gen=%d best=%s (%.3f) top=%v latency=%v",
		c.FrameSeq, c.Generation, top[0].Label, top[0].Score, top, c.Latency)
}

// PreviewSink receives a private copy of each converted bitmap. It runs
// on the coordinator's preview goroutine.
type PreviewSink interface {
	ShowPreview(seq uint64, img *yuv.ARGBImage)
}

// PreviewFunc adapts a function to PreviewSink
type PreviewFunc func(seq uint64, img *yuv.ARGBImage)

func (f PreviewFunc) ShowPreview(seq uint64, img *yuv.ARGBImage) { f(seq, img) }
