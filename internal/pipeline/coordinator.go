package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/lesion-detector/internal/classifier"
	"github.com/dj-oyu/lesion-detector/internal/logger"
	"github.com/dj-oyu/lesion-detector/internal/metrics"
	"github.com/dj-oyu/lesion-detector/internal/preprocess"
	"github.com/dj-oyu/lesion-detector/internal/tensor"
	"github.com/dj-oyu/lesion-detector/internal/yuv"
	"github.com/dj-oyu/lesion-detector/pkg/types"
)

var (
	// ErrUnsupportedFrame is returned for frames without usable geometry.
	ErrUnsupportedFrame = errors.New("unsupported frame")
	// ErrStopped is returned by Start after Stop.
	ErrStopped = errors.New("coordinator stopped")
)

// Classifier is the inference stage. *classifier.Engine implements it.
type Classifier interface {
	InputSpec() tensor.Spec
	Classify(*tensor.Tensor) (types.LabelScores, error)
}

type job struct {
	frame *types.Frame
	gen   uint64
}

// Stats is a point-in-time view of the coordinator
type Stats struct {
	FramesReceived   uint64
	FramesAdmitted   uint64
	FramesDropped    uint64
	FramesFailed     uint64
	ResultsDelivered uint64
	ResultsStale     uint64
	PreviewDropped   uint64
	PlaneReallocs    uint64
	Generation       uint64
	InFlight         bool
}

// Coordinator owns the frame buffers, the converter and the classifier and
// runs at most one frame through them at a time. Frames offered while a run
// is in flight are dropped, never queued.
type Coordinator struct {
	cfg     Config
	engine  Classifier
	pre     *preprocess.Preprocessor
	sink    ResultSink
	preview PreviewSink
	metrics *metrics.Metrics
	log     *logger.Module

	// Worker-owned resources
	conv  *yuv.FrameConverter
	input *tensor.Tensor
	runs  uint64

	inbox    *Mailbox[job]
	results  *Mailbox[types.Classification]
	previews *Mailbox[previewFrame]

	inFlight   atomic.Bool
	running    atomic.Bool
	generation atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	errMu     sync.Mutex
	err       error
}

type previewFrame struct {
	seq uint64
	img *yuv.ARGBImage
}

// New creates a coordinator. Nothing runs until Start.
func New(cfg Config, engine Classifier, pre *preprocess.Preprocessor, sink ResultSink, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:      cfg,
		engine:   engine,
		pre:      pre,
		sink:     sink,
		log:      logger.For("Pipeline"),
		conv:     yuv.NewFrameConverter(),
		inbox:    NewMailbox[job](),
		results:  NewMailbox[types.Classification](),
		previews: NewMailbox[previewFrame](),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.New()
	}
	if c.sink == nil {
		c.sink = LogSink{}
	}
	return c
}

// Start checks that the preprocessor produces what the classifier accepts
// and launches the worker, delivery and preview goroutines. A mismatch is
// a configuration error and also ends the coordinator.
func (c *Coordinator) Start(ctx context.Context) error {
	err := ErrStopped
	c.startOnce.Do(func() {
		err = c.start(ctx)
	})
	return err
}

func (c *Coordinator) start(ctx context.Context) error {
	if c.engine == nil || c.pre == nil {
		err := fmt.Errorf("%w: coordinator needs a classifier and a preprocessor", classifier.ErrConfig)
		c.fail(err)
		return err
	}
	if want, got := c.engine.InputSpec(), c.pre.Spec(); !want.Shape.Equal(got.Shape) || want.DType != got.DType {
		err := fmt.Errorf("%w: preprocessor produces %s, classifier expects %s", classifier.ErrConfig, got, want)
		c.fail(err)
		return err
	}
	c.input = tensor.New(c.pre.Spec())

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.running.Store(true)

	c.wg.Add(3)
	go c.workLoop()
	go c.deliverLoop()
	go c.previewLoop()

	go func() {
		<-c.ctx.Done()
		c.shutdown()
	}()

	c.log.Info("Started (input %s, preview every %d)", c.pre.Spec(), c.cfg.PreviewEvery)
	return nil
}

// Submit offers a frame. It never blocks: the frame is admitted only when no
// run is in flight, otherwise it is dropped and counted.
func (c *Coordinator) Submit(frame *types.Frame) bool {
	c.metrics.FramesReceived.Add(1)
	if frame == nil || !c.running.Load() {
		c.metrics.FramesDropped.Add(1)
		return false
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		c.metrics.FramesDropped.Add(1)
		return false
	}
	c.metrics.InFlight.Store(1)
	c.metrics.FramesAdmitted.Add(1)
	c.inbox.Put(job{frame: frame, gen: c.generation.Load()})
	return true
}

// Invalidate advances the generation. Results of frames admitted before the
// call are discarded instead of delivered.
func (c *Coordinator) Invalidate() uint64 {
	return c.generation.Add(1)
}

// Stop cancels the in-flight run, waits for the goroutines and returns the
// fatal error, if any.
func (c *Coordinator) Stop() error {
	c.startOnce.Do(func() {})
	if c.cancel != nil {
		c.cancel()
	}
	c.shutdown()
	c.wg.Wait()
	return c.Err()
}

func (c *Coordinator) shutdown() {
	c.stopOnce.Do(func() {
		c.running.Store(false)
		c.inbox.Close()
		c.results.Close()
		c.previews.Close()
		close(c.done)
	})
}

// fail records a fatal error and shuts the coordinator down.
func (c *Coordinator) fail(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()

	c.log.Error("Fatal: %v", err)
	if c.cancel != nil {
		c.cancel()
	}
	c.shutdown()
}

// Err returns the fatal error that stopped the coordinator.
func (c *Coordinator) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Done is closed when the coordinator stops.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Stats returns the current counters.
func (c *Coordinator) Stats() Stats {
	m := c.metrics
	return Stats{
		FramesReceived:   m.FramesReceived.Load(),
		FramesAdmitted:   m.FramesAdmitted.Load(),
		FramesDropped:    m.FramesDropped.Load(),
		FramesFailed:     m.FramesFailed.Load(),
		ResultsDelivered: m.ResultsDelivered.Load(),
		ResultsStale:     m.ResultsStale.Load(),
		PreviewDropped:   m.PreviewDropped.Load(),
		PlaneReallocs:    m.PlaneReallocs.Load(),
		Generation:       c.generation.Load(),
		InFlight:         c.inFlight.Load(),
	}
}

func (c *Coordinator) workLoop() {
	defer c.wg.Done()
	for {
		j, ok := c.inbox.Take()
		if !ok {
			return
		}
		err := c.run(j)
		c.release()

		switch {
		case err == nil:
		case isConfigError(err):
			c.fail(err)
			return
		case errors.Is(err, context.Canceled):
			c.log.Debug("Frame %d cancelled", j.frame.Seq)
		default:
			c.metrics.FramesFailed.Add(1)
			c.log.Warn("Frame %d dropped: %v", j.frame.Seq, err)
		}
	}
}

func (c *Coordinator) release() {
	c.metrics.InFlight.Store(0)
	c.inFlight.Store(false)
}

func isConfigError(err error) bool {
	return errors.Is(err, classifier.ErrConfig) || errors.Is(err, preprocess.ErrConfig)
}

// run takes one frame through every stage. Cancellation is checked between
// stages; a cancelled run produces no result.
func (c *Coordinator) run(j job) error {
	start := time.Now()
	frame := j.frame

	if frame.Width <= 0 || frame.Height <= 0 || len(frame.Planes) == 0 {
		return fmt.Errorf("%w: %dx%d with %d planes", ErrUnsupportedFrame, frame.Width, frame.Height, len(frame.Planes))
	}
	if c.cfg.LogRotation && c.log.Enabled(logger.DEBUG) {
		c.log.Debug("Frame %d rotation hint %d (view %d, user %d)",
			frame.Seq, frame.Rotation(), frame.RotationToView, frame.RotationToUser)
	}

	t := time.Now()
	img, err := c.conv.Convert(frame)
	if err != nil {
		return fmt.Errorf("convert: %w", err)
	}
	c.metrics.ObserveStage(metrics.StageConvert, time.Since(t))
	c.metrics.PlaneReallocs.Store(c.conv.Reallocs())
	if err := c.ctx.Err(); err != nil {
		return err
	}

	c.runs++
	if c.preview != nil && c.cfg.PreviewEvery > 0 && c.runs%uint64(c.cfg.PreviewEvery) == 0 {
		if c.previews.Put(previewFrame{seq: frame.Seq, img: img.Clone()}) {
			c.metrics.PreviewDropped.Add(1)
		}
		c.metrics.PreviewFrames.Add(1)
	}

	t = time.Now()
	if err := c.pre.ProcessInto(c.input, img); err != nil {
		return fmt.Errorf("preprocess: %w", err)
	}
	c.metrics.ObserveStage(metrics.StagePreprocess, time.Since(t))
	if err := c.ctx.Err(); err != nil {
		return err
	}

	t = time.Now()
	scores, err := c.engine.Classify(c.input)
	if err != nil {
		return fmt.Errorf("classify: %w", err)
	}
	c.metrics.ObserveStage(metrics.StageInference, time.Since(t))
	if err := c.ctx.Err(); err != nil {
		return err
	}

	latency := time.Since(start)
	c.metrics.ObserveStage(metrics.StageTotal, latency)
	c.results.Put(types.Classification{
		FrameSeq:   frame.Seq,
		Timestamp:  frame.Timestamp,
		Generation: j.gen,
		Scores:     scores,
		Latency:    latency,
	})
	return nil
}

func (c *Coordinator) deliverLoop() {
	defer c.wg.Done()
	for {
		r, ok := c.results.Take()
		if !ok {
			return
		}
		if r.Generation < c.generation.Load() {
			c.metrics.ResultsStale.Add(1)
			c.log.Debug("Discarding stale result for frame %d (gen %d)", r.FrameSeq, r.Generation)
			continue
		}
		c.sink.Deliver(r)
		c.metrics.ResultsDelivered.Add(1)
		c.metrics.UpdateFrameAge(r.Timestamp)
	}
}

func (c *Coordinator) previewLoop() {
	defer c.wg.Done()
	for {
		p, ok := c.previews.Take()
		if !ok {
			return
		}
		if c.preview != nil {
			c.preview.ShowPreview(p.seq, p.img)
		}
	}
}
