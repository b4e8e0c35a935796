package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dj-oyu/lesion-detector/internal/classifier"
	_ "github.com/dj-oyu/lesion-detector/internal/classifier/dnn"
	_ "github.com/dj-oyu/lesion-detector/internal/classifier/onnx"
	_ "github.com/dj-oyu/lesion-detector/internal/classifier/tflite"
	"github.com/dj-oyu/lesion-detector/internal/config"
	"github.com/dj-oyu/lesion-detector/internal/logger"
	"github.com/dj-oyu/lesion-detector/internal/metrics"
	"github.com/dj-oyu/lesion-detector/internal/pipeline"
	"github.com/dj-oyu/lesion-detector/internal/preprocess"
	"github.com/dj-oyu/lesion-detector/internal/recorder"
	"github.com/dj-oyu/lesion-detector/internal/source"
	"github.com/dj-oyu/lesion-detector/internal/source/camera"
	"github.com/dj-oyu/lesion-detector/internal/tensor"
	"github.com/dj-oyu/lesion-detector/internal/webmonitor"
	"github.com/dj-oyu/lesion-detector/pkg/types"
)

// Detector wires a frame source through the classification pipeline to
// the web monitor and the recorder.
type Detector struct {
	cfg     *config.Config
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	metrics *metrics.Metrics
	engine  *classifier.Engine
	coord   *pipeline.Coordinator
	src     source.Source
	rec     *recorder.Recorder
	monitor *webmonitor.Server
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("Failed to load .env: %v", err)
	}
	cfg := config.Load()
	cfg.RegisterFlags(flag.CommandLine)
	flag.Parse()

	// Initialize logger
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, cfg.LogColor)

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Main", "Invalid configuration: %v", err)
	}

	logger.Info("Main", "Lesion detector starting...")
	logger.Info("Main", "Log level: %s", level)

	d, err := NewDetector(cfg)
	if err != nil {
		logger.Fatal("Main", "Failed to create detector: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.Run(ctx); err != nil {
		logger.Error("Main", "Detector stopped: %v", err)
		stop()
		os.Exit(1)
	}
	logger.Info("Main", "Detector stopped")
}

// NewDetector loads the model and opens every component. Nothing runs
// until Run.
func NewDetector(cfg *config.Config) (*Detector, error) {
	d := &Detector{
		cfg:     cfg,
		metrics: metrics.New(),
	}

	engine, err := openEngine(cfg)
	if err != nil {
		return nil, err
	}
	d.engine = engine
	logger.Info("Main", "Model %s: input %s, %d classes", cfg.Model, engine.InputSpec(), engine.NumClasses())

	pre, err := newPreprocessor(cfg, engine.InputSpec())
	if err != nil {
		d.close()
		return nil, err
	}

	rec, err := recorder.Open(cfg.RecordDB, d.metrics)
	if err != nil {
		d.close()
		return nil, fmt.Errorf("failed to open recorder: %w", err)
	}
	d.rec = rec

	sinks := pipeline.MultiSink{rec, pipeline.LogSink{TopK: cfg.TopK}}
	opts := []pipeline.Option{pipeline.WithMetrics(d.metrics)}
	if cfg.HTTPAddr != "" {
		wcfg := webmonitor.DefaultConfig()
		wcfg.Addr = cfg.HTTPAddr
		wcfg.JPEGQuality = cfg.JPEGQuality
		d.monitor = webmonitor.NewServer(wcfg,
			webmonitor.WithRecorder(rec),
			webmonitor.WithMetrics(d.metrics),
			webmonitor.WithHealth(d.health),
		)
		sinks = append(pipeline.MultiSink{d.monitor.Results()}, sinks...)
		opts = append(opts, pipeline.WithPreview(d.monitor.Frames()))
	}

	pcfg := pipeline.DefaultConfig()
	pcfg.PreviewEvery = cfg.PreviewEvery
	d.coord = pipeline.New(pcfg, engine, pre, sinks, opts...)

	src, err := d.openSource()
	if err != nil {
		d.close()
		return nil, fmt.Errorf("failed to open %s source: %w", cfg.Source, err)
	}
	d.src = src

	return d, nil
}

func openEngine(cfg *config.Config) (*classifier.Engine, error) {
	opts, err := cfg.EngineOptions()
	if err != nil {
		return nil, err
	}
	return classifier.Load(cfg.Model, cfg.Labels, opts,
		classifier.WithOutputNormalization(float32(cfg.OutputMean), float32(cfg.OutputStd)))
}

func newPreprocessor(cfg *config.Config, spec tensor.Spec) (*preprocess.Preprocessor, error) {
	pcfg := preprocess.DefaultConfig()
	pcfg.QuarterTurns = cfg.QuarterTurns
	pcfg.Mean = float32(cfg.InputMean)
	pcfg.Std = float32(cfg.InputStd)
	pcfg, err := pcfg.WithInput(spec)
	if err != nil {
		return nil, err
	}
	return preprocess.New(pcfg)
}

func (d *Detector) openSource() (source.Source, error) {
	switch d.cfg.Source {
	case "shm":
		src, err := source.OpenSHM(d.cfg.SHMName, time.Duration(d.cfg.SHMWait)*time.Second)
		if err != nil {
			return nil, err
		}
		src.OnError = func(error) { d.metrics.SourceErrors.Add(1) }
		return src, nil
	case "file":
		return source.OpenFile(source.FileConfig{
			Path:   d.cfg.File,
			Layout: source.Layout(d.cfg.FileFormat),
			Width:  d.cfg.FileWidth,
			Height: d.cfg.FileHeight,
			FPS:    d.cfg.FPS,
			Loop:   true,
		})
	case "camera":
		return camera.Open(d.cfg.CameraDevice)
	default:
		return nil, fmt.Errorf("unknown source %q", d.cfg.Source)
	}
}

// Run starts every component and blocks until ctx is cancelled, the source
// fails or the pipeline stops on a fatal error.
func (d *Detector) Run(ctx context.Context) error {
	d.ctx, d.cancel = context.WithCancel(ctx)
	defer d.close()

	logger.Info("Main", "  Source: %s", d.cfg.Source)
	logger.Info("Main", "  Web monitor: %s", d.cfg.HTTPAddr)
	logger.Info("Main", "  Recorder database: %s", d.cfg.RecordDB)

	if err := d.coord.Start(d.ctx); err != nil {
		d.cancel()
		return err
	}

	if d.cfg.RecordOnBoot {
		if err := d.rec.Start(); err != nil {
			logger.Warn("Main", "Failed to start recording: %v", err)
		}
	}

	// Start pprof server
	if d.cfg.PprofAddr != "" {
		go func() {
			logger.Info("Main", "Starting pprof server on %s", d.cfg.PprofAddr)
			if err := http.ListenAndServe(d.cfg.PprofAddr, nil); err != nil {
				logger.Warn("Main", "pprof server error: %v", err)
			}
		}()
	}

	// Start metrics server
	if d.cfg.MetricsAddr != "" {
		go func() {
			logger.Info("Main", "Starting metrics server on %s", d.cfg.MetricsAddr)
			if err := d.metrics.StartServer(d.cfg.MetricsAddr); err != nil {
				logger.Warn("Main", "Metrics server error: %v", err)
			}
		}()
	}

	if d.monitor != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.monitor.ListenAndServe(d.ctx); err != nil {
				logger.Error("Main", "Web monitor error: %v", err)
			}
		}()
	}

	srcErr := make(chan error, 1)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		srcErr <- d.src.Run(d.ctx, func(f *types.Frame) {
			d.coord.Submit(f)
		})
	}()

	logger.Info("Main", "Detector started successfully")

	var runErr error
	select {
	case <-d.ctx.Done():
		logger.Info("Main", "Shutting down...")
	case <-d.coord.Done():
	case err := <-srcErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = fmt.Errorf("source: %w", err)
		}
	}

	d.cancel()
	if err := d.coord.Stop(); err != nil {
		runErr = err
	}
	d.wg.Wait()
	return runErr
}

// health backs /health: unhealthy once the pipeline has stopped.
func (d *Detector) health() error {
	if d.coord == nil {
		return errors.New("pipeline not created")
	}
	if err := d.coord.Err(); err != nil {
		return err
	}
	select {
	case <-d.coord.Done():
		return errors.New("pipeline stopped")
	default:
		return nil
	}
}

// close releases every opened component.
func (d *Detector) close() {
	if d.src != nil {
		d.src.Close()
	}
	if d.rec != nil {
		if err := d.rec.Close(); err != nil {
			logger.Warn("Main", "Recorder close: %v", err)
		}
	}
	if d.engine != nil {
		d.engine.Close()
	}
}
