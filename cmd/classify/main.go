package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/dj-oyu/lesion-detector/internal/classifier"
	_ "github.com/dj-oyu/lesion-detector/internal/classifier/dnn"
	_ "github.com/dj-oyu/lesion-detector/internal/classifier/onnx"
	_ "github.com/dj-oyu/lesion-detector/internal/classifier/tflite"
	"github.com/dj-oyu/lesion-detector/internal/config"
	"github.com/dj-oyu/lesion-detector/internal/logger"
	"github.com/dj-oyu/lesion-detector/internal/preprocess"
	"github.com/dj-oyu/lesion-detector/internal/yuv"
	"github.com/dj-oyu/lesion-detector/pkg/types"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("Failed to load .env: %v", err)
	}
	cfg := config.Load()

	var (
		yuvFormat string
		width     int
		height    int
		topK      int
		asJSON    bool
		logLevel  string
	)
	flag.StringVar(&cfg.Model, "model", cfg.Model, "Model file (.tflite, .onnx, .json or any OpenCV DNN format)")
	flag.StringVar(&cfg.Labels, "labels", cfg.Labels, "Label file, one label per line")
	flag.StringVar(&cfg.Backend, "backend", cfg.Backend, "Model backend (tflite, onnx, dnn, dense); empty detects from extension")
	flag.StringVar(&cfg.ONNXLibrary, "onnx-lib", cfg.ONNXLibrary, "onnxruntime shared library path")
	flag.IntVar(&cfg.InputWidth, "input-width", cfg.InputWidth, "Model input width when the model does not declare it")
	flag.IntVar(&cfg.InputHeight, "input-height", cfg.InputHeight, "Model input height when the model does not declare it")
	flag.IntVar(&cfg.Threads, "threads", cfg.Threads, "Inference threads")
	flag.StringVar(&cfg.InputDType, "input-dtype", cfg.InputDType, "Model input dtype when the model does not declare it")
	flag.Float64Var(&cfg.InputMean, "input-mean", cfg.InputMean, "Subtracted from every input channel value")
	flag.Float64Var(&cfg.InputStd, "input-std", cfg.InputStd, "Divides every input channel value (0 = dtype default)")
	flag.Float64Var(&cfg.OutputMean, "output-mean", cfg.OutputMean, "Subtracted from every output score")
	flag.Float64Var(&cfg.OutputStd, "output-std", cfg.OutputStd, "Divides every output score")
	flag.IntVar(&cfg.QuarterTurns, "quarter-turns", 0, "Counter-clockwise 90 degree turns applied before inference")
	flag.StringVar(&yuvFormat, "yuv", "", "Treat inputs as raw YUV frames in this layout (i420, nv12)")
	flag.IntVar(&width, "width", 0, "Raw YUV frame width")
	flag.IntVar(&height, "height", 0, "Raw YUV frame height")
	flag.IntVar(&topK, "topk", cfg.TopK, "Labels printed per input (0 prints all)")
	flag.BoolVar(&asJSON, "json", false, "Print one JSON object per input")
	flag.StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error, silent)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] image...\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, false)

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if yuvFormat != "" && (width <= 0 || height <= 0) {
		logger.Fatal("Classify", "-yuv needs -width and -height")
	}

	opts, err := cfg.EngineOptions()
	if err != nil {
		logger.Fatal("Classify", "%v", err)
	}

	engine, err := classifier.Load(cfg.Model, cfg.Labels, opts,
		classifier.WithOutputNormalization(float32(cfg.OutputMean), float32(cfg.OutputStd)))
	if err != nil {
		logger.Fatal("Classify", "Failed to load model: %v", err)
	}
	defer engine.Close()

	pcfg := preprocess.DefaultConfig()
	pcfg.QuarterTurns = cfg.QuarterTurns
	pcfg.Mean = float32(cfg.InputMean)
	pcfg.Std = float32(cfg.InputStd)
	pcfg, err = pcfg.WithInput(engine.InputSpec())
	if err != nil {
		logger.Fatal("Classify", "%v", err)
	}
	pre, err := preprocess.New(pcfg)
	if err != nil {
		logger.Fatal("Classify", "%v", err)
	}

	failed := 0
	for i, path := range flag.Args() {
		img, err := loadInput(path, yuvFormat, width, height, uint64(i+1))
		if err != nil {
			logger.Error("Classify", "%s: %v", path, err)
			failed++
			continue
		}

		start := time.Now()
		in, err := pre.Process(img)
		if err != nil {
			logger.Error("Classify", "%s: preprocess: %v", path, err)
			failed++
			continue
		}
		scores, err := engine.Classify(in)
		if err != nil {
			logger.Error("Classify", "%s: %v", path, err)
			failed++
			continue
		}
		printResult(path, scores, time.Since(start), topK, asJSON)
	}

	if failed > 0 {
		os.Exit(1)
	}
}

// loadInput decodes an image file, or a raw YUV frame when format is set.
func loadInput(path, format string, width, height int, seq uint64) (image.Image, error) {
	if format == "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		img, kind, err := image.Decode(f)
		if err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		logger.Debug("Classify", "%s: %s %dx%d", path, kind, img.Bounds().Dx(), img.Bounds().Dy())
		return img, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var planes []types.Plane
	switch strings.ToLower(format) {
	case "i420":
		planes, err = yuv.I420Planes(data, width, height)
	case "nv12":
		planes, err = yuv.NV12Planes(data, width, height)
	default:
		return nil, fmt.Errorf("unknown yuv layout %q", format)
	}
	if err != nil {
		return nil, err
	}

	frame := &types.Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     width,
		Height:    height,
		Planes:    planes,
	}
	argb, err := yuv.NewFrameConverter().Convert(frame)
	if err != nil {
		return nil, err
	}
	return argb, nil
}

func printResult(path string, scores types.LabelScores, elapsed time.Duration, topK int, asJSON bool) {
	top := scores.Top(topK)
	if topK == 0 {
		top = scores.Sorted()
	}

	if asJSON {
		out := map[string]any{
			"input":      path,
			"scores":     top,
			"latency_ms": float64(elapsed) / float64(time.Millisecond),
		}
		data, err := json.Marshal(out)
		if err != nil {
			logger.Error("Classify", "%s: %v", path, err)
			return
		}
		fmt.Println(string(data))
		return
	}

	fmt.Printf("%s (%.1f ms)\n", path, float64(elapsed)/float64(time.Millisecond))
	for _, s := range top {
		fmt.Printf("  %-24s %.4f\n", s.Label, s.Score)
	}
}
