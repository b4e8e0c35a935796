package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/dj-oyu/lesion-detector/internal/classifier"
	"github.com/dj-oyu/lesion-detector/internal/tensor"
)

// Config holds every detector setting. Defaults come from the environment
// (optionally seeded from a .env file) and flags override them.
type Config struct {
	// Model
	Model        string
	Labels       string
	Backend      string
	Threads      int
	InputWidth   int
	InputHeight  int
	InputDType   string
	ONNXLibrary  string
	InputMean    float64
	InputStd     float64
	OutputMean   float64
	OutputStd    float64
	QuarterTurns int

	// Frame source
	Source       string // shm, file, camera
	SHMName      string
	SHMWait      int // Seconds to wait for the ring to appear
	File         string
	FileFormat   string // i420, nv12
	FileWidth    int
	FileHeight   int
	FPS          int
	CameraDevice int

	// Outputs
	HTTPAddr     string
	MetricsAddr  string
	PprofAddr    string
	RecordDB     string
	RecordOnBoot bool
	PreviewEvery int
	JPEGQuality  int
	TopK         int

	LogLevel string
	LogColor bool
}

// LoadDotEnv loads KEY=VALUE pairs from files into the environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load returns the configuration described by the LESION_* environment
// variables, falling back to built-in defaults.
func Load() *Config {
	return &Config{
		Model:        getEnv("LESION_MODEL", "model.tflite"),
		Labels:       getEnv("LESION_LABELS", "labels.txt"),
		Backend:      getEnv("LESION_BACKEND", ""),
		Threads:      getEnvAsInt("LESION_THREADS", 2),
		InputWidth:   getEnvAsInt("LESION_INPUT_WIDTH", 224),
		InputHeight:  getEnvAsInt("LESION_INPUT_HEIGHT", 224),
		InputDType:   getEnv("LESION_INPUT_DTYPE", "float32"),
		ONNXLibrary:  getEnv("ONNXRUNTIME_LIB", ""),
		InputMean:    getEnvAsFloat("LESION_INPUT_MEAN", 0),
		InputStd:     getEnvAsFloat("LESION_INPUT_STD", 0),
		OutputMean:   getEnvAsFloat("LESION_OUTPUT_MEAN", 0),
		OutputStd:    getEnvAsFloat("LESION_OUTPUT_STD", 1),
		QuarterTurns: getEnvAsInt("LESION_QUARTER_TURNS", 1),

		Source:       getEnv("LESION_SOURCE", "shm"),
		SHMName:      getEnv("LESION_SHM", "/lesion_camera_stream"),
		SHMWait:      getEnvAsInt("LESION_SHM_WAIT", 30),
		File:         getEnv("LESION_FILE", ""),
		FileFormat:   getEnv("LESION_FILE_FORMAT", "i420"),
		FileWidth:    getEnvAsInt("LESION_FILE_WIDTH", 640),
		FileHeight:   getEnvAsInt("LESION_FILE_HEIGHT", 480),
		FPS:          getEnvAsInt("LESION_FPS", 30),
		CameraDevice: getEnvAsInt("LESION_CAMERA", 0),

		HTTPAddr:     getEnv("LESION_HTTP", ":8080"),
		MetricsAddr:  getEnv("LESION_METRICS", ""),
		PprofAddr:    getEnv("LESION_PPROF", ""),
		RecordDB:     getEnv("LESION_RECORD_DB", "classifications.db"),
		RecordOnBoot: getEnvAsBool("LESION_RECORD", false),
		PreviewEvery: getEnvAsInt("LESION_PREVIEW_EVERY", 1),
		JPEGQuality:  getEnvAsInt("LESION_JPEG_QUALITY", 80),
		TopK:         getEnvAsInt("LESION_TOPK", 3),

		LogLevel: getEnv("LESION_LOG_LEVEL", "info"),
		LogColor: getEnvAsBool("LESION_LOG_COLOR", true),
	}
}

// RegisterFlags binds every setting to a flag on fs, using the current
// values as defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Model, "model", c.Model, "Model file (.tflite, .onnx, .json or any OpenCV DNN format)")
	fs.StringVar(&c.Labels, "labels", c.Labels, "Label file, one label per line")
	fs.StringVar(&c.Backend, "backend", c.Backend, "Model backend (tflite, onnx, dnn, dense); empty detects from extension")
	fs.IntVar(&c.Threads, "threads", c.Threads, "Inference threads")
	fs.IntVar(&c.InputWidth, "input-width", c.InputWidth, "Model input width when the model does not declare it")
	fs.IntVar(&c.InputHeight, "input-height", c.InputHeight, "Model input height when the model does not declare it")
	fs.StringVar(&c.InputDType, "input-dtype", c.InputDType, "Model input dtype when the model does not declare it (float32, uint8)")
	fs.StringVar(&c.ONNXLibrary, "onnx-lib", c.ONNXLibrary, "onnxruntime shared library path")
	fs.Float64Var(&c.InputMean, "input-mean", c.InputMean, "Subtracted from every input channel value")
	fs.Float64Var(&c.InputStd, "input-std", c.InputStd, "Divides every input channel value (0 = 255 for float32, 1 for uint8)")
	fs.Float64Var(&c.OutputMean, "output-mean", c.OutputMean, "Subtracted from every output score")
	fs.Float64Var(&c.OutputStd, "output-std", c.OutputStd, "Divides every output score")
	fs.IntVar(&c.QuarterTurns, "quarter-turns", c.QuarterTurns, "Counter-clockwise 90 degree turns applied before inference")

	fs.StringVar(&c.Source, "source", c.Source, "Frame source (shm, file, camera)")
	fs.StringVar(&c.SHMName, "shm", c.SHMName, "Shared memory name")
	fs.IntVar(&c.SHMWait, "shm-wait", c.SHMWait, "Seconds to wait for shared memory to appear")
	fs.StringVar(&c.File, "file", c.File, "Raw YUV file for -source=file")
	fs.StringVar(&c.FileFormat, "file-format", c.FileFormat, "Raw YUV layout (i420, nv12)")
	fs.IntVar(&c.FileWidth, "file-width", c.FileWidth, "Raw YUV frame width")
	fs.IntVar(&c.FileHeight, "file-height", c.FileHeight, "Raw YUV frame height")
	fs.IntVar(&c.FPS, "fps", c.FPS, "Frame rate for file and polling sources")
	fs.IntVar(&c.CameraDevice, "camera", c.CameraDevice, "OpenCV camera device index")

	fs.StringVar(&c.HTTPAddr, "http", c.HTTPAddr, "Web monitor address (empty disables)")
	fs.StringVar(&c.MetricsAddr, "metrics", c.MetricsAddr, "Dedicated metrics server address (empty serves /metrics on -http only)")
	fs.StringVar(&c.PprofAddr, "pprof", c.PprofAddr, "pprof server address (empty disables)")
	fs.StringVar(&c.RecordDB, "record-db", c.RecordDB, "SQLite database for recorded classifications")
	fs.BoolVar(&c.RecordOnBoot, "record", c.RecordOnBoot, "Start recording immediately")
	fs.IntVar(&c.PreviewEvery, "preview-every", c.PreviewEvery, "Publish every Nth converted frame as preview (0 disables)")
	fs.IntVar(&c.JPEGQuality, "jpeg-quality", c.JPEGQuality, "Preview JPEG quality")
	fs.IntVar(&c.TopK, "topk", c.TopK, "Labels shown per result")

	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error, silent)")
	fs.BoolVar(&c.LogColor, "log-color", c.LogColor, "Enable colored log output")
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	switch c.Source {
	case "shm", "camera":
	case "file":
		if c.File == "" {
			return fmt.Errorf("-source=file needs -file")
		}
		if c.FileFormat != "i420" && c.FileFormat != "nv12" {
			return fmt.Errorf("unknown file format %q", c.FileFormat)
		}
		if c.FileWidth <= 0 || c.FileHeight <= 0 {
			return fmt.Errorf("invalid file frame size %dx%d", c.FileWidth, c.FileHeight)
		}
	default:
		return fmt.Errorf("unknown source %q", c.Source)
	}
	if c.Model == "" || c.Labels == "" {
		return fmt.Errorf("model and labels are required")
	}
	if c.FPS <= 0 {
		return fmt.Errorf("invalid fps %d", c.FPS)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("jpeg quality %d out of range 1-100", c.JPEGQuality)
	}
	return nil
}

// EngineOptions maps the model settings onto classifier loader options.
func (c *Config) EngineOptions() (classifier.Options, error) {
	dtype, err := tensor.ParseDType(c.InputDType)
	if err != nil {
		return classifier.Options{}, err
	}
	opts := classifier.DefaultOptions()
	opts.Backend = classifier.Backend(c.Backend)
	opts.NumThreads = c.Threads
	opts.InputHeight = c.InputHeight
	opts.InputWidth = c.InputWidth
	opts.InputDType = dtype
	opts.ONNXLibrary = c.ONNXLibrary
	return opts, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
