package pipeline

import (
	"github.com/dj-oyu/lesion-detector/internal/logger"
	"github.com/dj-oyu/lesion-detector/internal/metrics"
)

// Config holds coordinator settings
type Config struct {
	PreviewEvery int  // Publish every Nth converted bitmap to the preview sink; 0 disables
	LogRotation  bool // Log the per-frame rotation hint at DEBUG
}

// DefaultConfig returns default coordinator settings
func DefaultConfig() Config {
	return Config{
		PreviewEvery: 1,
		LogRotation:  true,
	}
}

// Option customizes a Coordinator
type Option func(*Coordinator)

// WithMetrics reports counters into m instead of a private instance.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithPreview enables the preview hand-off.
func WithPreview(p PreviewSink) Option {
	return func(c *Coordinator) {
		c.preview = p
	}
}

// WithLogger replaces the module logger.
func WithLogger(l *logger.Module) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}
