package webmonitor

import (
	"time"
)

// Config defines the runtime configuration for the web monitor server.
type Config struct {
	Addr           string
	JPEGQuality    int
	PreviewWidth   int // Scale previews down to this width before encoding; 0 keeps the source size
	StatusInterval time.Duration
	HistorySize    int
	RecentLimit    int
	Title          string
}

// DefaultConfig returns the default monitor configuration.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		JPEGQuality:    75,
		PreviewWidth:   640,
		StatusInterval: 2 * time.Second,
		HistorySize:    8,
		RecentLimit:    50,
		Title:          "Lesion Detector Monitor",
	}
}
