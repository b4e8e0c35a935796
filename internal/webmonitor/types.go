package webmonitor

import (
	"github.com/dj-oyu/lesion-detector/pkg/types"
)

// ClassificationEvent is the payload for /api/classifications/stream and
// /api/classifications/ws.
type ClassificationEvent struct {
	FrameSeq   uint64            `json:"frame_seq"`
	Timestamp  float64           `json:"timestamp"`
	Generation uint64            `json:"generation"`
	LatencyMs  float64           `json:"latency_ms"`
	BestLabel  string            `json:"best_label"`
	BestScore  float32           `json:"best_score"`
	Scores     types.LabelScores `json:"scores"`
}

// MonitorStats is the "monitor" block of /api/status.
type MonitorStats struct {
	ResultsReceived int     `json:"results_received"`
	PreviewFrames   int     `json:"preview_frames"`
	CurrentFPS      float64 `json:"current_fps"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
}
