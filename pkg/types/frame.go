package types

import (
	"sort"
	"time"
)

// Plane is one colour plane of a planar YUV frame
type Plane struct {
	Data        []byte // Plane bytes, len(Data) is the plane capacity
	RowStride   int    // Bytes between the starts of consecutive rows
	PixelStride int    // Bytes between consecutive samples in a row (chroma)
}

// Frame represents one camera capture event
type Frame struct {
	Seq            uint64    // Sequential frame number assigned by the source
	Timestamp      time.Time // Capture timestamp
	Width          int       // Luma width in pixels
	Height         int       // Luma height in pixels
	RotationToView int       // Sensor-to-view rotation hint in degrees
	RotationToUser int       // Sensor-to-user rotation hint in degrees
	Planes         []Plane   // Y, U, V (1-3 planes)
}

// Rotation returns the rotation hint difference reported by the camera.
func (f *Frame) Rotation() int {
	return f.RotationToView - f.RotationToUser
}

// LabelScore pairs a label with its normalized score
type LabelScore struct {
	Label string  `json:"label"`
	Score float32 `json:"score"`
}

// LabelScores is the ordered label->score mapping produced by one
// classification. Order follows the label file.
type LabelScores []LabelScore

// Map returns the scores keyed by label.
func (s LabelScores) Map() map[string]float32 {
	m := make(map[string]float32, len(s))
	for _, ls := range s {
		m[ls.Label] = ls.Score
	}
	return m
}

// Sorted returns a copy ordered by descending score. Ties keep label order.
func (s LabelScores) Sorted() LabelScores {
	out := make(LabelScores, len(s))
	copy(out, s)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// Top returns the k best scoring entries.
func (s LabelScores) Top(k int) LabelScores {
	sorted := s.Sorted()
	if k < 0 || k > len(sorted) {
		k = len(sorted)
	}
	return sorted[:k]
}

// Classification is delivered to result sinks for every processed frame
type Classification struct {
	FrameSeq   uint64        `json:"frame_seq"`
	Timestamp  time.Time     `json:"timestamp"`
	Generation uint64        `json:"generation"`
	Scores     LabelScores   `json:"scores"`
	Latency    time.Duration `json:"latency_ns"`
}

// Best returns the top scoring label, or false when there are no scores.
func (c Classification) Best() (LabelScore, bool) {
	if len(c.Scores) == 0 {
		return LabelScore{}, false
	}
	return c.Scores.Top(1)[0], true
}
