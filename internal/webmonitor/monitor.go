package webmonitor

import (
	"sync"
	"time"

	"github.com/dj-oyu/lesion-detector/pkg/types"
)

// Monitor keeps the latest classification, a short history of label
// changes and the result rate shown by /api/status.
type Monitor struct {
	startTime   time.Time
	historySize int

	mu              sync.Mutex
	resultsReceived int
	previewFrames   int
	latest          *ClassificationEvent
	history         []ClassificationEvent
	fpsWindowStart  time.Time
	fpsWindowCount  int
	currentFPS      float64
}

// NewMonitor creates a Monitor keeping up to historySize label changes.
func NewMonitor(historySize int) *Monitor {
	if historySize <= 0 {
		historySize = DefaultConfig().HistorySize
	}
	now := time.Now()
	return &Monitor{
		startTime:      now,
		historySize:    historySize,
		fpsWindowStart: now,
	}
}

// UpdateClassification stores a result and returns its event form.
func (m *Monitor) UpdateClassification(c types.Classification) ClassificationEvent {
	event := newClassificationEvent(c)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.resultsReceived++
	m.fpsWindowCount++
	if elapsed := time.Since(m.fpsWindowStart); elapsed >= time.Second {
		m.currentFPS = float64(m.fpsWindowCount) / elapsed.Seconds()
		m.fpsWindowCount = 0
		m.fpsWindowStart = time.Now()
	}

	// History records label changes only, newest first
	if m.latest == nil || m.latest.BestLabel != event.BestLabel {
		m.history = append([]ClassificationEvent{event}, m.history...)
		if len(m.history) > m.historySize {
			m.history = m.history[:m.historySize]
		}
	}
	m.latest = &event
	return event
}

// CountPreview records one published preview frame.
func (m *Monitor) CountPreview() {
	m.mu.Lock()
	m.previewFrames++
	m.mu.Unlock()
}

// Snapshot returns the current stats, latest event and history.
func (m *Monitor) Snapshot() (MonitorStats, *ClassificationEvent, []ClassificationEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := MonitorStats{
		ResultsReceived: m.resultsReceived,
		PreviewFrames:   m.previewFrames,
		CurrentFPS:      m.currentFPS,
		UptimeSeconds:   time.Since(m.startTime).Seconds(),
	}

	var latest *ClassificationEvent
	if m.latest != nil {
		copied := *m.latest
		latest = &copied
	}
	historyCopy := make([]ClassificationEvent, len(m.history))
	copy(historyCopy, m.history)

	return stats, latest, historyCopy
}

func newClassificationEvent(c types.Classification) ClassificationEvent {
	event := ClassificationEvent{
		FrameSeq:   c.FrameSeq,
		Timestamp:  float64(c.Timestamp.UnixNano()) / 1e9,
		Generation: c.Generation,
		LatencyMs:  float64(c.Latency) / float64(time.Millisecond),
		Scores:     c.Scores,
	}
	if best, ok := c.Best(); ok {
		event.BestLabel = best.Label
		event.BestScore = best.Score
	}
	if event.Scores == nil {
		event.Scores = types.LabelScores{}
	}
	return event
}
