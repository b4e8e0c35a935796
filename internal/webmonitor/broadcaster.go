package webmonitor

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"sync"

	"github.com/disintegration/imaging"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/lesion-detector/internal/logger"
	"github.com/dj-oyu/lesion-detector/internal/metrics"
	"github.com/dj-oyu/lesion-detector/internal/yuv"
	"github.com/dj-oyu/lesion-detector/pkg/types"
)

// fanout hands values to subscribed clients without ever blocking the
// publisher. A slow client misses values instead of stalling the others.
type fanout[T any] struct {
	name    string
	mu      sync.Mutex
	clients map[int]chan T
	nextID  int
	closed  bool
	metrics *metrics.Metrics
}

func newFanout[T any](name string, m *metrics.Metrics) *fanout[T] {
	return &fanout[T]{
		name:    name,
		clients: make(map[int]chan T),
		metrics: m,
	}
}

// Subscribe adds a new client and returns a channel for receiving values.
func (f *fanout[T]) Subscribe() (int, <-chan T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	ch := make(chan T, 2) // Buffer 2 values to avoid blocking
	if f.closed {
		close(ch)
		return id, ch
	}
	f.clients[id] = ch
	if f.metrics != nil {
		f.metrics.ActiveClients.Add(1)
		f.metrics.TotalClients.Add(1)
	}

	logger.Debug(f.name, "Client #%d subscribed (total clients: %d)", id, len(f.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (f *fanout[T]) Unsubscribe(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ch, ok := f.clients[id]; ok {
		close(ch)
		delete(f.clients, id)
		if f.metrics != nil {
			f.metrics.ActiveClients.Add(^uint64(0))
		}
		logger.Debug(f.name, "Client #%d unsubscribed (remaining clients: %d)", id, len(f.clients))
	}
}

// Clients returns the number of subscribed clients.
func (f *fanout[T]) Clients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *fanout[T]) broadcast(v T) (dropped int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ch := range f.clients {
		select {
		case ch <- v:
		default:
			// Client too slow, skip this value for this client
			dropped++
		}
	}
	return dropped
}

// Close disconnects every client.
func (f *fanout[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.clients {
		close(ch)
		delete(f.clients, id)
		if f.metrics != nil {
			f.metrics.ActiveClients.Add(^uint64(0))
		}
	}
}

// FrameBroadcaster encodes preview bitmaps as JPEG and fans them out to
// MJPEG clients. It implements pipeline.PreviewSink.
type FrameBroadcaster struct {
	*fanout[[]byte]
	monitor *Monitor
	quality int
	width   int
	skipped uint64 // Previews not encoded because nobody was watching
}

// NewFrameBroadcaster creates a preview broadcaster.
func NewFrameBroadcaster(cfg Config, monitor *Monitor, m *metrics.Metrics) *FrameBroadcaster {
	quality := cfg.JPEGQuality
	if quality <= 0 || quality > 100 {
		quality = DefaultConfig().JPEGQuality
	}
	return &FrameBroadcaster{
		fanout:  newFanout[[]byte]("FrameBroadcaster", m),
		monitor: monitor,
		quality: quality,
		width:   cfg.PreviewWidth,
	}
}

// ShowPreview encodes img and sends it to every MJPEG client.
func (fb *FrameBroadcaster) ShowPreview(seq uint64, img *yuv.ARGBImage) {
	// Skip the encode entirely when no clients are connected
	if fb.Clients() == 0 {
		fb.skipped++
		if fb.skipped%100 == 0 {
			logger.Debug("FrameBroadcaster", "No clients connected, skipped %d previews", fb.skipped)
		}
		return
	}
	fb.skipped = 0

	jpegData, err := fb.encode(img)
	if err != nil {
		logger.Warn("FrameBroadcaster", "Preview %d encode failed: %v", seq, err)
		return
	}
	if fb.monitor != nil {
		fb.monitor.CountPreview()
	}
	fb.broadcast(jpegData)
}

func (fb *FrameBroadcaster) encode(img *yuv.ARGBImage) ([]byte, error) {
	if img == nil || img.Width == 0 || img.Height == 0 {
		return nil, fmt.Errorf("empty preview")
	}
	var src image.Image = img.ToRGBA()
	if fb.width > 0 && img.Width > fb.width {
		src = imaging.Resize(src, fb.width, 0, imaging.Box)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, src, imaging.JPEG, imaging.JPEGQuality(fb.quality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // Pre-serialized Protobuf (base64 encoded for SSE)
}

// ResultBroadcaster fans classification events out to SSE and WebSocket
// clients. It implements pipeline.ResultSink.
type ResultBroadcaster struct {
	*fanout[*SerializedEvent]
	monitor *Monitor
}

// NewResultBroadcaster creates a classification broadcaster.
func NewResultBroadcaster(monitor *Monitor, m *metrics.Metrics) *ResultBroadcaster {
	return &ResultBroadcaster{
		fanout:  newFanout[*SerializedEvent]("ResultBroadcaster", m),
		monitor: monitor,
	}
}

// Deliver records c on the monitor and broadcasts it.
func (rb *ResultBroadcaster) Deliver(c types.Classification) {
	event := rb.monitor.UpdateClassification(c)
	if rb.Clients() == 0 {
		return
	}

	serialized, err := serializeEvent(event)
	if err != nil {
		logger.Warn("ResultBroadcaster", "Failed to serialize frame %d: %v", c.FrameSeq, err)
		return
	}
	if dropped := rb.broadcast(serialized); dropped > 0 {
		logger.Debug("ResultBroadcaster", "Frame %d skipped by %d slow clients", c.FrameSeq, dropped)
	}
}

func serializeEvent(event ClassificationEvent) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}

	pbEvent, err := eventToProto(event)
	if err != nil {
		return nil, fmt.Errorf("protobuf: %w", err)
	}
	pbData, err := proto.Marshal(pbEvent)
	if err != nil {
		return nil, fmt.Errorf("protobuf: %w", err)
	}

	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

// eventToProto mirrors the JSON shape as a google.protobuf.Struct.
func eventToProto(event ClassificationEvent) (*structpb.Struct, error) {
	scores := make([]any, len(event.Scores))
	for i, s := range event.Scores {
		scores[i] = map[string]any{
			"label": s.Label,
			"score": float64(s.Score),
		}
	}
	return structpb.NewStruct(map[string]any{
		"frame_seq":  float64(event.FrameSeq),
		"timestamp":  event.Timestamp,
		"generation": float64(event.Generation),
		"latency_ms": event.LatencyMs,
		"best_label": event.BestLabel,
		"best_score": float64(event.BestScore),
		"scores":     scores,
	})
}
