package webmonitor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dj-oyu/lesion-detector/internal/metrics"
	"github.com/dj-oyu/lesion-detector/internal/recorder"
	"github.com/dj-oyu/lesion-detector/pkg/types"
)

type testServer struct {
	*Server
	url     string
	client  *http.Client
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	m := metrics.New()
	s := NewServer(DefaultConfig(), append([]Option{WithMetrics(m)}, opts...)...)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	// Runs before srv.Close so streaming handlers return
	t.Cleanup(func() {
		s.Frames().Close()
		s.Results().Close()
	})
	return &testServer{
		Server:  s,
		url:     srv.URL,
		client:  srv.Client(),
		metrics: m,
	}
}

func newTestRecorder(t *testing.T) *recorder.Recorder {
	t.Helper()
	r, err := recorder.Open(filepath.Join(t.TempDir(), "monitor.db"), nil)
	if err != nil {
		t.Fatalf("open recorder: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func (s *testServer) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := s.client.Get(s.url + path)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, body
}

func (s *testServer) post(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := s.client.Post(s.url+path, "application/json", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, body
}

// readSSEData returns the first data payload of an SSE stream, skipping
// comments such as keepalives.
func readSSEData(ctx context.Context, client *http.Client, url, accept string) (string, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("build request: %w", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "data:")), resp.Header, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", nil, fmt.Errorf("read sse: %w", err)
	}
	return "", nil, fmt.Errorf("sse stream closed before event")
}

type sseResult struct {
	data   string
	header http.Header
	err    error
}

// deliverUntil keeps delivering c until done fires. Subscriptions are
// registered asynchronously, so a single delivery could be missed.
func deliverUntil(s *Server, c types.Classification, done <-chan struct{}) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		s.Results().Deliver(c)
		select {
		case <-done:
			return
		case <-ticker.C:
		}
	}
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireString(t *testing.T, value any, field string) string {
	t.Helper()
	str, ok := value.(string)
	if !ok {
		t.Fatalf("expected %s to be string, got %T", field, value)
	}
	return str
}

func requireNumber(t *testing.T, value any, field string) float64 {
	t.Helper()
	num, ok := value.(float64)
	if !ok {
		t.Fatalf("expected %s to be number, got %T", field, value)
	}
	return num
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected %s to be object, got %T", field, value)
	}
	return m
}

func sampleResult(seq uint64) types.Classification {
	return types.Classification{
		FrameSeq:   seq,
		Timestamp:  time.Now(),
		Generation: 1,
		Scores: types.LabelScores{
			{Label: "benign", Score: 0.25},
			{Label: "malignant", Score: 0.75},
		},
		Latency: 8 * time.Millisecond,
	}
}
