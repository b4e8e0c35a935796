package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.FramesDropped.Add(3)
	m.ObserveStage(StageInference, 42*time.Millisecond)
	SetFlag(&m.RecordingActive, true)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	for _, want := range []string{
		"lesion_frames_dropped_total 3",
		"lesion_inference_latency_ms 42",
		"lesion_recording_active 1",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestSnapshot(t *testing.T) {
	m := New()
	m.FramesReceived.Add(10)
	m.FramesAdmitted.Add(4)
	m.ResultsStale.Add(1)

	s := m.Snapshot()
	if s.FramesReceived != 10 || s.FramesAdmitted != 4 || s.ResultsStale != 1 {
		t.Fatalf("snapshot = %+v", s)
	}
	n, err := m.Gather()
	if err != nil || n == 0 {
		t.Fatalf("Gather = %d, %v", n, err)
	}
}
