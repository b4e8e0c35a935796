package recorder

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dj-oyu/lesion-detector/internal/metrics"
	"github.com/dj-oyu/lesion-detector/pkg/types"
)

func openTemp(t *testing.T, m *metrics.Metrics) *Recorder {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "results.db"), m)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func result(seq uint64, scores ...types.LabelScore) types.Classification {
	return types.Classification{
		FrameSeq:  seq,
		Timestamp: time.Now(),
		Scores:    scores,
		Latency:   12 * time.Millisecond,
	}
}

func TestRecordsOnlyWhileRecording(t *testing.T) {
	m := metrics.New()
	r := openTemp(t, m)

	r.Deliver(result(1, types.LabelScore{Label: "nevus", Score: 0.9}))
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Start(); !errors.Is(err, ErrAlreadyRecording) {
		t.Fatalf("second Start = %v", err)
	}
	if m.RecordingActive.Load() != 1 {
		t.Fatalf("recording gauge not set")
	}

	r.Deliver(result(2,
		types.LabelScore{Label: "melanoma", Score: 0.2},
		types.LabelScore{Label: "nevus", Score: 0.8}))
	r.Deliver(result(3,
		types.LabelScore{Label: "melanoma", Score: 0.7},
		types.LabelScore{Label: "nevus", Score: 0.3}))

	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := r.Stop(); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("second Stop = %v", err)
	}

	st := r.GetStatus()
	if st.Recording || st.Rows != 2 || st.SessionID == 0 {
		t.Fatalf("status = %+v", st)
	}
	if m.RecorderRows.Load() != 2 || m.RecordingActive.Load() != 0 {
		t.Fatalf("metrics rows=%d active=%d", m.RecorderRows.Load(), m.RecordingActive.Load())
	}

	recs, err := r.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	newest := recs[0]
	if newest.FrameSeq != 3 || newest.BestLabel != "melanoma" || len(newest.Scores) != 2 {
		t.Fatalf("newest record = %+v", newest)
	}
	if newest.Scores[0].Label != "melanoma" || newest.Scores[1].Label != "nevus" {
		t.Fatalf("score order not preserved: %+v", newest.Scores)
	}
}

func TestSessionsAreSeparate(t *testing.T) {
	r := openTemp(t, nil)

	for i := 0; i < 2; i++ {
		if err := r.Start(); err != nil {
			t.Fatalf("Start %d: %v", i, err)
		}
		r.Deliver(result(uint64(i+1), types.LabelScore{Label: "a", Score: 1}))
		if err := r.Stop(); err != nil {
			t.Fatalf("Stop %d: %v", i, err)
		}
	}

	recs, err := r.Recent(0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 2 || recs[0].SessionID == recs[1].SessionID {
		t.Fatalf("records = %+v", recs)
	}
}
