package recorder

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dj-oyu/lesion-detector/internal/logger"
	"github.com/dj-oyu/lesion-detector/internal/metrics"
	"github.com/dj-oyu/lesion-detector/pkg/types"
)

var (
	ErrAlreadyRecording = errors.New("already recording")
	ErrNotRecording     = errors.New("not recording")
)

// Recorder writes classifications into SQLite while a recording session is
// active. Deliver never blocks; results that do not fit the queue are
// dropped and counted.
type Recorder struct {
	mu        sync.RWMutex
	db        *sql.DB
	path      string
	recording bool
	sessionID int64
	rows      uint64
	dropped   uint64
	startTime time.Time
	queue     chan types.Classification
	stop      chan struct{}
	wg        sync.WaitGroup
	metrics   *metrics.Metrics
}

// Open opens (and migrates) the database at path. m may be nil.
func Open(path string, m *metrics.Metrics) (*Recorder, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	r := &Recorder{db: db, path: path, metrics: m}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return r, nil
}

func (r *Recorder) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at DATETIME NOT NULL,
		stopped_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS classifications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL,
		frame_seq INTEGER NOT NULL,
		captured_at DATETIME NOT NULL,
		generation INTEGER NOT NULL,
		latency_ms REAL NOT NULL,
		best_label TEXT NOT NULL,
		best_score REAL NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS scores (
		classification_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		label TEXT NOT NULL,
		score REAL NOT NULL,
		PRIMARY KEY (classification_id, position),
		FOREIGN KEY (classification_id) REFERENCES classifications(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_classifications_session ON classifications(session_id);
	CREATE INDEX IF NOT EXISTS idx_classifications_captured ON classifications(captured_at);
	`
	_, err := r.db.Exec(schema)
	return err
}

// Start opens a new recording session
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return ErrAlreadyRecording
	}

	now := time.Now()
	res, err := r.db.Exec(`INSERT INTO sessions (started_at) VALUES (?)`, now)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get session id: %w", err)
	}

	r.sessionID = id
	r.recording = true
	r.rows = 0
	r.dropped = 0
	r.startTime = now
	r.queue = make(chan types.Classification, 64)
	r.stop = make(chan struct{})
	r.setActive(true)

	r.wg.Add(1)
	go r.writeResults(id, r.queue, r.stop)

	logger.Info("Recorder", "Recording session %d to %s", id, r.path)
	return nil
}

// Stop ends the session after writing everything already queued
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return ErrNotRecording
	}
	r.recording = false
	close(r.stop)
	id := r.sessionID
	r.mu.Unlock()

	r.wg.Wait()
	r.setActive(false)

	if _, err := r.db.Exec(`UPDATE sessions SET stopped_at = ? WHERE id = ?`, time.Now(), id); err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	logger.Info("Recorder", "Stopped session %d (%d rows)", id, r.GetStatus().Rows)
	return nil
}

// Deliver queues a classification for writing.
func (r *Recorder) Deliver(c types.Classification) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.recording {
		return
	}
	select {
	case r.queue <- c:
	default:
		r.dropped++
		if r.metrics != nil {
			r.metrics.RecorderDropped.Add(1)
		}
	}
}

func (r *Recorder) writeResults(session int64, queue <-chan types.Classification, stop <-chan struct{}) {
	defer r.wg.Done()

	for {
		select {
		case c := <-queue:
			r.write(session, c)
		case <-stop:
			for {
				select {
				case c := <-queue:
					r.write(session, c)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(session int64, c types.Classification) {
	if err := r.insert(session, c); err != nil {
		logger.Warn("Recorder", "Write failed for frame %d: %v", c.FrameSeq, err)
		if r.metrics != nil {
			r.metrics.RecorderErrors.Add(1)
		}
		return
	}
	r.mu.Lock()
	r.rows++
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.RecorderRows.Add(1)
	}
}

func (r *Recorder) insert(session int64, c types.Classification) error {
	best, _ := c.Best()

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO classifications (session_id, frame_seq, captured_at, generation, latency_ms, best_label, best_score)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, session, int64(c.FrameSeq), c.Timestamp, int64(c.Generation),
		float64(c.Latency)/float64(time.Millisecond), best.Label, float64(best.Score))
	if err != nil {
		return fmt.Errorf("failed to insert classification: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	for i, s := range c.Scores {
		if _, err := tx.Exec(`
			INSERT INTO scores (classification_id, position, label, score)
			VALUES (?, ?, ?, ?)
		`, id, i, s.Label, float64(s.Score)); err != nil {
			return fmt.Errorf("failed to insert score: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *Recorder) setActive(on bool) {
	if r.metrics != nil {
		metrics.SetFlag(&r.metrics.RecordingActive, on)
	}
}

// IsRecording returns true if a session is active
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// GetStatus returns the current recording status
func (r *Recorder) GetStatus() RecordingStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var duration time.Duration
	if r.recording {
		duration = time.Since(r.startTime)
	}

	return RecordingStatus{
		Recording: r.recording,
		Database:  r.path,
		SessionID: r.sessionID,
		Rows:      r.rows,
		Dropped:   r.dropped,
		Duration:  duration,
		StartTime: r.startTime,
	}
}

// Record is one stored classification
type Record struct {
	ID         int64             `json:"id"`
	SessionID  int64             `json:"session_id"`
	FrameSeq   uint64            `json:"frame_seq"`
	CapturedAt time.Time         `json:"captured_at"`
	BestLabel  string            `json:"best_label"`
	BestScore  float64           `json:"best_score"`
	LatencyMs  float64           `json:"latency_ms"`
	Scores     types.LabelScores `json:"scores"`
}

// Recent returns the latest limit classifications, newest first.
func (r *Recorder) Recent(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(`
		SELECT id, session_id, frame_seq, captured_at, best_label, best_score, latency_ms
		FROM classifications
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query classifications: %w", err)
	}

	var records []Record
	for rows.Next() {
		var rec Record
		var seq int64
		if err := rows.Scan(&rec.ID, &rec.SessionID, &seq, &rec.CapturedAt, &rec.BestLabel, &rec.BestScore, &rec.LatencyMs); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan classification: %w", err)
		}
		rec.FrameSeq = uint64(seq)
		records = append(records, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Single connection: scores are loaded after the first cursor is closed.
	for i := range records {
		scores, err := r.scores(records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].Scores = scores
	}
	return records, nil
}

func (r *Recorder) scores(id int64) (types.LabelScores, error) {
	rows, err := r.db.Query(`SELECT label, score FROM scores WHERE classification_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query scores: %w", err)
	}
	defer rows.Close()

	var out types.LabelScores
	for rows.Next() {
		var s types.LabelScore
		var score float64
		if err := rows.Scan(&s.Label, &score); err != nil {
			return nil, fmt.Errorf("failed to scan score: %w", err)
		}
		s.Score = float32(score)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Close stops an active session and closes the database
func (r *Recorder) Close() error {
	if r.IsRecording() {
		if err := r.Stop(); err != nil {
			logger.Warn("Recorder", "Stop on close: %v", err)
		}
	}
	return r.db.Close()
}

// RecordingStatus holds the current recording status
type RecordingStatus struct {
	Recording bool          `json:"recording"`
	Database  string        `json:"database"`
	SessionID int64         `json:"session_id"`
	Rows      uint64        `json:"rows"`
	Dropped   uint64        `json:"dropped"`
	Duration  time.Duration `json:"duration_ms"`
	StartTime time.Time     `json:"start_time"`
}
