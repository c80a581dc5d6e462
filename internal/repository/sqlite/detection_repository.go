package sqlite

import (
	"database/sql"
	"fmt"

	"dashboard/internal/model"
)

// DetectionRepository implements repository.DetectionRepository for SQLite.
type DetectionRepository struct {
	db *DB
}

// NewDetectionRepository creates a new SQLite detection repository.
func NewDetectionRepository(db *DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

const detectionColumns = `id, capture_id, role, status, still_path, annotated_path, stdout, stderr, confidence, duration_ms, created_at`

// Insert adds a new detection run to the database.
func (r *DetectionRepository) Insert(run *model.DetectionRun) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`
		INSERT INTO detection_runs (capture_id, role, status, still_path, annotated_path, stdout, stderr, confidence, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.CaptureID, string(run.Role), run.Status, run.StillPath, run.AnnotatedPath,
		run.Stdout, run.Stderr, run.Confidence, run.DurationMs, run.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert detection run: %w", err)
	}

	return result.LastInsertId()
}

// GetByCaptureID retrieves all detection runs for a capture in insertion order.
func (r *DetectionRepository) GetByCaptureID(captureID int64) ([]model.DetectionRun, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT `+detectionColumns+`
		FROM detection_runs WHERE capture_id = ? ORDER BY id
	`, captureID)
	if err != nil {
		return nil, fmt.Errorf("failed to query detection runs: %w", err)
	}
	return scanDetectionRuns(rows)
}

// GetRecent returns up to limit detection runs, newest first.
func (r *DetectionRepository) GetRecent(limit int) ([]model.DetectionRun, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT `+detectionColumns+`
		FROM detection_runs ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query detection runs: %w", err)
	}
	return scanDetectionRuns(rows)
}

func scanDetectionRuns(rows *sql.Rows) ([]model.DetectionRun, error) {
	defer rows.Close()

	var runs []model.DetectionRun
	for rows.Next() {
		var run model.DetectionRun
		var role string
		if err := rows.Scan(&run.ID, &run.CaptureID, &role, &run.Status, &run.StillPath, &run.AnnotatedPath,
			&run.Stdout, &run.Stderr, &run.Confidence, &run.DurationMs, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan detection run: %w", err)
		}
		run.Role = model.Role(role)
		runs = append(runs, run)
	}

	return runs, rows.Err()
}
