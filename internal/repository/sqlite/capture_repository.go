package sqlite

import (
	"database/sql"
	"fmt"

	"dashboard/internal/model"
)

// CaptureRepository implements repository.CaptureRepository for SQLite.
type CaptureRepository struct {
	db *DB
}

// NewCaptureRepository creates a new SQLite capture repository.
func NewCaptureRepository(db *DB) *CaptureRepository {
	return &CaptureRepository{db: db}
}

// Insert adds a new capture record to the database.
func (r *CaptureRepository) Insert(c *model.Capture) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`
		INSERT INTO captures (session_id, thermal_tick, rgb_tick, skew, degraded, captured_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.SessionID, c.ThermalTick, c.RGBTick, c.Skew, c.Degraded, c.CapturedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert capture: %w", err)
	}

	return result.LastInsertId()
}

// GetByID retrieves a capture by its ID. It returns nil when no row matches.
func (r *CaptureRepository) GetByID(id int64) (*model.Capture, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var c model.Capture
	err := r.db.Conn().QueryRow(`
		SELECT id, session_id, thermal_tick, rgb_tick, skew, degraded, captured_at
		FROM captures WHERE id = ?
	`, id).Scan(&c.ID, &c.SessionID, &c.ThermalTick, &c.RGBTick, &c.Skew, &c.Degraded, &c.CapturedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get capture: %w", err)
	}
	return &c, nil
}

// GetRecent returns up to limit captures, newest first.
func (r *CaptureRepository) GetRecent(limit int) ([]model.Capture, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT id, session_id, thermal_tick, rgb_tick, skew, degraded, captured_at
		FROM captures ORDER BY captured_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query captures: %w", err)
	}
	defer rows.Close()

	var captures []model.Capture
	for rows.Next() {
		var c model.Capture
		if err := rows.Scan(&c.ID, &c.SessionID, &c.ThermalTick, &c.RGBTick, &c.Skew, &c.Degraded, &c.CapturedAt); err != nil {
			return nil, fmt.Errorf("failed to scan capture: %w", err)
		}
		captures = append(captures, c)
	}

	return captures, rows.Err()
}
