package repository

import (
	"dashboard/internal/model"
)

// CaptureRepository defines the interface for capture history operations.
type CaptureRepository interface {
	// Create operations
	Insert(c *model.Capture) (int64, error)

	// Read operations
	GetByID(id int64) (*model.Capture, error)
	GetRecent(limit int) ([]model.Capture, error)
}

// DetectionRepository defines the interface for detection run operations.
type DetectionRepository interface {
	// Create operations
	Insert(run *model.DetectionRun) (int64, error)

	// Read operations
	GetByCaptureID(captureID int64) ([]model.DetectionRun, error)
	GetRecent(limit int) ([]model.DetectionRun, error)
}
