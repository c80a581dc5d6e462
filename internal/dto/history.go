package dto

import "dashboard/internal/model"

// HistoryEntry pairs a capture with the detection runs made on it.
type HistoryEntry struct {
	Capture    model.Capture        `json:"capture"`
	Detections []model.DetectionRun `json:"detections"`
}

// HistoryData is the payload of GET /api/history.
type HistoryData struct {
	Entries []HistoryEntry `json:"entries"`
	Limit   int            `json:"limit"`
}
