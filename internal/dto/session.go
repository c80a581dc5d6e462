package dto

import "time"

// SessionStatus is the dashboard's view of the running capture session.
type SessionStatus struct {
	SessionID       string            `json:"session_id"`
	State           string            `json:"state"`
	Tick            uint64            `json:"tick"`
	PreviewRole     string            `json:"preview_role"`
	WriteMode       string            `json:"write_mode"`
	Active          []string          `json:"active"`
	Degraded        map[string]string `json:"degraded"`
	PreviewDegraded bool              `json:"preview_degraded"`
	DetectionBusy   bool              `json:"detection_busy"`
	Capture         *CaptureResponse  `json:"capture,omitempty"`
}

// CaptureResponse describes a finalized still pair.
type CaptureResponse struct {
	SessionID  string            `json:"session_id"`
	CaptureID  int64             `json:"capture_id,omitempty"`
	Tick       uint64            `json:"tick"`
	Written    map[string]uint64 `json:"written"`
	Skew       uint64            `json:"skew"`
	Degraded   []string          `json:"degraded"`
	CapturedAt time.Time         `json:"captured_at"`
}

// DetectionOutcome is the per-role result of a detection request.
type DetectionOutcome struct {
	Role       string `json:"role"`
	Status     string `json:"status"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr,omitempty"`
	ExitCode   int    `json:"exit_code,omitempty"`
	ResultURL  string `json:"result_url,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// DetectionResponse is returned by POST /api/detect.
type DetectionResponse struct {
	CaptureID int64              `json:"capture_id,omitempty"`
	Results   []DetectionOutcome `json:"results"`
}
