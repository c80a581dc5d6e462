package model

import "time"

// Capture represents a finalized still pair.
type Capture struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"session_id"`
	ThermalTick int64     `json:"thermal_tick"` // -1 when the slot was never written
	RGBTick     int64     `json:"rgb_tick"`
	Skew        int64     `json:"skew"`
	Degraded    string    `json:"degraded"` // comma separated roles
	CapturedAt  time.Time `json:"captured_at"`
}

// Detection run statuses.
const (
	DetectionOK            = "ok"
	DetectionProcessError  = "process_error"
	DetectionResultMissing = "result_missing"
	DetectionSlotEmpty     = "slot_empty"
	DetectionFailed        = "failed"
)

// DetectionRun represents one external detection invocation for one still.
type DetectionRun struct {
	ID            int64     `json:"id"`
	CaptureID     int64     `json:"capture_id"`
	Role          Role      `json:"role"`
	Status        string    `json:"status"`
	StillPath     string    `json:"still_path"`
	AnnotatedPath string    `json:"annotated_path"`
	Stdout        string    `json:"stdout"`
	Stderr        string    `json:"stderr"`
	Confidence    float64   `json:"confidence"`
	DurationMs    int64     `json:"duration_ms"`
	CreatedAt     time.Time `json:"created_at"`
}
