package dto

// Message types sent over the viewer websocket.
const (
	MessagePreview = "preview"
	MessageStatus  = "status"
)

// PreviewMessage carries one preview frame as a base64 JPEG.
type PreviewMessage struct {
	Type  string `json:"type"`
	Role  string `json:"role"`
	Tick  uint64 `json:"tick"`
	Image string `json:"image"`
}

// StatusMessage wraps a SessionStatus for websocket delivery.
type StatusMessage struct {
	Type   string        `json:"type"`
	Status SessionStatus `json:"status"`
}
