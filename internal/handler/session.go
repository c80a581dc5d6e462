package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"dashboard/internal/dto"
	"dashboard/internal/logger"
	"dashboard/internal/service"
)

// captureTimeout bounds how long a capture request waits for the loop.
const captureTimeout = 10 * time.Second

// CaptureHandler handles POST /api/capture by firing the capture event and
// returning the fixed still pair.
func CaptureHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), captureTimeout)
		defer cancel()

		res, err := manager.RequestCapture(ctx)
		if err != nil {
			logger.Warning("Capture request failed: %v", err)
			writeError(w, err, logger)
			return
		}

		logger.Info("📸 Capture %d fixed (skew %d)", res.CaptureID, res.Skew)
		writeJSON(w, http.StatusOK, res, logger)
	}
}

// DetectHandler handles POST /api/detect. It blocks until detection has run
// on both stills.
func DetectHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reports, err := manager.RunDetection(r.Context())
		if err != nil {
			logger.Warning("Detection request rejected: %v", err)
			writeError(w, err, logger)
			return
		}

		resp := dto.DetectionResponse{Results: make([]dto.DetectionOutcome, 0, len(reports))}
		if st := manager.Status(); st.Capture != nil {
			resp.CaptureID = st.Capture.CaptureID
		}
		for _, rep := range reports {
			resp.Results = append(resp.Results, detectionOutcome(rep))
		}
		writeJSON(w, http.StatusOK, resp, logger)
	}
}

// RestartHandler handles POST /api/session/restart.
func RestartHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := manager.RestartSession(); err != nil {
			logger.Error("Session restart failed: %v", err)
			writeError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, manager.Status(), logger)
	}
}

// StatusHandler handles GET /api/status.
func StatusHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, manager.Status(), logger)
	}
}

func statusMessage(manager *service.Manager) dto.StatusMessage {
	return dto.StatusMessage{Type: dto.MessageStatus, Status: manager.Status()}
}

// writeJSON writes v as the response body. logger may be nil.
func writeJSON(w http.ResponseWriter, status int, v interface{}, logger *logger.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && logger != nil {
		logger.Error("Failed to encode JSON response: %v", err)
	}
}

// writeError maps manager errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error, logger *logger.Logger) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrNoSession), errors.Is(err, service.ErrNoCameras):
		status = http.StatusServiceUnavailable
	case errors.Is(err, service.ErrAlreadyCaptured), errors.Is(err, service.ErrNotCaptured),
		errors.Is(err, service.ErrSessionStopped):
		status = http.StatusConflict
	case errors.Is(err, service.ErrBusy):
		status = http.StatusLocked
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, map[string]string{"error": err.Error()}, logger)
}
