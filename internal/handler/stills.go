package handler

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"dashboard/internal/dto"
	"dashboard/internal/logger"
	"dashboard/internal/model"
	"dashboard/internal/service"
	"dashboard/internal/service/detector"
	"dashboard/internal/service/storage"

	"github.com/disintegration/imaging"
	"github.com/gorilla/mux"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// StillHandler serves GET /api/stills/{role} as PNG.
func StillHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role, err := model.ParseRole(mux.Vars(r)["role"])
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		frame, err := manager.GetStillStore().Read(role)
		if errors.Is(err, storage.ErrSlotEmpty) {
			http.Error(w, "Nothing captured yet", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("Failed to read %s still: %v", role, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := imaging.Encode(w, frame.Image, imaging.PNG); err != nil {
			logger.Error("Failed to encode %s still: %v", role, err)
		}
	}
}

// ResultImageHandler serves GET /api/results/{role}: the annotated image of
// the last successful detection, or a placeholder when there is none.
func ResultImageHandler(manager *service.Manager, width, height int, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role, err := model.ParseRole(mux.Vars(r)["role"])
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Cache-Control", "no-cache")

		if path, ok := manager.ResultImagePath(role); ok {
			if _, err := os.Stat(path); err == nil {
				http.ServeFile(w, r, path)
				return
			}
			logger.Warning("Result image for %s disappeared: %s", role, path)
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("X-Placeholder", "true")
		if err := imaging.Encode(w, storage.Placeholder(width, height), imaging.PNG); err != nil {
			logger.Error("Failed to encode placeholder: %v", err)
		}
	}
}

// HistoryHandler serves GET /api/history?limit=N.
func HistoryHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := atoiDefault(r.URL.Query().Get("limit"), defaultHistoryLimit)
		if limit > maxHistoryLimit {
			limit = maxHistoryLimit
		}

		entries, err := manager.History(limit)
		if err != nil {
			logger.Error("Error querying history: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, dto.HistoryData{Entries: entries, Limit: limit}, logger)
	}
}

func detectionOutcome(rep service.RoleDetection) dto.DetectionOutcome {
	out := dto.DetectionOutcome{
		Role:   string(rep.Role),
		Status: rep.Status,
	}
	if rep.Result != nil {
		out.Stdout = rep.Result.Stdout
		out.Stderr = rep.Result.Stderr
		out.DurationMs = rep.Result.Duration.Milliseconds()
		if rep.Result.AnnotatedImagePath != "" {
			out.ResultURL = "/api/results/" + string(rep.Role)
		}
	}
	var procErr *detector.ProcessError
	if errors.As(rep.Err, &procErr) {
		out.ExitCode = procErr.ExitCode
	}
	if rep.Err != nil {
		out.Error = rep.Err.Error()
	}
	return out
}

// atoiDefault converts string to int or returns a default when conversion fails or value <= 0.
func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
