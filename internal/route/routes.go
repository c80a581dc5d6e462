package route

import (
	"net/http"
	"os"
	"path/filepath"

	"dashboard/internal/config"
	"dashboard/internal/handler"
	"dashboard/internal/logger"
	"dashboard/internal/metrics"
	"dashboard/internal/middleware"
	"dashboard/internal/service"

	"github.com/gorilla/mux"
)

// StaticDirectory holds the dashboard pages and assets.
const StaticDirectory = "static"

var logFiles = []string{logger.InfoFile, logger.WarningFile, logger.ErrorFile}

// dynamicHTMLHandler serves /path as <dir>/path.html if the file exists; otherwise 404.
func dynamicHTMLHandler(dir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		if path == "/" {
			path = "/index"
		}

		filePath := filepath.Join(dir, filepath.Clean("/"+path)+".html")

		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}

		http.ServeFile(w, r, filePath)
	}
}

// SetupRoutes registers HTTP routes, static file serving and API endpoints.
// When a password is configured the router is wrapped with the
// authentication middleware.
func SetupRoutes(manager *service.Manager, cfg *config.Config, logger *logger.Logger, m *metrics.Metrics, staticDir string) http.Handler {
	r := mux.NewRouter()

	// Static files
	r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))

	// API endpoints
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/view", handler.ViewWebsocketHandler(manager, logger)).Methods(http.MethodGet)
	api.HandleFunc("/status", handler.StatusHandler(manager, logger)).Methods(http.MethodGet)
	api.HandleFunc("/capture", handler.CaptureHandler(manager, logger)).Methods(http.MethodPost)
	api.HandleFunc("/detect", handler.DetectHandler(manager, logger)).Methods(http.MethodPost)
	api.HandleFunc("/session/restart", handler.RestartHandler(manager, logger)).Methods(http.MethodPost)
	api.HandleFunc("/stills/{role}", handler.StillHandler(manager, logger)).Methods(http.MethodGet)
	api.HandleFunc("/results/{role}", handler.ResultImageHandler(manager, cfg.FrameWidth, cfg.FrameHeight, logger)).Methods(http.MethodGet)
	api.HandleFunc("/history", handler.HistoryHandler(manager, logger)).Methods(http.MethodGet)

	if m != nil {
		r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	}

	// Log endpoints
	for _, file := range logFiles {
		level := file[:len(file)-len(filepath.Ext(file))]
		r.HandleFunc("/logs/"+level, handler.ShowLogsHandler(logger, file)).Methods(http.MethodGet)
		r.HandleFunc("/logs/"+level+"/clear", handler.ClearLogsHandler(logger, file)).Methods(http.MethodPost)
	}

	// Auth endpoints
	if cfg.Password != "" {
		r.HandleFunc("/auth/login", handler.LoginHandler(cfg, logger)).Methods(http.MethodPost)
		r.HandleFunc("/auth/logout", handler.LogoutHandler)
	}

	// Automatic HTML handler mapping for example: /history -> /static/history.html
	r.PathPrefix("/").HandlerFunc(dynamicHTMLHandler(staticDir)).Methods(http.MethodGet)

	if cfg.Password == "" {
		return r
	}
	return middleware.AuthMiddleware(r)
}
