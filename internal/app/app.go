package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"dashboard/internal/config"
	"dashboard/internal/logger"
	"dashboard/internal/metrics"
	"dashboard/internal/repository/sqlite"
	"dashboard/internal/route"
	"dashboard/internal/service"
	"dashboard/internal/service/camera"
	"dashboard/internal/service/detector"
	"dashboard/internal/service/storage"
	"dashboard/internal/service/websocket"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	config     *config.Config
	logger     *logger.Logger
	metrics    *metrics.Metrics
	db         *sqlite.DB
	hubService *websocket.HubService
	manager    *service.Manager
}

// NewApp wires all components from the environment configuration.
func NewApp() (*App, error) {
	cfg := config.Load()
	log := logger.NewLogger(cfg)
	m := metrics.New()

	store, err := storage.NewStillStore(cfg.StillDirectory, cfg.StillFormat, log)
	if err != nil {
		return nil, err
	}
	if cfg.ClearStillsOnStart {
		if err := store.Clear(); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	invoker := detector.NewInvoker(detector.Config{
		Command:    cfg.DetectCommand,
		Script:     cfg.DetectScript,
		ProjectDir: cfg.DetectProjectDir,
		RunName:    cfg.DetectRunName,
		Timeout:    cfg.DetectTimeout,
	}, log)

	hub := websocket.NewHubService(log, m)

	opener := camera.NewOpener(camera.DeviceOptions{
		Width:        cfg.FrameWidth,
		Height:       cfg.FrameHeight,
		FailureLimit: cfg.DeviceFailureLimit,
	})

	mng, err := service.NewManager(cfg, service.Dependencies{
		Opener:     opener,
		Store:      store,
		Invoker:    invoker,
		Hub:        hub,
		Captures:   sqlite.NewCaptureRepository(db),
		Detections: sqlite.NewDetectionRepository(db),
	}, log, m)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &App{
		config:     cfg,
		logger:     log,
		metrics:    m,
		db:         db,
		hubService: hub,
		manager:    mng,
	}, nil
}

// Run starts the capture session and serves HTTP until ctx is cancelled.
// It fails right away when no camera can be opened.
func (a *App) Run(ctx context.Context) error {
	defer a.db.Close()
	defer a.logger.Close()

	go a.hubService.Run()
	defer a.hubService.Stop()

	if err := a.manager.StartSession(); err != nil {
		if errors.Is(err, service.ErrNoCameras) {
			a.logger.Error("No camera could be opened (thermal %s, rgb %s)", a.config.ThermalDevice, a.config.RGBDevice)
		}
		return err
	}
	defer a.manager.Stop()

	router := route.SetupRoutes(a.manager, a.config, a.logger, a.metrics, route.StaticDirectory)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.config.Port),
		Handler: router,
	}

	fmt.Printf("🚀 Capture Dashboard\n")
	fmt.Printf("📍 URL: http://localhost:%d\n", a.config.Port)
	if a.config.Password != "" {
		fmt.Printf("🔑 Login enabled\n")
	}
	fmt.Printf("📁 Stills: %s\n", a.config.StillDirectory)
	fmt.Printf("🤖 Thermal weights: %s (conf %.2f)\n", a.config.ThermalWeights, a.config.ThermalConfidence)
	fmt.Printf("🤖 RGB weights: %s (conf %.2f)\n", a.config.RGBWeights, a.config.RGBConfidence)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		a.logger.Info("🛑 Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
