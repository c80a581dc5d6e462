package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"dashboard/internal/config"
	"dashboard/internal/logger"
	"dashboard/internal/model"
	"dashboard/internal/service"
	"dashboard/internal/service/camera"
	"dashboard/internal/service/detector"
	"dashboard/internal/service/storage"
)

// snapshot streams both cameras for a while without a browser, captures a
// still pair and optionally runs detection on it.
func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Load()

	warmup := flag.Duration("warmup", 2*time.Second, "How long to stream before capturing")
	detect := flag.Bool("detect", true, "Run detection on the captured stills")
	flag.StringVar(&cfg.StillDirectory, "stills", cfg.StillDirectory, "Directory for the still slots")
	weights := flag.String("weights", "", "Detection weights file for both cameras")
	conf := flag.Float64("conf", -1, "Detection confidence threshold for both cameras")
	flag.StringVar(&cfg.ThermalWeights, "thermal-weights", cfg.ThermalWeights, "Detection weights file for the thermal camera")
	flag.StringVar(&cfg.RGBWeights, "rgb-weights", cfg.RGBWeights, "Detection weights file for the RGB camera")
	flag.Float64Var(&cfg.ThermalConfidence, "thermal-conf", cfg.ThermalConfidence, "Detection confidence threshold for the thermal camera")
	flag.Float64Var(&cfg.RGBConfidence, "rgb-conf", cfg.RGBConfidence, "Detection confidence threshold for the RGB camera")
	flag.Parse()

	// -weights and -conf pin both roles unless a per-role flag is also given.
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["weights"] {
		if !set["thermal-weights"] {
			cfg.ThermalWeights = *weights
		}
		if !set["rgb-weights"] {
			cfg.RGBWeights = *weights
		}
	}
	if set["conf"] {
		if !set["thermal-conf"] {
			cfg.ThermalConfidence = *conf
		}
		if !set["rgb-conf"] {
			cfg.RGBConfidence = *conf
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	appLogger := logger.NewLogger(cfg)
	defer appLogger.Close()

	store, err := storage.NewStillStore(cfg.StillDirectory, cfg.StillFormat, appLogger)
	if err != nil {
		log.Printf("Failed to open still store: %v", err)
		return 1
	}
	if err := store.Clear(); err != nil {
		log.Printf("Failed to clear stills: %v", err)
		return 1
	}

	manager, err := service.NewManager(cfg, service.Dependencies{
		Opener: camera.NewOpener(camera.DeviceOptions{
			Width:        cfg.FrameWidth,
			Height:       cfg.FrameHeight,
			FailureLimit: cfg.DeviceFailureLimit,
		}),
		Store: store,
		Invoker: detector.NewInvoker(detector.Config{
			Command:    cfg.DetectCommand,
			Script:     cfg.DetectScript,
			ProjectDir: cfg.DetectProjectDir,
			RunName:    cfg.DetectRunName,
			Timeout:    cfg.DetectTimeout,
		}, appLogger),
	}, appLogger, nil)
	if err != nil {
		log.Printf("Failed to initialize: %v", err)
		return 1
	}
	defer manager.Stop()

	if err := manager.StartSession(); err != nil {
		log.Printf("Failed to start session: %v", err)
		return 1
	}

	select {
	case <-time.After(*warmup):
	case <-ctx.Done():
		log.Print("Interrupted before capture")
		return 1
	}

	res, err := manager.RequestCapture(ctx)
	if err != nil {
		log.Printf("Capture failed: %v", err)
		return 1
	}
	fmt.Printf("📸 Captured at tick %d (skew %d)\n", res.Tick, res.Skew)
	for role, tick := range res.Written {
		fmt.Printf("   %s: tick %d -> %s\n", role, tick, store.Path(model.Role(role)))
	}
	for _, role := range res.Degraded {
		fmt.Printf("   %s: unavailable\n", role)
	}

	if !*detect {
		return 0
	}

	reports, err := manager.RunDetection(ctx)
	if err != nil {
		log.Printf("Detection failed: %v", err)
		return 1
	}
	failed := false
	for _, rep := range reports {
		fmt.Printf("\n🔍 %s: %s (weights %s, conf %.2f)\n", rep.Role, rep.Status, rep.Weights, rep.Confidence)
		if rep.Result != nil {
			fmt.Print(rep.Result.Stdout)
			if rep.Result.AnnotatedImagePath != "" {
				fmt.Printf("   result: %s\n", rep.Result.AnnotatedImagePath)
			}
		}
		if rep.Err != nil {
			fmt.Printf("   error: %v\n", rep.Err)
			failed = failed || rep.Status != model.DetectionSlotEmpty
		}
	}
	if failed {
		return 1
	}
	return 0
}
