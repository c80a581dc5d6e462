package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"dashboard/internal/config"
	"dashboard/internal/logger"
	"dashboard/internal/model"
	"dashboard/internal/repository/sqlite"
	"dashboard/internal/service/camera"
	"dashboard/internal/service/detector"
	"dashboard/internal/service/storage"

	"github.com/disintegration/imaging"
)

// ========================================
// Test Helpers
// ========================================

type fakeSource struct {
	id     string
	shade  uint8
	mu     sync.Mutex
	closed bool
}

func (f *fakeSource) ReadFrame() (image.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, camera.ErrDeviceFailed
	}
	return imaging.New(32, 24, color.NRGBA{R: f.shade, G: f.shade, B: f.shade, A: 255}), nil
}

func (f *fakeSource) State() camera.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return camera.Closed
	}
	return camera.OpenStreaming
}

func (f *fakeSource) DeviceID() string { return f.id }

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// openerFor returns an opener that only knows the given device ids.
func openerFor(devices ...string) camera.Opener {
	known := make(map[string]bool)
	for _, d := range devices {
		known[d] = true
	}
	return func(deviceID string) (camera.FrameSource, error) {
		if !known[deviceID] {
			return nil, fmt.Errorf("%w: %s", camera.ErrDeviceUnavailable, deviceID)
		}
		return &fakeSource{id: deviceID, shade: 100}, nil
	}
}

const annotateScript = `#!/bin/sh
while [ $# -gt 0 ]; do
  case "$1" in
    --source) src="$2"; shift 2 ;;
    --project) project="$2"; shift 2 ;;
    --name) name="$2"; shift 2 ;;
    --weights) weights="$2"; shift 2 ;;
    --conf) conf="$2"; shift 2 ;;
    *) shift ;;
  esac
done
sleep "${DETECT_DELAY:-0}"
mkdir -p "$project/$name"
cp "$src" "$project/$name/$(basename "$src")"
echo "detected 1 bird in $(basename "$src") weights=$weights conf=$conf"
`

const crashScript = `#!/bin/sh
echo "starting"
echo "CUDA error" >&2
exit 2
`

type fixture struct {
	manager *Manager
	store   *storage.StillStore
	cfg     *config.Config
}

func newFixture(t *testing.T, script string, devices ...string) fixture {
	t.Helper()
	dir := t.TempDir()

	log, err := logger.New(filepath.Join(dir, "logs"))
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	cfg := &config.Config{
		ThermalDevice:      "0",
		RGBDevice:          "2",
		FrameWidth:         16,
		FrameHeight:        12,
		PreviewRole:        "thermal",
		WriteMode:          "through",
		TickInterval:       2 * time.Millisecond,
		ClearStillsOnStart: true,
		WeightsPath:        "best.pt",
		Confidence:         0.5,
		ThermalWeights:     "thermal.pt",
		RGBWeights:         "rgb.pt",
		ThermalConfidence:  0.5,
		RGBConfidence:      0.25,
	}

	store, err := storage.NewStillStore(filepath.Join(dir, "stills"), "png", log)
	if err != nil {
		t.Fatalf("Failed to create still store: %v", err)
	}

	scriptPath := filepath.Join(dir, "detect.sh")
	if err := os.WriteFile(scriptPath, []byte(script), 0755); err != nil {
		t.Fatalf("Failed to write script: %v", err)
	}
	invoker := detector.NewInvoker(detector.Config{
		Command:    "sh",
		Script:     scriptPath,
		ProjectDir: filepath.Join(dir, "runs"),
		RunName:    "exp",
	}, log)

	db, err := sqlite.New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mgr, err := NewManager(cfg, Dependencies{
		Opener:     openerFor(devices...),
		Store:      store,
		Invoker:    invoker,
		Captures:   sqlite.NewCaptureRepository(db),
		Detections: sqlite.NewDetectionRepository(db),
	}, log, nil)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	t.Cleanup(mgr.Stop)

	return fixture{manager: mgr, store: store, cfg: cfg}
}

func waitForStill(t *testing.T, store *storage.StillStore, role model.Role) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !store.Has(role) {
		if time.Now().After(deadline) {
			t.Fatalf("No %s still written in time", role)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func captureCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// ========================================
// Session Lifecycle Tests
// ========================================

func TestNewManager_RejectsBadConfig(t *testing.T) {
	f := newFixture(t, annotateScript, "0", "2")

	bad := *f.cfg
	bad.PreviewRole = "infrared"
	if _, err := NewManager(&bad, f.manager.deps, nil, nil); err == nil {
		t.Error("Expected error for unknown preview role")
	}

	bad = *f.cfg
	bad.WriteMode = "sometimes"
	if _, err := NewManager(&bad, f.manager.deps, nil, nil); err == nil {
		t.Error("Expected error for unknown write mode")
	}
}

func TestManager_NoCameras(t *testing.T) {
	f := newFixture(t, annotateScript)

	if err := f.manager.StartSession(); !errors.Is(err, ErrNoCameras) {
		t.Fatalf("Expected ErrNoCameras, got %v", err)
	}
	if st := f.manager.Status(); st.State != "stopped" {
		t.Errorf("Expected stopped status, got %s", st.State)
	}
}

func TestManager_CaptureBeforeStart(t *testing.T) {
	f := newFixture(t, annotateScript, "0", "2")

	if _, err := f.manager.RequestCapture(captureCtx(t)); !errors.Is(err, ErrNoSession) {
		t.Errorf("Expected ErrNoSession, got %v", err)
	}
}

func TestManager_CaptureAndDetect(t *testing.T) {
	f := newFixture(t, annotateScript, "0", "2")

	if err := f.manager.StartSession(); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	waitForStill(t, f.store, model.RoleThermal)
	waitForStill(t, f.store, model.RoleRGB)

	if _, err := f.manager.RunDetection(context.Background()); !errors.Is(err, ErrNotCaptured) {
		t.Fatalf("Expected ErrNotCaptured while streaming, got %v", err)
	}

	res, err := f.manager.RequestCapture(captureCtx(t))
	if err != nil {
		t.Fatalf("RequestCapture failed: %v", err)
	}
	if res.CaptureID == 0 {
		t.Error("Expected capture to be recorded")
	}
	if len(res.Written) != 2 {
		t.Errorf("Expected both slots written, got %v", res.Written)
	}
	if res.Skew > 1 {
		t.Errorf("Expected skew <= 1, got %d", res.Skew)
	}

	if _, err := f.manager.RequestCapture(captureCtx(t)); !errors.Is(err, ErrAlreadyCaptured) {
		t.Errorf("Expected ErrAlreadyCaptured, got %v", err)
	}

	reports, err := f.manager.RunDetection(context.Background())
	if err != nil {
		t.Fatalf("RunDetection failed: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("Expected 2 reports, got %d", len(reports))
	}
	expectedArgs := map[model.Role]string{
		model.RoleThermal: "weights=thermal.pt conf=0.5",
		model.RoleRGB:     "weights=rgb.pt conf=0.25",
	}
	for _, r := range reports {
		if r.Status != model.DetectionOK {
			t.Errorf("%s: expected ok, got %s (%v)", r.Role, r.Status, r.Err)
			continue
		}
		if !strings.Contains(r.Result.Stdout, expectedArgs[r.Role]) {
			t.Errorf("%s: expected %q in stdout, got %q", r.Role, expectedArgs[r.Role], r.Result.Stdout)
		}
		path, ok := f.manager.ResultImagePath(r.Role)
		if !ok || path != r.Result.AnnotatedImagePath {
			t.Errorf("%s: result path %q not tracked", r.Role, path)
		}
	}

	history, err := f.manager.History(10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 1 || len(history[0].Detections) != 2 {
		t.Fatalf("Expected 1 capture with 2 detections, got %+v", history)
	}
	expectedConf := map[model.Role]float64{model.RoleThermal: 0.5, model.RoleRGB: 0.25}
	for _, run := range history[0].Detections {
		if run.Confidence != expectedConf[run.Role] {
			t.Errorf("%s: expected recorded confidence %v, got %v", run.Role, expectedConf[run.Role], run.Confidence)
		}
	}

	st := f.manager.Status()
	if st.State != "captured" || st.Capture == nil {
		t.Errorf("Expected captured status with capture details, got %+v", st)
	}
}

func TestManager_DegradedSession(t *testing.T) {
	f := newFixture(t, annotateScript, "0")

	if err := f.manager.StartSession(); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	waitForStill(t, f.store, model.RoleThermal)

	st := f.manager.Status()
	if _, ok := st.Degraded["rgb"]; !ok {
		t.Errorf("Expected rgb marked degraded, got %v", st.Degraded)
	}
	if st.PreviewDegraded {
		t.Error("Thermal preview should not be degraded")
	}

	res, err := f.manager.RequestCapture(captureCtx(t))
	if err != nil {
		t.Fatalf("RequestCapture failed: %v", err)
	}
	if _, ok := res.Written["rgb"]; ok {
		t.Error("rgb slot should never have been written")
	}
	if res.Skew != 0 {
		t.Errorf("Expected zero skew with a single slot, got %d", res.Skew)
	}

	reports, err := f.manager.RunDetection(context.Background())
	if err != nil {
		t.Fatalf("RunDetection failed: %v", err)
	}
	statuses := map[model.Role]string{}
	for _, r := range reports {
		statuses[r.Role] = r.Status
	}
	if statuses[model.RoleThermal] != model.DetectionOK {
		t.Errorf("Expected thermal ok, got %s", statuses[model.RoleThermal])
	}
	if statuses[model.RoleRGB] != model.DetectionSlotEmpty {
		t.Errorf("Expected rgb slot_empty, got %s", statuses[model.RoleRGB])
	}
}

func TestManager_ProcessErrorIsReported(t *testing.T) {
	f := newFixture(t, crashScript, "0", "2")

	if err := f.manager.StartSession(); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	waitForStill(t, f.store, model.RoleThermal)
	if _, err := f.manager.RequestCapture(captureCtx(t)); err != nil {
		t.Fatalf("RequestCapture failed: %v", err)
	}

	reports, err := f.manager.RunDetection(context.Background())
	if err != nil {
		t.Fatalf("RunDetection failed: %v", err)
	}
	for _, r := range reports {
		if r.Status == model.DetectionSlotEmpty {
			continue
		}
		var procErr *detector.ProcessError
		if r.Status != model.DetectionProcessError || !errors.As(r.Err, &procErr) {
			t.Errorf("%s: expected process error, got %s (%v)", r.Role, r.Status, r.Err)
			continue
		}
		if procErr.ExitCode != 2 || procErr.Stderr == "" {
			t.Errorf("%s: unexpected process error %+v", r.Role, procErr)
		}
		if _, ok := f.manager.ResultImagePath(r.Role); ok {
			t.Errorf("%s: failed run should not leave a result image", r.Role)
		}
	}
}

func TestManager_OverlappingDetectionIsRejected(t *testing.T) {
	t.Setenv("DETECT_DELAY", "0.5")
	f := newFixture(t, annotateScript, "0", "2")

	if err := f.manager.StartSession(); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	waitForStill(t, f.store, model.RoleThermal)
	if _, err := f.manager.RequestCapture(captureCtx(t)); err != nil {
		t.Fatalf("RequestCapture failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.manager.RunDetection(context.Background())
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !f.manager.Busy() {
		if time.Now().After(deadline) {
			t.Fatal("Detection never became busy")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := f.manager.RunDetection(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy for overlapping run, got %v", err)
	}
	if err := f.manager.RestartSession(); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy for restart during detection, got %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("First detection failed: %v", err)
	}
	if f.manager.Busy() {
		t.Error("Busy flag should clear after detection")
	}
}

func TestManager_RestartStartsFreshSession(t *testing.T) {
	f := newFixture(t, annotateScript, "0", "2")

	if err := f.manager.StartSession(); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	waitForStill(t, f.store, model.RoleThermal)
	first, err := f.manager.RequestCapture(captureCtx(t))
	if err != nil {
		t.Fatalf("RequestCapture failed: %v", err)
	}

	if err := f.manager.RestartSession(); err != nil {
		t.Fatalf("RestartSession failed: %v", err)
	}

	st := f.manager.Status()
	if st.State != "streaming" {
		t.Errorf("Expected streaming after restart, got %s", st.State)
	}
	if st.SessionID == first.SessionID {
		t.Error("Restart should create a new session id")
	}

	waitForStill(t, f.store, model.RoleThermal)
	second, err := f.manager.RequestCapture(captureCtx(t))
	if err != nil {
		t.Fatalf("Second capture failed: %v", err)
	}
	if second.CaptureID == first.CaptureID {
		t.Error("Second capture should get its own history record")
	}
}
