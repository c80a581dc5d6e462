package detector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const annotatingScript = `#!/bin/sh
while [ $# -gt 0 ]; do
  case "$1" in
    --source) src="$2"; shift 2 ;;
    --project) project="$2"; shift 2 ;;
    --name) name="$2"; shift 2 ;;
    --conf) conf="$2"; shift 2 ;;
    --weights) weights="$2"; shift 2 ;;
    *) shift ;;
  esac
done
mkdir -p "$project/$name"
cp "$src" "$project/$name/$(basename "$src")"
echo "image 1/1 $src: 640x480 2 birds, Done. weights=$weights conf=$conf"
`

const failingScript = `#!/bin/sh
echo "loading model"
echo "Traceback: weights not found" >&2
exit 1
`

const silentScript = `#!/bin/sh
echo "image 1/1: 640x480 (no detections)"
exit 0
`

const slowScript = `#!/bin/sh
exec sleep 5
`

type fixture struct {
	invoker *Invoker
	still   string
	project string
}

func newFixture(t *testing.T, script string, timeout time.Duration) fixture {
	t.Helper()
	dir := t.TempDir()

	scriptPath := filepath.Join(dir, "detect.sh")
	if err := os.WriteFile(scriptPath, []byte(script), 0755); err != nil {
		t.Fatalf("Failed to write script: %v", err)
	}

	still := filepath.Join(dir, "thermal.png")
	if err := os.WriteFile(still, []byte("not really a png"), 0644); err != nil {
		t.Fatalf("Failed to write still: %v", err)
	}

	project := filepath.Join(dir, "runs", "detect")
	inv := NewInvoker(Config{
		Command:    "sh",
		Script:     scriptPath,
		ProjectDir: project,
		RunName:    "exp",
		Timeout:    timeout,
	}, nil)

	return fixture{invoker: inv, still: still, project: project}
}

func TestInvoke_Success(t *testing.T) {
	f := newFixture(t, annotatingScript, 0)

	res, err := f.invoker.Invoke(context.Background(), Request{StillPath: f.still, Weights: "best.pt", Confidence: 0.5})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	if !strings.Contains(res.Stdout, "2 birds") {
		t.Errorf("Expected stdout captured verbatim, got %q", res.Stdout)
	}
	if !strings.Contains(res.Stdout, "weights=best.pt conf=0.5") {
		t.Errorf("Expected weights and conf forwarded, got %q", res.Stdout)
	}

	expected := filepath.Join(f.project, "exp", "thermal.png")
	if res.AnnotatedImagePath != expected {
		t.Errorf("AnnotatedImagePath = %s, expected %s", res.AnnotatedImagePath, expected)
	}
	if _, err := os.Stat(res.AnnotatedImagePath); err != nil {
		t.Errorf("Annotated image should exist: %v", err)
	}
}

func TestInvoke_ProcessError(t *testing.T) {
	f := newFixture(t, failingScript, 0)

	res, err := f.invoker.Invoke(context.Background(), Request{StillPath: f.still, Weights: "missing.pt", Confidence: 0.5})

	var procErr *ProcessError
	if !errors.As(err, &procErr) {
		t.Fatalf("Expected *ProcessError, got %v", err)
	}
	if procErr.ExitCode != 1 {
		t.Errorf("Expected exit code 1, got %d", procErr.ExitCode)
	}
	if !strings.Contains(procErr.Stdout, "loading model") {
		t.Errorf("stdout not surfaced: %q", procErr.Stdout)
	}
	if !strings.Contains(procErr.Stderr, "weights not found") {
		t.Errorf("stderr not surfaced: %q", procErr.Stderr)
	}
	if res == nil || res.AnnotatedImagePath != "" {
		t.Error("Failed run should return output text and no image path")
	}
}

func TestInvoke_ResultMissing(t *testing.T) {
	f := newFixture(t, silentScript, 0)

	res, err := f.invoker.Invoke(context.Background(), Request{StillPath: f.still, Weights: "best.pt", Confidence: 0.25})
	if !errors.Is(err, ErrResultMissing) {
		t.Fatalf("Expected ErrResultMissing, got %v", err)
	}
	if res == nil || !strings.Contains(res.Stdout, "no detections") {
		t.Errorf("Text output should still be returned, got %+v", res)
	}
	if res.AnnotatedImagePath != "" {
		t.Errorf("Expected empty image path, got %s", res.AnnotatedImagePath)
	}
}

func TestInvoke_StaleResultIsNotReused(t *testing.T) {
	f := newFixture(t, silentScript, 0)

	stale := f.invoker.ExpectedOutputPath(f.still)
	if err := os.MkdirAll(filepath.Dir(stale), 0755); err != nil {
		t.Fatalf("Failed to create run dir: %v", err)
	}
	if err := os.WriteFile(stale, []byte("old"), 0644); err != nil {
		t.Fatalf("Failed to write stale result: %v", err)
	}

	_, err := f.invoker.Invoke(context.Background(), Request{StillPath: f.still, Weights: "best.pt", Confidence: 0.5})
	if !errors.Is(err, ErrResultMissing) {
		t.Fatalf("Expected ErrResultMissing with a stale file present, got %v", err)
	}
}

func TestInvoke_InvalidConfidence(t *testing.T) {
	f := newFixture(t, annotatingScript, 0)

	for _, conf := range []float64{-0.1, 1.5} {
		_, err := f.invoker.Invoke(context.Background(), Request{StillPath: f.still, Weights: "best.pt", Confidence: conf})
		if !errors.Is(err, ErrInvalidConfidence) {
			t.Errorf("conf=%v: expected ErrInvalidConfidence, got %v", conf, err)
		}
	}
}

func TestInvoke_Timeout(t *testing.T) {
	f := newFixture(t, slowScript, 100*time.Millisecond)

	start := time.Now()
	_, err := f.invoker.Invoke(context.Background(), Request{StillPath: f.still, Weights: "best.pt", Confidence: 0.5})

	var procErr *ProcessError
	if !errors.As(err, &procErr) {
		t.Fatalf("Expected *ProcessError on timeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded in chain, got %v", err)
	}
	if time.Since(start) > 4*time.Second {
		t.Error("Timeout did not stop the process")
	}
}

func TestInvoke_MissingExecutable(t *testing.T) {
	inv := NewInvoker(Config{Command: "/nonexistent/python3", ProjectDir: t.TempDir()}, nil)

	_, err := inv.Invoke(context.Background(), Request{StillPath: "thermal.png", Weights: "best.pt", Confidence: 0.5})

	var procErr *ProcessError
	if !errors.As(err, &procErr) {
		t.Fatalf("Expected *ProcessError, got %v", err)
	}
	if procErr.ExitCode != -1 {
		t.Errorf("Expected exit code -1 for a process that never started, got %d", procErr.ExitCode)
	}
}

func TestExpectedOutputPath(t *testing.T) {
	tests := []struct {
		cfg      Config
		still    string
		expected string
	}{
		{Config{ProjectDir: "/runs/detect", RunName: "exp"}, "/stills/rgb.png", "/runs/detect/exp/rgb.png"},
		{Config{ProjectDir: "runs/detect", RunName: "birds", WorkDir: "/opt/yolo"}, "stills/thermal.jpg", "/opt/yolo/runs/detect/birds/thermal.jpg"},
		{Config{ProjectDir: "runs/detect"}, "thermal.png", "runs/detect/exp/thermal.png"},
	}

	for _, tt := range tests {
		got := NewInvoker(tt.cfg, nil).ExpectedOutputPath(tt.still)
		if got != tt.expected {
			t.Errorf("ExpectedOutputPath(%q) = %s, expected %s", tt.still, got, tt.expected)
		}
	}
}
