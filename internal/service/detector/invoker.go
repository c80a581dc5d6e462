package detector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"dashboard/internal/logger"
)

var (
	// ErrResultMissing means the process succeeded but left no annotated image.
	// The DetectionResult returned alongside it still carries the output text.
	ErrResultMissing = errors.New("annotated result image missing")
	// ErrInvalidConfidence is returned for thresholds outside [0, 1].
	ErrInvalidConfidence = errors.New("confidence threshold must be within [0, 1]")
)

// ProcessError is returned when the detection process exits non-zero or
// cannot be started. Stdout and Stderr hold everything the process printed.
type ProcessError struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("detection process failed (exit code %d): %v", e.ExitCode, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// killGrace bounds how long Invoke waits for output pipes after the process is killed.
const killGrace = 2 * time.Second

// Request is one detection call for one still image.
type Request struct {
	StillPath  string
	Weights    string
	Confidence float64
}

// DetectionResult is the typed outcome of one detection call.
// AnnotatedImagePath is empty when the process produced no image.
type DetectionResult struct {
	Stdout             string
	Stderr             string
	AnnotatedImagePath string
	Duration           time.Duration
}

// Config describes how to launch the external detection script.
//
// The process is invoked as
//
//	Command [Script] --weights W --conf C --source S --project ProjectDir --name RunName --exist-ok
//
// and must write its annotated image to ProjectDir/RunName/<basename of S>.
type Config struct {
	Command    string
	Script     string
	ProjectDir string
	RunName    string
	WorkDir    string
	Timeout    time.Duration
}

// Invoker runs the external detection process synchronously. It never retries.
type Invoker struct {
	cfg    Config
	logger *logger.Logger
}

// NewInvoker creates an invoker for cfg.
func NewInvoker(cfg Config, logger *logger.Logger) *Invoker {
	if cfg.RunName == "" {
		cfg.RunName = "exp"
	}
	return &Invoker{cfg: cfg, logger: logger}
}

// ExpectedOutputPath is where the script must leave the annotated image for stillPath.
func (i *Invoker) ExpectedOutputPath(stillPath string) string {
	dir := filepath.Join(i.cfg.ProjectDir, i.cfg.RunName)
	if !filepath.IsAbs(dir) && i.cfg.WorkDir != "" {
		dir = filepath.Join(i.cfg.WorkDir, dir)
	}
	return filepath.Join(dir, filepath.Base(stillPath))
}

// args builds the command line for req.
func (i *Invoker) args(req Request) []string {
	var args []string
	if i.cfg.Script != "" {
		args = append(args, i.cfg.Script)
	}
	return append(args,
		"--weights", req.Weights,
		"--conf", strconv.FormatFloat(req.Confidence, 'f', -1, 64),
		"--source", req.StillPath,
		"--project", i.cfg.ProjectDir,
		"--name", i.cfg.RunName,
		"--exist-ok",
	)
}

// Invoke runs detection on one still and waits for the process to exit.
//
// It returns a *ProcessError on non-zero exit. When the process exits zero
// without producing the annotated image it returns the result together with
// ErrResultMissing.
func (i *Invoker) Invoke(ctx context.Context, req Request) (*DetectionResult, error) {
	if req.Confidence < 0 || req.Confidence > 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfidence, req.Confidence)
	}

	if i.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.cfg.Timeout)
		defer cancel()
	}

	outputPath := i.ExpectedOutputPath(req.StillPath)
	// A stale image from an earlier run must not pass for this run's output.
	if err := os.Remove(outputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale result %s: %w", outputPath, err)
	}

	cmd := exec.CommandContext(ctx, i.cfg.Command, i.args(req)...)
	cmd.Dir = i.cfg.WorkDir
	cmd.WaitDelay = killGrace

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if i.logger != nil {
		i.logger.Info("🔍 Running detection on %s (conf %.2f)", req.StillPath, req.Confidence)
	}

	start := time.Now()
	runErr := cmd.Run()
	result := &DetectionResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if runErr != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			runErr = fmt.Errorf("%w: %v", ctxErr, runErr)
		}
		if i.logger != nil {
			i.logger.Error("Detection on %s failed with exit code %d: %v", req.StillPath, exitCode, runErr)
		}
		return result, &ProcessError{
			ExitCode: exitCode,
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
			Err:      runErr,
		}
	}

	if _, err := os.Stat(outputPath); err != nil {
		if i.logger != nil {
			i.logger.Warning("Detection on %s finished but %s is missing", req.StillPath, outputPath)
		}
		return result, fmt.Errorf("%w: %s", ErrResultMissing, outputPath)
	}

	result.AnnotatedImagePath = outputPath
	if i.logger != nil {
		i.logger.Info("✅ Detection on %s finished in %v", req.StillPath, result.Duration.Round(time.Millisecond))
	}
	return result, nil
}
