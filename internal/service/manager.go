package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"dashboard/internal/config"
	"dashboard/internal/dto"
	"dashboard/internal/logger"
	"dashboard/internal/metrics"
	"dashboard/internal/model"
	"dashboard/internal/repository"
	"dashboard/internal/service/camera"
	"dashboard/internal/service/capture"
	"dashboard/internal/service/detector"
	"dashboard/internal/service/storage"
	"dashboard/internal/service/websocket"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

var (
	// ErrNoCameras is returned when neither camera could be opened.
	ErrNoCameras = capture.ErrNoCameras
	// ErrNoSession is returned when no capture session has been started.
	ErrNoSession = errors.New("no capture session")
	// ErrAlreadyCaptured is returned for a capture request on a captured session.
	ErrAlreadyCaptured = errors.New("session already captured")
	// ErrNotCaptured is returned when detection is requested while still streaming.
	ErrNotCaptured = errors.New("nothing captured yet")
	// ErrBusy is returned while a detection run is in progress.
	ErrBusy = errors.New("detection in progress")
	// ErrSessionStopped is returned when a session ends without capturing.
	ErrSessionStopped = errors.New("session stopped before capture")
)

// previewQuality is the JPEG quality of frames sent to viewers.
const previewQuality = 80

// Dependencies are the components the Manager coordinates. Hub and the
// repositories are optional.
type Dependencies struct {
	Opener     camera.Opener
	Store      *storage.StillStore
	Invoker    *detector.Invoker
	Hub        *websocket.HubService
	Captures   repository.CaptureRepository
	Detections repository.DetectionRepository
}

// RoleDetection is the outcome of detection on one still.
type RoleDetection struct {
	Role       model.Role
	Status     string
	Weights    string
	Confidence float64
	Result     *detector.DetectionResult
	Err        error
}

// activeSession is one capture session and the goroutine driving it.
type activeSession struct {
	session   *capture.Session
	cancel    context.CancelFunc
	done      chan struct{}
	captureID atomic.Int64
}

// Manager owns the dashboard's capture session and ties the loop, the still
// store, the detection invoker and the viewers together.
type Manager struct {
	cfg     *config.Config
	deps    Dependencies
	opts    capture.Options
	logger  *logger.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	active  *activeSession
	results map[model.Role]string

	busy atomic.Bool
}

func NewManager(cfg *config.Config, deps Dependencies, logger *logger.Logger, m *metrics.Metrics) (*Manager, error) {
	previewRole, err := model.ParseRole(cfg.PreviewRole)
	if err != nil {
		return nil, fmt.Errorf("preview role: %w", err)
	}
	writeMode, err := capture.ParseWriteMode(cfg.WriteMode)
	if err != nil {
		return nil, err
	}
	if cfg.TickInterval <= 0 {
		return nil, fmt.Errorf("tick interval must be positive, got %v", cfg.TickInterval)
	}
	if deps.Opener == nil || deps.Store == nil || deps.Invoker == nil {
		return nil, errors.New("manager requires an opener, a still store and an invoker")
	}

	return &Manager{
		cfg:  cfg,
		deps: deps,
		opts: capture.Options{
			Width:       cfg.FrameWidth,
			Height:      cfg.FrameHeight,
			PreviewRole: previewRole,
			WriteMode:   writeMode,
		},
		logger:  logger,
		metrics: m,
		results: make(map[model.Role]string),
	}, nil
}

func (m *Manager) deviceFor(role model.Role) string {
	if role == model.RoleRGB {
		return m.cfg.RGBDevice
	}
	return m.cfg.ThermalDevice
}

// StartSession opens both cameras and starts a new Streaming session,
// replacing any current one. A camera that cannot be opened degrades the
// session; ErrNoCameras is returned when neither opens.
func (m *Manager) StartSession() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked()
}

// RestartSession discards the current session and its stills and starts a
// new one. It fails with ErrBusy while detection runs.
func (m *Manager) RestartSession() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.busy.Load() {
		return ErrBusy
	}
	m.stopLocked()

	if m.cfg.ClearStillsOnStart {
		if err := m.deps.Store.Clear(); err != nil {
			m.logger.Warning("Failed to clear stills on restart: %v", err)
		}
	}
	m.results = make(map[model.Role]string)

	return m.startLocked()
}

func (m *Manager) startLocked() error {
	m.stopLocked()

	var sources []capture.RoleSource
	unavailable := make(map[model.Role]string)
	for _, role := range model.Roles() {
		device := m.deviceFor(role)
		src, err := m.deps.Opener(device)
		if err != nil {
			m.logger.Warning("📷 Camera %s (%s) unavailable: %v", role, device, err)
			unavailable[role] = err.Error()
			continue
		}
		m.logger.Info("📷 Camera %s opened on %s", role, device)
		sources = append(sources, capture.RoleSource{Role: role, Source: src})
	}

	id := uuid.NewString()
	sess, err := capture.NewSession(id, sources, m.deps.Store, m.sendPreview, m.opts, m.logger, m.metrics)
	if err != nil {
		for _, rs := range sources {
			rs.Source.Close()
		}
		return err
	}
	for role, reason := range unavailable {
		sess.MarkDegraded(role, reason)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &activeSession{
		session: sess,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	m.active = a

	go m.run(ctx, a)

	m.logger.Info("🎬 Session %s streaming (%s, preview %s)", id, m.opts.WriteMode, m.opts.PreviewRole)
	m.broadcastStatus(a)
	return nil
}

// stopLocked cancels the current session and waits for its loop to exit.
func (m *Manager) stopLocked() {
	if m.active == nil {
		return
	}
	m.active.cancel()
	<-m.active.done
	m.active = nil
}

// run drives a session until capture or cancellation, then releases the
// cameras and records the capture.
func (m *Manager) run(ctx context.Context, a *activeSession) {
	defer close(a.done)

	res, err := a.session.Run(ctx, m.cfg.TickInterval)
	a.session.Close()
	if err != nil {
		m.logger.Info("Session %s stopped: %v", a.session.ID(), err)
		return
	}

	m.metrics.IncCaptures()
	a.captureID.Store(m.recordCapture(res))
	m.broadcastStatus(a)
}

func (m *Manager) recordCapture(res capture.Result) int64 {
	if m.deps.Captures == nil {
		return 0
	}

	record := &model.Capture{
		SessionID:   res.SessionID,
		ThermalTick: writtenTick(res, model.RoleThermal),
		RGBTick:     writtenTick(res, model.RoleRGB),
		Skew:        int64(res.Skew),
		Degraded:    joinRoles(res.Degraded),
		CapturedAt:  res.CapturedAt,
	}
	id, err := m.deps.Captures.Insert(record)
	if err != nil {
		m.logger.Error("Failed to record capture %s: %v", res.SessionID, err)
		return 0
	}
	return id
}

func writtenTick(res capture.Result, role model.Role) int64 {
	if tick, ok := res.Written[role]; ok {
		return int64(tick)
	}
	return -1
}

func joinRoles(roles []model.Role) string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return strings.Join(names, ",")
}

func (m *Manager) current() *activeSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// RequestCapture fires the capture event and waits until the stills are
// fixed and recorded.
func (m *Manager) RequestCapture(ctx context.Context) (dto.CaptureResponse, error) {
	a := m.current()
	if a == nil {
		return dto.CaptureResponse{}, ErrNoSession
	}
	if _, captured := a.session.Result(); captured {
		return dto.CaptureResponse{}, ErrAlreadyCaptured
	}

	a.session.RequestCapture()

	select {
	case <-a.done:
	case <-ctx.Done():
		return dto.CaptureResponse{}, ctx.Err()
	}

	res, ok := a.session.Result()
	if !ok {
		return dto.CaptureResponse{}, ErrSessionStopped
	}
	return captureResponse(res, a.captureID.Load()), nil
}

// RunDetection runs the external detector on each still in turn and blocks
// until both runs finish. Only one run may be in progress.
func (m *Manager) RunDetection(ctx context.Context) ([]RoleDetection, error) {
	m.mu.Lock()
	a := m.active
	if a == nil {
		m.mu.Unlock()
		return nil, ErrNoSession
	}
	if _, captured := a.session.Result(); !captured {
		m.mu.Unlock()
		return nil, ErrNotCaptured
	}
	if !m.busy.CompareAndSwap(false, true) {
		m.mu.Unlock()
		return nil, ErrBusy
	}
	m.mu.Unlock()

	m.metrics.SetDetectionBusy(true)
	m.broadcastStatus(a)
	defer func() {
		m.busy.Store(false)
		m.metrics.SetDetectionBusy(false)
		m.broadcastStatus(a)
	}()

	<-a.done
	captureID := a.captureID.Load()

	reports := make([]RoleDetection, 0, len(model.Roles()))
	for _, role := range model.Roles() {
		reports = append(reports, m.detect(ctx, role, captureID))
	}
	return reports, nil
}

func (m *Manager) detect(ctx context.Context, role model.Role, captureID int64) RoleDetection {
	stillPath := m.deps.Store.Path(role)
	weights, conf := m.cfg.DetectionParams(string(role))
	if !m.deps.Store.Has(role) {
		m.logger.Warning("No %s still to run detection on", role)
		report := RoleDetection{Role: role, Status: model.DetectionSlotEmpty, Weights: weights, Confidence: conf, Err: storage.ErrSlotEmpty}
		m.recordDetection(captureID, report, stillPath)
		return report
	}
	if abs, err := filepath.Abs(stillPath); err == nil {
		stillPath = abs
	}

	res, err := m.deps.Invoker.Invoke(ctx, detector.Request{
		StillPath:  stillPath,
		Weights:    weights,
		Confidence: conf,
	})

	report := RoleDetection{Role: role, Weights: weights, Confidence: conf, Result: res, Err: err}
	var procErr *detector.ProcessError
	switch {
	case err == nil:
		report.Status = model.DetectionOK
	case errors.Is(err, detector.ErrResultMissing):
		report.Status = model.DetectionResultMissing
		m.logger.Warning("Detection on %s produced no annotated image", role)
	case errors.As(err, &procErr):
		report.Status = model.DetectionProcessError
	default:
		report.Status = model.DetectionFailed
		m.logger.Error("Detection on %s could not run: %v", role, err)
	}

	var duration time.Duration
	if res != nil {
		duration = res.Duration
	}
	m.metrics.ObserveDetection(string(role), report.Status, duration)

	m.mu.Lock()
	if report.Status == model.DetectionOK {
		m.results[role] = res.AnnotatedImagePath
	} else {
		delete(m.results, role)
	}
	m.mu.Unlock()

	m.recordDetection(captureID, report, stillPath)
	return report
}

func (m *Manager) recordDetection(captureID int64, report RoleDetection, stillPath string) {
	if m.deps.Detections == nil || captureID == 0 {
		return
	}

	run := &model.DetectionRun{
		CaptureID:  captureID,
		Role:       report.Role,
		Status:     report.Status,
		StillPath:  stillPath,
		Confidence: report.Confidence,
		CreatedAt:  time.Now(),
	}
	if report.Result != nil {
		run.AnnotatedPath = report.Result.AnnotatedImagePath
		run.Stdout = report.Result.Stdout
		run.Stderr = report.Result.Stderr
		run.DurationMs = report.Result.Duration.Milliseconds()
	}

	if _, err := m.deps.Detections.Insert(run); err != nil {
		m.logger.Error("Failed to record %s detection: %v", report.Role, err)
	}
}

// ResultImagePath returns the annotated image of the last successful
// detection on role, if any.
func (m *Manager) ResultImagePath(role model.Role) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path, ok := m.results[role]
	return path, ok
}

// Busy reports whether a detection run is in progress.
func (m *Manager) Busy() bool {
	return m.busy.Load()
}

// Status returns the current session status.
func (m *Manager) Status() dto.SessionStatus {
	a := m.current()
	if a == nil {
		return dto.SessionStatus{State: "stopped", DetectionBusy: m.busy.Load()}
	}
	return m.statusFor(a)
}

func (m *Manager) statusFor(a *activeSession) dto.SessionStatus {
	snap := a.session.Snapshot()
	status := dto.SessionStatus{
		SessionID:       snap.SessionID,
		State:           snap.State.String(),
		Tick:            snap.Tick,
		PreviewRole:     string(snap.PreviewRole),
		WriteMode:       string(snap.WriteMode),
		Degraded:        make(map[string]string, len(snap.Degraded)),
		PreviewDegraded: snap.PreviewDegraded,
		DetectionBusy:   m.busy.Load(),
	}
	for _, role := range snap.Active {
		status.Active = append(status.Active, string(role))
	}
	for role, reason := range snap.Degraded {
		status.Degraded[string(role)] = reason
	}
	if res, ok := a.session.Result(); ok {
		cr := captureResponse(res, a.captureID.Load())
		status.Capture = &cr
	}
	return status
}

func captureResponse(res capture.Result, captureID int64) dto.CaptureResponse {
	cr := dto.CaptureResponse{
		SessionID:  res.SessionID,
		CaptureID:  captureID,
		Tick:       res.Tick,
		Written:    make(map[string]uint64, len(res.Written)),
		Skew:       res.Skew,
		Degraded:   []string{},
		CapturedAt: res.CapturedAt,
	}
	for role, tick := range res.Written {
		cr.Written[string(role)] = tick
	}
	for _, role := range res.Degraded {
		cr.Degraded = append(cr.Degraded, string(role))
	}
	return cr
}

func (m *Manager) broadcastStatus(a *activeSession) {
	if m.deps.Hub == nil {
		return
	}
	msg := dto.StatusMessage{Type: dto.MessageStatus, Status: m.statusFor(a)}
	if err := m.deps.Hub.BroadcastJSON(msg); err != nil {
		m.logger.Error("Failed to encode status message: %v", err)
	}
}

// sendPreview is the session's preview sink. It runs on the loop goroutine
// and must not block.
func (m *Manager) sendPreview(frame model.Frame) {
	hub := m.deps.Hub
	if hub == nil || hub.GetClientCount() == 0 {
		return
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, frame.Image, imaging.JPEG, imaging.JPEGQuality(previewQuality)); err != nil {
		m.logger.Error("Failed to encode preview frame: %v", err)
		return
	}

	msg := dto.PreviewMessage{
		Type:  dto.MessagePreview,
		Role:  string(frame.Role),
		Tick:  frame.Tick,
		Image: base64.StdEncoding.EncodeToString(buf.Bytes()),
	}
	if err := hub.BroadcastJSON(msg); err != nil {
		m.logger.Error("Failed to encode preview message: %v", err)
	}
}

// GetWebsocketService returns the viewer hub.
func (m *Manager) GetWebsocketService() *websocket.HubService {
	return m.deps.Hub
}

// GetStillStore returns the still store.
func (m *Manager) GetStillStore() *storage.StillStore {
	return m.deps.Store
}

// History returns up to limit recent captures with their detection runs.
func (m *Manager) History(limit int) ([]dto.HistoryEntry, error) {
	entries := []dto.HistoryEntry{}
	if m.deps.Captures == nil {
		return entries, nil
	}

	captures, err := m.deps.Captures.GetRecent(limit)
	if err != nil {
		return nil, err
	}
	for _, c := range captures {
		entry := dto.HistoryEntry{Capture: c, Detections: []model.DetectionRun{}}
		if m.deps.Detections != nil {
			runs, err := m.deps.Detections.GetByCaptureID(c.ID)
			if err != nil {
				return nil, err
			}
			if runs != nil {
				entry.Detections = runs
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Stop ends the current session and releases the cameras.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}
