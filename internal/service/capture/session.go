package capture

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"dashboard/internal/logger"
	"dashboard/internal/metrics"
	"dashboard/internal/model"
	"dashboard/internal/service/camera"

	"github.com/disintegration/imaging"
)

// ErrNoCameras is returned when no camera could be opened for a session.
var ErrNoCameras = errors.New("no camera available")

// State is the session state.
type State int

const (
	Streaming State = iota
	Captured
)

func (s State) String() string {
	if s == Captured {
		return "captured"
	}
	return "streaming"
}

// WriteMode selects when frames reach the still slots.
type WriteMode string

const (
	// WriteThrough writes every frame obtained to its slot during streaming.
	WriteThrough WriteMode = "through"
	// WriteOnCapture keeps frames in memory and writes the slots once at capture.
	WriteOnCapture WriteMode = "on-capture"
)

// ParseWriteMode validates a write mode name.
func ParseWriteMode(s string) (WriteMode, error) {
	switch WriteMode(s) {
	case WriteThrough, WriteOnCapture:
		return WriteMode(s), nil
	default:
		return "", fmt.Errorf("unknown write mode: %q", s)
	}
}

// StillWriter receives frames destined for a role's still slot.
type StillWriter interface {
	Write(role model.Role, frame model.Frame) error
}

// PreviewFunc is called with every new frame of the preview role.
type PreviewFunc func(frame model.Frame)

// RoleSource binds an opened frame source to its role.
type RoleSource struct {
	Role   model.Role
	Source camera.FrameSource
}

// Options configures a session.
type Options struct {
	Width       int
	Height      int
	PreviewRole model.Role
	WriteMode   WriteMode
}

// DefaultOptions returns 640x480 write-through with thermal preview.
func DefaultOptions() Options {
	return Options{
		Width:       640,
		Height:      480,
		PreviewRole: model.RoleThermal,
		WriteMode:   WriteThrough,
	}
}

type roleState struct {
	role    model.Role
	source  camera.FrameSource
	failed  bool
	latest  model.Frame
	written uint64
	hasData bool
}

// Session drives two frame sources in lockstep and hands off a still pair
// on capture. It moves from Streaming to Captured exactly once.
//
// Tick is meant to be called from a single goroutine (see Run). RequestCapture
// may be called from any goroutine.
type Session struct {
	id      string
	opts    Options
	sources []*roleState
	store   StillWriter
	preview PreviewFunc
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu           sync.Mutex
	state        State
	tick         uint64
	previewFrame model.Frame
	degraded     map[model.Role]string
	result       Result

	captureRequested atomic.Bool
	wake             chan struct{}
	done             chan struct{}
}

// NewSession creates a Streaming session over the given sources, polled in
// slice order. It fails with ErrNoCameras when sources is empty.
func NewSession(id string, sources []RoleSource, store StillWriter, preview PreviewFunc, opts Options, logger *logger.Logger, m *metrics.Metrics) (*Session, error) {
	if len(sources) == 0 {
		return nil, ErrNoCameras
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid output resolution %dx%d", opts.Width, opts.Height)
	}
	if opts.WriteMode == "" {
		opts.WriteMode = WriteThrough
	}
	if opts.PreviewRole == "" {
		opts.PreviewRole = model.RoleThermal
	}

	states := make([]*roleState, 0, len(sources))
	for _, rs := range sources {
		states = append(states, &roleState{role: rs.Role, source: rs.Source})
	}

	return &Session{
		id:       id,
		opts:     opts,
		sources:  states,
		store:    store,
		preview:  preview,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
		degraded: make(map[model.Role]string),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// MarkDegraded records a role that could not be opened for this session.
func (s *Session) MarkDegraded(role model.Role, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.degraded[role] = reason
}

// RequestCapture fires the one-shot capture event. The in-flight read, if
// any, completes; no further reads start afterwards.
func (s *Session) RequestCapture() {
	if s.captureRequested.CompareAndSwap(false, true) {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

// Done is closed once the session reaches Captured.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Tick runs one polling cycle and returns the resulting state.
//
// Sources are read in fixed order. A capture request observed between two
// reads finalizes the session right away, so the slots can reflect frames
// from ticks at most one apart.
func (s *Session) Tick() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Captured {
		return Captured
	}
	if s.captureRequested.Load() {
		s.finalize()
		return Captured
	}

	s.tick++
	s.metrics.IncTicks()

	for i, rs := range s.sources {
		if i > 0 && s.captureRequested.Load() {
			s.finalize()
			return Captured
		}
		s.poll(rs)
	}
	return Streaming
}

// poll reads one frame from rs. Caller holds s.mu.
func (s *Session) poll(rs *roleState) {
	if rs.failed {
		return
	}

	img, err := rs.source.ReadFrame()
	if errors.Is(err, camera.ErrEndOfStream) {
		s.metrics.IncFramesDropped(string(rs.role))
		return
	}
	if err != nil {
		rs.failed = true
		s.degraded[rs.role] = err.Error()
		s.metrics.IncDeviceFailures(string(rs.role))
		if s.logger != nil {
			s.logger.Warning("📷 Camera %s (%s) lost, continuing without it: %v", rs.role, rs.source.DeviceID(), err)
		}
		if err := rs.source.Close(); err != nil && s.logger != nil {
			s.logger.Warning("Error closing camera %s: %v", rs.role, err)
		}
		return
	}
	s.metrics.IncFramesRead(string(rs.role))

	frame := model.Frame{
		Role:       rs.role,
		Tick:       s.tick,
		CapturedAt: s.now(),
		Image:      imaging.Resize(img, s.opts.Width, s.opts.Height, imaging.Lanczos),
	}
	rs.latest = frame

	if s.opts.WriteMode == WriteThrough {
		s.writeStill(rs, frame)
	}

	if rs.role == s.opts.PreviewRole {
		s.previewFrame = frame
		if s.preview != nil {
			s.preview(frame)
		}
	}
}

// writeStill hands a frame to the store. Caller holds s.mu.
func (s *Session) writeStill(rs *roleState, frame model.Frame) {
	if err := s.store.Write(rs.role, frame); err != nil {
		s.metrics.IncStillWriteErrors(string(rs.role))
		if s.logger != nil {
			s.logger.Error("Failed to write %s still at tick %d: %v", rs.role, frame.Tick, err)
		}
		return
	}
	s.metrics.IncStillWrites(string(rs.role))
	rs.written = frame.Tick
	rs.hasData = true
}

// finalize moves to Captured and fixes the result. Caller holds s.mu.
func (s *Session) finalize() {
	if s.opts.WriteMode == WriteOnCapture {
		for _, rs := range s.sources {
			if !rs.latest.Empty() {
				s.writeStill(rs, rs.latest)
			}
		}
	}

	s.state = Captured
	s.result = s.buildResult()
	close(s.done)

	if s.logger != nil {
		s.logger.Info("📸 Session %s captured at tick %d (skew %d)", s.id, s.tick, s.result.Skew)
	}
}

// buildResult summarizes the slot contents. Caller holds s.mu.
func (s *Session) buildResult() Result {
	res := Result{
		SessionID:  s.id,
		Tick:       s.tick,
		Written:    make(map[model.Role]uint64),
		CapturedAt: s.now(),
	}
	for _, rs := range s.sources {
		if rs.hasData {
			res.Written[rs.role] = rs.written
		}
	}
	for role := range s.degraded {
		res.Degraded = append(res.Degraded, role)
	}
	sortRoles(res.Degraded)
	res.Skew = skew(res.Written)
	return res
}

// Result returns the capture result once Done is closed.
func (s *Session) Result() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.state == Captured
}

// Preview returns the most recent frame of the preview role.
func (s *Session) Preview() (model.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.previewFrame, !s.previewFrame.Empty()
}

// Snapshot returns the session status for display.
func (s *Session) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		SessionID:   s.id,
		State:       s.state,
		Tick:        s.tick,
		PreviewRole: s.opts.PreviewRole,
		WriteMode:   s.opts.WriteMode,
		Degraded:    make(map[model.Role]string, len(s.degraded)),
	}
	for role, reason := range s.degraded {
		st.Degraded[role] = reason
	}
	_, st.PreviewDegraded = s.degraded[s.opts.PreviewRole]
	for _, rs := range s.sources {
		if !rs.failed {
			st.Active = append(st.Active, rs.role)
		}
	}
	return st
}

// Close releases all sources. It does not change the session state.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rs := range s.sources {
		if err := rs.source.Close(); err != nil && s.logger != nil {
			s.logger.Warning("Error closing camera %s: %v", rs.role, err)
		}
	}
}
