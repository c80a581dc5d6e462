package camera

import (
	"errors"
	"image"
)

var (
	// ErrDeviceUnavailable is returned by Open when the device cannot be opened.
	ErrDeviceUnavailable = errors.New("camera device unavailable")
	// ErrEndOfStream means no frame this tick; the caller skips the source and keeps going.
	ErrEndOfStream = errors.New("camera end of stream")
	// ErrDeviceFailed means the device is permanently gone for this session.
	ErrDeviceFailed = errors.New("camera device failed")
)

// State is the lifecycle state of a frame source handle.
type State int

const (
	Closed State = iota
	OpenStreaming
	Failed
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case OpenStreaming:
		return "streaming"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// FrameSource is a pull-based sequence of frames from one camera.
//
// ReadFrame blocks for at most one frame interval. It returns ErrEndOfStream
// when no frame is available this cycle and ErrDeviceFailed once the device is
// lost. Close is idempotent.
type FrameSource interface {
	ReadFrame() (image.Image, error)
	State() State
	DeviceID() string
	Close() error
}

// Opener opens the frame source identified by deviceID.
type Opener func(deviceID string) (FrameSource, error)
