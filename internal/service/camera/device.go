package camera

import (
	"fmt"
	"image"
	"strconv"
	"strings"
	"sync"

	"gocv.io/x/gocv"
)

// DefaultFailureLimit is the number of consecutive failed reads after which a
// device is considered lost.
const DefaultFailureLimit = 30

// DeviceOptions configures an OpenCV capture device.
type DeviceOptions struct {
	Width        int
	Height       int
	FailureLimit int
}

// Device wraps a gocv.VideoCapture as a FrameSource.
type Device struct {
	deviceID string
	capture  *gocv.VideoCapture
	mat      gocv.Mat
	state    State
	failures int
	limit    int
	mu       sync.Mutex
}

// NewOpener returns an Opener producing OpenCV devices with the given options.
func NewOpener(opts DeviceOptions) Opener {
	return func(deviceID string) (FrameSource, error) {
		return Open(deviceID, opts)
	}
}

// Open opens a camera by index ("0") or device path ("/dev/video2").
func Open(deviceID string, opts DeviceOptions) (*Device, error) {
	capture, err := gocv.OpenVideoCapture(parseDeviceID(deviceID))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, deviceID, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, deviceID)
	}

	if opts.Width > 0 && opts.Height > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(opts.Width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(opts.Height))
	}

	limit := opts.FailureLimit
	if limit <= 0 {
		limit = DefaultFailureLimit
	}

	return &Device{
		deviceID: deviceID,
		capture:  capture,
		mat:      gocv.NewMat(),
		state:    OpenStreaming,
		limit:    limit,
	}, nil
}

// ReadFrame reads the next frame and converts it to an RGB image.
func (d *Device) ReadFrame() (image.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != OpenStreaming {
		return nil, fmt.Errorf("%w: %s is %s", ErrDeviceFailed, d.deviceID, d.state)
	}

	if ok := d.capture.Read(&d.mat); !ok || d.mat.Empty() {
		return nil, d.missedFrame()
	}

	// ToImage interprets the 3-channel Mat as BGR, so frames leave here as RGB.
	img, err := d.mat.ToImage()
	if err != nil {
		return nil, d.missedFrame()
	}

	d.frameRead()
	return img, nil
}

// frameRead clears the consecutive failure count. Caller holds d.mu.
func (d *Device) frameRead() {
	d.failures = 0
}

// missedFrame counts a failed read. Caller holds d.mu.
func (d *Device) missedFrame() error {
	d.failures++
	if d.failures >= d.limit {
		d.state = Failed
		d.release()
		return fmt.Errorf("%w: %s after %d consecutive failed reads", ErrDeviceFailed, d.deviceID, d.failures)
	}
	return ErrEndOfStream
}

// State returns the handle state.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// DeviceID returns the configured index or path.
func (d *Device) DeviceID() string {
	return d.deviceID
}

// Close releases the device. Calling Close more than once is safe.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == OpenStreaming {
		d.state = Closed
	}
	return d.release()
}

// release frees the OpenCV handles. Caller holds d.mu.
func (d *Device) release() error {
	var err error
	if d.capture != nil {
		err = d.capture.Close()
		d.capture = nil
		d.mat.Close()
	}
	return err
}

// parseDeviceID turns "0" into an index and leaves paths and URLs as strings.
func parseDeviceID(deviceID string) interface{} {
	trimmed := strings.TrimSpace(deviceID)
	if index, err := strconv.Atoi(trimmed); err == nil {
		return index
	}
	return trimmed
}
