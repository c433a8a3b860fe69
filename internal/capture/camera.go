// Package capture provides camera capture and latest-frame admission for the
// landmark recording pipeline.
package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"gocv.io/x/gocv"
)

const (
	DefaultFPS    = 15
	DefaultWidth  = 640
	DefaultHeight = 480
)

var (
	// ErrCameraNotOpen is returned when reading from a camera that is not open.
	ErrCameraNotOpen = errors.New("camera is not open")

	// ErrReadFailed is returned when the device produced no frame.
	ErrReadFailed = errors.New("camera read failed")
)

// Camera is a frame source feeding the gate.
type Camera interface {
	Open() error
	Close() error
	ReadFrame() (*Frame, error)
	SetFPS(fps int)
	FPS() int
	IsOpen() bool
}

// Options configures a device camera.
type Options struct {
	DeviceID  int
	FPS       int
	Width     int
	Height    int
	Transform Transform
}

// withDefaults fills zero-valued fields from the package defaults.
func (o Options) withDefaults() Options {
	if o.FPS <= 0 {
		o.FPS = DefaultFPS
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	return o
}

// failureWarnAfter is how many consecutive empty reads are logged as a
// stalled device.
const failureWarnAfter = 30

// deviceCamera reads BGR frames from a local capture device through gocv.
type deviceCamera struct {
	mu       sync.Mutex
	opts     Options
	capture  *gocv.VideoCapture
	mat      gocv.Mat
	open     bool
	failures int
}

// NewCamera returns a closed camera for opts.DeviceID.
func NewCamera(opts Options) Camera {
	return &deviceCamera{opts: opts.withDefaults()}
}

// Open starts capture. Requested size and rate are hints; the device may
// pick something else, which is logged.
func (c *deviceCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open {
		return nil
	}

	vc, err := gocv.OpenVideoCapture(c.opts.DeviceID)
	if err != nil {
		return fmt.Errorf("open device %d: %w", c.opts.DeviceID, err)
	}

	vc.Set(gocv.VideoCaptureFrameWidth, float64(c.opts.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(c.opts.Height))
	vc.Set(gocv.VideoCaptureFPS, float64(c.opts.FPS))

	slog.Info("camera opened",
		"device", c.opts.DeviceID,
		"width", int(vc.Get(gocv.VideoCaptureFrameWidth)),
		"height", int(vc.Get(gocv.VideoCaptureFrameHeight)),
		"fps", c.opts.FPS,
		"rotation", c.opts.Transform.RotationDegrees,
		"mirror", c.opts.Transform.Mirror)

	c.capture = vc
	c.mat = gocv.NewMat()
	c.open = true
	c.failures = 0
	return nil
}

// Close releases the device. Closing a closed camera is a no-op.
func (c *deviceCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return nil
	}

	err := c.capture.Close()
	c.mat.Close()
	c.capture = nil
	c.open = false
	return err
}

// ReadFrame grabs the next frame and copies it out of native memory, so
// the returned Frame owns its pixels.
func (c *deviceCamera) ReadFrame() (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return nil, ErrCameraNotOpen
	}

	if ok := c.capture.Read(&c.mat); !ok || c.mat.Empty() {
		c.failures++
		if c.failures == failureWarnAfter {
			slog.Warn("camera produced no frames", "device", c.opts.DeviceID, "attempts", c.failures)
		}
		return nil, ErrReadFailed
	}
	c.failures = 0

	return FrameFromMat(&c.mat, c.opts.Transform)
}

// SetFPS changes the capture rate. Non-positive values are ignored.
func (c *deviceCamera) SetFPS(fps int) {
	if fps <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.opts.FPS = fps
	if c.open {
		c.capture.Set(gocv.VideoCaptureFPS, float64(fps))
	}
}

// FPS returns the requested capture rate.
func (c *deviceCamera) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts.FPS
}

// IsOpen reports whether the device is open.
func (c *deviceCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}
