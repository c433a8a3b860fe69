package capture

import (
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

const (
	// motionBlurSize is the Gaussian kernel applied before differencing.
	motionBlurSize = 21
	// motionPixelDelta is the grey-level change that marks a pixel as moved.
	motionPixelDelta = 25
)

// MotionDetector compares consecutive frames and reports the share of
// pixels that changed.
type MotionDetector struct {
	mu        sync.Mutex
	threshold float64
	prev      gocv.Mat
	hasPrev   bool
}

// NewMotionDetector creates a detector that reports motion when more than
// threshold percent of the pixels changed.
func NewMotionDetector(threshold float64) *MotionDetector {
	return &MotionDetector{
		threshold: threshold,
		prev:      gocv.NewMat(),
	}
}

// Detect reports whether f differs from the previous frame, along with the
// changed-pixel percentage. The first frame only sets the baseline.
func (m *MotionDetector) Detect(f *Frame) (bool, float64) {
	if f == nil || len(f.Pix) == 0 {
		return false, 0
	}

	src, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Pix)
	if err != nil {
		return false, 0
	}
	defer src.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Point{X: motionBlurSize, Y: motionBlurSize}, 0, 0, gocv.BorderDefault)

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.hasPrev || m.prev.Rows() != blurred.Rows() || m.prev.Cols() != blurred.Cols() {
		blurred.CopyTo(&m.prev)
		m.hasPrev = true
		return false, 0
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(blurred, m.prev, &diff)

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.Threshold(diff, &mask, motionPixelDelta, 255, gocv.ThresholdBinary)

	changed := float64(gocv.CountNonZero(mask)) / float64(mask.Rows()*mask.Cols()) * 100
	blurred.CopyTo(&m.prev)

	return changed > m.threshold, changed
}

// Reset drops the baseline frame.
func (m *MotionDetector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prev.Close()
	m.prev = gocv.NewMat()
	m.hasPrev = false
}

// Close releases the baseline Mat.
func (m *MotionDetector) Close() {
	m.Reset()
}

// Throttle switches a camera between an active and an idle frame rate
// depending on whether the scene moves.
type Throttle struct {
	motion    *MotionDetector
	activeFPS int
	idleFPS   int
	idleAfter time.Duration

	active     bool
	lastMotion time.Time
}

// NewThrottle creates a throttle that starts in active mode.
func NewThrottle(motion *MotionDetector, activeFPS, idleFPS int, idleAfter time.Duration) *Throttle {
	return &Throttle{
		motion:     motion,
		activeFPS:  activeFPS,
		idleFPS:    idleFPS,
		idleAfter:  idleAfter,
		active:     true,
		lastMotion: time.Now(),
	}
}

// Observe feeds one frame and returns the frame rate to use next and
// whether it changed.
func (t *Throttle) Observe(f *Frame, now time.Time) (fps int, changed bool) {
	moved, _ := t.motion.Detect(f)
	switch {
	case moved:
		t.lastMotion = now
		if !t.active {
			t.active = true
			return t.activeFPS, true
		}
	case t.active && now.Sub(t.lastMotion) > t.idleAfter:
		t.active = false
		return t.idleFPS, true
	}
	return t.FPS(), false
}

// FPS returns the current target frame rate.
func (t *Throttle) FPS() int {
	if t.active {
		return t.activeFPS
	}
	return t.idleFPS
}

// Active reports whether the throttle is in active mode.
func (t *Throttle) Active() bool { return t.active }
