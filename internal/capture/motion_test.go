package capture

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// stripedFrame returns a frame whose left half is white when lit is true.
func stripedFrame(lit bool) *Frame {
	f := BlankFrame(64, 48)
	if lit {
		for y := range f.Height {
			for x := range f.Width / 2 {
				i := (y*f.Width + x) * bytesPerPixel
				f.Pix[i], f.Pix[i+1], f.Pix[i+2] = 255, 255, 255
			}
		}
	}
	return f
}

func TestMotionDetector_NilFrame(t *testing.T) {
	md := NewMotionDetector(1.0)
	defer md.Close()

	moved, changed := md.Detect(nil)
	assert.False(t, moved)
	assert.Zero(t, changed)
}

func TestMotionDetector_NoMotion(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	md := NewMotionDetector(1.0)
	defer md.Close()

	moved, changed := md.Detect(stripedFrame(false))
	assert.False(t, moved, "first frame only sets the baseline")
	assert.Zero(t, changed)

	moved, changed = md.Detect(stripedFrame(false))
	assert.False(t, moved, "identical frames, changed = %f", changed)
}

func TestMotionDetector_WithMotion(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	md := NewMotionDetector(1.0)
	defer md.Close()

	md.Detect(stripedFrame(false))
	moved, changed := md.Detect(stripedFrame(true))
	assert.True(t, moved)
	assert.Greater(t, changed, 10.0)
}

func TestMotionDetector_Reset(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	md := NewMotionDetector(1.0)
	defer md.Close()

	md.Detect(stripedFrame(false))
	md.Reset()

	moved, _ := md.Detect(stripedFrame(true))
	assert.False(t, moved, "frame after Reset is a new baseline")
}

func TestThrottle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	md := NewMotionDetector(1.0)
	defer md.Close()

	start := time.Now()
	th := NewThrottle(md, 15, 5, time.Second)
	assert.Equal(t, 15, th.FPS())

	fps, changed := th.Observe(stripedFrame(false), start)
	assert.Equal(t, 15, fps)
	assert.False(t, changed)

	fps, changed = th.Observe(stripedFrame(false), start.Add(2*time.Second))
	assert.Equal(t, 5, fps)
	assert.True(t, changed)
	assert.False(t, th.Active())

	fps, changed = th.Observe(stripedFrame(true), start.Add(3*time.Second))
	assert.Equal(t, 15, fps)
	assert.True(t, changed)
	assert.True(t, th.Active())
}
