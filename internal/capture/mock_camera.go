package capture

import (
	"errors"
	"sync"
	"time"
)

// ErrNoFrames is returned when a non-looping mock camera has played every
// frame, or was given none.
var ErrNoFrames = errors.New("mock camera has no frames left")

// MockCamera replays a fixed frame list. Each read returns a copy stamped
// with the read time and an unset sequence, as a device read would.
type MockCamera struct {
	mu     sync.Mutex
	frames []*Frame
	loop   bool
	next   int
	reads  int
	fps    int
	open   bool
}

// NewMockCamera returns a closed camera over frames. With loop set,
// playback wraps around instead of running out.
func NewMockCamera(frames []*Frame, loop bool) *MockCamera {
	return &MockCamera{frames: frames, loop: loop, fps: DefaultFPS}
}

// Open rewinds playback.
func (c *MockCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = true
	c.next = 0
	return nil
}

func (c *MockCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	return nil
}

func (c *MockCamera) ReadFrame() (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return nil, ErrCameraNotOpen
	}
	if c.next >= len(c.frames) && c.loop {
		c.next = 0
	}
	if c.next >= len(c.frames) {
		return nil, ErrNoFrames
	}

	frame := *c.frames[c.next]
	c.next++
	c.reads++

	frame.Seq = 0
	frame.Timestamp = time.Now()
	return &frame, nil
}

func (c *MockCamera) SetFPS(fps int) {
	if fps <= 0 {
		return
	}
	c.mu.Lock()
	c.fps = fps
	c.mu.Unlock()
}

func (c *MockCamera) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}

func (c *MockCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Reads returns how many frames have been delivered since construction.
func (c *MockCamera) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

// BlankFrame returns a black frame of the given size.
func BlankFrame(width, height int) *Frame {
	f, err := NewFrame(make([]byte, width*height*bytesPerPixel), width, height, Transform{})
	if err != nil {
		panic(err)
	}
	return f
}
