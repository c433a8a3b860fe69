package detector

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ayusman/mudra/internal/capture"
)

// MockEngine is a test implementation of the Engine interface.
// It allows tests to control the detection results and timing.
type MockEngine struct {
	mu       sync.Mutex
	subjects []Subject
	err      error
	delay    time.Duration
	gate     chan struct{}
	calls    atomic.Int64
	closed   bool
	closedCh chan struct{}
}

// NewMockEngine creates a new MockEngine that detects nothing.
func NewMockEngine() *MockEngine {
	return &MockEngine{closedCh: make(chan struct{})}
}

// SetSubjects sets the subjects returned by Detect.
func (m *MockEngine) SetSubjects(subjects []Subject) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects = subjects
}

// SetError sets the error returned by Detect.
func (m *MockEngine) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetDelay makes Detect sleep before answering.
func (m *MockEngine) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Hold makes every Detect call block until Release is called. Held calls
// ignore their context, like an engine stuck in native code; only Close
// or Release unblocks them.
func (m *MockEngine) Hold() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = make(chan struct{})
}

// Release unblocks held Detect calls.
func (m *MockEngine) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gate != nil {
		close(m.gate)
		m.gate = nil
	}
}

// Calls returns how many times Detect has been invoked.
func (m *MockEngine) Calls() int { return int(m.calls.Load()) }

// Closed reports whether Close has been called.
func (m *MockEngine) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Detect returns the pre-configured subjects or error.
func (m *MockEngine) Detect(ctx context.Context, frame *capture.Frame) (Result, error) {
	m.calls.Add(1)

	m.mu.Lock()
	subjects, err, delay, gate, closedCh := m.subjects, m.err, m.delay, m.gate, m.closedCh
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-closedCh:
			return Result{}, &FailureError{Message: "engine closed", Code: CodeOther}
		}
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	if err != nil {
		return Result{}, err
	}

	res := Result{Subjects: subjects}
	if frame != nil {
		res.InputWidth, res.InputHeight = frame.OrientedSize()
	}
	return res, nil
}

// Close unblocks held calls. Safe to call more than once.
func (m *MockEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.closedCh)
	}
	return nil
}

// MockFactory returns a Factory that always hands out the given engines,
// pose first then hand. Rebuilding returns the same instance, re-opened.
func MockFactory(pose, hand *MockEngine) Factory {
	return func(kind Kind, cfg Config) (Engine, error) {
		engine := pose
		if kind == KindHand {
			engine = hand
		}
		engine.reopen()
		return engine, nil
	}
}

func (m *MockEngine) reopen() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		m.closed = false
		m.closedCh = make(chan struct{})
	}
}

// Landmarks returns n landmarks whose coordinates encode their index:
// point i is at (base + i/100, base + i/100 + 0.5).
func Landmarks(n int, base float64) []Landmark {
	points := make([]Landmark, n)
	for i := range points {
		points[i] = Landmark{
			X:          base + float64(i)/100,
			Y:          base + float64(i)/100 + 0.5,
			Visibility: 1,
		}
	}
	return points
}

// PoseSubject returns a full MediaPipe pose (33 landmarks).
func PoseSubject() Subject {
	return Subject{Landmarks: Landmarks(PoseLandmarks, 0), Score: 0.95}
}

// HandSubject returns a 21-landmark hand with the given handedness.
func HandSubject(handedness string, base float64) Subject {
	return Subject{Landmarks: Landmarks(HandLandmarks, base), Handedness: handedness, Score: 0.95}
}
