package session

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/ayusman/mudra/internal/landmark"
)

// DefaultMaxFrames bounds a session at ten minutes of 30 fps capture.
const DefaultMaxFrames = 18000

// ErrSessionFull is returned by appends once a sequence holds MaxFrames
// records.
var ErrSessionFull = errors.New("session full")

// FrameEvent describes one append. Pose or Hand is nil when that half was
// not part of the append.
type FrameEvent struct {
	Index   int                  `json:"index"`
	NFrames int                  `json:"n_frames"`
	Pose    *landmark.PoseRecord `json:"pose,omitempty"`
	Hand    *landmark.HandRecord `json:"hand,omitempty"`
}

// Recorder is the shared session buffer. One mutex guards both sequences
// and the frame counter, so every operation is atomic with respect to the
// others.
type Recorder struct {
	mu         sync.Mutex
	pose       []landmark.PoseRecord
	hands      []landmark.HandRecord
	nFrames    int
	maxFrames  int
	generation uint64
	fullLogged bool

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(FrameEvent)
}

// NewRecorder creates an empty recorder. maxFrames <= 0 selects
// DefaultMaxFrames.
func NewRecorder(maxFrames int) *Recorder {
	if maxFrames <= 0 {
		maxFrames = DefaultMaxFrames
	}
	return &Recorder{
		maxFrames: maxFrames,
		subs:      make(map[int]func(FrameEvent)),
	}
}

// MaxFrames returns the session bound.
func (r *Recorder) MaxFrames() int { return r.maxFrames }

// AppendPose appends a pose record and counts a frame.
func (r *Recorder) AppendPose(rec landmark.PoseRecord) error {
	r.mu.Lock()
	if len(r.pose) >= r.maxFrames {
		r.rejectLocked()
		r.mu.Unlock()
		return ErrSessionFull
	}
	r.pose = append(r.pose, rec)
	r.nFrames++
	ev := FrameEvent{Index: len(r.pose) - 1, NFrames: r.nFrames, Pose: &rec}
	r.mu.Unlock()

	r.publish(ev)
	return nil
}

// AppendHand appends a hand record. The frame counter is untouched.
func (r *Recorder) AppendHand(rec landmark.HandRecord) error {
	r.mu.Lock()
	if len(r.hands) >= r.maxFrames {
		r.rejectLocked()
		r.mu.Unlock()
		return ErrSessionFull
	}
	r.hands = append(r.hands, rec)
	ev := FrameEvent{Index: len(r.hands) - 1, NFrames: r.nFrames, Hand: &rec}
	r.mu.Unlock()

	r.publish(ev)
	return nil
}

// AppendFrame appends both halves of one frame and counts it, in a single
// critical section.
func (r *Recorder) AppendFrame(pose landmark.PoseRecord, hand landmark.HandRecord) error {
	r.mu.Lock()
	if len(r.pose) >= r.maxFrames || len(r.hands) >= r.maxFrames {
		r.rejectLocked()
		r.mu.Unlock()
		return ErrSessionFull
	}
	r.pose = append(r.pose, pose)
	r.hands = append(r.hands, hand)
	r.nFrames++
	ev := FrameEvent{Index: len(r.pose) - 1, NFrames: r.nFrames, Pose: &pose, Hand: &hand}
	r.mu.Unlock()

	r.publish(ev)
	return nil
}

func (r *Recorder) rejectLocked() {
	if !r.fullLogged {
		slog.Warn("session full, dropping records", "max_frames", r.maxFrames)
		r.fullLogged = true
	}
}

// Snapshot returns a deep copy of the session.
func (r *Recorder) Snapshot() Document {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc := NewDocument()
	doc.PoseX = make([][landmark.PosePoints]float64, len(r.pose))
	doc.PoseY = make([][landmark.PosePoints]float64, len(r.pose))
	for i, p := range r.pose {
		doc.PoseX[i] = p.X
		doc.PoseY[i] = p.Y
	}
	doc.Hand1X = make([][landmark.HandPoints]float64, len(r.hands))
	doc.Hand1Y = make([][landmark.HandPoints]float64, len(r.hands))
	doc.Hand2X = make([][landmark.HandPoints]float64, len(r.hands))
	doc.Hand2Y = make([][landmark.HandPoints]float64, len(r.hands))
	for i, h := range r.hands {
		doc.Hand1X[i] = h.Hand1X
		doc.Hand1Y[i] = h.Hand1Y
		doc.Hand2X[i] = h.Hand2X
		doc.Hand2Y[i] = h.Hand2Y
	}
	doc.NFrames = r.nFrames
	doc.generation = r.generation
	return doc
}

// Summary returns the current lengths without copying records.
func (r *Recorder) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Summary{
		NFrames:   r.nFrames,
		PoseLen:   len(r.pose),
		HandLen:   len(r.hands),
		MaxFrames: r.maxFrames,
		Full:      len(r.pose) >= r.maxFrames || len(r.hands) >= r.maxFrames,
	}
}

// Len returns the frame counter.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nFrames
}

// Reset clears both sequences and the counter.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pose = nil
	r.hands = nil
	r.nFrames = 0
	r.generation++
	r.fullLogged = false
}

// Discard removes the records captured by doc, keeping anything appended
// after the snapshot was taken. A doc taken before the last Reset is
// ignored.
func (r *Recorder) Discard(doc Document) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if doc.generation != r.generation {
		return
	}
	r.pose = dropPrefix(r.pose, len(doc.PoseX))
	r.hands = dropPrefix(r.hands, len(doc.Hand1X))
	r.nFrames = max(r.nFrames-doc.NFrames, 0)
	r.generation++
	r.fullLogged = false
}

func dropPrefix[T any](s []T, n int) []T {
	if n >= len(s) {
		return nil
	}
	out := make([]T, len(s)-n)
	copy(out, s[n:])
	return out
}

// Subscribe registers fn to be called after every successful append,
// outside the recorder lock. The returned func unregisters it.
func (r *Recorder) Subscribe(fn func(FrameEvent)) func() {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	id := r.nextID
	r.nextID++
	r.subs[id] = fn
	return func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		delete(r.subs, id)
	}
}

func (r *Recorder) publish(ev FrameEvent) {
	r.subMu.Lock()
	fns := make([]func(FrameEvent), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.subMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
