package session

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/ayusman/mudra/internal/landmark"
)

// Mode selects how detector completions reach the recorder.
type Mode string

const (
	// ModeAligned joins the pose and hand halves of each admitted frame
	// and appends them as one record.
	ModeAligned Mode = "aligned"

	// ModeIndependent appends each half as it completes. Only pose
	// completions count frames, so the sequences may drift apart.
	ModeIndependent Mode = "independent"
)

// ParseMode converts "aligned" or "independent" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(s)); m {
	case "", ModeAligned:
		return ModeAligned, nil
	case ModeIndependent:
		return ModeIndependent, nil
	}
	return "", fmt.Errorf("unknown session mode %q", s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// DefaultWindow is how many admission sequence numbers a half-complete
// frame may lag behind the newest one before it is completed with zeros.
const DefaultWindow = 8

type partial struct {
	pose *landmark.PoseRecord
	hand *landmark.HandRecord
}

// Assembler joins pose and hand completions by admission sequence number
// and appends one complete frame per seq to a Recorder.
type Assembler struct {
	rec    *Recorder
	window uint64

	mu      sync.Mutex
	pending map[uint64]*partial
	floor   uint64 // every seq <= floor has been appended or expired
	newest  uint64
}

// NewAssembler creates an assembler feeding rec. window <= 0 selects
// DefaultWindow.
func NewAssembler(rec *Recorder, window int) *Assembler {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Assembler{
		rec:     rec,
		window:  uint64(window),
		pending: make(map[uint64]*partial),
	}
}

// Pose records the pose half of frame seq.
func (a *Assembler) Pose(seq uint64, rec landmark.PoseRecord) error {
	return a.add(seq, func(p *partial) { p.pose = &rec })
}

// Hand records the hand half of frame seq.
func (a *Assembler) Hand(seq uint64, rec landmark.HandRecord) error {
	return a.add(seq, func(p *partial) { p.hand = &rec })
}

func (a *Assembler) add(seq uint64, set func(*partial)) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if seq <= a.floor {
		slog.Debug("late detector half dropped", "seq", seq, "floor", a.floor)
		return nil
	}

	p, ok := a.pending[seq]
	if !ok {
		p = &partial{}
		a.pending[seq] = p
	}
	set(p)
	a.newest = max(a.newest, seq)

	var errs []error
	if a.newest > a.window {
		errs = append(errs, a.emitLocked(a.newest-a.window, false))
	}
	if p.pose != nil && p.hand != nil {
		errs = append(errs, a.emitLocked(seq, true))
	}
	return errors.Join(errs...)
}

// emitLocked appends pending frames in seq order. Entries with seq <= upTo
// are completed with zero halves; with onlyComplete set, only upTo itself
// is appended and only if both halves are present.
func (a *Assembler) emitLocked(upTo uint64, onlyComplete bool) error {
	var seqs []uint64
	for s, p := range a.pending {
		if onlyComplete {
			if s == upTo && p.pose != nil && p.hand != nil {
				seqs = append(seqs, s)
			}
			continue
		}
		if s <= upTo {
			seqs = append(seqs, s)
		}
	}
	slices.Sort(seqs)

	var errs []error
	for _, s := range seqs {
		p := a.pending[s]
		delete(a.pending, s)

		pose, hand := landmark.EmptyPose(), landmark.EmptyHands()
		if p.pose != nil {
			pose = *p.pose
		}
		if p.hand != nil {
			hand = *p.hand
		}
		if p.pose == nil || p.hand == nil {
			slog.Debug("completing stale frame with zero half",
				"seq", s, "has_pose", p.pose != nil, "has_hand", p.hand != nil)
		}
		if err := a.rec.AppendFrame(pose, hand); err != nil {
			errs = append(errs, fmt.Errorf("append frame %d: %w", s, err))
		}
	}
	if !onlyComplete {
		a.floor = max(a.floor, upTo)
	}
	return errors.Join(errs...)
}

// Flush completes and appends every pending frame.
func (a *Assembler) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.pending) == 0 {
		return nil
	}
	return a.emitLocked(a.newest, false)
}

// Pending returns the number of half-complete frames.
func (a *Assembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Reset drops pending halves without appending them.
func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.pending)
	a.floor = a.newest
}
