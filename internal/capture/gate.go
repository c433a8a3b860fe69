package capture

import (
	"context"
	"sync"
	"sync/atomic"
)

// GateStats is a snapshot of admission counters.
type GateStats struct {
	// Admitted counts every frame accepted by Submit.
	Admitted uint64 `json:"admitted"`
	// Dispatched counts frames handed out by Next.
	Dispatched uint64 `json:"dispatched"`
	// Dropped counts frames overwritten before dispatch, plus frames
	// submitted after Close. Drops are the backpressure policy, not errors.
	Dropped uint64 `json:"dropped"`
}

// Gate admits frames with a keep-only-latest policy.
//
// The gate is a single-slot mailbox: Submit overwrites any frame that has
// not been dispatched yet and never blocks; Next blocks until a frame is
// available. At most one frame is ever queued.
type Gate struct {
	mu     sync.Mutex
	cond   *sync.Cond
	slot   *Frame
	last   *Frame
	closed bool

	seq        uint64
	admitted   atomic.Uint64
	dispatched atomic.Uint64
	dropped    atomic.Uint64
}

// NewGate creates an empty, open gate.
func NewGate() *Gate {
	g := &Gate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Submit admits a frame, replacing any queued frame that has not been
// dispatched. The gate queues a copy stamped with the admission sequence
// number; the caller's frame is left untouched and the pixel buffer is
// shared. Frames submitted after Close are dropped.
func (g *Gate) Submit(frame *Frame) {
	if frame == nil {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		g.dropped.Add(1)
		return
	}

	if g.slot != nil {
		g.dropped.Add(1)
	}

	g.seq++
	admitted := *frame
	admitted.Seq = g.seq
	g.slot = &admitted
	g.admitted.Add(1)

	g.cond.Signal()
}

// Next blocks until a frame is available and returns it. It returns false
// once the gate is closed or ctx is done.
func (g *Gate) Next(ctx context.Context) (*Frame, bool) {
	// Wake the waiter when ctx ends; sync.Cond has no context support.
	stop := context.AfterFunc(ctx, func() {
		g.mu.Lock()
		g.cond.Broadcast()
		g.mu.Unlock()
	})
	defer stop()

	g.mu.Lock()
	defer g.mu.Unlock()

	for g.slot == nil && !g.closed && ctx.Err() == nil {
		g.cond.Wait()
	}

	if g.closed || ctx.Err() != nil {
		return nil, false
	}

	frame := g.slot
	g.slot = nil
	g.last = frame
	g.dispatched.Add(1)

	return frame, true
}

// Latest returns the most recently dispatched frame, or nil.
func (g *Gate) Latest() *Frame {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

// Pending reports whether a frame is queued and not yet dispatched.
func (g *Gate) Pending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.slot != nil
}

// Close wakes all waiters; Next returns false afterwards. Idempotent.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return
	}
	g.closed = true
	if g.slot != nil {
		g.dropped.Add(1)
		g.slot = nil
	}
	g.cond.Broadcast()
}

// Stats returns a snapshot of the admission counters.
func (g *Gate) Stats() GateStats {
	return GateStats{
		Admitted:   g.admitted.Load(),
		Dispatched: g.dispatched.Load(),
		Dropped:    g.dropped.Load(),
	}
}
