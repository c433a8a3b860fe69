package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ayusman/mudra/internal/capture"
)

// State is the lifecycle state of an Adapter.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateBusy
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateClosed:
		return "closed"
	default:
		return "uninitialized"
	}
}

// Adapter owns one external engine and serializes requests to it.
//
// State machine: Uninitialized -> Ready -> (Busy -> Ready)* -> Closed.
// Reinitialize moves any state back to Ready. At most one request is in
// flight at a time; a second Submit while Busy fails with ErrBusy.
//
// Results are delivered on a worker goroutine, never the caller's.
type Adapter struct {
	kind    Kind
	factory Factory

	// lifecycle serializes Reinitialize and Close.
	lifecycle sync.Mutex

	mu       sync.Mutex
	state    State
	pending  Config
	applied  Config
	engine   Engine
	onResult func(*capture.Frame, Result)
	onError  func(*capture.Frame, error)
	inflight sync.WaitGroup

	latency      latencyRing
	requests     uint64
	failures     uint64
	timeouts     uint64
	canceled     uint64
	busyRejected uint64
	reinits      uint64
}

// NewAdapter creates an uninitialized adapter. Call Reinitialize before
// submitting frames.
func NewAdapter(kind Kind, factory Factory, cfg Config) *Adapter {
	return &Adapter{
		kind:    kind,
		factory: factory,
		pending: cfg,
	}
}

// Kind returns the detector kind.
func (a *Adapter) Kind() Kind { return a.kind }

// OnResult registers the callback fired once per successful request.
func (a *Adapter) OnResult(fn func(*capture.Frame, Result)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onResult = fn
}

// OnError registers the callback fired once per failed request.
func (a *Adapter) OnError(fn func(*capture.Frame, error)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onError = fn
}

// Configure replaces the pending configuration. It takes effect on the
// next Reinitialize.
func (a *Adapter) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configure %s detector: %w", a.kind, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == StateBusy {
		return ErrBusy
	}
	a.pending = cfg
	return nil
}

// Config returns the pending configuration.
func (a *Adapter) Config() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending
}

// Applied returns the configuration the live engine was built with.
func (a *Adapter) Applied() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.applied
}

// State returns the current lifecycle state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Reinitialize tears down the current engine, waiting out any in-flight
// request, and builds a new one from the pending configuration.
func (a *Adapter) Reinitialize() error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	a.mu.Lock()
	old := a.engine
	a.engine = nil
	a.state = StateUninitialized
	cfg := a.pending
	a.mu.Unlock()

	a.inflight.Wait()
	if old != nil {
		if err := old.Close(); err != nil {
			slog.Warn("closing detector engine", "kind", a.kind, "error", err)
		}
	}

	engine, err := a.factory(a.kind, cfg)

	a.mu.Lock()
	defer a.mu.Unlock()

	if err != nil {
		return fmt.Errorf("initialize %s detector: %w", a.kind, err)
	}
	a.engine = engine
	a.applied = cfg
	a.state = StateReady
	a.reinits++

	slog.Info("detector initialized",
		"kind", a.kind,
		"backend", cfg.Backend,
		"min_detection", cfg.MinDetectionConfidence,
		"min_tracking", cfg.MinTrackingConfidence,
		"min_presence", cfg.MinPresenceConfidence,
		"max_subjects", cfg.MaxSubjects)
	return nil
}

// Submit starts a detection request for frame and returns its handle.
//
// It fails fast with ErrNotInitialized before Reinitialize or after Close,
// and with ErrBusy while another request is in flight; in both cases no
// request is created.
func (a *Adapter) Submit(ctx context.Context, frame *capture.Frame) (*Request, error) {
	if frame == nil {
		return nil, errors.New("submit: nil frame")
	}

	a.mu.Lock()
	switch a.state {
	case StateUninitialized, StateClosed:
		a.mu.Unlock()
		return nil, ErrNotInitialized
	case StateBusy:
		a.busyRejected++
		a.mu.Unlock()
		return nil, ErrBusy
	}

	req := newRequest(a.kind, frame)
	a.state = StateBusy
	a.requests++
	engine := a.engine
	timeout := a.applied.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	onResult, onError := a.onResult, a.onError
	a.inflight.Add(1)
	a.mu.Unlock()

	go a.run(ctx, engine, req, timeout, onResult, onError)
	return req, nil
}

type outcome struct {
	res Result
	err error
}

func (a *Adapter) run(ctx context.Context, engine Engine, req *Request, timeout time.Duration,
	onResult func(*capture.Frame, Result), onError func(*capture.Frame, error)) {
	defer a.inflight.Done()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	ch := make(chan outcome, 1)
	go func() {
		res, err := engine.Detect(ctx, req.frame)
		ch <- outcome{res: res, err: err}
	}()

	// A canceled caller leaves the engine healthy; only a missed deadline
	// marks it hung.
	var out outcome
	hung := false
	select {
	case out = <-ch:
	case <-ctx.Done():
		out.err = ctx.Err()
		hung = errors.Is(out.err, context.DeadlineExceeded)
	}
	if errors.Is(out.err, context.DeadlineExceeded) {
		out.err = ErrTimeout
	}

	if out.err == nil {
		out.res.Seq = req.frame.Seq
		if out.res.InferenceTime <= 0 {
			out.res.InferenceTime = time.Since(start)
		}
		if out.res.InputWidth == 0 && out.res.InputHeight == 0 {
			out.res.InputWidth, out.res.InputHeight = req.frame.OrientedSize()
		}
	}

	if hung {
		a.replaceHungEngine(engine)
	}
	a.settle(out)

	if out.err != nil {
		if onError != nil {
			onError(req.frame, out.err)
		}
	} else if onResult != nil {
		onResult(req.frame, out.res)
	}
	req.resolve(out.res, out.err)
}

// settle records the outcome and returns the adapter to Ready unless
// Close or Reinitialize moved it elsewhere meanwhile.
func (a *Adapter) settle(out outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == StateBusy {
		a.state = StateReady
	}
	switch {
	case out.err == nil:
		a.latency.add(out.res.InferenceTime)
	case errors.Is(out.err, ErrTimeout):
		a.timeouts++
	case errors.Is(out.err, context.Canceled):
		a.canceled++
	default:
		a.failures++
	}
}

// replaceHungEngine closes an engine that did not answer in time and
// builds a replacement, so one stuck request cannot wedge the adapter.
func (a *Adapter) replaceHungEngine(engine Engine) {
	a.mu.Lock()
	owned := a.state == StateBusy && a.engine == engine
	if owned {
		a.engine = nil
	}
	cfg := a.applied
	a.mu.Unlock()

	// Close or Reinitialize already took the engine and will close it.
	if !owned {
		return
	}

	slog.Warn("detector engine hung, rebuilding", "kind", a.kind)
	if err := engine.Close(); err != nil {
		slog.Warn("closing hung detector engine", "kind", a.kind, "error", err)
	}

	fresh, err := a.factory(a.kind, cfg)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StateBusy {
		if fresh != nil {
			fresh.Close()
		}
		return
	}
	if err != nil {
		slog.Error("rebuilding detector engine", "kind", a.kind, "error", err)
		a.state = StateUninitialized
		return
	}
	a.engine = fresh
}

// Close waits for any in-flight request to resolve, then releases the
// engine. Its result and callbacks fire before Close returns; nothing is
// delivered afterwards. Submit returns ErrNotInitialized until the next
// Reinitialize.
func (a *Adapter) Close() error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	a.mu.Lock()
	if a.state == StateClosed {
		a.mu.Unlock()
		return nil
	}
	engine := a.engine
	a.engine = nil
	a.state = StateClosed
	a.mu.Unlock()

	a.inflight.Wait()

	if engine == nil {
		return nil
	}
	if err := engine.Close(); err != nil {
		return fmt.Errorf("close %s detector: %w", a.kind, err)
	}
	return nil
}

// Stats returns a snapshot of request counters and latency.
func (a *Adapter) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	mean, p95 := a.latency.summary()
	return Stats{
		Kind:          a.kind,
		State:         a.state.String(),
		Requests:      a.requests,
		Failures:      a.failures,
		Timeouts:      a.timeouts,
		Canceled:      a.canceled,
		BusyRejected:  a.busyRejected,
		Reinits:       a.reinits,
		LatencyMeanMS: mean,
		LatencyP95MS:  p95,
		LastLatencyMS: a.latency.last(),
	}
}
