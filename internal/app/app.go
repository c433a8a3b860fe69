// Package app wires capture, detection and recording into one pipeline.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/export"
	"github.com/ayusman/mudra/internal/session"
)

var (
	// ErrNotRunning is returned by operations that need a started pipeline.
	ErrNotRunning = errors.New("pipeline not running")

	// ErrStopped is returned by Start after Stop; an App runs once.
	ErrStopped = errors.New("pipeline stopped")
)

// SettingsStore persists small key/value settings across runs.
type SettingsStore interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// Config holds configuration options for the application.
type Config struct {
	// Camera feeds the gate. Nil means frames arrive only through Submit.
	Camera capture.Camera
	FPS    int

	// IdleFPS > 0 enables motion throttling of the camera.
	IdleFPS         int
	IdleAfter       time.Duration
	MotionThreshold float64

	Factory detector.Factory
	Pose    detector.Config
	Hand    detector.Config

	Mode      session.Mode
	MaxFrames int
	Window    int
	Recording bool

	DefaultName string
	Sinks       map[export.Target]export.Sink

	// Settings, when set, keeps detector configuration across restarts.
	Settings SettingsStore
}

// Status is a point-in-time view of the pipeline.
type Status struct {
	Running         bool              `json:"running"`
	Paused          bool              `json:"paused"`
	Recording       bool              `json:"recording"`
	Mode            session.Mode      `json:"mode"`
	Session         session.Summary   `json:"session"`
	Gate            capture.GateStats `json:"gate"`
	PausedDrops     uint64            `json:"paused_drops"`
	RejectedSubmits uint64            `json:"rejected_submits"`
	CameraFPS       int               `json:"camera_fps,omitempty"`
}

// App is the main application that runs the landmark recording pipeline.
type App struct {
	config    Config
	gate      *capture.Gate
	pose      *detector.Adapter
	hand      *detector.Adapter
	recorder  *session.Recorder
	assembler *session.Assembler
	exporter  *export.Exporter

	recording atomic.Bool
	paused    atomic.Bool

	pausedDrops     atomic.Uint64
	rejectedSubmits atomic.Uint64

	// dispatch is held for each frame from submit until both requests
	// resolve. Reconfiguration takes it to find both adapters idle.
	dispatch sync.Mutex

	// mu serializes Start, Stop, Pause, Resume and detector reconfiguration.
	mu      sync.Mutex
	running bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new App. Detectors stay uninitialized until Start.
func New(config Config) *App {
	if config.Mode == "" {
		config.Mode = session.ModeAligned
	}
	if config.FPS <= 0 {
		config.FPS = capture.DefaultFPS
	}
	if config.Factory == nil {
		config.Factory = detector.MockFactory(detector.NewMockEngine(), detector.NewMockEngine())
	}

	a := &App{
		config:   config,
		gate:     capture.NewGate(),
		recorder: session.NewRecorder(config.MaxFrames),
	}
	a.recording.Store(config.Recording)

	if config.Mode == session.ModeAligned {
		a.assembler = session.NewAssembler(a.recorder, config.Window)
	}

	a.exporter = export.NewExporter(a.recorder, config.DefaultName)
	for target, sink := range config.Sinks {
		a.exporter.Register(target, sink)
	}

	a.pose = detector.NewAdapter(detector.KindPose, config.Factory, a.loadDetectorConfig(detector.KindPose, config.Pose))
	a.hand = detector.NewAdapter(detector.KindHand, config.Factory, a.loadDetectorConfig(detector.KindHand, config.Hand))
	a.pose.OnResult(a.onPoseResult)
	a.pose.OnError(a.onPoseError)
	a.hand.OnResult(a.onHandResult)
	a.hand.OnError(a.onHandError)

	return a
}

func settingsKey(kind detector.Kind) string {
	return "detector." + string(kind)
}

// loadDetectorConfig prefers a persisted configuration over fallback.
func (a *App) loadDetectorConfig(kind detector.Kind, fallback detector.Config) detector.Config {
	if fallback == (detector.Config{}) {
		fallback = detector.DefaultConfig(kind)
	}
	if a.config.Settings == nil {
		return fallback
	}

	raw, err := a.config.Settings.Get(settingsKey(kind))
	if err != nil {
		return fallback
	}
	var cfg detector.Config
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		slog.Warn("ignoring stored detector config", "kind", kind, "error", err)
		return fallback
	}
	if err := cfg.Validate(); err != nil {
		slog.Warn("ignoring stored detector config", "kind", kind, "error", err)
		return fallback
	}
	return cfg
}

// Start initializes both detectors and begins dispatching admitted frames.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return nil
	}
	if a.stopped {
		return ErrStopped
	}

	if err := a.reinitializeLocked(); err != nil {
		return err
	}

	if cam := a.config.Camera; cam != nil {
		if err := cam.Open(); err != nil {
			a.closeDetectorsLocked()
			return fmt.Errorf("open camera: %w", err)
		}
		cam.SetFPS(a.config.FPS)
	}

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.running = true
	a.paused.Store(false)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.dispatchLoop(ctx)
	}()
	if a.config.Camera != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.captureLoop(ctx)
		}()
	}

	slog.Info("pipeline started", "mode", a.config.Mode, "recording", a.Recording())
	return nil
}

// Stop halts the pipeline, waits for in-flight detections and releases
// the camera and detectors. Pending half frames are completed. The
// session stays available for export.
func (a *App) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return
	}
	a.cancel()
	a.gate.Close()
	a.wg.Wait()

	a.closeDetectorsLocked()
	a.flush()

	if cam := a.config.Camera; cam != nil {
		if err := cam.Close(); err != nil {
			slog.Warn("closing camera", "error", err)
		}
	}
	a.running = false
	a.stopped = true
	slog.Info("pipeline stopped", "n_frames", a.recorder.Len())
}

// Pause closes both detectors, waiting out in-flight requests. Frames
// admitted while paused are dropped.
func (a *App) Pause() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return ErrNotRunning
	}
	if a.paused.Swap(true) {
		return nil
	}
	a.closeDetectorsLocked()
	a.flush()
	slog.Info("pipeline paused")
	return nil
}

// Resume reinitializes both detectors before dispatch continues.
func (a *App) Resume() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return ErrNotRunning
	}
	if !a.paused.Load() {
		return nil
	}
	if err := a.reinitializeLocked(); err != nil {
		return err
	}
	a.paused.Store(false)
	slog.Info("pipeline resumed")
	return nil
}

func (a *App) reinitializeLocked() error {
	if err := a.pose.Reinitialize(); err != nil {
		return err
	}
	if err := a.hand.Reinitialize(); err != nil {
		a.pose.Close()
		return err
	}
	return nil
}

func (a *App) closeDetectorsLocked() {
	for _, ad := range []*detector.Adapter{a.pose, a.hand} {
		if err := ad.Close(); err != nil {
			slog.Warn("closing detector", "kind", ad.Kind(), "error", err)
		}
	}
}

func (a *App) flush() {
	if a.assembler == nil {
		return
	}
	if err := a.assembler.Flush(); err != nil {
		slog.Warn("flushing pending frames", "error", err)
	}
}

// Submit admits a frame directly, bypassing the camera.
func (a *App) Submit(frame *capture.Frame) {
	a.gate.Submit(frame)
}

// SetRecording starts or stops appending results to the session.
func (a *App) SetRecording(on bool) {
	if a.recording.Swap(on) != on {
		slog.Info("recording toggled", "recording", on)
	}
}

// Recording reports whether results are being appended.
func (a *App) Recording() bool { return a.recording.Load() }

// Paused reports whether the detectors are paused.
func (a *App) Paused() bool { return a.paused.Load() }

// Export writes the session to target; exported frames leave the session.
func (a *App) Export(ctx context.Context, target export.Target, name string) (session.Document, export.Result, error) {
	return a.exporter.Export(ctx, target, name)
}

// ExportTargets returns the configured export targets.
func (a *App) ExportTargets() []export.Target { return a.exporter.Targets() }

// Reset discards the session and any pending half frames.
func (a *App) Reset() {
	if a.assembler != nil {
		a.assembler.Reset()
	}
	a.recorder.Reset()
	slog.Info("session reset")
}

// Detector returns the adapter for kind.
func (a *App) Detector(kind detector.Kind) *detector.Adapter {
	if kind == detector.KindHand {
		return a.hand
	}
	return a.pose
}

// ConfigureDetector replaces a detector's configuration and rebuilds it
// when the pipeline is live. Dispatch is held off until the in-flight frame
// resolves, so the change never races a request. The configuration is
// persisted when a settings store is set.
func (a *App) ConfigureDetector(kind detector.Kind, cfg detector.Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.dispatch.Lock()
	defer a.dispatch.Unlock()

	ad := a.Detector(kind)
	if err := ad.Configure(cfg); err != nil {
		return err
	}
	if a.running && !a.paused.Load() {
		if err := ad.Reinitialize(); err != nil {
			return err
		}
	}

	if a.config.Settings != nil {
		data, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("encode detector config: %w", err)
		}
		if err := a.config.Settings.Set(settingsKey(kind), string(data)); err != nil {
			slog.Warn("persisting detector config", "kind", kind, "error", err)
		}
	}
	return nil
}

// DetectorStats returns both adapters' statistics, pose first.
func (a *App) DetectorStats() []detector.Stats {
	return []detector.Stats{a.pose.Stats(), a.hand.Stats()}
}

// Recorder returns the session recorder.
func (a *App) Recorder() *session.Recorder { return a.recorder }

// Gate returns the frame admission gate.
func (a *App) Gate() *capture.Gate { return a.gate }

// Mode returns the recording mode.
func (a *App) Mode() session.Mode { return a.config.Mode }

// Status returns a snapshot of the pipeline state.
func (a *App) Status() Status {
	a.mu.Lock()
	running := a.running
	a.mu.Unlock()

	s := Status{
		Running:         running,
		Paused:          a.Paused(),
		Recording:       a.Recording(),
		Mode:            a.config.Mode,
		Session:         a.recorder.Summary(),
		Gate:            a.gate.Stats(),
		PausedDrops:     a.pausedDrops.Load(),
		RejectedSubmits: a.rejectedSubmits.Load(),
	}
	if cam := a.config.Camera; cam != nil && cam.IsOpen() {
		s.CameraFPS = cam.FPS()
	}
	return s
}
