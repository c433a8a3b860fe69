package detector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ayusman/mudra/internal/capture"
)

// Kind identifies which landmark model an engine runs.
type Kind string

const (
	KindPose Kind = "pose"
	KindHand Kind = "hand"
)

// ParseKind converts "pose" or "hand" to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(s)) {
	case KindPose:
		return KindPose, nil
	case KindHand:
		return KindHand, nil
	}
	return "", fmt.Errorf("unknown detector kind %q", s)
}

// Backend selects where inference runs.
type Backend int

const (
	BackendCPU Backend = iota
	BackendGPU
)

func (b Backend) String() string {
	if b == BackendGPU {
		return "gpu"
	}
	return "cpu"
}

// ParseBackend converts "cpu" or "gpu" (case-insensitive) to a Backend.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(s) {
	case "", "cpu":
		return BackendCPU, nil
	case "gpu":
		return BackendGPU, nil
	}
	return BackendCPU, fmt.Errorf("unknown backend %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (b Backend) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *Backend) UnmarshalText(text []byte) error {
	parsed, err := ParseBackend(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// DefaultTimeout bounds a single detection request.
const DefaultTimeout = 2 * time.Second

// Config holds the tunable knobs of one landmark engine. A Config is a
// plain value: adapters apply it on Reinitialize, never in place.
type Config struct {
	MinDetectionConfidence float64       `json:"min_detection_confidence"`
	MinTrackingConfidence  float64       `json:"min_tracking_confidence"`
	MinPresenceConfidence  float64       `json:"min_presence_confidence"`
	Backend                Backend       `json:"backend"`
	MaxSubjects            int           `json:"max_subjects"`
	Timeout                time.Duration `json:"timeout"`
}

// DefaultConfig returns the defaults for the given kind: one pose, two hands.
func DefaultConfig(kind Kind) Config {
	cfg := Config{
		MinDetectionConfidence: 0.5,
		MinTrackingConfidence:  0.5,
		MinPresenceConfidence:  0.5,
		Backend:                BackendCPU,
		MaxSubjects:            1,
		Timeout:                DefaultTimeout,
	}
	if kind == KindHand {
		cfg.MaxSubjects = 2
	}
	return cfg
}

// Validate checks thresholds are within [0, 1] and counts are positive.
func (c Config) Validate() error {
	thresholds := map[string]float64{
		"min_detection_confidence": c.MinDetectionConfidence,
		"min_tracking_confidence":  c.MinTrackingConfidence,
		"min_presence_confidence":  c.MinPresenceConfidence,
	}
	for name, v := range thresholds {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be within [0, 1], got %.2f", name, v)
		}
	}
	if c.MaxSubjects < 1 {
		return fmt.Errorf("max_subjects must be at least 1, got %d", c.MaxSubjects)
	}
	if c.Backend != BackendCPU && c.Backend != BackendGPU {
		return fmt.Errorf("unknown backend %d", c.Backend)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", c.Timeout)
	}
	return nil
}

// Engine is an external landmark detector. Implementations need not be
// safe for concurrent use; an Adapter never calls Detect concurrently.
type Engine interface {
	// Detect runs inference on one frame. Engine-reported failures are
	// returned as *FailureError.
	Detect(ctx context.Context, frame *capture.Frame) (Result, error)

	// Close releases any resources held by the engine. Close must unblock
	// a Detect call that is still running.
	Close() error
}

// Factory builds a fresh engine for the given kind and configuration.
type Factory func(kind Kind, cfg Config) (Engine, error)
