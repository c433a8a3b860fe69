// Package config loads the mudra YAML configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/session"
)

// Config represents the complete mudra configuration.
type Config struct {
	Camera  CameraConfig   `yaml:"camera"`
	Pose    DetectorConfig `yaml:"pose"`
	Hand    DetectorConfig `yaml:"hand"`
	Session SessionConfig  `yaml:"session"`
	Export  ExportConfig   `yaml:"export"`
	Server  ServerConfig   `yaml:"server"`
	Log     LogConfig      `yaml:"log"`
}

// CameraConfig contains camera settings.
type CameraConfig struct {
	Device   int    `yaml:"device"`
	FPS      int    `yaml:"fps"`
	Width    int    `yaml:"width"`
	Height   int    `yaml:"height"`
	Facing   string `yaml:"facing"`   // front (mirrored) or back
	Rotation int    `yaml:"rotation"` // 0, 90, 180, 270

	// IdleFPS enables motion throttling when > 0: the camera drops to
	// IdleFPS after IdleAfter without motion.
	IdleFPS         int           `yaml:"idle_fps"`
	IdleAfter       time.Duration `yaml:"idle_after"`
	MotionThreshold float64       `yaml:"motion_threshold"` // percent of pixels
}

// Transform returns the frame transform implied by facing and rotation.
func (c CameraConfig) Transform() capture.Transform {
	return capture.Transform{RotationDegrees: c.Rotation, Mirror: c.Facing == "front"}
}

// Options converts the section to camera options.
func (c CameraConfig) Options() capture.Options {
	return capture.Options{
		DeviceID:  c.Device,
		FPS:       c.FPS,
		Width:     c.Width,
		Height:    c.Height,
		Transform: c.Transform(),
	}
}

// DetectorConfig contains one landmark detector's settings.
type DetectorConfig struct {
	MinDetectionConfidence float64          `yaml:"min_detection_confidence"`
	MinTrackingConfidence  float64          `yaml:"min_tracking_confidence"`
	MinPresenceConfidence  float64          `yaml:"min_presence_confidence"`
	Backend                detector.Backend `yaml:"backend"`
	MaxSubjects            int              `yaml:"max_subjects"`
	Timeout                time.Duration    `yaml:"timeout"`
	Script                 string           `yaml:"script"` // landmarker service; discovered when empty
}

// Detector converts the section to an adapter configuration.
func (d DetectorConfig) Detector() detector.Config {
	return detector.Config{
		MinDetectionConfidence: d.MinDetectionConfidence,
		MinTrackingConfidence:  d.MinTrackingConfidence,
		MinPresenceConfidence:  d.MinPresenceConfidence,
		Backend:                d.Backend,
		MaxSubjects:            d.MaxSubjects,
		Timeout:                d.Timeout,
	}
}

func detectorSection(kind detector.Kind) DetectorConfig {
	c := detector.DefaultConfig(kind)
	return DetectorConfig{
		MinDetectionConfidence: c.MinDetectionConfidence,
		MinTrackingConfidence:  c.MinTrackingConfidence,
		MinPresenceConfidence:  c.MinPresenceConfidence,
		Backend:                c.Backend,
		MaxSubjects:            c.MaxSubjects,
		Timeout:                c.Timeout,
	}
}

// SessionConfig contains recorder settings.
type SessionConfig struct {
	Mode      session.Mode `yaml:"mode"`
	MaxFrames int          `yaml:"max_frames"`
	Window    int          `yaml:"window"` // aligned mode: frames a half may lag
	Record    bool         `yaml:"record"` // start recording immediately
}

// ExportConfig contains export destinations.
type ExportConfig struct {
	SharedDir   string     `yaml:"shared_dir"`
	DefaultName string     `yaml:"default_name"`
	DBPath      string     `yaml:"db_path"`
	MQTT        MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig enables the broker export target when Broker is set.
type MQTTConfig struct {
	Broker   string        `yaml:"broker"` // host:port
	ClientID string        `yaml:"client_id"`
	Topic    string        `yaml:"topic"`
	QoS      byte          `yaml:"qos"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	StaticDir string `yaml:"static_dir"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// SlogLevel parses Level; unknown levels fall back to info.
func (l LogConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Default returns the built-in configuration. Paths are rooted at the
// user's home directory when it is known.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		Camera: CameraConfig{
			FPS:             capture.DefaultFPS,
			Width:           capture.DefaultWidth,
			Height:          capture.DefaultHeight,
			Facing:          "front",
			IdleAfter:       2 * time.Second,
			MotionThreshold: 1.0,
		},
		Pose: detectorSection(detector.KindPose),
		Hand: detectorSection(detector.KindHand),
		Session: SessionConfig{
			Mode:      session.ModeAligned,
			MaxFrames: session.DefaultMaxFrames,
			Window:    session.DefaultWindow,
			Record:    true,
		},
		Export: ExportConfig{
			SharedDir:   filepath.Join(home, "Downloads"),
			DefaultName: session.DefaultName,
			DBPath:      filepath.Join(home, ".mudra", "mudra.db"),
			MQTT: MQTTConfig{
				ClientID: "mudra",
				Topic:    "mudra/sessions",
				Timeout:  5 * time.Second,
			},
		},
		Server: ServerConfig{Addr: ":8080"},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads a YAML configuration file on top of Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for values the pipeline cannot run with.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Camera.FPS <= 0 {
		errs = append(errs, fmt.Errorf("camera.fps must be positive, got %d", cfg.Camera.FPS))
	}
	if cfg.Camera.IdleFPS < 0 || cfg.Camera.IdleFPS > cfg.Camera.FPS {
		errs = append(errs, fmt.Errorf("camera.idle_fps must be within [0, fps], got %d", cfg.Camera.IdleFPS))
	}
	if cfg.Camera.Facing != "front" && cfg.Camera.Facing != "back" {
		errs = append(errs, fmt.Errorf("camera.facing must be front or back, got %q", cfg.Camera.Facing))
	}
	if err := cfg.Camera.Transform().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("camera.rotation: %w", err))
	}
	if err := cfg.Pose.Detector().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("pose: %w", err))
	}
	if err := cfg.Hand.Detector().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("hand: %w", err))
	}
	if _, err := session.ParseMode(string(cfg.Session.Mode)); err != nil {
		errs = append(errs, fmt.Errorf("session.mode: %w", err))
	}
	if cfg.Session.MaxFrames < 0 {
		errs = append(errs, fmt.Errorf("session.max_frames must not be negative, got %d", cfg.Session.MaxFrames))
	}
	if cfg.Export.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("export.mqtt.qos must be 0, 1 or 2, got %d", cfg.Export.MQTT.QoS))
	}
	if cfg.Export.MQTT.Broker != "" && cfg.Export.MQTT.Topic == "" {
		errs = append(errs, errors.New("export.mqtt.topic is required with a broker"))
	}
	if cfg.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", cfg.Log.Format))
	}

	return errors.Join(errs...)
}
