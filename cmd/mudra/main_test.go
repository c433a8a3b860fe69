package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/detector"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)

	log.Info("hidden")
	log.Warn("shown", "n_frames", 3)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, float64(3), line["n_frames"])
	assert.False(t, log.Enabled(t.Context(), slog.LevelInfo))
}

func TestNewFactory_FallsBackToMock(t *testing.T) {
	cfg := config.Default()
	cfg.Pose.Script = ""
	cfg.Hand.Script = ""
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	engine, err := newFactory(cfg, false)(detector.KindPose, detector.DefaultConfig(detector.KindPose))
	require.NoError(t, err)
	assert.IsType(t, &detector.MockEngine{}, engine)

	assert.Nil(t, newCamera(cfg, true))
}
