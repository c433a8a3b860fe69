package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockCamera_ReadsCopies(t *testing.T) {
	src := BlankFrame(64, 48)
	src.Seq = 42

	cam := NewMockCamera([]*Frame{src, BlankFrame(32, 24)}, false)
	require.NoError(t, cam.Open())
	t.Cleanup(func() { cam.Close() })

	first, err := cam.ReadFrame()
	require.NoError(t, err)
	assert.NotSame(t, src, first)
	assert.Zero(t, first.Seq, "sequence is assigned by the gate")
	assert.False(t, first.Timestamp.IsZero())
	assert.Equal(t, 64, first.Width)

	second, err := cam.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, 32, second.Width)

	_, err = cam.ReadFrame()
	assert.ErrorIs(t, err, ErrNoFrames)
	assert.Equal(t, 2, cam.Reads())
}

func TestMockCamera_Loop(t *testing.T) {
	cam := NewMockCamera([]*Frame{BlankFrame(8, 6)}, true)
	require.NoError(t, cam.Open())
	t.Cleanup(func() { cam.Close() })

	for i := 0; i < 5; i++ {
		_, err := cam.ReadFrame()
		require.NoError(t, err, "read %d", i)
	}
	assert.Equal(t, 5, cam.Reads())
}

func TestMockCamera_Empty(t *testing.T) {
	cam := NewMockCamera(nil, true)
	require.NoError(t, cam.Open())

	_, err := cam.ReadFrame()
	assert.ErrorIs(t, err, ErrNoFrames)
}

func TestMockCamera_OpenRewinds(t *testing.T) {
	cam := NewMockCamera([]*Frame{BlankFrame(8, 6), BlankFrame(4, 2)}, false)
	require.NoError(t, cam.Open())
	_, err := cam.ReadFrame()
	require.NoError(t, err)
	require.NoError(t, cam.Close())

	_, err = cam.ReadFrame()
	assert.ErrorIs(t, err, ErrCameraNotOpen)
	assert.False(t, cam.IsOpen())

	require.NoError(t, cam.Open())
	f, err := cam.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, 8, f.Width)
}

func TestMockCamera_SetFPS(t *testing.T) {
	cam := NewMockCamera(nil, false)
	assert.Equal(t, DefaultFPS, cam.FPS())
	cam.SetFPS(5)
	cam.SetFPS(0)
	assert.Equal(t, 5, cam.FPS())
}
