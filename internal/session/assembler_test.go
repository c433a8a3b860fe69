package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeAligned, false},
		{"aligned", ModeAligned, false},
		{"Independent", ModeIndependent, false},
		{"interleaved", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAssembler_JoinsHalves(t *testing.T) {
	r := NewRecorder(0)
	a := NewAssembler(r, 0)

	require.NoError(t, a.Hand(1, hand(0.1)))
	assert.Zero(t, r.Len())
	assert.Equal(t, 1, a.Pending())

	require.NoError(t, a.Pose(1, pose(0.1)))
	assert.Equal(t, 1, r.Len())
	assert.Zero(t, a.Pending())

	doc := r.Snapshot()
	assert.True(t, doc.Aligned())
	assert.Equal(t, 0.1, doc.PoseX[0][0])
	assert.Equal(t, 0.1, doc.Hand1X[0][0])
}

func TestAssembler_StaleHalfCompletedWithZeros(t *testing.T) {
	r := NewRecorder(0)
	a := NewAssembler(r, 2)

	require.NoError(t, a.Pose(1, pose(0.1)))
	require.NoError(t, a.Pose(2, pose(0.2)))
	require.NoError(t, a.Hand(2, hand(0.2)))
	assert.Equal(t, 1, r.Len())

	// seq 4 pushes seq 1 out of the window.
	require.NoError(t, a.Pose(4, pose(0.4)))
	doc := r.Snapshot()
	require.Equal(t, 2, doc.NFrames)
	assert.Equal(t, 0.1, doc.PoseX[1][0])
	assert.Zero(t, doc.Hand1X[1][0])

	// A late hand for seq 1 is dropped, not appended as a new frame.
	require.NoError(t, a.Hand(1, hand(0.1)))
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 1, a.Pending())
}

func TestAssembler_Flush(t *testing.T) {
	r := NewRecorder(0)
	a := NewAssembler(r, 0)

	require.NoError(t, a.Pose(3, pose(0.3)))
	require.NoError(t, a.Hand(1, hand(0.1)))
	require.NoError(t, a.Flush())

	doc := r.Snapshot()
	require.Equal(t, 2, doc.NFrames)
	assert.True(t, doc.Aligned())
	// Flushed in seq order.
	assert.Equal(t, 0.1, doc.Hand1X[0][0])
	assert.Equal(t, 0.3, doc.PoseX[1][0])
	assert.Zero(t, a.Pending())
	assert.NoError(t, a.Flush())
}

func TestAssembler_Reset(t *testing.T) {
	r := NewRecorder(0)
	a := NewAssembler(r, 0)

	require.NoError(t, a.Pose(1, pose(0.1)))
	a.Reset()
	require.NoError(t, a.Hand(1, hand(0.1)))

	assert.Zero(t, a.Pending())
	assert.Zero(t, r.Len())
}

func TestAssembler_RacingCompletionsStayAligned(t *testing.T) {
	const frames = 300
	r := NewRecorder(0)
	a := NewAssembler(r, frames)

	var wg sync.WaitGroup
	for seq := uint64(1); seq <= frames; seq++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, a.Pose(seq, pose(float64(seq))))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, a.Hand(seq, hand(float64(seq))))
		}()
	}
	wg.Wait()
	require.NoError(t, a.Flush())

	doc := r.Snapshot()
	assert.Equal(t, frames, doc.NFrames)
	assert.True(t, doc.Aligned())
	for i := range doc.PoseX {
		assert.Equal(t, doc.PoseX[i][0], doc.Hand1X[i][0], "frame %d halves from different seqs", i)
	}
}

func TestAssembler_FullRecorder(t *testing.T) {
	r := NewRecorder(1)
	a := NewAssembler(r, 0)

	require.NoError(t, a.Pose(1, pose(0.1)))
	require.NoError(t, a.Hand(1, hand(0.1)))
	require.NoError(t, a.Pose(2, pose(0.2)))
	assert.ErrorIs(t, a.Hand(2, hand(0.2)), ErrSessionFull)
}
