package session

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/mudra/internal/landmark"
)

func pose(v float64) landmark.PoseRecord {
	var p landmark.PoseRecord
	for i := range p.X {
		p.X[i] = v
		p.Y[i] = v + 0.5
	}
	return p
}

func hand(v float64) landmark.HandRecord {
	var h landmark.HandRecord
	for i := range h.Hand1X {
		h.Hand1X[i] = v
		h.Hand1Y[i] = v + 0.5
	}
	return h
}

var ignoreGeneration = cmpopts.IgnoreUnexported(Document{})

func TestRecorder_EmptySnapshotEncodesEmptyArrays(t *testing.T) {
	r := NewRecorder(0)

	data, err := json.Marshal(r.Snapshot())
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"pose_x":[],"pose_y":[],"hand1_x":[],"hand1_y":[],"hand2_x":[],"hand2_y":[],"n_frames":0}`,
		string(data))
}

func TestRecorder_Appends(t *testing.T) {
	tests := []struct {
		name        string
		appends     func(r *Recorder)
		wantPose    int
		wantHand    int
		wantFrames  int
		wantAligned bool
	}{
		{
			name:        "pose counts frames",
			appends:     func(r *Recorder) { r.AppendPose(pose(0.1)); r.AppendPose(pose(0.2)) },
			wantPose:    2,
			wantFrames:  2,
			wantAligned: false,
		},
		{
			name:        "hand does not count frames",
			appends:     func(r *Recorder) { r.AppendHand(hand(0.1)) },
			wantHand:    1,
			wantFrames:  0,
			wantAligned: false,
		},
		{
			name:        "aligned frame",
			appends:     func(r *Recorder) { r.AppendFrame(pose(0.1), hand(0.1)) },
			wantPose:    1,
			wantHand:    1,
			wantFrames:  1,
			wantAligned: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRecorder(0)
			tt.appends(r)
			doc := r.Snapshot()
			assert.Equal(t, tt.wantPose, doc.PoseLen())
			assert.Equal(t, tt.wantHand, doc.HandLen())
			assert.Equal(t, tt.wantFrames, doc.NFrames)
			assert.Equal(t, tt.wantAligned, doc.Aligned())
		})
	}
}

func TestRecorder_SnapshotIsDeepCopy(t *testing.T) {
	r := NewRecorder(0)
	require.NoError(t, r.AppendFrame(pose(0.1), hand(0.2)))

	first := r.Snapshot()
	second := r.Snapshot()
	if diff := cmp.Diff(first, second, ignoreGeneration); diff != "" {
		t.Errorf("snapshots differ (-first +second):\n%s", diff)
	}

	first.PoseX[0][0] = 99
	assert.Equal(t, 0.1, r.Snapshot().PoseX[0][0])
	assert.Equal(t, 0.2, second.Hand1X[0][3])
	assert.Equal(t, 0.7, second.Hand1Y[0][3])
}

func TestRecorder_ResetLaw(t *testing.T) {
	r := NewRecorder(0)
	r.AppendPose(pose(0.1))
	r.AppendHand(hand(0.1))
	r.AppendFrame(pose(0.2), hand(0.2))

	r.Reset()

	doc := r.Snapshot()
	if diff := cmp.Diff(NewDocument(), doc, ignoreGeneration); diff != "" {
		t.Errorf("reset snapshot mismatch (-want +got):\n%s", diff)
	}
	assert.Zero(t, r.Len())
}

func TestRecorder_ConcurrentAppends(t *testing.T) {
	const workers, per = 8, 200
	r := NewRecorder(0)

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := range per {
				assert.NoError(t, r.AppendPose(pose(float64(w*per+i))))
			}
		}()
		go func() {
			defer wg.Done()
			for i := range per {
				assert.NoError(t, r.AppendHand(hand(float64(w*per+i))))
			}
		}()
	}

	// Snapshots taken mid-flight must never be torn.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 50 {
			doc := r.Snapshot()
			assert.Equal(t, len(doc.PoseX), len(doc.PoseY))
			assert.Equal(t, len(doc.PoseX), doc.NFrames)
			assert.Equal(t, len(doc.Hand1X), len(doc.Hand2Y))
		}
	}()

	wg.Wait()
	<-done

	doc := r.Snapshot()
	assert.Equal(t, workers*per, doc.PoseLen())
	assert.Equal(t, workers*per, doc.HandLen())
	assert.Equal(t, workers*per, doc.NFrames)
}

func TestRecorder_MaxFrames(t *testing.T) {
	r := NewRecorder(2)
	require.NoError(t, r.AppendFrame(pose(0.1), hand(0.1)))
	require.NoError(t, r.AppendPose(pose(0.2)))

	assert.ErrorIs(t, r.AppendPose(pose(0.3)), ErrSessionFull)
	assert.ErrorIs(t, r.AppendFrame(pose(0.3), hand(0.3)), ErrSessionFull)
	require.NoError(t, r.AppendHand(hand(0.2)))
	assert.ErrorIs(t, r.AppendHand(hand(0.3)), ErrSessionFull)

	s := r.Summary()
	assert.True(t, s.Full)
	assert.Equal(t, 2, s.NFrames)
	assert.Equal(t, 2, s.MaxFrames)
}

func TestRecorder_Discard(t *testing.T) {
	r := NewRecorder(0)
	r.AppendFrame(pose(0.1), hand(0.1))
	r.AppendFrame(pose(0.2), hand(0.2))

	doc := r.Snapshot()
	r.AppendFrame(pose(0.3), hand(0.3))

	r.Discard(doc)

	rest := r.Snapshot()
	require.Equal(t, 1, rest.NFrames)
	assert.Equal(t, 0.3, rest.PoseX[0][0])
	assert.Equal(t, 0.3, rest.Hand1X[0][0])

	// A second discard of the same snapshot is a no-op.
	r.Discard(doc)
	assert.Equal(t, 1, r.Len())
}

func TestRecorder_DiscardAfterReset(t *testing.T) {
	r := NewRecorder(0)
	r.AppendPose(pose(0.1))
	doc := r.Snapshot()

	r.Reset()
	r.AppendPose(pose(0.2))
	r.Discard(doc)

	assert.Equal(t, 1, r.Len())
}

func TestRecorder_Subscribe(t *testing.T) {
	r := NewRecorder(0)

	var events []FrameEvent
	unsubscribe := r.Subscribe(func(ev FrameEvent) { events = append(events, ev) })

	r.AppendPose(pose(0.1))
	r.AppendHand(hand(0.1))
	r.AppendFrame(pose(0.2), hand(0.2))
	unsubscribe()
	r.AppendPose(pose(0.3))

	require.Len(t, events, 3)
	assert.NotNil(t, events[0].Pose)
	assert.Nil(t, events[0].Hand)
	assert.Equal(t, 1, events[0].NFrames)
	assert.Nil(t, events[1].Pose)
	assert.Equal(t, 0, events[1].Index)
	assert.Equal(t, 1, events[2].Index)
	assert.Equal(t, 2, events[2].NFrames)
}
