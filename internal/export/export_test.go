package export

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/mudra/internal/landmark"
	"github.com/ayusman/mudra/internal/session"
	"github.com/ayusman/mudra/internal/store"
)

func recorderWith(t *testing.T, frames int) *session.Recorder {
	t.Helper()
	r := session.NewRecorder(0)
	for i := range frames {
		var p landmark.PoseRecord
		var h landmark.HandRecord
		p.X[0] = float64(i + 1)
		h.Hand1X[0] = float64(i + 1)
		require.NoError(t, r.AppendFrame(p, h))
	}
	return r
}

func TestParseTarget(t *testing.T) {
	got, err := ParseTarget("Shared")
	require.NoError(t, err)
	assert.Equal(t, TargetShared, got)

	_, err = ParseTarget("cloud")
	assert.Error(t, err)
}

func TestFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", session.DefaultName},
		{"pose_data.json", "pose_data.json"},
		{"take-2", "take-2.json"},
		{"../../etc/passwd", "passwd.json"},
		{"a:b?.JSON", "a_b_.JSON"},
		{"  spaced  ", "spaced.json"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, FileName(tt.in))
		})
	}
}

func TestExporter_SharedFile(t *testing.T) {
	r := recorderWith(t, 2)
	sink, err := NewFileSink(filepath.Join(t.TempDir(), "Downloads"))
	require.NoError(t, err)

	e := NewExporter(r, "")
	e.Register(TargetShared, sink)

	doc, res, err := e.Export(context.Background(), TargetShared, "")
	require.NoError(t, err)
	assert.Equal(t, session.DefaultName, res.Name)
	assert.Equal(t, 2, res.NFrames)
	assert.Equal(t, 2, doc.NFrames)

	data, err := os.ReadFile(sink.Path(session.DefaultName))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "{\n    \"pose_x\": ["), "expected 4-space indent, got %.40q", data)

	var decoded session.Document
	require.NoError(t, json.Unmarshal(data, &decoded))
	if diff := cmp.Diff(doc, decoded, cmpopts.IgnoreUnexported(session.Document{})); diff != "" {
		t.Errorf("file document mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, decoded.PoseX[0], landmark.PosePoints)
	assert.Len(t, decoded.Hand2Y[1], landmark.HandPoints)

	assert.Zero(t, r.Len(), "exported frames should be removed from the session")

	entries, err := os.ReadDir(sink.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

func TestExporter_PrivateStore(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "mudra.db"))
	require.NoError(t, err)
	defer st.Close()

	r := recorderWith(t, 3)
	e := NewExporter(r, "default.json")
	e.Register(TargetPrivate, NewStoreSink(st.Sessions()))

	_, res, err := e.Export(context.Background(), TargetPrivate, "")
	require.NoError(t, err)
	assert.Equal(t, "default.json", res.Name)

	list, err := st.Sessions().List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 3, list[0].NFrames)
	assert.Equal(t, "default.json", list[0].Name)

	stored, err := st.Sessions().GetByID(list[0].ID)
	require.NoError(t, err)
	var doc session.Document
	require.NoError(t, json.Unmarshal(stored.Data, &doc))
	assert.Equal(t, 3, doc.NFrames)
	assert.Equal(t, 3.0, doc.PoseX[2][0])
}

func TestExporter_FailureKeepsSession(t *testing.T) {
	r := recorderWith(t, 2)
	boom := errors.New("disk full")

	e := NewExporter(r, "")
	e.Register(TargetShared, SinkFunc(func(context.Context, string, session.Document) error { return boom }))

	_, _, err := e.Export(context.Background(), TargetShared, "x.json")

	var exportErr *ExportError
	require.ErrorAs(t, err, &exportErr)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, TargetShared, exportErr.Target)
	assert.Equal(t, "x.json", exportErr.Name)
	assert.Equal(t, 2, r.Len())
}

func TestExporter_UnknownTarget(t *testing.T) {
	e := NewExporter(recorderWith(t, 1), "")

	_, _, err := e.Export(context.Background(), TargetPrivate, "")
	assert.ErrorIs(t, err, ErrUnknownTarget)
	assert.Empty(t, e.Targets())
}

func TestExporter_FramesDuringWriteSurvive(t *testing.T) {
	r := recorderWith(t, 2)

	e := NewExporter(r, "")
	e.Register(TargetShared, SinkFunc(func(ctx context.Context, name string, doc session.Document) error {
		// A detector completion lands while the sink is busy.
		return r.AppendFrame(landmark.EmptyPose(), landmark.EmptyHands())
	}))

	doc, _, err := e.Export(context.Background(), TargetShared, "")
	require.NoError(t, err)
	assert.Equal(t, 2, doc.NFrames)
	assert.Equal(t, 1, r.Len())
}

func TestExporter_CanceledContext(t *testing.T) {
	r := recorderWith(t, 1)
	sink, err := NewFileSink(t.TempDir())
	require.NoError(t, err)

	e := NewExporter(r, "")
	e.Register(TargetShared, sink)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = e.Export(ctx, TargetShared, "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, r.Len())
}

func TestExporter_Targets(t *testing.T) {
	e := NewExporter(recorderWith(t, 0), "")
	e.Register(TargetShared, SinkFunc(func(context.Context, string, session.Document) error { return nil }))
	e.Register(TargetPrivate, SinkFunc(func(context.Context, string, session.Document) error { return nil }))

	assert.Equal(t, []Target{TargetPrivate, TargetShared}, e.Targets())
}
