package server

import (
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/session"
	"github.com/ayusman/mudra/internal/store"
)

func newTestApp(t *testing.T) *app.App {
	t.Helper()
	pose, hand := detector.NewMockEngine(), detector.NewMockEngine()
	pose.SetSubjects([]detector.Subject{detector.PoseSubject()})
	hand.SetSubjects([]detector.Subject{detector.HandSubject("Right", 0.3)})

	a := app.New(app.Config{Factory: detector.MockFactory(pose, hand), Recording: true})
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(a.Stop)
	return a
}

func TestServer_Health(t *testing.T) {
	srv := New(Config{App: newTestApp(t)})

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var resp map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Contains(t, resp, "uptime")
	assert.Equal(t, true, resp["running"])
	assert.Equal(t, float64(0), resp["n_frames"])

	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestServer_Routes(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	tests := []struct {
		name   string
		config Config
		path   string
		want   int
	}{
		{"session", Config{App: newTestApp(t)}, "/api/session", http.StatusOK},
		{"detector", Config{App: newTestApp(t)}, "/api/detectors/pose", http.StatusOK},
		{"stored sessions", Config{Store: s}, "/api/sessions", http.StatusOK},
		{"no app", Config{Store: s}, "/api/session", http.StatusNotFound},
		{"no store", Config{App: newTestApp(t)}, "/api/sessions", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New(tt.config)
			defer srv.Close()
			rr := httptest.NewRecorder()
			srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.want, rr.Code)
		})
	}
}

func TestServer_StaticFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>mudra</h1>"), 0o644))

	srv := New(Config{StaticDir: dir})
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "mudra")
}

func TestLandmarksHandler_BroadcastsAppends(t *testing.T) {
	a := newTestApp(t)
	srv := New(Config{App: a})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/landmarks"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return srv.hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)
	a.Submit(capture.BlankFrame(8, 6))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Index     int             `json:"index"`
		NFrames   int             `json:"n_frames"`
		Pose      json.RawMessage `json:"pose"`
		Hand      json.RawMessage `json:"hand"`
		Timestamp int64           `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, 0, msg.Index)
	assert.Equal(t, 1, msg.NFrames)
	assert.NotEmpty(t, msg.Pose)
	assert.NotEmpty(t, msg.Hand)
	assert.Positive(t, msg.Timestamp)
}

func TestLandmarksHandler_CloseDisconnects(t *testing.T) {
	a := newTestApp(t)
	h := NewLandmarksHandler(a.Recorder())
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return h.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	h.Close()
	assert.Zero(t, h.Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestLandmarksHandler_DisconnectsSlowClient(t *testing.T) {
	h := NewLandmarksHandler(newTestApp(t).Recorder())
	t.Cleanup(h.Close)

	slow := newWSClient()
	h.mu.Lock()
	h.clients[&websocket.Conn{}] = slow
	h.mu.Unlock()

	for i := 0; i < clientBuffer; i++ {
		h.broadcast(session.FrameEvent{Index: i, NFrames: i + 1})
	}
	assert.Equal(t, 1, h.Clients(), "a full buffer is still connected")

	h.broadcast(session.FrameEvent{Index: clientBuffer, NFrames: clientBuffer + 1})
	assert.Zero(t, h.Clients())
	assert.Equal(t, websocket.ClosePolicyViolation, slow.code)

	queued := 0
	for range slow.out {
		queued++
	}
	assert.Equal(t, clientBuffer, queued, "queue is closed after the buffered events")
}

func TestStreamHandler_ServesLatestFrame(t *testing.T) {
	if testing.Short() {
		t.Skip("requires OpenCV")
	}

	gate := capture.NewGate()
	gate.Submit(capture.BlankFrame(32, 24))
	_, ok := gate.Next(context.Background())
	require.True(t, ok)

	ts := httptest.NewServer(NewStreamHandler(gate, 5*time.Millisecond))
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", resp.Header.Get("Content-Type"))

	mr := multipart.NewReader(resp.Body, "frame")
	part, err := mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))
	assert.NotEmpty(t, part.Header.Get("Content-Length"))
}

func TestStreamHandler_MethodNotAllowed(t *testing.T) {
	rr := httptest.NewRecorder()
	NewStreamHandler(capture.NewGate(), 0).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/stream", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
