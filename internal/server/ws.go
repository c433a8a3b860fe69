package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/mudra/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local UI
	},
}

const (
	writeWait = time.Second
	// clientBuffer is how many events a client may fall behind before it
	// is disconnected.
	clientBuffer = 64
)

// LandmarksHandler broadcasts every recorded frame to WebSocket clients.
type LandmarksHandler struct {
	unsubscribe func()

	mu      sync.RWMutex
	clients map[*websocket.Conn]*wsClient
	closed  bool
}

// wsClient is one connection's outgoing queue. code is the close code sent
// once out is closed; it is set before the close.
type wsClient struct {
	out  chan []byte
	code int
}

func newWSClient() *wsClient {
	return &wsClient{out: make(chan []byte, clientBuffer), code: websocket.CloseNormalClosure}
}

// NewLandmarksHandler subscribes to rec and fans its appends out to clients.
func NewLandmarksHandler(rec *session.Recorder) *LandmarksHandler {
	h := &LandmarksHandler{
		clients: make(map[*websocket.Conn]*wsClient),
	}
	h.unsubscribe = rec.Subscribe(h.broadcast)
	return h
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *LandmarksHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade", "error", err)
		return
	}
	defer conn.Close()

	c := newWSClient()
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.clients[conn] = c
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		if _, ok := h.clients[conn]; ok {
			delete(h.clients, conn)
			close(c.out)
		}
		h.mu.Unlock()
	}()

	go func() {
		for msg := range c.out {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				conn.Close()
				return
			}
		}
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(c.code, ""), time.Now().Add(writeWait))
		conn.Close()
	}()

	// Reads only detect disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

type landmarksMessage struct {
	session.FrameEvent
	Timestamp int64 `json:"timestamp"`
}

// broadcast queues ev for every client. A client whose queue is full is
// disconnected with a policy-violation close.
func (h *LandmarksHandler) broadcast(ev session.FrameEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 {
		return
	}

	msg, err := json.Marshal(landmarksMessage{FrameEvent: ev, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		slog.Warn("encoding landmarks", "error", err)
		return
	}
	for conn, c := range h.clients {
		select {
		case c.out <- msg:
		default:
			slog.Warn("landmarks client too slow, disconnecting", "buffer", clientBuffer)
			delete(h.clients, conn)
			c.code = websocket.ClosePolicyViolation
			close(c.out)
		}
	}
}

// Clients returns the number of connected clients.
func (h *LandmarksHandler) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close unsubscribes from the recorder and disconnects every client.
func (h *LandmarksHandler) Close() {
	h.unsubscribe()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for conn, c := range h.clients {
		delete(h.clients, conn)
		close(c.out)
	}
}
