package server

import (
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/ayusman/mudra/internal/capture"
)

const (
	defaultStreamInterval = 66 * time.Millisecond
	streamBoundary        = "frame"
)

// StreamHandler serves the gate's latest admitted frame as an MJPEG
// preview. Frames are only re-encoded when a new one has been admitted.
type StreamHandler struct {
	gate     *capture.Gate
	interval time.Duration
}

// NewStreamHandler polls gate every interval; zero selects about 15 fps.
func NewStreamHandler(gate *capture.Gate, interval time.Duration) *StreamHandler {
	if interval <= 0 {
		interval = defaultStreamInterval
	}
	return &StreamHandler{gate: gate, interval: interval}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(streamBoundary); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+streamBoundary)
	w.Header().Set("Cache-Control", "no-cache")
	flusher, _ := w.(http.Flusher)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var sent uint64
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		frame := h.gate.Latest()
		if frame == nil || frame.Seq == sent {
			continue
		}

		jpeg, err := frame.EncodeJPEG()
		if err != nil {
			slog.Debug("encoding preview frame", "seq", frame.Seq, "error", err)
			continue
		}
		sent = frame.Seq

		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":   {"image/jpeg"},
			"Content-Length": {strconv.Itoa(len(jpeg))},
		})
		if err != nil {
			return
		}
		if _, err := part.Write(jpeg); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}
