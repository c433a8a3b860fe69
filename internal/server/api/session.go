package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/export"
)

// SessionHandler handles the live session and pipeline controls.
//
// Routes:
//
//	GET  /api/session            status summary
//	GET  /api/session/document   full snapshot
//	POST /api/session/export     {"target": "shared", "name": "take.json"}
//	POST /api/session/reset
//	PUT  /api/session/recording  {"recording": true}
//	POST /api/session/pause
//	POST /api/session/resume
type SessionHandler struct {
	app *app.App
}

// NewSessionHandler creates a new SessionHandler for a.
func NewSessionHandler(a *app.App) *SessionHandler {
	return &SessionHandler{app: a}
}

type exportRequest struct {
	Target string `json:"target"`
	Name   string `json:"name"`
}

type recordingRequest struct {
	Recording *bool `json:"recording"`
}

// ServeHTTP implements the http.Handler interface.
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	action := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/session"), "/")

	route := map[string]struct {
		method string
		fn     func(http.ResponseWriter, *http.Request)
	}{
		"":          {http.MethodGet, h.status},
		"document":  {http.MethodGet, h.document},
		"export":    {http.MethodPost, h.export},
		"reset":     {http.MethodPost, h.reset},
		"recording": {http.MethodPut, h.recording},
		"pause":     {http.MethodPost, h.pause},
		"resume":    {http.MethodPost, h.resume},
	}[action]

	switch {
	case route.fn == nil:
		writeError(w, http.StatusNotFound, "Not found")
	case r.Method != route.method:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	default:
		route.fn(w, r)
	}
}

func (h *SessionHandler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Status())
}

func (h *SessionHandler) document(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Recorder().Snapshot())
}

func (h *SessionHandler) export(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Target == "" {
		req.Target = string(export.TargetShared)
	}
	target, err := export.ParseTarget(req.Target)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	_, res, err := h.app.Export(r.Context(), target, req.Name)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, export.ErrUnknownTarget) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *SessionHandler) reset(w http.ResponseWriter, r *http.Request) {
	h.app.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) recording(w http.ResponseWriter, r *http.Request) {
	var req recordingRequest
	if err := decodeBody(w, r, &req); err != nil || req.Recording == nil {
		writeError(w, http.StatusBadRequest, "recording is required")
		return
	}
	h.app.SetRecording(*req.Recording)
	writeJSON(w, http.StatusOK, h.app.Status())
}

func (h *SessionHandler) pause(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, h.app.Pause)
}

func (h *SessionHandler) resume(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, h.app.Resume)
}

func (h *SessionHandler) lifecycle(w http.ResponseWriter, fn func() error) {
	if err := fn(); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, app.ErrNotRunning) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.app.Status())
}
