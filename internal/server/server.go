// Package server exposes the recorder over HTTP: session control, detector
// settings, stored sessions, a live landmark feed and a camera preview.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/server/api"
	"github.com/ayusman/mudra/internal/store"
)

// Config selects which parts of the API are mounted. A nil App or Store
// leaves the routes that need it unregistered.
type Config struct {
	StaticDir string
	App       *app.App
	Store     *store.Store

	// StreamInterval paces the MJPEG preview; zero selects about 15 fps.
	StreamInterval time.Duration
}

// Server routes API requests and serves the web UI.
type Server struct {
	config  Config
	mux     *http.ServeMux
	handler http.Handler
	start   time.Time
	hub     *LandmarksHandler
}

type healthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Running *bool  `json:"running,omitempty"`
	NFrames *int   `json:"n_frames,omitempty"`
}

func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.routes()
	s.handler = logRequests(s.mux)
	return s
}

// handle mounts h at prefix and every path below it.
func (s *Server) handle(prefix string, h http.Handler) {
	s.mux.Handle(prefix, h)
	s.mux.Handle(prefix+"/", h)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if a := s.config.App; a != nil {
		s.handle("/api/session", api.NewSessionHandler(a))
		s.handle("/api/detectors", api.NewDetectorHandler(a))
		s.mux.Handle("/api/stream", NewStreamHandler(a.Gate(), s.config.StreamInterval))

		s.hub = NewLandmarksHandler(a.Recorder())
		s.mux.Handle("/api/landmarks", s.hub)
	}

	if st := s.config.Store; st != nil {
		s.handle("/api/sessions", api.NewStoredSessionsHandler(st))
	}

	if s.config.StaticDir != "" {
		s.mux.Handle("/", http.FileServer(http.Dir(s.config.StaticDir)))
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close disconnects landmark subscribers.
func (s *Server) Close() {
	if s.hub != nil {
		s.hub.Close()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := healthResponse{
		Status: "ok",
		Uptime: time.Since(s.start).Round(time.Second).String(),
	}
	if a := s.config.App; a != nil {
		st := a.Status()
		resp.Running = &st.Running
		resp.NFrames = &st.Session.NFrames
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
