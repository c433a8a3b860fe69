package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/detector"
)

// DetectorHandler exposes detector configuration and statistics.
//
// Routes:
//
//	GET /api/detectors
//	GET /api/detectors/{kind}
//	PUT /api/detectors/{kind}   partial config; thresholds clamp to [0, 1]
type DetectorHandler struct {
	app *app.App
}

// NewDetectorHandler creates a new DetectorHandler for a.
func NewDetectorHandler(a *app.App) *DetectorHandler {
	return &DetectorHandler{app: a}
}

type detectorConfig struct {
	MinDetectionConfidence float64 `json:"min_detection_confidence"`
	MinTrackingConfidence  float64 `json:"min_tracking_confidence"`
	MinPresenceConfidence  float64 `json:"min_presence_confidence"`
	Backend                string  `json:"backend"`
	MaxSubjects            int     `json:"max_subjects"`
	TimeoutMS              int64   `json:"timeout_ms"`
}

type updateDetectorRequest struct {
	MinDetectionConfidence *float64 `json:"min_detection_confidence"`
	MinTrackingConfidence  *float64 `json:"min_tracking_confidence"`
	MinPresenceConfidence  *float64 `json:"min_presence_confidence"`
	Backend                *string  `json:"backend"`
	MaxSubjects            *int     `json:"max_subjects"`
	TimeoutMS              *int64   `json:"timeout_ms"`
}

type detectorResponse struct {
	Kind    detector.Kind  `json:"kind"`
	Config  detectorConfig `json:"config"`
	Applied detectorConfig `json:"applied"`
	Stats   detector.Stats `json:"stats"`
}

type listDetectorsResponse struct {
	Detectors []detectorResponse `json:"detectors"`
}

func toDetectorConfig(c detector.Config) detectorConfig {
	return detectorConfig{
		MinDetectionConfidence: c.MinDetectionConfidence,
		MinTrackingConfidence:  c.MinTrackingConfidence,
		MinPresenceConfidence:  c.MinPresenceConfidence,
		Backend:                c.Backend.String(),
		MaxSubjects:            c.MaxSubjects,
		TimeoutMS:              c.Timeout.Milliseconds(),
	}
}

func (h *DetectorHandler) describe(kind detector.Kind) detectorResponse {
	ad := h.app.Detector(kind)
	return detectorResponse{
		Kind:    kind,
		Config:  toDetectorConfig(ad.Config()),
		Applied: toDetectorConfig(ad.Applied()),
		Stats:   ad.Stats(),
	}
}

// ServeHTTP implements the http.Handler interface.
func (h *DetectorHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/detectors"), "/")

	if path == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, listDetectorsResponse{Detectors: []detectorResponse{
			h.describe(detector.KindPose),
			h.describe(detector.KindHand),
		}})
		return
	}

	kind, err := detector.ParseKind(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "Detector not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.describe(kind))
	case http.MethodPut:
		h.update(w, r, kind)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}

// update handles PUT /api/detectors/{kind}. Omitted fields keep their
// current value; the detector is rebuilt with the result.
func (h *DetectorHandler) update(w http.ResponseWriter, r *http.Request, kind detector.Kind) {
	var req updateDetectorRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	cfg := h.app.Detector(kind).Config()
	if req.MinDetectionConfidence != nil {
		cfg.MinDetectionConfidence = clamp01(*req.MinDetectionConfidence)
	}
	if req.MinTrackingConfidence != nil {
		cfg.MinTrackingConfidence = clamp01(*req.MinTrackingConfidence)
	}
	if req.MinPresenceConfidence != nil {
		cfg.MinPresenceConfidence = clamp01(*req.MinPresenceConfidence)
	}
	if req.Backend != nil {
		backend, err := detector.ParseBackend(*req.Backend)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		cfg.Backend = backend
	}
	if req.MaxSubjects != nil {
		cfg.MaxSubjects = *req.MaxSubjects
	}
	if req.TimeoutMS != nil {
		cfg.Timeout = time.Duration(*req.TimeoutMS) * time.Millisecond
	}

	if err := h.app.ConfigureDetector(kind, cfg); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, detector.ErrBusy) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.describe(kind))
}
