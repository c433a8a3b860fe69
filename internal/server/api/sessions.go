package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ayusman/mudra/internal/store"
)

// StoredSessionsHandler serves sessions exported to the private store.
//
// Routes:
//
//	GET    /api/sessions
//	GET    /api/sessions/{id}
//	DELETE /api/sessions/{id}
type StoredSessionsHandler struct {
	store *store.Store
}

// NewStoredSessionsHandler creates a new StoredSessionsHandler with the given store.
func NewStoredSessionsHandler(s *store.Store) *StoredSessionsHandler {
	return &StoredSessionsHandler{store: s}
}

type storedSessionResponse struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	NFrames   int             `json:"n_frames"`
	PoseLen   int             `json:"pose_len"`
	HandLen   int             `json:"hand_len"`
	CreatedAt string          `json:"created_at"`
	Document  json.RawMessage `json:"document,omitempty"`
}

type listStoredSessionsResponse struct {
	Sessions []storedSessionResponse `json:"sessions"`
}

func toStoredResponse(s *store.Session) storedSessionResponse {
	return storedSessionResponse{
		ID:        s.ID,
		Name:      s.Name,
		NFrames:   s.NFrames,
		PoseLen:   s.PoseLen,
		HandLen:   s.HandLen,
		CreatedAt: s.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		Document:  s.Data,
	}
}

// ServeHTTP implements the http.Handler interface.
func (h *StoredSessionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/sessions"), "/")

	if id == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.list(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.get(w, r, id)
	case http.MethodDelete:
		h.delete(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *StoredSessionsHandler) list(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.Sessions().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}

	response := listStoredSessionsResponse{Sessions: make([]storedSessionResponse, 0, len(sessions))}
	for _, s := range sessions {
		response.Sessions = append(response.Sessions, toStoredResponse(s))
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *StoredSessionsHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	s, err := h.store.Sessions().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get session")
		return
	}
	writeJSON(w, http.StatusOK, toStoredResponse(s))
}

func (h *StoredSessionsHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.store.Sessions().Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
