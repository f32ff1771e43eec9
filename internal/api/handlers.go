// Package api exposes the session manager to the chat widget over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/shehryarbajwa/chatsync/internal/remote"
	"github.com/shehryarbajwa/chatsync/internal/session"
	"github.com/shehryarbajwa/chatsync/internal/store"
	"github.com/shehryarbajwa/chatsync/pkg/models"
)

// Handler holds dependencies for HTTP handlers
type Handler struct {
	sessionMgr *session.Manager
}

// NewHandler creates a new HTTP handler
func NewHandler(sessionMgr *session.Manager) *Handler {
	return &Handler{
		sessionMgr: sessionMgr,
	}
}

type listResponse struct {
	Sessions []models.Session `json:"sessions"`
	ActiveID string           `json:"activeId,omitempty"`
}

// ListSessions handles GET /v1/sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("tag")

	sessions := h.sessionMgr.Sessions()
	if tag != "" {
		filtered := sessions[:0]
		for _, s := range sessions {
			if s.HasTag(tag) {
				filtered = append(filtered, s)
			}
		}
		sessions = filtered
	}

	writeJSON(w, http.StatusOK, listResponse{Sessions: sessions, ActiveID: h.sessionMgr.ActiveID()})
}

// CreateSession handles POST /v1/sessions
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req models.PageInfo
	if !decode(w, r, &req) {
		return
	}

	s, err := h.sessionMgr.CreateSession(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

// GetSession handles GET /v1/sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionMgr.Get(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// DeleteSession handles DELETE /v1/sessions/{id}. The widget confirms with
// the user before calling, so the delete is always pre-confirmed.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.sessionMgr.Delete(r.Context(), mux.Vars(r)["id"], true)
	if err != nil {
		writeError(w, err)
		return
	}
	if !deleted {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ActivateSession handles POST /v1/sessions/{id}/activate
func (h *Handler) ActivateSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessionMgr.Activate(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"activeId": h.sessionMgr.ActiveID()})
}

// SwitchSession handles POST /v1/sessions/{id}/switch. A switch arriving
// while another is in flight is dropped and reported with switched=false.
func (h *Handler) SwitchSession(w http.ResponseWriter, r *http.Request) {
	switched, err := h.sessionMgr.Switch(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"switched": switched,
		"activeId": h.sessionMgr.ActiveID(),
	})
}

// DuplicateSession handles POST /v1/sessions/{id}/duplicate
func (h *Handler) DuplicateSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessionMgr.Duplicate(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

// UpdateTags handles PUT /v1/sessions/{id}/tags
func (h *Handler) UpdateTags(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tags []string `json:"tags"`
	}
	if !decode(w, r, &req) {
		return
	}
	h.respondWithSession(w, r, h.sessionMgr.UpdateTags(r.Context(), mux.Vars(r)["id"], req.Tags))
}

// UpdateTitle handles PUT /v1/sessions/{id}/title
func (h *Handler) UpdateTitle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if !decode(w, r, &req) {
		return
	}
	h.respondWithSession(w, r, h.sessionMgr.UpdateTitle(r.Context(), mux.Vars(r)["id"], req.Title))
}

// SetFavorite handles PUT /v1/sessions/{id}/favorite
func (h *Handler) SetFavorite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Favorite bool `json:"favorite"`
	}
	if !decode(w, r, &req) {
		return
	}
	h.respondWithSession(w, r, h.sessionMgr.SetFavorite(r.Context(), mux.Vars(r)["id"], req.Favorite))
}

// AppendMessage handles POST /v1/sessions/{id}/messages
func (h *Handler) AppendMessage(w http.ResponseWriter, r *http.Request) {
	var msg models.Message
	if !decode(w, r, &msg) {
		return
	}
	if err := h.sessionMgr.AppendMessage(r.Context(), mux.Vars(r)["id"], msg); err != nil {
		writeError(w, err)
		return
	}
	s, _ := h.sessionMgr.Get(mux.Vars(r)["id"])
	writeJSON(w, http.StatusCreated, s)
}

func (h *Handler) respondWithSession(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	s, ok := h.sessionMgr.Get(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// BatchDelete handles POST /v1/sessions:batchDelete
func (h *Handler) BatchDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if !decode(w, r, &req) {
		return
	}

	deleted, failed, err := h.sessionMgr.BatchDelete(r.Context(), req.IDs)
	resp := map[string]interface{}{
		"deleted": deleted,
		"failed":  failed,
	}
	status := http.StatusOK
	if err != nil {
		resp["error"] = err.Error()
		status = http.StatusBadGateway
	}
	writeJSON(w, status, resp)
}

// GetActive handles GET /v1/active
func (h *Handler) GetActive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"activeId": h.sessionMgr.ActiveID()})
}

// TrackPage handles POST /v1/page. loaded=true marks a fresh page load.
func (h *Handler) TrackPage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		models.PageInfo
		Loaded bool `json:"loaded"`
	}
	if !decode(w, r, &req) {
		return
	}

	if req.Loaded {
		h.sessionMgr.PageLoaded()
	}
	if err := h.sessionMgr.TrackPage(r.Context(), req.PageInfo); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"activeId": h.sessionMgr.ActiveID()})
}

// Save handles POST /v1/save
func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	if err := h.sessionMgr.Save(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Resync handles POST /v1/resync?force=true
func (h *Handler) Resync(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	if err := h.sessionMgr.Resync(r.Context(), force); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, remote.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, remote.ErrNetwork), errors.Is(err, remote.ErrAuth), errors.Is(err, remote.ErrNotFound):
		status = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	http.Error(w, err.Error(), status)
}
