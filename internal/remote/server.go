package remote

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shehryarbajwa/chatsync/pkg/models"
)

// NewBackendRouter serves the backend protocol HTTPClient speaks, backed by
// any Client. A non-empty token is required as a bearer credential.
func NewBackendRouter(backend Client, token string) *mux.Router {
	h := &backendHandler{backend: backend}

	r := mux.NewRouter()
	r.HandleFunc("/sessions", h.list).Methods("GET")
	r.HandleFunc("/sessions/delete", h.batchDelete).Methods("POST")
	r.HandleFunc("/sessions/{id}", h.get).Methods("GET")
	r.HandleFunc("/sessions/{id}", h.save).Methods("PUT")
	r.HandleFunc("/sessions/{id}", h.delete).Methods("DELETE")

	if token != "" {
		r.Use(bearerMiddleware(token))
	}
	return r
}

func bearerMiddleware(token string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer "+token {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type backendHandler struct {
	backend Client
}

func (h *backendHandler) list(w http.ResponseWriter, r *http.Request) {
	out, err := h.backend.ListSessions(r.Context(), true)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *backendHandler) get(w http.ResponseWriter, r *http.Request) {
	s, err := h.backend.GetSession(r.Context(), mux.Vars(r)["id"], true)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *backendHandler) save(w http.ResponseWriter, r *http.Request) {
	var s models.Session
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if s.ID != mux.Vars(r)["id"] {
		http.Error(w, "id mismatch", http.StatusBadRequest)
		return
	}
	if err := h.backend.SaveSession(r.Context(), s); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *backendHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.backend.DeleteSession(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *backendHandler) batchDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.backend.DeleteSessions(r.Context(), req.IDs); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrAuth):
		status = http.StatusUnauthorized
	case errors.Is(err, ErrRateLimited):
		status = http.StatusTooManyRequests
	}
	http.Error(w, err.Error(), status)
}
