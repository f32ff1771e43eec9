package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shehryarbajwa/chatsync/internal/events"
	"github.com/shehryarbajwa/chatsync/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes(hub *events.Hub, rateLimiter *ratelimit.Limiter, requestsPerHour int) *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/v1").Subrouter()

	// Everything except the event stream is rate limited per client
	limited := api.PathPrefix("").Subrouter()
	limited.Use(RateLimitMiddleware(rateLimiter, requestsPerHour))

	limited.HandleFunc("/sessions", h.ListSessions).Methods("GET")
	limited.HandleFunc("/sessions", h.CreateSession).Methods("POST")
	limited.HandleFunc("/sessions:batchDelete", h.BatchDelete).Methods("POST")
	limited.HandleFunc("/sessions/{id}", h.GetSession).Methods("GET")
	limited.HandleFunc("/sessions/{id}", h.DeleteSession).Methods("DELETE")
	limited.HandleFunc("/sessions/{id}/activate", h.ActivateSession).Methods("POST")
	limited.HandleFunc("/sessions/{id}/switch", h.SwitchSession).Methods("POST")
	limited.HandleFunc("/sessions/{id}/duplicate", h.DuplicateSession).Methods("POST")
	limited.HandleFunc("/sessions/{id}/tags", h.UpdateTags).Methods("PUT")
	limited.HandleFunc("/sessions/{id}/title", h.UpdateTitle).Methods("PUT")
	limited.HandleFunc("/sessions/{id}/favorite", h.SetFavorite).Methods("PUT")
	limited.HandleFunc("/sessions/{id}/messages", h.AppendMessage).Methods("POST")

	limited.HandleFunc("/active", h.GetActive).Methods("GET")
	limited.HandleFunc("/page", h.TrackPage).Methods("POST")
	limited.HandleFunc("/save", h.Save).Methods("POST")
	limited.HandleFunc("/resync", h.Resync).Methods("POST")
	limited.HandleFunc("/import", h.ImportSessions).Methods("POST")
	limited.HandleFunc("/export", h.ExportSessions).Methods("GET")

	if hub != nil {
		api.HandleFunc("/events", hub.HandleConnection).Methods("GET")
	}

	// Preflight for any path; the CORS middleware answers it
	r.Methods("OPTIONS").PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Use(corsMiddleware)

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Client-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
