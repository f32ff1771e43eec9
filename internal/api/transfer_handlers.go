package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shehryarbajwa/chatsync/internal/archive"
	"github.com/shehryarbajwa/chatsync/internal/session"
	"github.com/shehryarbajwa/chatsync/pkg/models"
)

const (
	bundleContentType = "application/gzip"
	maxImportBytes    = 64 << 20
)

// ImportSessions handles POST /v1/import. The body is either a tar.gz
// bundle (Content-Type application/gzip) or a JSON array of import records.
func (h *Handler) ImportSessions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes+1))
	if err != nil {
		http.Error(w, "Failed to read request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(body) > maxImportBytes {
		http.Error(w, "Import too large", http.StatusRequestEntityTooLarge)
		return
	}

	var records []models.ImportRecord
	if strings.HasPrefix(r.Header.Get("Content-Type"), bundleContentType) {
		_, records, err = archive.Read(bytes.NewReader(body))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	} else if err := json.Unmarshal(body, &records); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), session.BulkTimeout(len(records)))
	defer cancel()

	res, err := h.sessionMgr.ImportSessions(ctx, records)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusGatewayTimeout)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"result": res,
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ExportSessions handles GET /v1/export?tag=&favorite=&id=&format=json|bundle
func (h *Handler) ExportSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.ExportFilter{
		IDs: q["id"],
		Tag: q.Get("tag"),
	}
	filter.FavoriteOnly, _ = strconv.ParseBool(q.Get("favorite"))

	records := h.sessionMgr.ExportSessions(filter)

	if q.Get("format") == "json" {
		writeJSON(w, http.StatusOK, records)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), session.BulkTimeout(len(records)))
	defer cancel()

	var buf bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, err := archive.Write(&buf, records, filter)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			http.Error(w, "Failed to build bundle: "+err.Error(), http.StatusInternalServerError)
			return
		}
	case <-ctx.Done():
		http.Error(w, "Export timed out", http.StatusGatewayTimeout)
		return
	}

	name := fmt.Sprintf("sessions-%s.tar.gz", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", bundleContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}
