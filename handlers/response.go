package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/CrowderSoup/kanban-sync/services"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}

// writeServiceError reports a DomainError with its own status and code, and
// anything else as a 500.
func writeServiceError(w http.ResponseWriter, log *slog.Logger, err error) {
	var de *services.DomainError
	if errors.As(err, &de) {
		writeJSON(w, de.Status, map[string]any{"ok": false, "error": de.Message, "code": de.Code})
		return
	}
	log.Error("request failed", "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	return json.NewDecoder(r.Body).Decode(dst)
}
