package handlers

import (
	"net/http"

	"github.com/CrowderSoup/kanban-sync/database"
)

// Health reports whether the board store is reachable. The socket server
// keeps working without it, so a down store is reported but not fatal.
func Health(store database.BoardStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store.IsStoreReady(r.Context()) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "store": "ready"})
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "store": "down"})
	}
}
