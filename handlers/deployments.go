package handlers

import (
	"log/slog"
	"net/http"

	"github.com/CrowderSoup/kanban-sync/services"
	"github.com/gorilla/mux"
)

// DeploymentHandler lets CI post log lines and pipeline status for a board
type DeploymentHandler struct {
	relay *services.DeploymentRelay
	log   *slog.Logger
}

func NewDeploymentHandler(relay *services.DeploymentRelay, log *slog.Logger) *DeploymentHandler {
	return &DeploymentHandler{relay: relay, log: log}
}

func (h *DeploymentHandler) PostLog(w http.ResponseWriter, r *http.Request) {
	var entry services.DeploymentLog
	if err := decodeBody(w, r, &entry); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request format")
		return
	}
	n, err := h.relay.PublishLog(mux.Vars(r)["boardId"], entry)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "delivered": n})
}

func (h *DeploymentHandler) PostStatus(w http.ResponseWriter, r *http.Request) {
	var status services.DeploymentStatus
	if err := decodeBody(w, r, &status); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request format")
		return
	}
	n, err := h.relay.PublishStatus(mux.Vars(r)["boardId"], status)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "delivered": n})
}
