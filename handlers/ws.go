package handlers

import (
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/CrowderSoup/kanban-sync/services"
	"github.com/gorilla/websocket"
)

// WebSocketHandler upgrades requests into hub clients
type WebSocketHandler struct {
	hub      *services.Hub
	upgrader websocket.Upgrader
	buffer   int
	log      *slog.Logger
}

// NewWebSocketHandler accepts upgrades from the given origins; "*" allows any
func NewWebSocketHandler(hub *services.Hub, origins []string, buffer int, log *slog.Logger) *WebSocketHandler {
	h := &WebSocketHandler{hub: hub, buffer: buffer, log: log}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(origins),
	}
	return h
}

func originChecker(origins []string) func(*http.Request) bool {
	allowAll := slices.Contains(origins, "*")
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if allowAll || origin == "" {
			return true
		}
		if slices.ContainsFunc(origins, func(o string) bool { return strings.EqualFold(o, origin) }) {
			return true
		}
		// same host is always allowed
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

// HandleWebSocket upgrades the HTTP connection to a WebSocket connection.
// The identity from a verified token, if any, becomes the client's
// transport identity.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	email, _ := EmailFromContext(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}

	client := services.NewClient(h.hub, conn, email, h.buffer)
	if !h.hub.Register(client) {
		conn.Close()
		return
	}
	h.log.Debug("websocket client registered", "conn", client.ID(), "user", email)

	go client.WritePump()
	go client.ReadPump()
}
