package handlers

import (
	"log/slog"
	"net/http"

	"github.com/CrowderSoup/kanban-sync/database"
	"github.com/CrowderSoup/kanban-sync/services"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// Deps are the collaborators the HTTP surface is built from
type Deps struct {
	Auth   *services.AuthService
	Boards *services.BoardService
	Store  database.Store
	Relay  *services.DeploymentRelay
	Hub    *services.Hub
	Log    *slog.Logger

	CORSOrigins  []string
	ClientBuffer int
	// DisableLogin leaves POST /api/auth/login unrouted
	DisableLogin bool
}

// NewRouter wires every route behind CORS and request logging
func NewRouter(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	authMW := NewAuthMiddleware(d.Auth)
	authHandler := NewAuthHandler(d.Auth, d.Log)
	boardHandler := NewBoardHandler(d.Boards, d.Store, d.Log)
	deployHandler := NewDeploymentHandler(d.Relay, d.Log)
	wsHandler := NewWebSocketHandler(d.Hub, d.CORSOrigins, d.ClientBuffer, d.Log)

	r := mux.NewRouter()

	// Auth routes
	if !d.DisableLogin {
		r.HandleFunc("/api/auth/login", authHandler.Login).Methods(http.MethodPost)
	}
	r.HandleFunc("/api/auth/verify", authHandler.VerifyToken).Methods(http.MethodGet)

	r.HandleFunc("/api/health", Health(d.Store)).Methods(http.MethodGet)

	// Board routes (protected)
	boards := r.PathPrefix("/api/boards/{boardId}").Subrouter()
	boards.Use(authMW.Auth)
	boards.HandleFunc("", boardHandler.GetBoard).Methods(http.MethodGet)
	boards.HandleFunc("/cards", boardHandler.CreateCard).Methods(http.MethodPost)
	boards.HandleFunc("/cards/{cardId}/move", boardHandler.MoveCard).Methods(http.MethodPost)
	boards.HandleFunc("/labels", boardHandler.CreateLabel).Methods(http.MethodPost)
	boards.HandleFunc("/labels/{labelId}", boardHandler.DeleteLabel).Methods(http.MethodDelete)
	boards.HandleFunc("/chat", boardHandler.ChatHistory).Methods(http.MethodGet)

	// Deployment ingest from CI (protected)
	deploys := r.PathPrefix("/api/deployments/{boardId}").Subrouter()
	deploys.Use(authMW.Auth)
	deploys.HandleFunc("/logs", deployHandler.PostLog).Methods(http.MethodPost)
	deploys.HandleFunc("/status", deployHandler.PostStatus).Methods(http.MethodPost)

	// WebSocket route for real-time updates; the token is optional
	r.Handle("/api/ws", authMW.Optional(http.HandlerFunc(wsHandler.HandleWebSocket)))

	c := cors.New(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return WithLogging(d.Log, c.Handler(r))
}
