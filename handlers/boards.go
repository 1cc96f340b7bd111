package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/CrowderSoup/kanban-sync/database"
	"github.com/CrowderSoup/kanban-sync/services"
	"github.com/gorilla/mux"
)

const (
	defaultChatLimit = 50
	maxChatLimit     = 500
)

// BoardHandler serves the single-entity board mutations and reads
type BoardHandler struct {
	boards *services.BoardService
	chats  database.ChatStore
	log    *slog.Logger
}

func NewBoardHandler(boards *services.BoardService, chats database.ChatStore, log *slog.Logger) *BoardHandler {
	return &BoardHandler{
		boards: boards,
		chats:  chats,
		log:    log,
	}
}

// GetBoard returns the board, or an empty default board if none is stored
func (h *BoardHandler) GetBoard(w http.ResponseWriter, r *http.Request) {
	board, err := h.boards.Get(r.Context(), mux.Vars(r)["boardId"])
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

// CreateCard adds a card to a column
func (h *BoardHandler) CreateCard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Column string        `json:"column"`
		Card   database.Card `json:"card"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request format")
		return
	}
	if strings.TrimSpace(req.Card.Title) == "" {
		writeError(w, http.StatusBadRequest, "card title is required")
		return
	}
	if req.Column == "" {
		req.Column = database.ColumnTodo
	}

	board, err := h.boards.AddCard(r.Context(), mux.Vars(r)["boardId"], req.Column, req.Card)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, board)
}

// MoveCard moves a card to another column or position. A move into a column
// that is at its WIP limit is answered with 409.
func (h *BoardHandler) MoveCard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ToList  string `json:"toList"`
		ToIndex *int   `json:"toIndex"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request format")
		return
	}
	index := -1
	if req.ToIndex != nil {
		index = *req.ToIndex
	}

	vars := mux.Vars(r)
	board, err := h.boards.MoveCard(r.Context(), vars["boardId"], vars["cardId"], req.ToList, index)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (h *BoardHandler) CreateLabel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Color string `json:"color"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request format")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "label name is required")
		return
	}

	label, err := h.boards.CreateLabel(r.Context(), mux.Vars(r)["boardId"], req.Name, req.Color)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, label)
}

// DeleteLabel removes a label and strips it from every card
func (h *BoardHandler) DeleteLabel(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if _, err := h.boards.DeleteLabel(r.Context(), vars["boardId"], vars["labelId"]); err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ChatHistory returns the most recent chat lines of a board, oldest first
func (h *BoardHandler) ChatHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultChatLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxChatLimit)
	}

	messages, err := h.chats.ChatHistory(r.Context(), mux.Vars(r)["boardId"], limit)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	if messages == nil {
		messages = []database.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, messages)
}
