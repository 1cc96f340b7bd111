package services

import (
	"encoding/json"
	"time"
)

// Socket event names
const (
	EventBoardJoin     = "board:join"
	EventBoardLeave    = "board:leave"
	EventBoardPresence = "board:presence"
	EventKanbanUpdate  = "kanban:update"
	EventChatMessage   = "board:chat:message"
	EventChatTyping    = "board:chat:typing"
	EventDeploySub     = "deployment:subscribe"
	EventDeployUnsub   = "deployment:unsubscribe"
	EventDeployLog     = "deployment:log"
	EventDeployStatus  = "deployment:status"
	EventProjectJoin   = "project:join"
	EventProjectLeave  = "project:leave"
	EventTaskUpdate    = "task:update"
	EventLegacyChat    = "chat:message"
	EventPing          = "ping"
	EventPong          = "pong"
)

// AnonymousAuthor is used for chat messages sent without an author
const AnonymousAuthor = "Anonymous"

// WebSocketMessage is the envelope for every event in both directions
type WebSocketMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// EncodeMessage builds the wire form of an event. A json.RawMessage payload
// is embedded verbatim.
func EncodeMessage(event string, payload any) ([]byte, error) {
	var data json.RawMessage
	switch p := payload.(type) {
	case nil:
	case json.RawMessage:
		data = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return json.Marshal(WebSocketMessage{Type: event, Data: data})
}

// Room key helpers
func BoardRoom(boardID string) string { return "board:" + boardID }
func DeploymentRoom(boardID string) string { return "deployment:" + boardID }
func ProjectRoom(projectID string) string { return "project:" + projectID }

type boardRef struct {
	BoardID string `json:"boardId"`
}

type projectRef struct {
	ProjectID string `json:"projectId"`
}

type joinPayload struct {
	BoardID string `json:"boardId"`
	User    string `json:"user,omitempty"`
}

type chatPayload struct {
	BoardID string `json:"boardId"`
	Author  string `json:"author,omitempty"`
	Text    string `json:"text"`
	TS      int64  `json:"ts,omitempty"`
}

type typingPayload struct {
	BoardID string `json:"boardId"`
	Author  string `json:"author"`
	Typing  bool   `json:"typing"`
}

type pongPayload struct {
	Timestamp string `json:"timestamp"`
}

func epochMillis(t time.Time) int64 {
	return t.UnixMilli()
}
