package services

import (
	"fmt"
	"net/http"
	"slices"
	"time"
)

// Deployment log levels
const (
	LogLevelInfo    = "info"
	LogLevelWarn    = "warn"
	LogLevelError   = "error"
	LogLevelSuccess = "success"
)

// Pipeline states. A pipeline goes pending -> running -> success, failure
// or cancelled.
const (
	DeployPending   = "pending"
	DeployRunning   = "running"
	DeploySuccess   = "success"
	DeployFailure   = "failure"
	DeployCancelled = "cancelled"
)

var (
	logLevels    = []string{LogLevelInfo, LogLevelWarn, LogLevelError, LogLevelSuccess}
	deployStates = []string{DeployPending, DeployRunning, DeploySuccess, DeployFailure, DeployCancelled}
)

type DeploymentLog struct {
	Level     string `json:"level"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
	Context   string `json:"context,omitempty"`
}

type DeploymentStatus struct {
	State     string `json:"state"`
	Pipeline  string `json:"pipeline,omitempty"`
	Version   string `json:"version,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// DeploymentRelay fans CI log lines and pipeline status out to
// deployment:<boardId> rooms. It keeps no history; late subscribers only see
// what is published after they join.
type DeploymentRelay struct {
	rooms *RoomRegistry
	now   func() time.Time
}

func NewDeploymentRelay(rooms *RoomRegistry, now func() time.Time) *DeploymentRelay {
	if now == nil {
		now = time.Now
	}
	return &DeploymentRelay{rooms: rooms, now: now}
}

func (r *DeploymentRelay) Subscribe(conn Conn, boardID string) {
	if boardID == "" {
		return
	}
	r.rooms.Join(conn, DeploymentRoom(boardID))
}

func (r *DeploymentRelay) Unsubscribe(conn Conn, boardID string) {
	if boardID == "" {
		return
	}
	r.rooms.Leave(conn, DeploymentRoom(boardID))
}

// PublishLog broadcasts one log line and returns the number of receivers
func (r *DeploymentRelay) PublishLog(boardID string, entry DeploymentLog) (int, error) {
	if boardID == "" {
		return 0, domainError(http.StatusBadRequest, "invalid_board", "boardId is required")
	}
	if entry.Level == "" {
		entry.Level = LogLevelInfo
	}
	if !slices.Contains(logLevels, entry.Level) {
		return 0, domainError(http.StatusBadRequest, "invalid_level", fmt.Sprintf("unknown log level %q", entry.Level))
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = epochMillis(r.now())
	}
	return r.rooms.Broadcast(DeploymentRoom(boardID), EventDeployLog, entry), nil
}

// PublishStatus broadcasts a pipeline state change
func (r *DeploymentRelay) PublishStatus(boardID string, status DeploymentStatus) (int, error) {
	if boardID == "" {
		return 0, domainError(http.StatusBadRequest, "invalid_board", "boardId is required")
	}
	if !slices.Contains(deployStates, status.State) {
		return 0, domainError(http.StatusBadRequest, "invalid_state", fmt.Sprintf("unknown deployment state %q", status.State))
	}
	if status.Timestamp == 0 {
		status.Timestamp = epochMillis(r.now())
	}
	return r.rooms.Broadcast(DeploymentRoom(boardID), EventDeployStatus, status), nil
}
