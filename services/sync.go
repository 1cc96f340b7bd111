package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/CrowderSoup/kanban-sync/database"
)

// LogPolicy controls how loudly failed background writes are reported
type LogPolicy int

const (
	// LogQuiet reports failed writes as one warning line
	LogQuiet LogPolicy = iota
	// LogVerbose reports failed writes as errors with the fields that were
	// being written, and successful writes at debug level
	LogVerbose
)

// ParseLogPolicy maps "verbose" to LogVerbose and anything else to LogQuiet
func ParseLogPolicy(s string) LogPolicy {
	if strings.EqualFold(strings.TrimSpace(s), "verbose") {
		return LogVerbose
	}
	return LogQuiet
}

// SyncOptions configures a BoardSync
type SyncOptions struct {
	Logger         *slog.Logger
	Policy         LogPolicy
	Now            func() time.Time
	PersistTimeout time.Duration
}

// BoardSync interprets socket events for boards. Every accepted update is
// broadcast to the room first and written to the store afterwards in the
// background; a failed write is logged and never reaches clients.
type BoardSync struct {
	rooms    *RoomRegistry
	presence *PresenceTracker
	relay    *DeploymentRelay
	store    database.Store
	writer   *detachedWriter
	policy   LogPolicy
	log      *slog.Logger
	now      func() time.Time
}

func NewBoardSync(rooms *RoomRegistry, presence *PresenceTracker, relay *DeploymentRelay, store database.Store, opts SyncOptions) *BoardSync {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &BoardSync{
		rooms:    rooms,
		presence: presence,
		relay:    relay,
		store:    store,
		writer:   newDetachedWriter(opts.PersistTimeout),
		policy:   opts.Policy,
		log:      opts.Logger,
		now:      opts.Now,
	}
}

// Wait blocks until all background writes started so far have finished
func (s *BoardSync) Wait() {
	s.writer.Wait()
}

// Connect registers a new transport connection
func (s *BoardSync) Connect(conn Conn) {
	s.rooms.Register(conn)
	s.log.Info("client connected", "conn", conn.ID(), "user", conn.User())
}

// Disconnect removes conn from every room and updates presence on each
// board it had joined.
func (s *BoardSync) Disconnect(conn Conn) {
	bindings := s.rooms.Disconnect(conn)
	for boardID, user := range bindings {
		s.presenceLeave(boardID, user)
	}
	s.log.Info("client disconnected", "conn", conn.ID(), "user", conn.User())
}

// Dispatch decodes one inbound message and routes it by event type.
// Malformed or unknown messages are dropped.
func (s *BoardSync) Dispatch(conn Conn, raw []byte) {
	var msg WebSocketMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.log.Debug("dropping malformed message", "conn", conn.ID(), "err", err)
		return
	}

	switch msg.Type {
	case EventBoardJoin:
		var p joinPayload
		if s.decode(conn, msg, &p) {
			s.HandleJoin(conn, p.BoardID, p.User)
		}
	case EventBoardLeave:
		var p boardRef
		if s.decode(conn, msg, &p) {
			s.HandleLeave(conn, p.BoardID)
		}
	case EventKanbanUpdate:
		s.HandleKanbanUpdate(conn, msg.Data)
	case EventChatMessage:
		var p chatPayload
		if s.decode(conn, msg, &p) {
			s.HandleChatMessage(conn, p)
		}
	case EventChatTyping:
		var p typingPayload
		if s.decode(conn, msg, &p) {
			s.HandleTyping(conn, p)
		}
	case EventDeploySub:
		var p boardRef
		if s.decode(conn, msg, &p) {
			s.relay.Subscribe(conn, p.BoardID)
		}
	case EventDeployUnsub:
		var p boardRef
		if s.decode(conn, msg, &p) {
			s.relay.Unsubscribe(conn, p.BoardID)
		}
	case EventProjectJoin, EventProjectLeave, EventTaskUpdate, EventLegacyChat:
		var p projectRef
		if s.decode(conn, msg, &p) {
			s.handleProject(conn, msg.Type, p.ProjectID, msg.Data)
		}
	case EventPing:
		s.rooms.SendTo(conn, EventPong, pongPayload{Timestamp: s.now().Format(time.RFC3339)})
	default:
		s.log.Debug("dropping unknown event", "conn", conn.ID(), "type", msg.Type)
	}
}

func (s *BoardSync) decode(conn Conn, msg WebSocketMessage, dst any) bool {
	if len(msg.Data) == 0 {
		s.log.Debug("dropping event without data", "conn", conn.ID(), "type", msg.Type)
		return false
	}
	if err := json.Unmarshal(msg.Data, dst); err != nil {
		s.log.Debug("dropping malformed event", "conn", conn.ID(), "type", msg.Type, "err", err)
		return false
	}
	return true
}

// HandleJoin adds conn to the board room and records its identity. The
// payload identity wins over the transport identity; with neither, the
// connection joins the room without a presence entry.
func (s *BoardSync) HandleJoin(conn Conn, boardID, user string) {
	if boardID == "" {
		return
	}
	if user == "" {
		user = conn.User()
	}

	s.rooms.Join(conn, BoardRoom(boardID))
	prev, bound := s.rooms.Bind(conn, boardID, user)
	if bound && prev == user {
		s.rooms.SendTo(conn, EventBoardPresence, s.presence.Members(boardID))
		return
	}
	left := false
	if bound {
		_, left = s.presence.Leave(boardID, prev)
	}

	members, joined := s.presence.Join(boardID, user)
	if left || joined {
		s.rooms.Broadcast(BoardRoom(boardID), EventBoardPresence, members)
	} else {
		s.rooms.SendTo(conn, EventBoardPresence, members)
	}
	s.log.Debug("board joined", "conn", conn.ID(), "board", boardID, "user", user)
}

// HandleLeave removes conn from the board room and drops its identity from
// presence.
func (s *BoardSync) HandleLeave(conn Conn, boardID string) {
	if boardID == "" {
		return
	}
	user, bound := s.rooms.Unbind(conn, boardID)
	s.rooms.Leave(conn, BoardRoom(boardID))
	if bound {
		s.presenceLeave(boardID, user)
	}
}

func (s *BoardSync) presenceLeave(boardID, user string) {
	members, changed := s.presence.Leave(boardID, user)
	if changed {
		s.rooms.Broadcast(BoardRoom(boardID), EventBoardPresence, members)
	}
}

type kanbanUpdate struct {
	BoardID   string             `json:"boardId"`
	Name      *string            `json:"name"`
	Todo      *[]database.Card   `json:"todo"`
	Doing     *[]database.Card   `json:"doing"`
	Done      *[]database.Card   `json:"done"`
	WIPLimits *database.WIPPatch `json:"wipLimits"`
}

// HandleKanbanUpdate rebroadcasts a snapshot update verbatim to the whole
// board room, sender included, then persists the fields it carries. WIP caps
// that are not positive are not stored.
func (s *BoardSync) HandleKanbanUpdate(conn Conn, data json.RawMessage) {
	var u kanbanUpdate
	if len(data) == 0 || json.Unmarshal(data, &u) != nil || u.BoardID == "" {
		s.log.Debug("dropping kanban update", "conn", conn.ID())
		return
	}

	delivered := s.rooms.Broadcast(BoardRoom(u.BoardID), EventKanbanUpdate, data)

	patch := database.BoardPatch{
		Name:      u.Name,
		Todo:      u.Todo,
		Doing:     u.Doing,
		Done:      u.Done,
		WIPLimits: u.WIPLimits.Positive(),
		UpdatedAt: epochMillis(s.now()),
	}
	s.log.Debug("kanban update", "board", u.BoardID, "conn", conn.ID(), "delivered", delivered)
	s.persistBoard(u.BoardID, patch)
}

func boardWriteKey(boardID string) string { return "board:" + boardID }

func (s *BoardSync) persistBoard(boardID string, patch database.BoardPatch) {
	s.writer.Go(boardWriteKey(boardID), func(ctx context.Context) {
		if !s.store.IsStoreReady(ctx) {
			s.persistFailed("upsert board", boardID, errStoreUnavailable, patchFields(patch))
			return
		}
		if err := s.store.UpsertBoardState(ctx, boardID, patch); err != nil {
			s.persistFailed("upsert board", boardID, err, patchFields(patch))
			return
		}
		if s.policy == LogVerbose {
			s.log.Debug("board persisted", "board", boardID, "fields", patchFields(patch))
		}
	})
}

func (s *BoardSync) persistFailed(op, boardID string, err error, fields []string) {
	if s.policy == LogVerbose {
		s.log.Error("persist failed", "op", op, "board", boardID, "fields", fields, "err", err)
		return
	}
	s.log.Warn("persist failed", "op", op, "board", boardID, "err", err)
}

func patchFields(p database.BoardPatch) []string {
	var out []string
	if p.Name != nil {
		out = append(out, "name")
	}
	if p.Todo != nil {
		out = append(out, "todo")
	}
	if p.Doing != nil {
		out = append(out, "doing")
	}
	if p.Done != nil {
		out = append(out, "done")
	}
	if p.Labels != nil {
		out = append(out, "labels")
	}
	if p.WIPLimits != nil {
		out = append(out, "wipLimits")
	}
	return out
}

// HandleChatMessage broadcasts a chat line to the board room and stores it.
// Messages without a board or with blank text are dropped.
func (s *BoardSync) HandleChatMessage(conn Conn, p chatPayload) {
	if p.BoardID == "" || strings.TrimSpace(p.Text) == "" {
		return
	}
	msg := database.ChatMessage{
		BoardID: p.BoardID,
		Author:  p.Author,
		Text:    p.Text,
		TS:      p.TS,
	}
	if msg.Author == "" {
		msg.Author = AnonymousAuthor
	}
	if msg.TS == 0 {
		msg.TS = epochMillis(s.now())
	}

	s.rooms.Broadcast(BoardRoom(p.BoardID), EventChatMessage, msg)

	s.writer.Go("chat:"+p.BoardID, func(ctx context.Context) {
		if !s.store.IsStoreReady(ctx) {
			s.persistFailed("save chat message", p.BoardID, errStoreUnavailable, nil)
			return
		}
		if err := s.store.SaveChatMessage(ctx, msg); err != nil {
			s.persistFailed("save chat message", p.BoardID, err, nil)
		}
	})
}

// HandleTyping forwards a typing indicator to everyone in the room but the
// sender.
func (s *BoardSync) HandleTyping(conn Conn, p typingPayload) {
	if p.BoardID == "" {
		return
	}
	s.rooms.BroadcastExcept(conn, BoardRoom(p.BoardID), EventChatTyping, p)
}

// handleProject serves the legacy project rooms. Nothing is persisted.
func (s *BoardSync) handleProject(conn Conn, event, projectID string, data json.RawMessage) {
	if projectID == "" {
		return
	}
	room := ProjectRoom(projectID)
	switch event {
	case EventProjectJoin:
		s.rooms.Join(conn, room)
	case EventProjectLeave:
		s.rooms.Leave(conn, room)
	default:
		s.rooms.Broadcast(room, event, data)
	}
}

// BroadcastBoard pushes a full board snapshot to its room. Used after the
// HTTP layer has persisted a mutation.
func (s *BoardSync) BroadcastBoard(board *database.BoardState) int {
	return s.rooms.Broadcast(BoardRoom(board.BoardID), EventKanbanUpdate, board)
}

// Presence returns the identities currently joined to boardID
func (s *BoardSync) Presence(boardID string) []string {
	return s.presence.Members(boardID)
}
