package services

import (
	"log/slog"
	"sync"
)

// Conn is one live transport connection as seen by the room registry
type Conn interface {
	ID() string
	// User is the identity authenticated on the transport, empty if anonymous
	User() string
	// Send queues msg without blocking and reports whether it was accepted
	Send(msg []byte) bool
	Close()
}

type connState struct {
	rooms  map[string]struct{}
	boards map[string]string // boardID -> identity used on join
}

// RoomRegistry tracks live connections and the rooms they belong to.
// Rooms are created on first join and removed when their last member leaves.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[string]map[Conn]struct{}
	conns map[Conn]*connState
	log   *slog.Logger
}

func NewRoomRegistry(log *slog.Logger) *RoomRegistry {
	if log == nil {
		log = slog.Default()
	}
	return &RoomRegistry{
		rooms: make(map[string]map[Conn]struct{}),
		conns: make(map[Conn]*connState),
		log:   log,
	}
}

func (r *RoomRegistry) state(conn Conn) *connState {
	st, ok := r.conns[conn]
	if !ok {
		st = &connState{rooms: make(map[string]struct{}), boards: make(map[string]string)}
		r.conns[conn] = st
	}
	return st
}

// Register records a connection before it joins any room
func (r *RoomRegistry) Register(conn Conn) {
	r.mu.Lock()
	r.state(conn)
	r.mu.Unlock()
}

// Join adds conn to room. It reports false if conn was already a member.
func (r *RoomRegistry) Join(conn Conn, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[Conn]struct{})
		r.rooms[room] = members
	}
	if _, ok := members[conn]; ok {
		return false
	}
	members[conn] = struct{}{}
	r.state(conn).rooms[room] = struct{}{}
	return true
}

// Leave removes conn from room. It reports false if conn was not a member.
func (r *RoomRegistry) Leave(conn Conn, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(conn, room)
}

func (r *RoomRegistry) leaveLocked(conn Conn, room string) bool {
	members, ok := r.rooms[room]
	if !ok {
		return false
	}
	if _, ok := members[conn]; !ok {
		return false
	}
	delete(members, conn)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
	if st, ok := r.conns[conn]; ok {
		delete(st.rooms, room)
	}
	return true
}

// Bind records the identity conn joined boardID with. It returns the
// previous identity if the connection was already bound to that board.
func (r *RoomRegistry) Bind(conn Conn, boardID, user string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.state(conn)
	prev, ok := st.boards[boardID]
	st.boards[boardID] = user
	return prev, ok
}

// Unbind forgets the board binding of conn and returns its identity
func (r *RoomRegistry) Unbind(conn Conn, boardID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.conns[conn]
	if !ok {
		return "", false
	}
	user, ok := st.boards[boardID]
	delete(st.boards, boardID)
	return user, ok
}

// Disconnect removes conn from every room and returns the board bindings it
// held so presence can be cleaned up.
func (r *RoomRegistry) Disconnect(conn Conn) map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.conns[conn]
	if !ok {
		return nil
	}
	for room := range st.rooms {
		r.leaveLocked(conn, room)
	}
	delete(r.conns, conn)
	return st.boards
}

// Members returns a snapshot of the connections in room
func (r *RoomRegistry) Members(room string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Conn, 0, len(r.rooms[room]))
	for c := range r.rooms[room] {
		out = append(out, c)
	}
	return out
}

// Rooms returns the rooms conn currently belongs to
func (r *RoomRegistry) Rooms(conn Conn) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.conns[conn]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(st.rooms))
	for room := range st.rooms {
		out = append(out, room)
	}
	return out
}

// RoomCount is the number of non-empty rooms
func (r *RoomRegistry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// ConnCount is the number of registered connections
func (r *RoomRegistry) ConnCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Broadcast delivers an event to every member of room and returns how many
// connections accepted it.
func (r *RoomRegistry) Broadcast(room, event string, payload any) int {
	return r.BroadcastExcept(nil, room, event, payload)
}

// BroadcastExcept is Broadcast skipping one connection
func (r *RoomRegistry) BroadcastExcept(except Conn, room, event string, payload any) int {
	msg, err := EncodeMessage(event, payload)
	if err != nil {
		r.log.Error("failed to encode broadcast", "room", room, "event", event, "err", err)
		return 0
	}

	targets := r.Members(room)
	delivered := 0
	for _, c := range targets {
		if except != nil && c == except {
			continue
		}
		if c.Send(msg) {
			delivered++
			continue
		}
		// Send buffer full or already closed: treat as gone. The transport's
		// read loop will unregister it.
		r.log.Warn("dropping slow connection", "conn", c.ID(), "room", room, "event", event)
		c.Close()
	}
	return delivered
}

// SendTo delivers an event to a single connection
func (r *RoomRegistry) SendTo(conn Conn, event string, payload any) bool {
	msg, err := EncodeMessage(event, payload)
	if err != nil {
		r.log.Error("failed to encode message", "event", event, "err", err)
		return false
	}
	return conn.Send(msg)
}
