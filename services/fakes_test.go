package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/CrowderSoup/kanban-sync/database"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConn records every message sent to it
type fakeConn struct {
	id   string
	user string

	mu       sync.Mutex
	messages []WebSocketMessage
	full     bool
	closed   bool
}

func newFakeConn(id, user string) *fakeConn {
	return &fakeConn{id: id, user: user}
}

func (c *fakeConn) ID() string   { return c.id }
func (c *fakeConn) User() string { return c.user }

func (c *fakeConn) Send(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full || c.closed {
		return false
	}
	var m WebSocketMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		panic(err)
	}
	c.messages = append(c.messages, m)
	return true
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// events returns the payloads received for one event type
func (c *fakeConn) events(event string) []json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []json.RawMessage
	for _, m := range c.messages {
		if m.Type == event {
			out = append(out, m.Data)
		}
	}
	return out
}

func (c *fakeConn) lastPresence(t *testing.T) []string {
	t.Helper()
	evs := c.events(EventBoardPresence)
	require.NotEmpty(t, evs, "conn %s got no presence event", c.id)
	var users []string
	require.NoError(t, json.Unmarshal(evs[len(evs)-1], &users))
	return users
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.messages = nil
	c.mu.Unlock()
}

// memStore is an in-memory database.Store
type memStore struct {
	mu      sync.Mutex
	boards  map[string]*database.BoardState
	chats   []database.ChatMessage
	ready   bool
	failErr error
	// gate, when set, blocks every upsert until it is closed
	gate    chan struct{}
	upserts int
}

func newMemStore() *memStore {
	return &memStore{boards: make(map[string]*database.BoardState), ready: true}
}

func (s *memStore) setReady(ready bool) {
	s.mu.Lock()
	s.ready = ready
	s.mu.Unlock()
}

func (s *memStore) IsStoreReady(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *memStore) GetBoardState(ctx context.Context, boardID string) (*database.BoardState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.boards[boardID]
	if !ok {
		return nil, database.ErrBoardNotFound
	}
	// hand out a deep copy, like a real store would
	data, _ := json.Marshal(b)
	out := database.NewBoardState(boardID)
	_ = json.Unmarshal(data, out)
	return out, nil
}

func (s *memStore) UpsertBoardState(ctx context.Context, boardID string, patch database.BoardPatch) error {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if s.failErr != nil {
		return s.failErr
	}
	b, ok := s.boards[boardID]
	if !ok {
		b = database.NewBoardState(boardID)
		s.boards[boardID] = b
	}
	data, _ := json.Marshal(patch)
	var copied database.BoardPatch
	_ = json.Unmarshal(data, &copied)
	copied.UpdatedAt = patch.UpdatedAt
	b.Apply(copied)
	return nil
}

func (s *memStore) SaveChatMessage(ctx context.Context, msg database.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.chats = append(s.chats, msg)
	return nil
}

func (s *memStore) ChatHistory(ctx context.Context, boardID string, limit int) ([]database.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []database.ChatMessage
	for _, m := range s.chats {
		if m.BoardID == boardID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) upsertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}

var errStoreDown = errors.New("connection refused")

type testEnv struct {
	rooms    *RoomRegistry
	presence *PresenceTracker
	relay    *DeploymentRelay
	store    *memStore
	sync     *BoardSync
	now      time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		rooms:    NewRoomRegistry(discardLogger()),
		presence: NewPresenceTracker(false),
		store:    newMemStore(),
		now:      time.UnixMilli(1_700_000_000_000),
	}
	clock := func() time.Time { return env.now }
	env.relay = NewDeploymentRelay(env.rooms, clock)
	env.sync = NewBoardSync(env.rooms, env.presence, env.relay, env.store, SyncOptions{
		Logger:         discardLogger(),
		Policy:         LogVerbose,
		Now:            clock,
		PersistTimeout: 5 * time.Second,
	})
	t.Cleanup(env.sync.Wait)
	return env
}

// connect registers a fake connection the way the hub would
func (e *testEnv) connect(id, user string) *fakeConn {
	c := newFakeConn(id, user)
	e.sync.Connect(c)
	return c
}

// send dispatches one event from conn, as the hub would
func (e *testEnv) send(conn Conn, event string, payload any) {
	msg, err := EncodeMessage(event, payload)
	if err != nil {
		panic(fmt.Sprintf("encode %s: %v", event, err))
	}
	e.sync.Dispatch(conn, msg)
}
