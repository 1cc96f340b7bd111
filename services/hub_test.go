package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/CrowderSoup/kanban-sync/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	mu  sync.Mutex
	log []string
}

func (d *recordingDispatcher) record(s string) {
	d.mu.Lock()
	d.log = append(d.log, s)
	d.mu.Unlock()
}

func (d *recordingDispatcher) entries() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.log...)
}

func (d *recordingDispatcher) Connect(conn Conn) { d.record("connect " + conn.ID()) }

func (d *recordingDispatcher) Dispatch(conn Conn, raw []byte) {
	if string(raw) == "boom" {
		panic("handler failure")
	}
	d.record(conn.ID() + " " + string(raw))
}

func (d *recordingDispatcher) Disconnect(conn Conn) { d.record("disconnect " + conn.ID()) }

func runHub(t *testing.T, d Dispatcher) *Hub {
	t.Helper()
	hub := NewHub(d, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub
}

func TestHubProcessesEventsInOrder(t *testing.T) {
	d := &recordingDispatcher{}
	hub := runHub(t, d)
	a := newFakeConn("a", "")

	require.True(t, hub.Register(a))
	require.True(t, hub.Deliver(a, []byte("one")))
	require.True(t, hub.Deliver(a, []byte("two")))
	hub.Unregister(a)

	want := []string{"connect a", "a one", "a two", "disconnect a"}
	require.Eventually(t, func() bool { return len(d.entries()) == len(want) }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, want, d.entries())
	assert.Eventually(t, a.isClosed, time.Second, 5*time.Millisecond)
}

func TestHubSurvivesHandlerPanic(t *testing.T) {
	d := &recordingDispatcher{}
	hub := runHub(t, d)
	a := newFakeConn("a", "")

	hub.Register(a)
	hub.Deliver(a, []byte("boom"))
	hub.Deliver(a, []byte("after"))

	require.Eventually(t, func() bool { return len(d.entries()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"connect a", "a after"}, d.entries())
}

func TestHubRejectsAfterStop(t *testing.T) {
	d := &recordingDispatcher{}
	hub := NewHub(d, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	late := newFakeConn("late", "")
	assert.False(t, hub.Register(late))
	assert.False(t, hub.Deliver(late, []byte("x")))
	assert.Empty(t, d.entries())
}

func TestHubWithBoardSync(t *testing.T) {
	env := newTestEnv(t)
	hub := runHub(t, env.sync)
	a := env.connect("a", "alice")
	b := newFakeConn("b", "bob")

	require.True(t, hub.Register(b))
	msg, err := EncodeMessage(EventBoardJoin, map[string]string{"boardId": "demo"})
	require.NoError(t, err)
	env.sync.Dispatch(a, msg)
	hub.Deliver(b, msg)

	require.Eventually(t, func() bool {
		return len(env.sync.Presence("demo")) == 2
	}, 2*time.Second, 5*time.Millisecond)

	hub.Unregister(b)
	require.Eventually(t, func() bool {
		return len(env.sync.Presence("demo")) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"alice"}, a.lastPresence(t))
	assert.Eventually(t, b.isClosed, time.Second, 5*time.Millisecond)
}

// holdingDispatcher parks inside Dispatch until released
type holdingDispatcher struct {
	*BoardSync
	entered chan struct{}
	release chan struct{}
}

func (d *holdingDispatcher) Dispatch(conn Conn, raw []byte) {
	close(d.entered)
	<-d.release
	d.BoardSync.Dispatch(conn, raw)
}

func TestHubDoneWaitsForRunningHandler(t *testing.T) {
	env := newTestEnv(t)
	d := &holdingDispatcher{BoardSync: env.sync, entered: make(chan struct{}), release: make(chan struct{})}
	hub := NewHub(d, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	a := newFakeConn("a", "alice")
	require.True(t, hub.Register(a))
	msg, err := EncodeMessage(EventKanbanUpdate, map[string]any{"boardId": "demo", "todo": []map[string]string{{"id": "late"}}})
	require.NoError(t, err)
	require.True(t, hub.Deliver(a, msg))

	<-d.entered
	cancel()
	select {
	case <-hub.Done():
		t.Fatal("hub reported done with a handler still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(d.release)
	<-hub.Done()
	env.sync.Wait()

	board, err := env.store.GetBoardState(context.Background(), "demo")
	require.NoError(t, err)
	assert.Equal(t, []database.Card{{ID: "late"}}, board.Todo)
}
