package services

import (
	"context"
	"log/slog"
)

// Dispatcher receives connection lifecycle and inbound events from the hub
type Dispatcher interface {
	Connect(conn Conn)
	Dispatch(conn Conn, raw []byte)
	Disconnect(conn Conn)
}

type hubEventKind int

const (
	hubRegister hubEventKind = iota
	hubMessage
	hubUnregister
)

type hubEvent struct {
	kind hubEventKind
	conn Conn
	raw  []byte
}

// Hub is the event loop of the socket server. Connection changes and inbound
// messages from every client share one queue and are handed to the
// dispatcher one at a time, so a client's disconnect is always processed
// after the messages it sent before closing.
type Hub struct {
	dispatcher Dispatcher
	events     chan hubEvent
	done       chan struct{}
	log        *slog.Logger
}

// NewHub creates a new hub instance
func NewHub(dispatcher Dispatcher, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		dispatcher: dispatcher,
		events:     make(chan hubEvent, 1024),
		done:       make(chan struct{}),
		log:        log,
	}
}

func (h *Hub) push(ev hubEvent) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.events <- ev:
		return true
	case <-h.done:
		return false
	}
}

// Register adds a client to the hub. It reports false once the hub stopped.
func (h *Hub) Register(conn Conn) bool {
	return h.push(hubEvent{kind: hubRegister, conn: conn})
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(conn Conn) {
	h.push(hubEvent{kind: hubUnregister, conn: conn})
}

// Deliver queues an inbound message. It reports false once the hub stopped.
func (h *Hub) Deliver(conn Conn, raw []byte) bool {
	return h.push(hubEvent{kind: hubMessage, conn: conn, raw: raw})
}

// Run starts the hub's main loop and returns when ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-h.events:
			h.handle(ev)
		}
	}
}

// Done is closed once Run has returned and no handler is running
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) handle(ev hubEvent) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("event handler panicked", "conn", ev.conn.ID(), "panic", r)
		}
	}()

	switch ev.kind {
	case hubRegister:
		h.dispatcher.Connect(ev.conn)
	case hubMessage:
		h.dispatcher.Dispatch(ev.conn, ev.raw)
	case hubUnregister:
		h.dispatcher.Disconnect(ev.conn)
		ev.conn.Close()
	}
}
