package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/omnibrowser/warden/internal/event"
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

// Broadcaster fans named events out to every connected webview client. It
// implements event.Sink: Emit never blocks a producer and never reports
// failure. Clients that cannot keep up are dropped.
//
// A small replay ring of recent events is pushed to newly connected clients
// so a webview that reconnects (e.g. after a reload request) still sees the
// warning that caused it.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[*client]bool

	replayMu  sync.Mutex
	replay    []event.Event
	replayMax int
}

// NewBroadcaster builds a broadcaster retaining up to replayMax recent
// events for connect-time replay. Zero disables replay.
func NewBroadcaster(replayMax int) *Broadcaster {
	return &Broadcaster{
		clients:   make(map[*client]bool),
		replayMax: replayMax,
	}
}

// Emit broadcasts one event to all connected clients, best-effort.
func (b *Broadcaster) Emit(name string, payload any) {
	ev := event.Event{Name: name, Payload: payload}

	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("event marshal error for %s: %v", name, err)
		return
	}

	b.remember(ev)

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			// Client can't keep up, disconnect it
			log.Printf("ws client too slow, disconnecting")
			b.RemoveClient(c)
		}
	}
}

func (b *Broadcaster) remember(ev event.Event) {
	if b.replayMax <= 0 {
		return
	}
	b.replayMu.Lock()
	defer b.replayMu.Unlock()
	b.replay = append(b.replay, ev)
	if len(b.replay) > b.replayMax {
		b.replay = b.replay[len(b.replay)-b.replayMax:]
	}
}

// AddClient registers a connection and pushes the replay buffer to it.
func (b *Broadcaster) AddClient(conn *websocket.Conn) *client {
	c := newClient(conn)

	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	b.replayMu.Lock()
	backlog := make([]event.Event, len(b.replay))
	copy(backlog, b.replay)
	b.replayMu.Unlock()

	for _, ev := range backlog {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Client too slow for its own backlog, drop the rest
			return c
		}
	}

	return c
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
