// Package feed streams the snapshot stream to websocket clients.
package feed

import (
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pthm-cable/swarmlab/telemetry"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// Message is one websocket message. Type is "hello" on connect and "tick"
// for every snapshot batch.
type Message struct {
	Type   string             `json:"type"`
	Tick   int64              `json:"tick,omitempty"`
	Agents []telemetry.Record `json:"agents,omitempty"`
	Info   any                `json:"info,omitempty"`
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
	send chan Message
	done chan struct{}
	once sync.Once

	dropped int
}

func (c *client) write(m Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(m)
}

// enqueue queues m, discarding the oldest queued messages when the client is
// behind. It never blocks.
func (c *client) enqueue(m Message) {
	for {
		select {
		case c.send <- m:
			return
		default:
		}
		select {
		case <-c.send:
			c.dropped++
		default:
		}
	}
}

func (c *client) stop() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

func (c *client) writeLoop(h *Hub) {
	defer h.remove(c)
	for {
		select {
		case <-c.done:
			return
		case m := <-c.send:
			if err := c.write(m); err != nil {
				slog.Debug("feed client send error", "error", err)
				return
			}
		}
	}
}

// Hub broadcasts tick batches to every connected client. It implements
// telemetry.Sink, so the simulation never waits on a slow client: each client
// has a bounded queue that drops its oldest batch when full.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	buffer  int
	info    any
	closed  bool
}

// NewHub creates a hub with a per-client queue of buffer batches. info is
// sent to each client in its hello message.
func NewHub(buffer int, info any) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		buffer:  buffer,
		info:    info,
	}
}

// ServeHTTP upgrades the connection and keeps it registered until the peer
// goes away. Incoming messages are ignored.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("feed upgrade failed", "error", err)
		return
	}
	c := &client{
		conn: conn,
		send: make(chan Message, h.buffer),
		done: make(chan struct{}),
	}
	if err := c.write(Message{Type: "hello", Info: h.info}); err != nil {
		conn.Close()
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	slog.Info("feed client connected", "remote", r.RemoteAddr)

	go c.writeLoop(h)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(c)
	slog.Info("feed client disconnected", "remote", r.RemoteAddr, "dropped", c.dropped)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.stop()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// WriteTick queues the batch for every client.
func (h *Hub) WriteTick(tick int64, recs []telemetry.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 {
		return nil
	}
	m := Message{Type: "tick", Tick: tick, Agents: slices.Clone(recs)}
	for c := range h.clients {
		c.enqueue(m)
	}
	return nil
}

// Close disconnects every client. Later connections are refused.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	list := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		list = append(list, c)
	}
	clear(h.clients)
	h.mu.Unlock()

	for _, c := range list {
		c.stop()
	}
	return nil
}
