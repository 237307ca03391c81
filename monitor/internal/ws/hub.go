package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/machineguard/machineguard/monitor/internal/store"
	"github.com/machineguard/machineguard/pkg/types"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 64

	defaultInterval = 5 * time.Second
)

// Event names.
const (
	EventSnapshot = "snapshot"
	EventReport   = "report"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Snapshot is the data of a snapshot event.
type Snapshot struct {
	Devices     []*types.HealthReport `json:"devices"`
	GeneratedAt string                `json:"generated_at"` // RFC3339
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Hub manages WebSocket client connections.
type Hub struct {
	store    *store.Store
	interval time.Duration

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates a Hub that snapshots st every interval.
func New(st *store.Store, interval time.Duration) *Hub {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Hub{
		store:    st,
		interval: interval,
		clients:  make(map[*client]struct{}),
	}
}

// Run broadcasts a snapshot every interval. It blocks until ctx is
// cancelled, then closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-t.C:
			if data, err := h.snapshotMessage(); err == nil {
				h.broadcast(data)
			}
		}
	}
}

// Put pushes r to every connected client as a report event.
func (h *Hub) Put(_ context.Context, r *types.HealthReport) error {
	data, err := json.Marshal(Message{Event: EventReport, Data: r})
	if err != nil {
		return err
	}
	h.broadcast(data)
	return nil
}

// ServeHTTP upgrades the connection and serves the client until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}
	if data, err := h.snapshotMessage(); err == nil {
		c.send <- data
	}
	h.register(c)
	defer h.unregister(c)

	go c.writePump()
	c.readPump()
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// --- internal ---------------------------------------------------------------

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// broadcast queues data for every client. Sends happen under the read lock so
// unregister cannot close a channel mid-send; slow clients are dropped after.
func (h *Hub) broadcast(data []byte) {
	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Warn("ws: client too slow, disconnecting", "remote", c.conn.RemoteAddr().String())
		h.unregister(c)
	}
}

func (h *Hub) snapshotMessage() ([]byte, error) {
	entries := h.store.List()
	devices := make([]*types.HealthReport, 0, len(entries))
	for _, e := range entries {
		devices = append(devices, e.Report)
	}
	return json.Marshal(Message{
		Event: EventSnapshot,
		Data: Snapshot{
			Devices:     devices,
			GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// writePump forwards queued messages to the connection and sends periodic
// pings. Runs in its own goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles control frames and detects disconnects. Blocks until the
// connection closes.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
