package admin

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// upgrader has CheckOrigin wide open, matching the teacher's
// pkg/server/handlers/websocket.go — the administration surface is
// expected to sit behind a private network or reverse proxy, not to
// authenticate browsers itself.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Event is one state-transition notification pushed to /monitor
// subscribers: role changes, replica connection-state transitions, and
// assembly updates.
type Event struct {
	Kind string      `json:"kind"`
	At   time.Time   `json:"at"`
	Data interface{} `json:"data"`
}

// connection is one live /monitor websocket client.
type connection struct {
	id   string
	conn *websocket.Conn
	out  chan Event
	done chan struct{}
}

// MonitorHub tracks every live /monitor connection and fans out Events
// to all of them, generalizing the teacher's ChangeStreamManager from
// per-collection change streams to node/cluster state transitions.
type MonitorHub struct {
	mu      sync.RWMutex
	conns   map[string]*connection
	nextID  uint64
}

// NewMonitorHub constructs an empty hub.
func NewMonitorHub() *MonitorHub {
	return &MonitorHub{conns: make(map[string]*connection)}
}

// ServeHTTP upgrades the request to a websocket and streams Events to it
// until the client disconnects.
func (h *MonitorHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	h.mu.Lock()
	h.nextID++
	id := formatConnID(h.nextID)
	c := &connection{id: id, conn: conn, out: make(chan Event, 32), done: make(chan struct{})}
	h.conns[id] = c
	h.mu.Unlock()

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *MonitorHub) readLoop(c *connection) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *MonitorHub) writeLoop(c *connection) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-c.out:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (h *MonitorHub) remove(c *connection) {
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()
	close(c.done)
	c.conn.Close()
}

// Publish fans ev out to every currently-connected subscriber,
// dropping it for any subscriber whose outbound buffer is full rather
// than blocking the publisher.
func (h *MonitorHub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		select {
		case c.out <- ev:
		default:
		}
	}
}

func formatConnID(n uint64) string {
	const hex = "0123456789abcdef"
	if n == 0 {
		return "0"
	}
	var buf [16]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = hex[n%16]
		n /= 16
	}
	return string(buf[i:])
}
