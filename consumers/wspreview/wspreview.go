// Package wspreview adapts a dispatch.EncodedPacket stream onto a plain
// WebSocket binary-frame feed, for a low-latency browser preview without a
// full WebRTC negotiation. Grounded on websocket/websocket.go's Upgrader +
// per-client buffered Send channel + WritePump drain loop; generalized from
// JSON text frames to binary frames carrying each packet's H264 bytes as the
// encoder emitted them. The hub does not extract or store SPS/PPS and does
// not prepend them for a newly connected client.
package wspreview

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/n0remac/netcam-core/dispatch"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one connected preview viewer: a bounded Send channel drained by
// its own WritePump goroutine, exactly the teacher's per-client shape.
type Client struct {
	log  *slog.Logger
	conn *websocket.Conn
	send chan []byte
}

// Hub fans out encoded packets to every connected preview client. It is
// registered as a single dispatch.ConsumerRegistration; its own internal
// broadcast never blocks the dispatcher because each Client's WritePump
// absorbs backpressure on its own buffered channel.
type Hub struct {
	log *slog.Logger

	mu      sync.Mutex
	clients map[*Client]bool

	sawKeyframe map[*Client]bool
	sps, pps    []byte
}

// NewHub constructs an empty preview hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:         log,
		clients:     make(map[*Client]bool),
		sawKeyframe: make(map[*Client]bool),
	}
}

// ServeHTTP upgrades the connection and registers a Client, blocking until
// the connection closes (read pump is only used to detect client-initiated
// close; the preview feed is one-directional).
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.log != nil {
			h.log.Warn("wspreview: upgrade failed", "error", err)
		}
		return
	}
	c := &Client{log: h.log, conn: conn, send: make(chan []byte, 64)}

	h.mu.Lock()
	h.clients[c] = true
	h.sawKeyframe[c] = false
	h.mu.Unlock()

	go c.writePump()
	h.readPump(c)
}

func (h *Hub) readPump(c *Client) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		delete(h.sawKeyframe, c)
		h.mu.Unlock()
		close(c.send)
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			if c.log != nil {
				c.log.Warn("wspreview: write error", "error", err)
			}
			return
		}
	}
}

// Callback is registered with dispatch.Dispatcher as this consumer's
// ConsumerRegistration.Callback. Each client only starts receiving bytes
// once its first keyframe arrives.
func (h *Hub) Callback(pkt dispatch.EncodedPacket) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if pkt.IsKeyframe {
			h.sawKeyframe[c] = true
		}
		if !h.sawKeyframe[c] {
			continue
		}
		select {
		case c.send <- pkt.Bytes:
		default:
			// Client's own queue is full: drop for this client only, never
			// block the dispatcher's consumer worker for this hub.
		}
	}
}
