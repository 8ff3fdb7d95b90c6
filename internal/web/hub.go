package web

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	clientQueue = 8
	writeWait   = 5 * time.Second
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans tick messages out to websocket clients. A client whose queue is
// full misses messages rather than slowing the publisher down.
type Hub struct {
	log logrus.FieldLogger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

func NewHub(logger logrus.FieldLogger) *Hub {
	return &Hub{
		log:     logger.WithField("component", "ws-hub"),
		clients: make(map[*client]struct{}),
	}
}

// Broadcast queues msg for every connected client without blocking.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Serve runs one client until its connection closes.
func (h *Hub) Serve(conn *websocket.Conn) {
	c := &client{conn: conn, send: make(chan []byte, clientQueue)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.log.WithField("remote", conn.RemoteAddr().String()).Info("Websocket client connected")

	go h.reader(c)
	h.writer(c)

	h.log.WithField("remote", conn.RemoteAddr().String()).Info("Websocket client disconnected")
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// reader discards inbound messages and detects the peer going away.
func (h *Hub) reader(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.WithError(err).Debug("Websocket read failed")
			}
			break
		}
	}
	h.remove(c)
}

func (h *Hub) writer(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.log.WithError(err).Debug("Websocket write failed")
			h.remove(c)
			// drain until remove closes the queue
			for range c.send {
			}
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}
