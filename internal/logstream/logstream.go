// Package logstream fans messages out to websocket clients.
package logstream

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"bioreactor-controller/internal/history"
	"bioreactor-controller/internal/logger"
)

const (
	writeWait    = 2 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
	sendBuffer   = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub holds the connected clients and an optional backlog replayed to new ones.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]bool
	backlog *history.Ring[[]byte]
	closed  bool
}

// NewHub creates a hub. A backlog of n > 0 keeps the last n messages for new clients.
func NewHub(backlog int) *Hub {
	h := &Hub{clients: make(map[*client]bool)}
	if backlog > 0 {
		h.backlog = history.NewRing[[]byte](backlog)
	}
	return h
}

// Broadcast queues msg for every client. Clients whose queue is full miss it.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if h.backlog != nil {
		h.backlog.Append(msg)
	}
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// Write implements io.Writer so the hub can sit behind the logger.
func (h *Hub) Write(p []byte) (int, error) {
	msg := make([]byte, len(p))
	copy(msg, p)
	h.Broadcast(msg)
	return len(p), nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client. Later connections are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeWs upgrades the request and streams hub messages to it.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade writes its own HTTP error. Logging here would echo into the log stream.
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	if h.backlog != nil {
		for _, msg := range h.backlog.Items() {
			select {
			case c.send <- msg:
			default:
			}
		}
	}
	h.clients[c] = true
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// readPump discards client input and detects disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("Websocket read error: %v", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutdown"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
