// Package ssehub manages the long-lived SSE streams held open per client.
package ssehub

import (
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"
)

// ErrBufferFull is returned when a connection's outbound buffer is full.
var ErrBufferFull = errors.New("send buffer full")

// Connection represents a single SSE stream. Frames written to Send are
// delivered in order by the stream's writer loop; the channel is closed by
// the hub on unregister, which discards anything still queued.
type Connection struct {
	ID    string
	Token string
	Send  chan []byte
}

// Hub tracks all open SSE connections, indexed by connection id and by
// session token.
type Hub struct {
	connections map[string]*Connection
	sessions    map[string]map[string]bool

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *sessionFrame

	mu sync.RWMutex
}

type sessionFrame struct {
	token string
	data  []byte
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		sessions:    make(map[string]map[string]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan *sessionFrame, 256),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			if conn.Token != "" {
				if h.sessions[conn.Token] == nil {
					h.sessions[conn.Token] = make(map[string]bool)
				}
				h.sessions[conn.Token][conn.ID] = true
			}
			h.mu.Unlock()
			log.Printf("SSE connection registered: %s", conn.ID)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				if conn.Token != "" && h.sessions[conn.Token] != nil {
					delete(h.sessions[conn.Token], conn.ID)
					if len(h.sessions[conn.Token]) == 0 {
						delete(h.sessions, conn.Token)
					}
				}
				close(conn.Send)
			}
			h.mu.Unlock()
			log.Printf("SSE connection unregistered: %s", conn.ID)

		case frame := <-h.broadcast:
			h.mu.RLock()
			for connID := range h.sessions[frame.token] {
				if conn, exists := h.connections[connID]; exists {
					select {
					case conn.Send <- frame.data:
					default:
						// Buffer full; drop the slow stream rather than
						// stalling or reordering delivery for the session.
						log.Printf("SSE connection %s buffer full, closing", connID)
						go h.Unregister(conn)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// NewConnection creates a connection bound to a session token. An empty
// token is allowed for unauthenticated streams.
func (h *Hub) NewConnection(token string) *Connection {
	return &Connection{
		ID:    "conn_" + uuid.New().String(),
		Token: token,
		Send:  make(chan []byte, 256),
	}
}

// Register registers a connection with the hub.
func (h *Hub) Register(conn *Connection) {
	h.register <- conn
}

// Unregister unregisters a connection; pending frames are discarded.
func (h *Hub) Unregister(conn *Connection) {
	h.unregister <- conn
}

// Broadcast queues a frame, in order, to every open stream of a session.
func (h *Hub) Broadcast(token string, data []byte) {
	h.broadcast <- &sessionFrame{token: token, data: data}
}

// HasActiveConnections checks if a session has any open streams.
func (h *Hub) HasActiveConnections(token string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns, ok := h.sessions[token]
	return ok && len(conns) > 0
}

// ConnectionCount returns the number of open streams.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}
