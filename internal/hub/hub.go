// Package hub fans tool-call events out to WebSocket subscribers of a session.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// ErrBufferFull is returned when a connection's send buffer is full.
var ErrBufferFull = errors.New("send buffer full")

const sendBuffer = 256

// Connection represents a single WebSocket subscriber.
type Connection struct {
	ID        string
	SessionID string
	Conn      *websocket.Conn
	Send      chan []byte
	mu        sync.Mutex
}

// SessionMessage is used to broadcast a message to a session. When Close
// is set the session's subscribers are disconnected after Data is sent.
type SessionMessage struct {
	SessionID string
	Data      []byte
	Close     bool
}

// Hub manages all subscriber connections.
type Hub struct {
	// Connections indexed by connection ID
	connections map[string]*Connection

	// Sessions maps session_id to set of connection IDs
	sessions map[string]map[string]bool

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *SessionMessage
	done       chan struct{}

	logger logrus.FieldLogger
	mu     sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub(logger logrus.FieldLogger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		connections: make(map[string]*Connection),
		sessions:    make(map[string]map[string]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan *SessionMessage, sendBuffer),
		done:        make(chan struct{}),
		logger:      logger.WithField("component", "hub"),
	}
}

// Run processes registrations and broadcasts until ctx is done. All
// remaining connections are closed on exit.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for id, conn := range h.connections {
				delete(h.connections, id)
				close(conn.Send)
			}
			h.sessions = make(map[string]map[string]bool)
			h.mu.Unlock()
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			if h.sessions[conn.SessionID] == nil {
				h.sessions[conn.SessionID] = make(map[string]bool)
			}
			h.sessions[conn.SessionID][conn.ID] = true
			h.mu.Unlock()
			h.logger.WithFields(logrus.Fields{"conn_id": conn.ID, "session_id": conn.SessionID}).Debug("subscriber registered")

		case conn := <-h.unregister:
			h.mu.Lock()
			h.remove(conn)
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for connID := range h.sessions[msg.SessionID] {
				conn, ok := h.connections[connID]
				if !ok {
					continue
				}
				if len(msg.Data) > 0 {
					select {
					case conn.Send <- msg.Data:
					default:
						// Slow subscriber; drop it rather than stall the session.
						h.logger.WithField("conn_id", connID).Warn("subscriber buffer full, closing")
						h.remove(conn)
						continue
					}
				}
				if msg.Close {
					h.remove(conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove must be called with h.mu held.
func (h *Hub) remove(conn *Connection) {
	if _, ok := h.connections[conn.ID]; !ok {
		return
	}
	delete(h.connections, conn.ID)
	if ids := h.sessions[conn.SessionID]; ids != nil {
		delete(ids, conn.ID)
		if len(ids) == 0 {
			delete(h.sessions, conn.SessionID)
		}
	}
	close(conn.Send)
}

// NewConnection creates a connection subscribed to sessionID. It is not
// registered until Register is called.
func (h *Hub) NewConnection(ws *websocket.Conn, sessionID string) *Connection {
	return &Connection{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Conn:      ws,
		Send:      make(chan []byte, sendBuffer),
	}
}

// Register registers a connection with the hub. After the hub has stopped
// the connection is closed instead.
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.done:
		close(conn.Send)
	}
}

// Unregister unregisters a connection from the hub.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// CloseSession disconnects every subscriber of a session once the messages
// queued before it have been delivered.
func (h *Hub) CloseSession(sessionID string) {
	h.enqueue(&SessionMessage{SessionID: sessionID, Close: true})
}

// Broadcast sends a message to all connections of a session. It never
// blocks the caller; messages are dropped when the hub is saturated.
func (h *Hub) Broadcast(sessionID string, data []byte) {
	h.enqueue(&SessionMessage{SessionID: sessionID, Data: data})
}

func (h *Hub) enqueue(msg *SessionMessage) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.WithFields(logrus.Fields{"session_id": msg.SessionID, "close": msg.Close}).Warn("broadcast queue full, message dropped")
	}
}

// BroadcastJSON sends a JSON message to all connections of a session.
func (h *Hub) BroadcastJSON(sessionID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(sessionID, data)
	return nil
}

// SendToConnection sends a message to a specific connection.
func (h *Hub) SendToConnection(conn *Connection, data []byte) error {
	select {
	case conn.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// HasSubscribers checks if a session has any active connections.
func (h *Hub) HasSubscribers(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID]) > 0
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the underlying WebSocket.
func (c *Connection) Close() error {
	return c.Conn.Close()
}
