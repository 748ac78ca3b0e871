// Package hub manages WebSocket connections from operator clients and fans
// session events out to them.
package hub

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/xiaot623/secpilot/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
)

// Connection represents a single WebSocket connection scoped to one session.
type Connection struct {
	ID        string
	SessionID string
	conn      *websocket.Conn
	Send      chan []byte
	hub       *Hub
}

// Hub manages all WebSocket connections.
type Hub struct {
	connections map[string]*Connection
	sessions    map[string]map[string]bool

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *sessionMessage

	mu sync.RWMutex
}

type sessionMessage struct {
	sessionID string
	data      []byte
}

// New creates a new Hub.
func New() *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		sessions:    make(map[string]map[string]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan *sessionMessage, 256),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			if h.sessions[conn.SessionID] == nil {
				h.sessions[conn.SessionID] = make(map[string]bool)
			}
			h.sessions[conn.SessionID][conn.ID] = true
			h.mu.Unlock()
			log.Printf("operator connection registered: %s (session: %s)", conn.ID, conn.SessionID)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				if h.sessions[conn.SessionID] != nil {
					delete(h.sessions[conn.SessionID], conn.ID)
					if len(h.sessions[conn.SessionID]) == 0 {
						delete(h.sessions, conn.SessionID)
					}
				}
				close(conn.Send)
			}
			h.mu.Unlock()
			log.Printf("operator connection unregistered: %s", conn.ID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for connID := range h.sessions[msg.sessionID] {
				if conn, ok := h.connections[connID]; ok {
					select {
					case conn.Send <- msg.data:
					default:
						// Slow consumer; drop rather than block the hub.
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish sends an event to every connection watching the session. Delivery
// is best effort; the ledger remains the source of truth.
func (h *Hub) Publish(sessionID, eventType string, payload interface{}) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		log.Printf("WARN: failed to marshal hub payload: %v", err)
		return
	}
	event := domain.Event{
		Type:      eventType,
		Ts:        time.Now().UnixMilli(),
		SessionID: sessionID,
		Payload:   payloadJSON,
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("WARN: failed to marshal hub event: %v", err)
		return
	}

	select {
	case h.broadcast <- &sessionMessage{sessionID: sessionID, data: data}:
	default:
		log.Printf("WARN: hub broadcast queue full, dropping %s event", eventType)
	}
}

// Attach registers a websocket connection for a session and starts its pumps.
// It blocks until the connection closes.
func (h *Hub) Attach(ws *websocket.Conn, sessionID string) {
	conn := &Connection{
		ID:        "conn_" + uuid.New().String()[:8],
		SessionID: sessionID,
		conn:      ws,
		Send:      make(chan []byte, 64),
		hub:       h,
	}
	h.register <- conn

	go conn.writePump()
	conn.readPump()
}

func (c *Connection) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// Operator clients only listen; inbound frames are drained and ignored.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.Send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
