// Package events pushes session list changes to connected UI clients over
// websockets.
package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/shehryarbajwa/chatsync/internal/logger"
	"github.com/shehryarbajwa/chatsync/pkg/models"
)

const (
	TypeSessionsChanged = "sessions.changed"

	sendBuffer = 16
	writeWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Event is one message sent to every client
type Event struct {
	Type     string                  `json:"type"`
	ActiveID string                  `json:"activeId,omitempty"`
	Sessions []models.SessionSummary `json:"sessions"`
	At       time.Time               `json:"at"`
}

// SessionsChanged builds the event for a new session list
func SessionsChanged(sessions []models.Session, activeID string) Event {
	summaries := make([]models.SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		summaries = append(summaries, s.Summary())
	}
	return Event{
		Type:     TypeSessionsChanged,
		ActiveID: activeID,
		Sessions: summaries,
		At:       time.Now().UTC(),
	}
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub fans events out to websocket clients. A client that cannot keep up
// is disconnected rather than allowed to stall publishers.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*client
	closed  bool
	log     *log.Logger
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*client),
		log:     logger.For("events"),
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish sends ev to every connected client without blocking
func (h *Hub) Publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("Failed to encode event", "type", ev.Type, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.log.Warn("Dropping slow client", "client", id)
			h.removeLocked(id)
		}
	}
}

// HandleConnection upgrades the request and streams events until the client
// goes away.
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Failed to upgrade connection", "error", err)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c.id] = c
	h.mu.Unlock()

	h.log.Debug("Client connected", "client", c.id, "remote", r.RemoteAddr)

	go h.writeLoop(c)
	h.readLoop(c)

	h.mu.Lock()
	h.removeLocked(c.id)
	h.mu.Unlock()
	h.log.Debug("Client disconnected", "client", c.id)
}

// readLoop drains client frames so close and ping control messages are
// processed. Clients have nothing to say.
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("WebSocket read error", "client", c.id, "error", err)
			}
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.log.Debug("Failed to write event", "client", c.id, "error", err)
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
}

func (h *Hub) removeLocked(id string) {
	c, ok := h.clients[id]
	if !ok {
		return
	}
	delete(h.clients, id)
	close(c.send)
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id := range h.clients {
		h.removeLocked(id)
	}
}
