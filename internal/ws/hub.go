package ws

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"driveguard/internal/events"
)

const clientSendBuffer = 64

// client is one websocket connection. Only its write pump writes to the conn.
type client struct {
	send chan []byte
}

// Hub fans event rows out to every connected websocket client and keeps
// the most recent rows so new clients see the table so far.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*client]bool
	backlog    [][]byte
	backlogCap int
	logger     *zap.SugaredLogger
}

// NewHub creates a hub remembering up to backlog rows
func NewHub(backlog int, logger *zap.SugaredLogger) *Hub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		backlogCap: backlog,
		logger:     logger,
	}
}

// Display appends the event to the live table. It implements events.Display.
func (h *Hub) Display(ev events.Event) error {
	data, err := json.Marshal(NewEventMessage(ev))
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.backlogCap > 0 {
		h.backlog = append(h.backlog, data)
		if over := len(h.backlog) - h.backlogCap; over > 0 {
			h.backlog = h.backlog[over:]
		}
	}

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Slow client; drop it rather than stall the emitter.
			h.logger.Warn("websocket client too slow, disconnecting")
			h.removeLocked(c)
		}
	}
	return nil
}

// register adds a client and queues the backlog for it, oldest first
func (h *Hub) register() *client {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := &client{send: make(chan []byte, clientSendBuffer+len(h.backlog))}
	for _, row := range h.backlog {
		c.send <- row
	}
	h.clients[c] = true
	h.logger.Debugw("client registered", "clients", len(h.clients))
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Backlog returns the remembered rows, oldest first
func (h *Hub) Backlog() []EventMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]EventMessage, 0, len(h.backlog))
	for _, row := range h.backlog {
		var msg EventMessage
		if err := json.Unmarshal(row, &msg); err == nil {
			out = append(out, msg)
		}
	}
	return out
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}
