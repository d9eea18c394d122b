package chat

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Conns tracks the live WebSocket connection of each guest. A guest has at
// most one; a newer connection replaces the older one.
type Conns struct {
	mu     sync.Mutex
	active map[string]*websocket.Conn
}

// NewConns creates an empty registry.
func NewConns() *Conns {
	return &Conns{active: make(map[string]*websocket.Conn)}
}

// Get returns the guest's live connection, if any.
func (c *Conns) Get(guestID string) *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active[guestID]
}

// Register records conn for the guest, closing any connection it replaces.
func (c *Conns) Register(guestID string, conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.active[guestID]; ok && existing != conn {
		_ = existing.Close(websocket.StatusPolicyViolation, "connection replaced")
	}
	c.active[guestID] = conn
	slog.Debug("chat socket registered", "guest_id", guestID)
}

// Unregister forgets conn if it is still the guest's current connection.
func (c *Conns) Unregister(guestID string, conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.active[guestID]; ok && current == conn {
		delete(c.active, guestID)
		slog.Debug("chat socket unregistered", "guest_id", guestID)
	}
}

// CloseGuest closes and forgets the guest's connection.
func (c *Conns) CloseGuest(guestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conn, ok := c.active[guestID]; ok {
		_ = conn.Close(websocket.StatusNormalClosure, "guest erased")
		delete(c.active, guestID)
	}
}

// CloseAll closes every tracked connection.
func (c *Conns) CloseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, conn := range c.active {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(c.active, id)
	}
}

// Len returns the number of tracked connections.
func (c *Conns) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}
