// Package gateway maintains persistent websocket connections and fans
// notification payloads out to a user's live connections. A user may hold
// several connections at once (multiple tabs or devices); each gets every
// payload.
package gateway

import (
	"sync"

	"github.com/planforge/backend/pkg/logger"
)

// Hub indexes live clients by user id. All methods are safe for concurrent
// use.
type Hub struct {
	mu     sync.RWMutex
	groups map[uint]map[*Client]bool
}

var (
	hub     *Hub
	hubOnce sync.Once
)

func GetHub() *Hub {
	hubOnce.Do(func() {
		hub = NewHub()
	})
	return hub
}

func NewHub() *Hub {
	return &Hub{groups: make(map[uint]map[*Client]bool)}
}

// Register adds a client to its user's group.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group, ok := h.groups[c.userID]
	if !ok {
		group = make(map[*Client]bool)
		h.groups[c.userID] = group
	}
	group[c] = true
	logger.Infof("[Gateway] User %d connected (%d connections)", c.userID, len(group))
}

// Unregister removes a client. Idempotent; a client torn down twice is a
// no-op the second time.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group, ok := h.groups[c.userID]
	if !ok {
		return
	}
	if !group[c] {
		return
	}
	delete(group, c)
	if len(group) == 0 {
		delete(h.groups, c.userID)
	}
	close(c.send)
	logger.Infof("[Gateway] User %d disconnected (%d connections left)", c.userID, len(group))
}

// Push enqueues data to every live connection of the user. Delivery to the
// group is fire-and-forget: a user with no connections is not an error. A
// connection whose send buffer is full is dropped rather than blocking the
// caller.
func (h *Hub) Push(userID uint, data []byte) error {
	h.mu.RLock()
	group := h.groups[userID]
	var stale []*Client
	for c := range group {
		select {
		case c.send <- data:
		default:
			stale = append(stale, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stale {
		logger.Warnf("[Gateway] Dropping slow connection of user %d", userID)
		h.Unregister(c)
		c.conn.Close()
	}
	return nil
}

// ConnectionCount reports live connections for the user.
func (h *Hub) ConnectionCount(userID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[userID])
}

// OnlineUsers reports how many distinct users hold a connection.
func (h *Hub) OnlineUsers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups)
}
