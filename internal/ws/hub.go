// Package ws pushes feed events to dashboard WebSocket clients.
//
// Each client carries a feed filter chosen at connect time (own requests,
// one request, or everything) and gets its own broker subscription; the hub
// only tracks live clients so shutdown can close them all.
package ws

import (
	"log"
	"sync"

	"github.com/shiva/ambutrack/internal/feed"
	"github.com/shiva/ambutrack/internal/model"
)

// Hub tracks connected dashboard clients.
type Hub struct {
	feed *feed.Feed

	mu      sync.Mutex
	clients map[*Client]bool
	closed  bool
}

// NewHub creates a hub over the given feed.
func NewHub(fd *feed.Feed) *Hub {
	return &Hub{feed: fd, clients: map[*Client]bool{}}
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = true
	log.Printf("[ws] client connected (%s)", c.describe())
	return true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		log.Printf("[ws] client disconnected (%s)", c.describe())
	}
	h.mu.Unlock()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown closes every client connection and rejects new ones.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// subscribe opens a broker subscription for the client's filter.
func (h *Hub) subscribe(filter model.Filter) (chan feed.Event, func()) {
	return h.feed.Subscribe(filter)
}
