package ws

import (
	"context"
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

var ErrTooManyConnections = errors.New("too many connections")

// Hub tracks live clients and enforces the connection limit. Every client
// accepted by add counts as running until the matching done.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	maxConns int
	closing  bool
	running  sync.WaitGroup
}

// NewHub creates a hub. maxConns <= 0 means unlimited.
func NewHub(maxConns int) *Hub {
	return &Hub{
		clients:  make(map[*client]bool),
		maxConns: maxConns,
	}
}

func (h *Hub) add(c *client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return errServerClosing
	}
	if h.maxConns > 0 && len(h.clients) >= h.maxConns {
		return ErrTooManyConnections
	}
	h.clients[c] = true
	h.running.Add(1)
	return nil
}

// done marks a client accepted by add as finished.
func (h *Hub) done() { h.running.Done() }

// wait blocks until every accepted client is done, or ctx ends. Call it
// after closeAll so that no add can succeed in the meantime.
func (h *Hub) wait(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		h.running.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// remove reports whether c was still tracked.
func (h *Hub) remove(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c] {
		return false
	}
	delete(h.clients, c)
	return true
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll refuses new clients and asks every current one to go away.
func (h *Hub) closeAll() {
	h.mu.Lock()
	h.closing = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}
}

var errServerClosing = errors.New("server closing")
