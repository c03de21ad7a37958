package handlers

import (
	"sync"
)

// Hub fans win-feed messages out to every connected socket.
type Hub struct {
	mu      sync.RWMutex
	clients map[*FeedClient]bool
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*FeedClient]bool),
	}
}

func (h *Hub) Register(client *FeedClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
}

func (h *Hub) Unregister(client *FeedClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client)
}

func (h *Hub) Broadcast(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		client.Send(payload)
	}
}

func (h *Hub) OnlineCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
