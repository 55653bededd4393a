package ws

import (
	"encoding/json"
	"sync"
)

// Client represents a single WebSocket connection with buyer context.
type Client struct {
	BuyerID string
	Role    string
	Send    chan []byte
	Hub     *Hub // set so Close() can unregister
	mu      sync.Mutex
	closed  bool
}

func NewClient(buyerID, role string) *Client {
	return &Client{BuyerID: buyerID, Role: role, Send: make(chan []byte, 256)}
}

func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.Send)
	c.mu.Unlock()
	if c.Hub != nil {
		c.Hub.unregister(c)
	}
}

// trySend drops the message when the client is gone or too slow.
func (c *Client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// Hub maintains the set of active clients and broadcasts to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	// buyerID -> clients (one buyer can have multiple connections)
	byBuyer map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		byBuyer: make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.Hub = h
	h.clients[c] = struct{}{}
	if h.byBuyer[c.BuyerID] == nil {
		h.byBuyer[c.BuyerID] = make(map[*Client]struct{})
	}
	h.byBuyer[c.BuyerID][c] = struct{}{}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	if m := h.byBuyer[c.BuyerID]; m != nil {
		delete(m, c)
		if len(m) == 0 {
			delete(h.byBuyer, c.BuyerID)
		}
	}
}

// BroadcastToBuyer returns the number of connections the payload was queued on.
func (h *Hub) BroadcastToBuyer(buyerID string, payload interface{}) int {
	data, _ := json.Marshal(payload)
	h.mu.RLock()
	m := h.byBuyer[buyerID]
	clients := make([]*Client, 0, len(m))
	for c := range m {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	sent := 0
	for _, c := range clients {
		if c.trySend(data) {
			sent++
		}
	}
	return sent
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
