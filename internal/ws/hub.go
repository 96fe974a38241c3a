package ws

import "sync"

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Heartbeater is implemented by subscribers with their own keep-alive frame.
type Heartbeater interface {
	Heartbeat() error
}

// Hub tracks the open subscribers of a relay.
type Hub struct {
	mu      sync.RWMutex
	clients map[Subscriber]struct{}
	sendMu  sync.Mutex
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[Subscriber]struct{})}
}

// Register adds a subscriber.
func (h *Hub) Register(client Subscriber) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a subscriber without closing it.
func (h *Hub) Unregister(client Subscriber) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
}

// Count reports the number of registered subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends payload to every subscriber before returning. Subscribers whose
// send fails are closed and dropped. It returns the number of successful sends.
// Concurrent broadcasts are serialized so every subscriber sees them in call order.
func (h *Hub) Broadcast(payload []byte) int {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	delivered := 0
	for _, c := range h.snapshot() {
		if err := c.Send(payload); err != nil {
			h.drop(c)
			continue
		}
		delivered++
	}
	return delivered
}

// Heartbeat keeps subscribers alive. Heartbeaters get their own frame, the rest
// receive payload.
func (h *Hub) Heartbeat(payload []byte) {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	for _, c := range h.snapshot() {
		var err error
		if hb, ok := c.(Heartbeater); ok {
			err = hb.Heartbeat()
		} else {
			err = c.Send(payload)
		}
		if err != nil {
			h.drop(c)
		}
	}
}

// CloseAll closes and drops every subscriber.
func (h *Hub) CloseAll() {
	for _, c := range h.snapshot() {
		h.drop(c)
	}
}

func (h *Hub) snapshot() []Subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Subscriber, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *Hub) drop(c Subscriber) {
	h.Unregister(c)
	c.Close()
}
