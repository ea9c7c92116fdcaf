package bridge

import "sync"

// Hub fans messages out to every subscriber of a session, so that a
// dataset pushed over one connection reaches the dashboard's event stream.
type Hub struct {
	mu        sync.RWMutex
	listeners map[string]map[chan Message]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{listeners: make(map[string]map[chan Message]struct{})}
}

// Subscribe returns a channel receiving messages published for sessionID.
// The caller must call Unsubscribe when done.
func (h *Hub) Subscribe(sessionID string) chan Message {
	ch := make(chan Message, 4)
	h.mu.Lock()
	if h.listeners[sessionID] == nil {
		h.listeners[sessionID] = make(map[chan Message]struct{})
	}
	h.listeners[sessionID][ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (h *Hub) Unsubscribe(sessionID string, ch chan Message) {
	h.mu.Lock()
	if set, ok := h.listeners[sessionID]; ok {
		if _, ok := set[ch]; ok {
			delete(set, ch)
			close(ch)
		}
		if len(set) == 0 {
			delete(h.listeners, sessionID)
		}
	}
	h.mu.Unlock()
}

// Publish delivers msg to the session's subscribers. A subscriber whose
// buffer is full misses the message rather than blocking the publisher.
func (h *Hub) Publish(sessionID string, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.listeners[sessionID] {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Subscribers returns the number of listeners for a session.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners[sessionID])
}

// Broadcast delivers msg to every subscriber of every session.
func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, set := range h.listeners {
		for ch := range set {
			select {
			case ch <- msg:
			default:
			}
		}
	}
}
