package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Event is one published message as seen by Hub subscribers.
type Event struct {
	Name    string
	Payload json.RawMessage
}

// Hub keeps the last payload of every event in memory and forwards new
// events to subscribers. Slow subscribers lose events rather than block
// the publisher.
type Hub struct {
	mu   sync.RWMutex
	last map[string]json.RawMessage
	subs map[int]chan Event
	next int
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{
		last: make(map[string]json.RawMessage),
		subs: make(map[int]chan Event),
	}
}

// Publish records payload as the latest value of event.
func (h *Hub) Publish(_ context.Context, event string, payload any) error {
	b, err := encode(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.last[event] = b
	for _, ch := range h.subs {
		select {
		case ch <- Event{Name: event, Payload: b}:
		default:
		}
	}
	return nil
}

// Last returns the most recent payload published under event.
func (h *Hub) Last(event string) (json.RawMessage, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	b, ok := h.last[event]
	return b, ok
}

// Subscribe returns a channel receiving every subsequent event and a
// function that cancels the subscription.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// encode marshals payload to JSON, passing raw messages and byte slices
// through untouched.
func encode(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		return json.Marshal(payload)
	}
}
