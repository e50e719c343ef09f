package fanout

import (
	"sync"
)

// Subscriber receives envelopes published to a topic. Deliver must not
// block; implementations drop or disconnect on backpressure.
type Subscriber interface {
	Deliver(env Envelope)
}

// Hub is the server side of the fan-out service: subscribers keyed by
// topic, rooms as topics. It is mutex-driven and safe for concurrent use.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[Subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[Subscriber]struct{})}
}

// Subscribe adds a subscriber to a topic.
func (h *Hub) Subscribe(topic string, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.topics[topic] == nil {
		h.topics[topic] = make(map[Subscriber]struct{})
	}
	h.topics[topic][s] = struct{}{}
}

// Unsubscribe removes a subscriber from a topic.
func (h *Hub) Unsubscribe(topic string, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.topics[topic]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Drop removes a subscriber from every topic.
func (h *Hub) Drop(s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for topic, subs := range h.topics {
		delete(subs, s)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Publish delivers env to every subscriber of the topic.
func (h *Hub) Publish(topic string, env Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.topics[topic] {
		s.Deliver(env)
	}
}

// Subscribers returns the number of subscribers on a topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
