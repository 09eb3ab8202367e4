package realtime

import (
	"context"
	"sync"
)

const subscriptionBuffer = 64

// Hub is an in-process Channel for tests and single-node deployments.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscription]Presence
}

func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[*Subscription]Presence)}
}

func (h *Hub) Publish(_ context.Context, topic string, event Event) error {
	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.topics[topic]))
	for sub := range h.topics[topic] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()
	for _, sub := range subs {
		sub.deliver(event)
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, topic string, self Presence) (*Subscription, error) {
	var sub *Subscription
	sub = newSubscription(subscriptionBuffer, func() error {
		h.mu.Lock()
		if subs, ok := h.topics[topic]; ok {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(h.topics, topic)
			}
		}
		h.mu.Unlock()
		return h.Publish(context.Background(), topic, Event{
			Type:     EventLeave,
			UserID:   self.UserID,
			Presence: &self,
		})
	})

	h.mu.Lock()
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*Subscription]Presence)
	}
	h.topics[topic][sub] = self
	snapshot := make([]Presence, 0, len(h.topics[topic]))
	for _, p := range h.topics[topic] {
		snapshot = append(snapshot, p)
	}
	h.mu.Unlock()

	// The subscriber sees the sync snapshot before any broadcast.
	sub.deliver(Event{Type: EventSync, Presences: snapshot})
	if err := h.Publish(ctx, topic, Event{
		Type:     EventJoin,
		UserID:   self.UserID,
		Presence: &self,
	}); err != nil {
		return nil, err
	}
	return sub, nil
}

// Presences returns the current occupants of a topic.
func (h *Hub) Presences(topic string) []Presence {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Presence, 0, len(h.topics[topic]))
	for _, p := range h.topics[topic] {
		out = append(out, p)
	}
	return out
}
