// Package realtime carries the ephemeral per-conversation broadcast channel:
// message fan-out, typing indicators and presence. Nothing here is durable;
// clients reconcile against the message store after a reconnect.
package realtime

import (
	"context"

	"labsync/pkg/domain"
)

type EventType string

const (
	EventNewMessage    EventType = "new_message"
	EventMessageUpdate EventType = "message_update"
	EventTypingStart   EventType = "typing_start"
	EventTypingStop    EventType = "typing_stop"
	EventJoin          EventType = "join"
	EventLeave         EventType = "leave"
	EventSync          EventType = "sync"
)

// Presence identifies one online occupant of a topic.
type Presence struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	OnlineAt int64  `json:"online_at"`
}

// Event is one broadcast on a topic. Message is set for new_message and
// message_update; UserID for typing events; Presence for join/leave;
// Presences only on the sync snapshot a new subscriber receives.
type Event struct {
	Type      EventType       `json:"event"`
	Message   *domain.Message `json:"message,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	Presence  *Presence       `json:"presence,omitempty"`
	Presences []Presence      `json:"presences,omitempty"`
}

// Topic names the broadcast channel for a conversation.
func Topic(conversationID string) string {
	return "chat:" + conversationID
}

// Channel is the broadcast transport. Publish is fire-and-forget: delivery is
// best effort and slow subscribers may miss events.
type Channel interface {
	Publish(ctx context.Context, topic string, event Event) error
	Subscribe(ctx context.Context, topic string, self Presence) (*Subscription, error)
}

// Subscription is one attachment to a topic. The first event delivered is a
// sync snapshot of the topic's current presences.
type Subscription struct {
	events chan Event
	close  func() error
	closed chan struct{}
}

func newSubscription(buffer int, closeFn func() error) *Subscription {
	return &Subscription{
		events: make(chan Event, buffer),
		close:  closeFn,
		closed: make(chan struct{}),
	}
}

// Events yields broadcasts until the subscription is closed. The channel is
// never closed; consumers select on Done to observe shutdown.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Done is closed when the subscription is closed.
func (s *Subscription) Done() <-chan struct{} {
	return s.closed
}

// Close detaches from the topic and announces the departure.
func (s *Subscription) Close() error {
	select {
	case <-s.closed:
		return nil
	default:
	}
	close(s.closed)
	var err error
	if s.close != nil {
		err = s.close()
	}
	return err
}

// deliver drops the event when the subscriber's buffer is full so one stalled
// reader cannot block the topic.
func (s *Subscription) deliver(event Event) {
	select {
	case <-s.closed:
	case s.events <- event:
	default:
	}
}
