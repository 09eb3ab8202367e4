package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisChannel is a Channel backed by Redis pub/sub, for multi-node
// deployments. Presence lives in a hash per topic so every node sees the same
// occupant set.
type RedisChannel struct {
	client redis.UniversalClient
	log    *slog.Logger
}

func NewRedisChannel(client redis.UniversalClient, log *slog.Logger) *RedisChannel {
	if log == nil {
		log = slog.Default()
	}
	return &RedisChannel{client: client, log: log}
}

func presenceKey(topic string) string {
	return "presence:" + topic
}

func (c *RedisChannel) Publish(ctx context.Context, topic string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := c.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (c *RedisChannel) Subscribe(ctx context.Context, topic string, self Presence) (*Subscription, error) {
	selfPayload, err := json.Marshal(self)
	if err != nil {
		return nil, fmt.Errorf("marshal presence: %w", err)
	}
	if err := c.client.HSet(ctx, presenceKey(topic), self.UserID, selfPayload).Err(); err != nil {
		return nil, fmt.Errorf("track presence: %w", err)
	}

	pubsub := c.client.Subscribe(ctx, topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = c.client.HDel(ctx, presenceKey(topic), self.UserID).Err()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	sub := newSubscription(subscriptionBuffer, func() error {
		detachCtx := context.Background()
		if err := c.client.HDel(detachCtx, presenceKey(topic), self.UserID).Err(); err != nil {
			c.log.Warn("presence cleanup failed", "topic", topic, "user_id", self.UserID, "error", err)
		}
		if err := c.Publish(detachCtx, topic, Event{Type: EventLeave, UserID: self.UserID, Presence: &self}); err != nil {
			c.log.Warn("leave broadcast failed", "topic", topic, "user_id", self.UserID, "error", err)
		}
		return pubsub.Close()
	})

	snapshot, err := c.presences(ctx, topic)
	if err != nil {
		_ = sub.Close()
		return nil, err
	}
	sub.deliver(Event{Type: EventSync, Presences: snapshot})

	go func() {
		for msg := range pubsub.Channel() {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				c.log.Warn("dropping malformed event", "topic", topic, "error", err)
				continue
			}
			sub.deliver(event)
		}
	}()

	if err := c.Publish(ctx, topic, Event{Type: EventJoin, UserID: self.UserID, Presence: &self}); err != nil {
		_ = sub.Close()
		return nil, err
	}
	return sub, nil
}

func (c *RedisChannel) presences(ctx context.Context, topic string) ([]Presence, error) {
	entries, err := c.client.HGetAll(ctx, presenceKey(topic)).Result()
	if err != nil {
		return nil, fmt.Errorf("read presences: %w", err)
	}
	out := make([]Presence, 0, len(entries))
	for _, raw := range entries {
		var p Presence
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
