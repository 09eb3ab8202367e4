// Package identity applies user lifecycle events from the external identity
// provider. Events arrive over the signed webhook or the AMQP feed; both paths
// are idempotent by event id, so redeliveries are applied at most once.
package identity

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"labsync/pkg/domain"
	"labsync/pkg/store"
)

const (
	EventUserCreated = "user.created"
	EventUserUpdated = "user.updated"
	EventUserDeleted = "user.deleted"
)

// Event is one identity lifecycle notification.
type Event struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

type EventData struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Avatar     string `json:"avatar,omitempty"`
	Role       string `json:"role,omitempty"`
	Department string `json:"department,omitempty"`
}

// Processor mirrors identity events into the user store.
type Processor struct {
	store store.Store
	log   *slog.Logger
}

func NewProcessor(st store.Store, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{store: st, log: log}
}

// Apply parses and applies one raw event payload. Unknown event types are
// logged and dropped; a malformed payload is an error so the transport can
// reject the delivery.
func (p *Processor) Apply(payload []byte) error {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("decode identity event: %w", err)
	}
	eventID := strings.TrimSpace(event.ID)
	if eventID == "" || strings.TrimSpace(event.Data.ID) == "" {
		return fmt.Errorf("identity event missing id")
	}

	fresh, err := p.store.MarkIdentityEvent(eventID, event.Type, payload)
	if err != nil {
		return fmt.Errorf("record identity event: %w", err)
	}
	if !fresh {
		p.log.Info("identity event already processed", "event_id", eventID, "type", event.Type)
		return nil
	}

	now := time.Now().UTC()
	switch event.Type {
	case EventUserCreated, EventUserUpdated:
		user := domain.User{
			ID:         event.Data.ID,
			Email:      event.Data.Email,
			Name:       event.Data.Name,
			Avatar:     event.Data.Avatar,
			Role:       roleFrom(event.Data.Role),
			Department: event.Data.Department,
			IsActive:   true,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if existing, ok, err := p.store.GetUserByID(event.Data.ID); err == nil && ok {
			user.CreatedAt = existing.CreatedAt
		}
		if err := p.store.SaveUser(user); err != nil {
			return fmt.Errorf("save user %s: %w", event.Data.ID, err)
		}
	case EventUserDeleted:
		if err := p.store.DeactivateUser(event.Data.ID, now); err != nil {
			return fmt.Errorf("deactivate user %s: %w", event.Data.ID, err)
		}
	default:
		p.log.Warn("unknown identity event type", "event_id", eventID, "type", event.Type)
		return nil
	}

	p.log.Info("identity event applied", "event_id", eventID, "type", event.Type, "user_id", event.Data.ID)
	return nil
}

func roleFrom(raw string) domain.UserRole {
	switch domain.UserRole(strings.ToLower(strings.TrimSpace(raw))) {
	case domain.RoleOwner:
		return domain.RoleOwner
	case domain.RoleManager:
		return domain.RoleManager
	default:
		return domain.RoleStaff
	}
}
