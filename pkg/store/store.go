package store

import (
	"time"

	"labsync/pkg/domain"
)

// Store defines persistence operations for users, conversations,
// participants, and messages. It is the source of truth for message ordering
// and content; the realtime channel only carries notifications about it.
type Store interface {
	// users (written only by the identity event feed)
	SaveUser(domain.User) error
	GetUserByID(id string) (domain.User, bool, error)
	DeactivateUser(id string, at time.Time) error

	// conversations
	CreateConversation(conv domain.Conversation, participants []domain.Participant) error
	GetConversation(id string) (domain.Conversation, bool, error)
	ListConversationsByUser(userID string) ([]domain.Conversation, error)
	TouchConversation(id string, at time.Time) error

	// participants
	IsParticipant(conversationID, userID string) (bool, error)
	ListParticipants(conversationID string) ([]domain.Participant, error)
	SetLastRead(conversationID, userID string, at time.Time) error

	// messages
	CreateMessage(domain.Message) error
	GetMessage(id string) (domain.Message, bool, error)
	UpdateMessageContent(id, content string, deleted bool, at time.Time) error
	ListMessages(conversationID string, limit, offset int) ([]domain.Message, error)

	// file uploads
	RecordFileUpload(domain.FileUpload) error

	// identity events; reports whether the event id was seen for the first time
	MarkIdentityEvent(id, eventType string, payload []byte) (bool, error)
}
