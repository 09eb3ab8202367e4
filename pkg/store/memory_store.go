package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"labsync/pkg/domain"
)

// MemoryStore is an in-memory Store used by tests and local development. It
// mirrors GormStore semantics, including chronological ListMessages output.
type MemoryStore struct {
	mu             sync.RWMutex
	users          map[string]domain.User
	conversations  map[string]domain.Conversation
	participants   map[string][]domain.Participant
	messages       map[string]domain.Message
	uploads        map[string]domain.FileUpload
	identityEvents map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:          make(map[string]domain.User),
		conversations:  make(map[string]domain.Conversation),
		participants:   make(map[string][]domain.Participant),
		messages:       make(map[string]domain.Message),
		uploads:        make(map[string]domain.FileUpload),
		identityEvents: make(map[string]string),
	}
}

func (s *MemoryStore) SaveUser(u domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

func (s *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok, nil
}

func (s *MemoryStore) DeactivateUser(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil
	}
	u.IsActive = false
	u.UpdatedAt = at.UTC()
	s.users[id] = u
	return nil
}

func (s *MemoryStore) CreateConversation(conv domain.Conversation, participants []domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = conv
	s.participants[conv.ID] = append([]domain.Participant(nil), participants...)
	return nil
}

func (s *MemoryStore) GetConversation(id string) (domain.Conversation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	return conv, ok, nil
}

func (s *MemoryStore) ListConversationsByUser(userID string) ([]domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var items []domain.Conversation
	for convID, parts := range s.participants {
		for _, p := range parts {
			if p.UserID == userID {
				if conv, ok := s.conversations[convID]; ok {
					items = append(items, conv)
				}
				break
			}
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].UpdatedAt.After(items[j].UpdatedAt)
	})
	return items, nil
}

func (s *MemoryStore) TouchConversation(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil
	}
	conv.UpdatedAt = at.UTC()
	s.conversations[id] = conv
	return nil
}

func (s *MemoryStore) IsParticipant(conversationID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.participants[conversationID] {
		if p.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ListParticipants(conversationID string) ([]domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	parts := append([]domain.Participant(nil), s.participants[conversationID]...)
	sort.Slice(parts, func(i, j int) bool {
		return parts[i].JoinedAt.Before(parts[j].JoinedAt)
	})
	return parts, nil
}

func (s *MemoryStore) SetLastRead(conversationID, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	parts := s.participants[conversationID]
	for i := range parts {
		if parts[i].UserID == userID {
			parts[i].LastReadAt = at.UTC()
			break
		}
	}
	return nil
}

func (s *MemoryStore) CreateMessage(msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ID] = msg
	return nil
}

func (s *MemoryStore) GetMessage(id string) (domain.Message, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[id]
	return msg, ok, nil
}

func (s *MemoryStore) UpdateMessageContent(id, content string, deleted bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil
	}
	msg.Content = content
	msg.IsEdited = true
	if deleted {
		msg.IsDeleted = true
	}
	msg.UpdatedAt = at.UTC()
	s.messages[id] = msg
	return nil
}

func (s *MemoryStore) ListMessages(conversationID string, limit, offset int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		return []domain.Message{}, nil
	}
	if offset < 0 {
		offset = 0
	}
	var all []domain.Message
	for _, msg := range s.messages {
		if msg.ConversationID == conversationID {
			all = append(all, msg)
		}
	}
	// Newest first for the page window, then reversed to chronological, same
	// as the SQL path.
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return strings.Compare(all[i].ID, all[j].ID) > 0
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if offset >= len(all) {
		return []domain.Message{}, nil
	}
	page := all[offset:]
	if len(page) > limit {
		page = page[:limit]
	}
	out := make([]domain.Message, 0, len(page))
	for i := len(page) - 1; i >= 0; i-- {
		msg := page[i]
		if u, ok := s.users[msg.SenderID]; ok {
			msg.SenderName = u.Name
			msg.SenderEmail = u.Email
			msg.SenderAvatar = u.Avatar
		}
		out = append(out, msg)
	}
	return out, nil
}

func (s *MemoryStore) RecordFileUpload(upload domain.FileUpload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[upload.ID] = upload
	return nil
}

func (s *MemoryStore) MarkIdentityEvent(id, eventType string, payload []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.identityEvents[id]; ok {
		return false, nil
	}
	s.identityEvents[id] = eventType
	return true, nil
}
