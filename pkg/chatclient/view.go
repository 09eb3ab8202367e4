package chatclient

import (
	"sort"
	"sync"

	"labsync/pkg/domain"
)

// ConversationView is the client-side projection of one conversation: the
// message list ordered by createdAt plus transient typing state. REST results
// are authoritative; broadcasts are merged idempotently by message id, so a
// duplicated or self-echoed event never duplicates an entry.
type ConversationView struct {
	mu       sync.RWMutex
	messages []domain.Message
	typing   map[string]bool
}

func NewConversationView() *ConversationView {
	return &ConversationView{typing: make(map[string]bool)}
}

// Apply merges one message: replace when the id is known, insert in
// chronological position when it is not.
func (v *ConversationView) Apply(msg domain.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.messages {
		if v.messages[i].ID == msg.ID {
			v.messages[i] = msg
			return
		}
	}
	v.messages = append(v.messages, msg)
	sort.SliceStable(v.messages, func(i, j int) bool {
		if v.messages[i].CreatedAt.Equal(v.messages[j].CreatedAt) {
			return v.messages[i].ID < v.messages[j].ID
		}
		return v.messages[i].CreatedAt.Before(v.messages[j].CreatedAt)
	})
}

// Replace swaps the whole list for a fresh REST page. Used on open and after
// reconnects, when broadcasts may have been missed.
func (v *ConversationView) Replace(msgs []domain.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.messages = append([]domain.Message(nil), msgs...)
}

// Messages returns a copy of the current list in chronological order.
func (v *ConversationView) Messages() []domain.Message {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]domain.Message(nil), v.messages...)
}

// SetTyping marks a user as typing. Typing state never touches the message
// list.
func (v *ConversationView) SetTyping(userID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.typing[userID] = true
}

// ClearTyping removes one user's typing mark.
func (v *ConversationView) ClearTyping(userID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.typing, userID)
}

// ClearAllTyping drops all typing marks; called on disconnect because the
// state is transient and cannot be trusted across a gap.
func (v *ConversationView) ClearAllTyping() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.typing = make(map[string]bool)
}

// TypingUsers returns the ids of users currently marked typing.
func (v *ConversationView) TypingUsers() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, 0, len(v.typing))
	for id := range v.typing {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
