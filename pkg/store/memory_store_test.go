package store

import (
	"testing"
	"time"

	"labsync/pkg/domain"
)

func TestMemoryStoreListMessagesChronological(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := s.SaveUser(domain.User{ID: "u1", Name: "Ana", Email: "ana@example.com", Role: domain.RoleStaff, IsActive: true}); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}
	for i := 0; i < 5; i++ {
		err := s.CreateMessage(domain.Message{
			ID:             string(rune('a' + i)),
			ConversationID: "c1",
			SenderID:       "u1",
			Content:        "m",
			Type:           domain.MessageText,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
	}

	msgs, err := s.ListMessages("c1", 3, 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	// Window holds the 3 newest, returned oldest-first.
	if msgs[0].ID != "c" || msgs[1].ID != "d" || msgs[2].ID != "e" {
		t.Fatalf("unexpected order: %s %s %s", msgs[0].ID, msgs[1].ID, msgs[2].ID)
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Fatalf("messages not chronological at %d", i)
		}
	}
	if msgs[0].SenderName != "Ana" {
		t.Fatalf("expected sender annotation, got %q", msgs[0].SenderName)
	}

	older, err := s.ListMessages("c1", 3, 3)
	if err != nil {
		t.Fatalf("ListMessages offset: %v", err)
	}
	if len(older) != 2 || older[0].ID != "a" || older[1].ID != "b" {
		t.Fatalf("unexpected older page: %+v", older)
	}
}

func TestMemoryStoreUpdateMessageContent(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	if err := s.CreateMessage(domain.Message{ID: "m1", ConversationID: "c1", SenderID: "u1", Content: "hello", Type: domain.MessageText, CreatedAt: now}); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	if err := s.UpdateMessageContent("m1", "hello there", false, now.Add(time.Second)); err != nil {
		t.Fatalf("UpdateMessageContent: %v", err)
	}
	msg, ok, err := s.GetMessage("m1")
	if err != nil || !ok {
		t.Fatalf("GetMessage: ok=%v err=%v", ok, err)
	}
	if msg.Content != "hello there" || !msg.IsEdited || msg.IsDeleted {
		t.Fatalf("unexpected message after edit: %+v", msg)
	}

	if err := s.UpdateMessageContent("m1", domain.DeletedMessageContent, true, now.Add(2*time.Second)); err != nil {
		t.Fatalf("UpdateMessageContent delete: %v", err)
	}
	msg, _, _ = s.GetMessage("m1")
	if msg.Content != domain.DeletedMessageContent || !msg.IsDeleted || !msg.IsEdited {
		t.Fatalf("unexpected message after delete: %+v", msg)
	}
}

func TestMemoryStoreConversations(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mk := func(id string, updated time.Time, users ...string) {
		parts := make([]domain.Participant, 0, len(users))
		for _, u := range users {
			parts = append(parts, domain.Participant{ConversationID: id, UserID: u, JoinedAt: base, LastReadAt: base})
		}
		err := s.CreateConversation(domain.Conversation{ID: id, IsGroup: len(users) > 2, CreatedBy: users[0], CreatedAt: base, UpdatedAt: updated}, parts)
		if err != nil {
			t.Fatalf("CreateConversation: %v", err)
		}
	}
	mk("c1", base.Add(time.Minute), "u1", "u2")
	mk("c2", base.Add(2*time.Minute), "u1", "u2", "u3")
	mk("c3", base, "u2", "u3")

	convs, err := s.ListConversationsByUser("u1")
	if err != nil {
		t.Fatalf("ListConversationsByUser: %v", err)
	}
	if len(convs) != 2 || convs[0].ID != "c2" || convs[1].ID != "c1" {
		t.Fatalf("unexpected conversations: %+v", convs)
	}

	ok, err := s.IsParticipant("c3", "u1")
	if err != nil {
		t.Fatalf("IsParticipant: %v", err)
	}
	if ok {
		t.Fatal("u1 should not be in c3")
	}

	if err := s.TouchConversation("c1", base.Add(10*time.Minute)); err != nil {
		t.Fatalf("TouchConversation: %v", err)
	}
	convs, _ = s.ListConversationsByUser("u1")
	if convs[0].ID != "c1" {
		t.Fatalf("expected c1 first after touch, got %s", convs[0].ID)
	}

	if err := s.SetLastRead("c1", "u1", base.Add(11*time.Minute)); err != nil {
		t.Fatalf("SetLastRead: %v", err)
	}
	parts, _ := s.ListParticipants("c1")
	for _, p := range parts {
		if p.UserID == "u1" && !p.LastReadAt.Equal(base.Add(11*time.Minute)) {
			t.Fatalf("last read not updated: %+v", p)
		}
	}
}

func TestMemoryStoreIdentityEventIdempotency(t *testing.T) {
	s := NewMemoryStore()
	first, err := s.MarkIdentityEvent("evt_1", "user.created", []byte(`{}`))
	if err != nil {
		t.Fatalf("MarkIdentityEvent: %v", err)
	}
	if !first {
		t.Fatal("first delivery should be new")
	}
	again, err := s.MarkIdentityEvent("evt_1", "user.created", []byte(`{}`))
	if err != nil {
		t.Fatalf("MarkIdentityEvent redelivery: %v", err)
	}
	if again {
		t.Fatal("redelivery should be skipped")
	}
}
